package netutil

import (
	"context"
	"errors"
	"net"
	"testing"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iface(name string, flags []string, addrs ...string) gnet.InterfaceStat {
	stat := gnet.InterfaceStat{Name: name, Flags: flags}
	for _, a := range addrs {
		stat.Addrs = append(stat.Addrs, gnet.InterfaceAddr{Addr: a})
	}
	return stat
}

func staticInterfaces(list ...gnet.InterfaceStat) func(context.Context) (gnet.InterfaceStatList, error) {
	return func(context.Context) (gnet.InterfaceStatList, error) {
		return list, nil
	}
}

func TestResolver_LocalAddress(t *testing.T) {
	lo := iface("lo", []string{"up", "loopback"}, "127.0.0.1/8", "::1/128")
	down := iface("eth1", []string{"broadcast", "multicast"}, "10.9.9.9/24")
	noMcast := iface("tun0", []string{"up", "pointtopoint"}, "10.8.0.2/24")
	eth := iface("eth0", []string{"up", "broadcast", "multicast"}, "fe80::1/64", "169.254.3.3/16", "192.168.1.42/24")

	tests := []struct {
		name     string
		override string
		ifaces   []gnet.InterfaceStat
		want     string
		wantErr  error
	}{
		{"override wins", "10.1.2.3", []gnet.InterfaceStat{eth}, "10.1.2.3", nil},
		{"first multicast ipv4", "", []gnet.InterfaceStat{lo, down, noMcast, eth}, "192.168.1.42", nil},
		{"bare address form", "", []gnet.InterfaceStat{iface("wlan0", []string{"up", "multicast"}, "172.16.0.9")}, "172.16.0.9", nil},
		{"nothing usable", "", []gnet.InterfaceStat{lo, down, noMcast}, "", ErrNoAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(ResolverConfig{Override: tt.override})
			r.interfaces = staticInterfaces(tt.ifaces...)

			got, err := r.LocalAddress(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_RouteFallback(t *testing.T) {
	t.Run("uses the route source address", func(t *testing.T) {
		r := NewResolver(ResolverConfig{Target: "127.0.0.1"})
		r.interfaces = staticInterfaces()

		var dialed string
		r.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
			dialed = address
			var d net.Dialer
			return d.DialContext(ctx, network, address)
		}

		got, err := r.LocalAddress(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", got)
		assert.Equal(t, "127.0.0.1:1900", dialed)
	})

	t.Run("interface error then dial error", func(t *testing.T) {
		r := NewResolver(ResolverConfig{Target: "tv.local:49152"})
		r.interfaces = func(context.Context) (gnet.InterfaceStatList, error) {
			return nil, errors.New("no /proc")
		}
		r.dial = func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("network unreachable")
		}

		_, err := r.LocalAddress(context.Background())
		assert.ErrorIs(t, err, ErrNoAddress)
	})
}

func TestPublishURI(t *testing.T) {
	assert.Equal(t, "http://192.168.1.42:8080/dlna/1/2/stream", PublishURI("192.168.1.42", 8080, "/dlna/1/2/stream"))
	assert.Equal(t, "http://10.0.0.1:80/x", PublishURI("10.0.0.1", 80, "x"))
	assert.Equal(t, "http://[fe80::1]:8080/x", PublishURI("fe80::1", 8080, "/x"))
}
