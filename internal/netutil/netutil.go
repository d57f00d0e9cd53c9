// Package netutil resolves the local address a renderer can reach us on.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/jmylchreest/castarr/internal/observability"
)

// ErrNoAddress is returned when no usable local IPv4 address exists.
var ErrNoAddress = errors.New("could not get the local ip address")

// Interface flags as reported by gopsutil.
const (
	flagUp        = "up"
	flagLoopback  = "loopback"
	flagMulticast = "multicast"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Override is returned verbatim when set.
	Override string
	// Target is a host or host:port the renderer listens on. It drives the
	// route-based fallback when no multicast interface qualifies.
	Target string
	Logger *slog.Logger
}

// Resolver finds the local IPv4 address to advertise to a renderer.
type Resolver struct {
	override string
	target   string
	logger   *slog.Logger

	interfaces func(ctx context.Context) (gnet.InterfaceStatList, error)
	dial       func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var d net.Dialer
	return &Resolver{
		override:   strings.TrimSpace(cfg.Override),
		target:     cfg.Target,
		logger:     observability.WithComponent(cfg.Logger, "netutil"),
		interfaces: gnet.InterfacesWithContext,
		dial:       d.DialContext,
	}
}

// LocalAddress returns the address to advertise: the override, else the
// first IPv4 address of an up, non-loopback, multicast-capable interface,
// else the source address the OS would use to reach the target.
func (r *Resolver) LocalAddress(ctx context.Context) (string, error) {
	if r.override != "" {
		return r.override, nil
	}

	ifaces, err := r.interfaces(ctx)
	if err != nil {
		r.logger.Debug("listing interfaces failed", slog.String("error", err.Error()))
	}
	if ip, ok := firstMulticastIPv4(ifaces); ok {
		return ip, nil
	}

	if r.target != "" {
		ip, err := r.routeSource(ctx)
		if err == nil {
			return ip, nil
		}
		r.logger.Debug("route lookup failed",
			slog.String("target", r.target),
			slog.String("error", err.Error()),
		)
	}

	return "", ErrNoAddress
}

func firstMulticastIPv4(ifaces gnet.InterfaceStatList) (string, bool) {
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, flagUp) ||
			slices.Contains(iface.Flags, flagLoopback) ||
			!slices.Contains(iface.Flags, flagMulticast) {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, ok := parseIfaceAddr(addr.Addr)
			if !ok || !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			return ip.String(), true
		}
	}
	return "", false
}

// parseIfaceAddr accepts both CIDR ("192.168.1.4/24") and bare forms.
func parseIfaceAddr(s string) (netip.Addr, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// routeSource connects a UDP socket towards the target; no packet is sent.
func (r *Resolver) routeSource(ctx context.Context) (string, error) {
	target := r.target
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "1900")
	}

	conn, err := r.dial(ctx, "udp4", target)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || udp.IP.To4() == nil || udp.IP.IsUnspecified() {
		return "", fmt.Errorf("no ipv4 route to %s", target)
	}
	return udp.IP.To4().String(), nil
}

// PublishURI builds the URI a renderer fetches the chain output from.
func PublishURI(ip string, port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + path
}
