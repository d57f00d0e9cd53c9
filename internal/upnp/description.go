package upnp

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Control endpoint kinds declared per service in a device description.
const (
	KindControlURL  = "controlURL"
	KindEventSubURL = "eventSubURL"
	KindSCPDURL     = "SCPDURL"
)

// Description is a parsed UPnP device description document.
type Description struct {
	XMLName xml.Name `xml:"root"`
	URLBase string   `xml:"URLBase"`
	Device  Device   `xml:"device"`
}

// Device is a root or embedded device.
type Device struct {
	DeviceType   string    `xml:"deviceType" json:"device_type"`
	FriendlyName string    `xml:"friendlyName" json:"friendly_name"`
	Manufacturer string    `xml:"manufacturer" json:"manufacturer,omitempty"`
	ModelName    string    `xml:"modelName" json:"model_name,omitempty"`
	UDN          string    `xml:"UDN" json:"udn,omitempty"`
	Services     []Service `xml:"serviceList>service" json:"services,omitempty"`
	Devices      []Device  `xml:"deviceList>device" json:"devices,omitempty"`
}

// Service is one entry of a device's serviceList.
type Service struct {
	ServiceType string `xml:"serviceType" json:"service_type"`
	ServiceID   string `xml:"serviceId" json:"service_id"`
	ControlURL  string `xml:"controlURL" json:"control_url"`
	EventSubURL string `xml:"eventSubURL" json:"event_sub_url"`
	SCPDURL     string `xml:"SCPDURL" json:"scpd_url"`
}

// Endpoint returns the URL reference of the given kind, trimmed.
func (s Service) Endpoint(kind string) string {
	switch kind {
	case KindControlURL:
		return strings.TrimSpace(s.ControlURL)
	case KindEventSubURL:
		return strings.TrimSpace(s.EventSubURL)
	case KindSCPDURL:
		return strings.TrimSpace(s.SCPDURL)
	default:
		return ""
	}
}

// ParseDescription decodes a device description. Non-UTF-8 documents are
// transcoded according to their XML declaration.
func ParseDescription(r io.Reader) (*Description, error) {
	decoder := newDecoder(r)

	var desc Description
	if err := decoder.Decode(&desc); err != nil {
		return nil, fmt.Errorf("decoding device description: %w", err)
	}
	return &desc, nil
}

func newDecoder(r io.Reader) *xml.Decoder {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset.NewReaderLabel
	return decoder
}

// Devices returns the root device followed by every embedded device,
// depth first.
func (d *Description) Devices() []Device {
	var out []Device
	var walk func(dev Device)
	walk = func(dev Device) {
		out = append(out, dev)
		for _, child := range dev.Devices {
			walk(child)
		}
	}
	walk(d.Device)
	return out
}

// Services returns every service of every device in document order.
func (d *Description) Services() []Service {
	var out []Service
	for _, dev := range d.Devices() {
		out = append(out, dev.Services...)
	}
	return out
}

// FindEndpoint returns the first endpoint of the given kind whose service
// type contains serviceType. Services lacking that endpoint are skipped.
func (d *Description) FindEndpoint(serviceType, kind string) (string, bool) {
	for _, svc := range d.Services() {
		if !strings.Contains(svc.ServiceType, serviceType) {
			continue
		}
		if ref := svc.Endpoint(kind); ref != "" {
			return ref, true
		}
	}
	return "", false
}
