package upnp

import "context"

// Service types of a MediaRenderer.
const (
	AVTransportServiceType       = "urn:schemas-upnp-org:service:AVTransport:1"
	ConnectionManagerServiceType = "urn:schemas-upnp-org:service:ConnectionManager:1"
)

const defaultInstanceID = "0"

// Play starts playback at speed ("1" is normal speed).
func (s *Session) Play(ctx context.Context, speed string) error {
	_, err := s.SendAction(ctx, "Play", AVTransportServiceType, []Argument{
		{Name: "InstanceID", Value: defaultInstanceID},
		{Name: "Speed", Value: speed},
	})
	return err
}

// Stop stops playback.
func (s *Session) Stop(ctx context.Context) error {
	_, err := s.SendAction(ctx, "Stop", AVTransportServiceType, []Argument{
		{Name: "InstanceID", Value: defaultInstanceID},
	})
	return err
}

// SetSource points the renderer at uri and clears the item metadata.
func (s *Session) SetSource(ctx context.Context, uri string) error {
	_, err := s.SendAction(ctx, "SetAVTransportURI", AVTransportServiceType, []Argument{
		{Name: "InstanceID", Value: defaultInstanceID},
		{Name: "CurrentURI", Value: uri},
		{Name: "CurrentURIMetaData", Value: ""},
	})
	return err
}

// TransportInfo is the reply of GetTransportInfo.
type TransportInfo struct {
	State  string `json:"state"`
	Status string `json:"status"`
	Speed  string `json:"speed"`
}

// GetTransportInfo queries the renderer's current transport state.
func (s *Session) GetTransportInfo(ctx context.Context) (TransportInfo, error) {
	resp, err := s.SendAction(ctx, "GetTransportInfo", AVTransportServiceType, []Argument{
		{Name: "InstanceID", Value: defaultInstanceID},
	})
	if err != nil {
		return TransportInfo{}, err
	}
	return TransportInfo{
		State:  resp.Arguments["CurrentTransportState"],
		Status: resp.Arguments["CurrentTransportStatus"],
		Speed:  resp.Arguments["CurrentSpeed"],
	}, nil
}
