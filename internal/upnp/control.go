package upnp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jmylchreest/castarr/internal/observability"
	"github.com/jmylchreest/castarr/internal/urlutil"
	"github.com/jmylchreest/castarr/pkg/httpclient"
)

// SessionConfig configures a renderer control session.
type SessionConfig struct {
	// DeviceURL is the device description URL.
	DeviceURL string
	// BaseURL resolves relative control URLs. Empty falls back to the
	// description's URLBase, then to DeviceURL.
	BaseURL string
	Logger  *slog.Logger
}

// Session issues actions against one renderer. It holds a reference on
// its Context until Close.
type Session struct {
	uctx      *Context
	deviceURL string
	baseURL   string
	logger    *slog.Logger

	closeOnce sync.Once
}

// NewSession acquires uctx and returns a session for the configured device.
func NewSession(uctx *Context, cfg SessionConfig) (*Session, error) {
	if cfg.DeviceURL == "" {
		return nil, fmt.Errorf("device description URL is required")
	}
	if _, err := uctx.Acquire(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = uctx.logger
	}

	return &Session{
		uctx:      uctx,
		deviceURL: cfg.DeviceURL,
		baseURL:   cfg.BaseURL,
		logger:    observability.WithRenderer(observability.WithComponent(cfg.Logger, "upnp"), cfg.DeviceURL),
	}, nil
}

// Close releases the session's context reference.
func (s *Session) Close() {
	s.closeOnce.Do(s.uctx.Release)
}

// DeviceURL returns the description URL.
func (s *Session) DeviceURL() string {
	return s.deviceURL
}

// Describe downloads and parses the device description.
func (s *Session) Describe(ctx context.Context) (*Description, error) {
	return s.describe(ctx, false)
}

func (s *Session) describe(ctx context.Context, action bool) (*Description, error) {
	fetcher, err := s.uctx.descriptionFetcher(action)
	if err != nil {
		return nil, err
	}

	body, err := fetcher.Fetch(ctx, s.deviceURL)
	if err != nil {
		return nil, fmt.Errorf("downloading device description: %w", err)
	}
	defer body.Close()

	return ParseDescription(body)
}

// Services lists every service the device declares, with control URLs
// resolved to absolute form where possible.
func (s *Session) Services(ctx context.Context) ([]Service, error) {
	desc, err := s.Describe(ctx)
	if err != nil {
		return nil, err
	}

	base := s.base(desc)
	services := desc.Services()
	for i := range services {
		for _, field := range []*string{&services[i].ControlURL, &services[i].EventSubURL, &services[i].SCPDURL} {
			if *field == "" {
				continue
			}
			if abs, err := urlutil.Resolve(base, *field); err == nil {
				*field = abs
			}
		}
	}
	return services, nil
}

// ResolveControlAddress returns the absolute endpoint of the given kind for
// the first service whose type contains serviceType. The description is
// fetched once, without retries.
func (s *Session) ResolveControlAddress(ctx context.Context, serviceType, kind string) (string, error) {
	desc, err := s.describe(ctx, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceNotFound, err)
	}

	ref, ok := desc.FindEndpoint(serviceType, kind)
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrServiceNotFound, serviceType, kind)
	}

	abs, err := urlutil.Resolve(s.base(desc), ref)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %w", ErrServiceNotFound, ref, err)
	}
	return abs, nil
}

func (s *Session) base(desc *Description) string {
	switch {
	case s.baseURL != "":
		return s.baseURL
	case desc != nil && desc.URLBase != "":
		return desc.URLBase
	default:
		return s.deviceURL
	}
}

// SendAction resolves the service's control URL and posts one SOAP action.
// It is never retried. Every failure is an *ActionError.
func (s *Session) SendAction(ctx context.Context, action, serviceType string, args []Argument) (*Response, error) {
	resp, err := s.sendAction(ctx, action, serviceType, args)
	if err != nil {
		var aerr *ActionError
		if !errors.As(err, &aerr) {
			aerr = &ActionError{Action: action, Message: err.Error(), Err: err}
		}
		s.logger.Error("unable to send action",
			slog.String("action", action),
			slog.Int("code", aerr.Code),
			slog.String("message", aerr.Message),
		)
		return nil, aerr
	}
	return resp, nil
}

func (s *Session) sendAction(ctx context.Context, action, serviceType string, args []Argument) (*Response, error) {
	controlURL, err := s.ResolveControlAddress(ctx, serviceType, KindControlURL)
	if err != nil {
		return nil, err
	}

	client, err := s.uctx.controlClient()
	if err != nil {
		return nil, err
	}

	httpResp, err := client.Post(ctx, controlURL, soapContentType,
		buildEnvelope(action, serviceType, args),
		map[string]string{soapActionHdr: soapAction(action, serviceType)})
	if err != nil {
		return nil, err
	}

	body, err := httpclient.ReadAll(httpResp)
	if err != nil {
		return nil, err
	}

	resp, err := parseResponse(action, body)
	if err != nil {
		var aerr *ActionError
		if httpResp.StatusCode != http.StatusOK && errors.As(err, &aerr) && errors.Is(aerr.Err, ErrNoResponse) {
			aerr.Code = httpResp.StatusCode
			aerr.Message = http.StatusText(httpResp.StatusCode)
		}
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &ActionError{Action: action, Code: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode)}
	}

	s.logger.Debug("action sent",
		slog.String("action", action),
		slog.String("control_url", controlURL),
	)
	return resp, nil
}
