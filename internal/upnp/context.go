// Package upnp controls a UPnP/DLNA MediaRenderer: it reads the device
// description, resolves service control URLs and sends SOAP actions.
package upnp

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jmylchreest/castarr/internal/urlutil"
	"github.com/jmylchreest/castarr/internal/version"
	"github.com/jmylchreest/castarr/pkg/httpclient"
)

// ErrContextClosed is returned when a Context is used after its last release.
var ErrContextClosed = errors.New("upnp context closed")

// ContextConfig configures a Context.
type ContextConfig struct {
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger

	// BaseClient overrides the underlying http.Client (tests).
	BaseClient *http.Client
}

// Context holds the HTTP clients shared by every session talking to
// renderers. It is reference counted: NewContext returns it with one
// reference, Acquire adds one and Release drops one.
//
// Interactive reads (Describe, Services) go through a retrying client.
// Everything on the action path uses the control client, which sends each
// request once and has no circuit breaker.
type Context struct {
	mu   sync.Mutex
	refs int

	describe       *httpclient.Client
	control        *httpclient.Client
	fetcher        *urlutil.ResourceFetcher
	controlFetcher *urlutil.ResourceFetcher
	userAgent      string
	logger         *slog.Logger
}

// NewContext creates a context holding one reference.
func NewContext(cfg ContextConfig) *Context {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UPnPUserAgent()
	}

	describeCfg := httpclient.DefaultConfig()
	controlCfg := httpclient.ControlConfig()
	for _, c := range []*httpclient.Config{&describeCfg, &controlCfg} {
		if cfg.Timeout > 0 {
			c.Timeout = cfg.Timeout
		}
		c.UserAgent = cfg.UserAgent
		c.Logger = cfg.Logger
		c.BaseClient = cfg.BaseClient
	}

	describe := httpclient.New(describeCfg)
	control := httpclient.New(controlCfg)
	return &Context{
		refs:           1,
		describe:       describe,
		control:        control,
		fetcher:        urlutil.NewResourceFetcher(describe),
		controlFetcher: urlutil.NewResourceFetcher(control),
		userAgent:      cfg.UserAgent,
		logger:         cfg.Logger,
	}
}

// Acquire adds a reference.
func (c *Context) Acquire() (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return nil, ErrContextClosed
	}
	c.refs++
	return c, nil
}

// Release drops a reference. Extra releases are ignored.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 {
		c.refs--
	}
	if c.refs == 0 {
		c.logger.Debug("upnp context released")
	}
}

// Closed reports whether every reference has been released.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs == 0
}

// UserAgent returns the user agent sent with every request.
func (c *Context) UserAgent() string {
	return c.userAgent
}

// CircuitStates reports the circuit breaker of the description client. The
// control client has none.
func (c *Context) CircuitStates() map[string]httpclient.CircuitState {
	return map[string]httpclient.CircuitState{
		"describe": c.describe.CircuitState(),
	}
}

// descriptionFetcher returns the fetcher for device descriptions: the
// retrying one, or the single-attempt one used while sending an action.
func (c *Context) descriptionFetcher(action bool) (*urlutil.ResourceFetcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return nil, ErrContextClosed
	}
	if action {
		return c.controlFetcher, nil
	}
	return c.fetcher, nil
}

func (c *Context) controlClient() (*httpclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return nil, ErrContextClosed
	}
	return c.control, nil
}
