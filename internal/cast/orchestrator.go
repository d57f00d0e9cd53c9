// Package cast glues the upstream stream events to the chain planner, the
// chain lifecycle and the renderer. The Orchestrator implements es.Sink.
package cast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/netutil"
	"github.com/jmylchreest/castarr/internal/observability"
)

var (
	// ErrUnknownStream is returned when a stream is not attached to the running chain.
	ErrUnknownStream = errors.New("unknown stream ID")
	// ErrRejected is returned by Add for formats the output cannot carry.
	ErrRejected = errors.New("stream rejected")
	// ErrIdle is returned by Announce when no chain is running.
	ErrIdle = errors.New("no chain running")
)

// PlaySpeed is the speed argument of the Play action.
const PlaySpeed = "1"

// Renderer is the device side of a cast session.
type Renderer interface {
	Stop(ctx context.Context) error
	SetSource(ctx context.Context, uri string) error
	Play(ctx context.Context, speed string) error
}

// AddressResolver returns the local address advertised to the renderer.
type AddressResolver interface {
	LocalAddress(ctx context.Context) (string, error)
}

// Config configures an Orchestrator.
type Config struct {
	Planner   *chain.Planner
	Lifecycle *chain.Lifecycle
	Renderer  Renderer
	Addresses AddressResolver

	// Port is the local publishing port embedded in the renderer URI.
	Port          int
	SupportsVideo bool

	SessionID string
	Logger    *slog.Logger
}

// Orchestrator reacts to stream events, replans lazily on the first
// delivery after a change, swaps the chain and points the renderer at it.
// All methods are safe for concurrent use; they are serialized by one mutex.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	registry *es.Registry
	state    State
	plan     *chain.PlanResult
	uri      string

	lastErr         error
	lastAnnounceErr error
}

// New creates an orchestrator in the Idle state.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "cast")
	if cfg.SessionID != "" {
		logger = observability.WithSessionID(logger, cfg.SessionID)
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		registry: es.NewRegistry(),
		state:    StateIdle,
	}
}

var _ es.Sink = (*Orchestrator)(nil)

// Add registers a stream. Non-audio streams are rejected when the renderer
// does not take video.
func (o *Orchestrator) Add(ctx context.Context, format es.Format) (es.ID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.cfg.SupportsVideo && format.Category != codec.CategoryAudio {
		o.logger.Debug("rejecting stream", slog.String("format", format.String()))
		return 0, fmt.Errorf("%w: %s", ErrRejected, format)
	}

	id := o.registry.Add(format)
	o.logger.Debug("stream added",
		slog.Uint64("stream_id", uint64(id)),
		slog.String("format", format.String()))
	return id, nil
}

// Remove unregisters a stream. When it was attached and was the last
// attached stream, the chain is stopped and the renderer told to stop.
func (o *Orchestrator) Remove(ctx context.Context, id es.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.registry.Remove(id); !ok {
		return
	}
	logger := observability.WithStreamID(o.logger, uint64(id))
	logger.Debug("stream removed")

	if !o.cfg.Lifecycle.Detach(id) {
		return
	}
	if len(o.cfg.Lifecycle.Attached()) > 0 {
		return
	}

	o.stopChain()
	if err := o.cfg.Renderer.Stop(ctx); err != nil {
		logger.Warn("renderer stop failed", slog.String("error", err.Error()))
	}
}

// Send delivers a frame, replanning first when the stream set changed.
func (o *Orchestrator) Send(ctx context.Context, id es.ID, frame es.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.registry.Dirty() {
		if err := o.update(ctx); err != nil {
			return err
		}
	}

	if err := o.cfg.Lifecycle.Deliver(id, frame); err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			o.logger.Error("unknown stream ID", slog.Uint64("stream_id", uint64(id)))
			return fmt.Errorf("%w: %s", ErrUnknownStream, id)
		}
		return err
	}
	return nil
}

// Flush tears down the chain the stream is attached to and forces a
// replan on the next delivery. The renderer is not contacted.
func (o *Orchestrator) Flush(ctx context.Context, id es.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.cfg.Lifecycle.Flush(id); err != nil {
		o.logger.Error("unknown stream ID", slog.Uint64("stream_id", uint64(id)))
		return
	}
	o.stopChain()
	o.registry.MarkDirty()
}

// Announce re-issues the Stop, SetSource, Play sequence for the running chain.
func (o *Orchestrator) Announce(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.cfg.Lifecycle.Active() {
		return ErrIdle
	}
	return o.announce(ctx)
}

// Close stops the chain and the renderer.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.cfg.Lifecycle.Active() {
		return nil
	}
	o.stopChain()
	return o.cfg.Renderer.Stop(ctx)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// update plans, swaps the chain and announces it. The dirty flag is
// consumed up front: a failed update is not retried until the stream
// set changes again.
func (o *Orchestrator) update(ctx context.Context) (err error) {
	o.registry.ClearDirty()
	stable := o.state
	defer func() {
		if err != nil {
			o.lastErr = err
		}
	}()

	o.state = StatePlanning
	plan, err := o.cfg.Planner.Plan(ctx, o.registry.List(), o.cfg.SupportsVideo)
	if err != nil {
		o.state = stable
		if errors.Is(err, chain.ErrUserDeclined) {
			o.logger.Info("conversion declined by operator")
		} else {
			o.logger.Error("planning failed", slog.String("error", err.Error()))
		}
		return err
	}
	if plan.Decision == chain.NoEligibleStreams {
		o.state = stable
		return nil
	}

	ip, err := o.cfg.Addresses.LocalAddress(ctx)
	if err != nil {
		o.state = stable
		o.logger.Error("could not get the local ip address", slog.String("error", err.Error()))
		return err
	}
	uri := netutil.PublishURI(ip, o.cfg.Port, plan.Path)

	o.stopChain()
	o.state = StateSwitching

	accepted, err := o.cfg.Lifecycle.Start(ctx, plan.Spec, plan.Candidates)
	if err != nil {
		o.state = StateIdle
		o.logger.Error("starting chain failed", slog.String("error", err.Error()))
		return err
	}
	for _, s := range accepted {
		o.registry.SetSubID(s.ID, s.SubID)
	}
	o.plan = plan
	o.uri = uri
	o.lastErr = nil

	// Device failures leave the chain running.
	_ = o.announce(ctx)
	return nil
}

func (o *Orchestrator) announce(ctx context.Context) error {
	o.state = StateAnnouncing
	o.logger.Debug("AVTransportURI", slog.String("uri", o.uri))

	var errs []error
	if err := o.cfg.Renderer.Stop(ctx); err != nil {
		o.logger.Warn("renderer stop failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := o.cfg.Renderer.SetSource(ctx, o.uri); err != nil {
		o.logger.Warn("renderer set source failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := o.cfg.Renderer.Play(ctx, PlaySpeed); err != nil {
		o.logger.Warn("renderer play failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// The chain keeps running either way; AnnounceError tells the two apart.
	o.state = StatePlaying
	o.lastAnnounceErr = errors.Join(errs...)
	if o.lastAnnounceErr != nil {
		return o.lastAnnounceErr
	}
	o.logger.Info("renderer playing", slog.String("uri", o.uri))
	return nil
}

// stopChain stops the running chain, if any, and returns to Idle.
func (o *Orchestrator) stopChain() {
	for _, s := range o.cfg.Lifecycle.Attached() {
		o.registry.SetSubID(s.ID, 0)
	}
	o.cfg.Lifecycle.Stop()
	o.state = StateIdle
	o.uri = ""
	o.plan = nil
	o.lastAnnounceErr = nil
}
