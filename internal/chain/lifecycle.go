package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/observability"
)

// Lifecycle owns the running chain instance and the mapping between
// external stream ids and chain sub ids. At most one chain is active.
// It is not safe for concurrent use.
type Lifecycle struct {
	engine Engine
	logger *slog.Logger

	active   bool
	handle   Handle
	spec     string
	attached []es.Stream
}

// NewLifecycle creates a lifecycle driving engine.
func NewLifecycle(engine Engine, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Lifecycle{
		engine: engine,
		logger: observability.WithComponent(logger, "chain"),
	}
}

// Start builds a chain from spec and attaches every candidate it accepts.
// Streams the chain rejects are dropped and their format released. If no
// stream is accepted the chain is torn down and ErrNoStreamsAccepted returned.
func (l *Lifecycle) Start(ctx context.Context, spec Spec, candidates []es.Stream) ([]es.Stream, error) {
	if l.active {
		return nil, ErrChainActive
	}

	text := spec.String()
	l.logger.Debug("creating chain", slog.String("spec", text))

	h, err := l.engine.BuildChain(ctx, text)
	if err != nil {
		l.logger.Error("could not create chain", slog.String("spec", text), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	accepted := make([]es.Stream, 0, len(candidates))
	for _, s := range candidates {
		sub, err := l.engine.AttachStream(h, s.Format)
		if err != nil {
			l.logger.Error("cannot attach stream",
				slog.Uint64("stream_id", uint64(s.ID)),
				slog.String("codec", s.Format.Codec.Tag()),
				slog.String("error", err.Error()))
			l.engine.ReleaseFormat(s.Format)
			continue
		}
		s.SubID = sub
		accepted = append(accepted, s)
	}

	if len(accepted) == 0 {
		l.engine.TeardownChain(h)
		return nil, ErrNoStreamsAccepted
	}

	l.active = true
	l.handle = h
	l.spec = text
	l.attached = accepted
	return l.Attached(), nil
}

// Stop detaches every stream and releases the chain. It is a no-op when no
// chain is active.
func (l *Lifecycle) Stop() {
	if !l.active {
		return
	}
	l.logger.Debug("destroying chain", slog.Int("attached", len(l.attached)))

	for _, s := range l.attached {
		l.engine.DetachStream(l.handle, s.SubID)
	}
	l.engine.TeardownChain(l.handle)

	l.active = false
	l.handle = 0
	l.spec = ""
	l.attached = nil
}

// Resolve returns the sub id of an attached stream.
func (l *Lifecycle) Resolve(id es.ID) (es.SubID, error) {
	for _, s := range l.attached {
		if s.ID == id {
			return s.SubID, nil
		}
	}
	return 0, ErrNotFound
}

// Detach removes a single stream from the running chain, reporting whether
// it was attached.
func (l *Lifecycle) Detach(id es.ID) bool {
	for i, s := range l.attached {
		if s.ID == id {
			l.engine.DetachStream(l.handle, s.SubID)
			l.attached = append(l.attached[:i], l.attached[i+1:]...)
			return true
		}
	}
	return false
}

// Deliver routes a frame of an attached stream into the chain.
func (l *Lifecycle) Deliver(id es.ID, frame es.Frame) error {
	sub, err := l.Resolve(id)
	if err != nil {
		return err
	}
	return l.engine.Deliver(l.handle, sub, frame)
}

// Flush asks the engine to drop buffered data of an attached stream.
func (l *Lifecycle) Flush(id es.ID) error {
	sub, err := l.Resolve(id)
	if err != nil {
		return err
	}
	l.engine.Flush(l.handle, sub)
	return nil
}

// Active reports whether a chain is running.
func (l *Lifecycle) Active() bool {
	return l.active
}

// Attached returns a copy of the attached streams in attach order.
func (l *Lifecycle) Attached() []es.Stream {
	out := make([]es.Stream, len(l.attached))
	copy(out, l.attached)
	return out
}

// Handle returns the engine handle of the running chain, zero when idle.
func (l *Lifecycle) Handle() Handle {
	return l.handle
}

// Spec returns the textual description of the running chain.
func (l *Lifecycle) Spec() string {
	return l.spec
}
