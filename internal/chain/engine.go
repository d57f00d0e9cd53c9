// Package chain plans, builds and tears down the processing chain that
// turns the offered elementary streams into a single stream a renderer can
// fetch.
package chain

import (
	"context"
	"errors"

	"github.com/jmylchreest/castarr/internal/es"
)

// Errors returned by the planner and the lifecycle.
var (
	ErrNegotiationFailed = errors.New("video encoder negotiation failed")
	ErrUserDeclined      = errors.New("conversion declined by user")
	ErrNoStreamsAccepted = errors.New("chain accepted no streams")
	ErrChainActive       = errors.New("a chain is already active")
	ErrBuildFailed       = errors.New("could not create chain")
	ErrNotFound          = errors.New("stream not attached to the active chain")
)

// Handle identifies a chain instance inside an Engine.
type Handle uint64

// Engine is the media processing engine that executes chain descriptions.
type Engine interface {
	// BuildChain instantiates the textual chain description.
	BuildChain(ctx context.Context, spec string) (Handle, error)
	// AttachStream adds an elementary stream to the chain.
	AttachStream(h Handle, format es.Format) (es.SubID, error)
	// DetachStream removes an attached stream from the chain.
	DetachStream(h Handle, sub es.SubID)
	// Deliver pushes one frame of an attached stream into the chain.
	Deliver(h Handle, sub es.SubID, frame es.Frame) error
	// Flush drops any data the chain buffered for the stream.
	Flush(h Handle, sub es.SubID)
	// TeardownChain releases the chain and everything it holds.
	TeardownChain(h Handle)
	// ReleaseFormat frees engine-side resources tied to a format the chain rejected.
	ReleaseFormat(format es.Format)
}
