// Package es models the elementary streams offered to the cast output and
// the registry that tracks them between chain rebuilds.
package es

import (
	"context"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/castarr/internal/codec"
)

// ID is the external identity of an elementary stream, handed out by the
// registry and used by the upstream pipeline for every later call.
type ID uint64

// SubID is the identity of a stream inside a running chain.
// The zero value means "not attached".
type SubID uint64

// String formats the id for logs.
func (id ID) String() string {
	return fmt.Sprintf("es#%d", uint64(id))
}

// Format describes an elementary stream. It is immutable once registered.
type Format struct {
	Category codec.Category
	Codec    codec.FourCC
	// TrackID is the upstream track/PID identifier, informational only.
	TrackID  uint16
	Language string

	// AudioConfig carries the AAC AudioSpecificConfig when Codec is MP4A.
	AudioConfig  *mpeg4audio.AudioSpecificConfig
	SampleRate   int
	ChannelCount int

	Width  int
	Height int
}

// String formats the format for logs, e.g. "video/h264".
func (f Format) String() string {
	return f.Category.String() + "/" + f.Codec.Tag()
}

// Frame is one data unit delivered for a stream. Timestamps use a 90kHz clock.
type Frame struct {
	PTS int64
	DTS int64
	// Units holds NAL units for video or access units for audio.
	Units    [][]byte
	Keyframe bool
}

// Size returns the payload size in bytes.
func (f Frame) Size() int {
	n := 0
	for _, u := range f.Units {
		n += len(u)
	}
	return n
}

// Stream is a registered elementary stream.
type Stream struct {
	ID     ID
	Format Format
	SubID  SubID
}

// Sink receives stream lifecycle events from an upstream media pipeline.
// Send and Remove may block on renderer control calls bounded by ctx.
type Sink interface {
	Add(ctx context.Context, format Format) (ID, error)
	Remove(ctx context.Context, id ID)
	Send(ctx context.Context, id ID, frame Frame) error
	Flush(ctx context.Context, id ID)
}

// Registry tracks the streams currently offered to the output. It is not
// safe for concurrent use; callers serialize access.
type Registry struct {
	streams []*Stream
	nextID  ID
	dirty   bool
}

// NewRegistry creates an empty registry. A fresh registry is dirty so the
// first delivery always plans.
func NewRegistry() *Registry {
	return &Registry{nextID: 1, dirty: true}
}

// Add registers a stream and returns its identity.
func (r *Registry) Add(format Format) ID {
	id := r.nextID
	r.nextID++
	r.streams = append(r.streams, &Stream{ID: id, Format: format})
	r.dirty = true
	return id
}

// Remove unregisters a stream, returning it if it was known.
func (r *Registry) Remove(id ID) (Stream, bool) {
	for i, s := range r.streams {
		if s.ID == id {
			r.streams = append(r.streams[:i], r.streams[i+1:]...)
			r.dirty = true
			return *s, true
		}
	}
	return Stream{}, false
}

// Get returns the stream with the given id.
func (r *Registry) Get(id ID) (Stream, bool) {
	for _, s := range r.streams {
		if s.ID == id {
			return *s, true
		}
	}
	return Stream{}, false
}

// List returns the registered streams in insertion order.
func (r *Registry) List() []Stream {
	out := make([]Stream, len(r.streams))
	for i, s := range r.streams {
		out[i] = *s
	}
	return out
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	return len(r.streams)
}

// SetSubID records the chain-internal identity of a stream.
func (r *Registry) SetSubID(id ID, sub SubID) bool {
	for _, s := range r.streams {
		if s.ID == id {
			s.SubID = sub
			return true
		}
	}
	return false
}

// Dirty reports whether the stream set changed since the last ClearDirty.
func (r *Registry) Dirty() bool {
	return r.dirty
}

// MarkDirty forces the next delivery to replan.
func (r *Registry) MarkDirty() {
	r.dirty = true
}

// ClearDirty consumes the dirty flag.
func (r *Registry) ClearDirty() {
	r.dirty = false
}
