package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
)

type fakeNegotiator struct {
	enc   VideoEncoding
	err   error
	calls int
}

func (n *fakeNegotiator) NegotiateVideo(_ context.Context, target codec.FourCC, _ es.Format, _ codec.Quality) (VideoEncoding, error) {
	n.calls++
	if n.err != nil {
		return VideoEncoding{}, n.err
	}
	enc := n.enc
	if enc.Encoder == "" {
		enc = VideoEncoding{Codec: target, Encoder: "libx264", Params: map[string]string{"preset": "faster", "crf": "23"}}
	}
	return enc, nil
}

type scriptedConfirmer struct {
	answers []Answer
	err     error
	calls   int
}

func (c *scriptedConfirmer) Confirm(_ context.Context, _ Prompt) (Answer, error) {
	c.calls++
	if c.err != nil {
		return Decline, c.err
	}
	if len(c.answers) == 0 {
		return Accept, nil
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

type memoryPreference struct {
	show       bool
	suppressed int
	readErr    error
}

func (p *memoryPreference) ShowPerfWarning(context.Context) (bool, error) {
	return p.show, p.readErr
}

func (p *memoryPreference) SuppressPerfWarning(context.Context) error {
	p.suppressed++
	p.show = false
	return nil
}

type engineCall struct {
	op  string
	sub es.SubID
}

// fakeEngine records calls and rejects formats listed in reject.
type fakeEngine struct {
	buildErr  error
	reject    map[codec.FourCC]bool
	nextSub   es.SubID
	nextChain Handle

	specs     []string
	calls     []engineCall
	released  map[codec.FourCC]int
	delivered map[es.SubID]int
	torn      []Handle
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		reject:    map[codec.FourCC]bool{},
		released:  map[codec.FourCC]int{},
		delivered: map[es.SubID]int{},
	}
}

func (e *fakeEngine) BuildChain(_ context.Context, spec string) (Handle, error) {
	if e.buildErr != nil {
		return 0, e.buildErr
	}
	e.nextChain++
	e.specs = append(e.specs, spec)
	return e.nextChain, nil
}

func (e *fakeEngine) AttachStream(_ Handle, format es.Format) (es.SubID, error) {
	if e.reject[format.Codec] {
		return 0, fmt.Errorf("can't handle %s stream", format.Codec.Tag())
	}
	e.nextSub++
	e.calls = append(e.calls, engineCall{"attach", e.nextSub})
	return e.nextSub, nil
}

func (e *fakeEngine) DetachStream(_ Handle, sub es.SubID) {
	e.calls = append(e.calls, engineCall{"detach", sub})
}

func (e *fakeEngine) Deliver(_ Handle, sub es.SubID, _ es.Frame) error {
	if sub == 0 {
		return errors.New("zero sub id")
	}
	e.delivered[sub]++
	return nil
}

func (e *fakeEngine) Flush(_ Handle, sub es.SubID) {
	e.calls = append(e.calls, engineCall{"flush", sub})
}

func (e *fakeEngine) TeardownChain(h Handle) {
	e.torn = append(e.torn, h)
}

func (e *fakeEngine) ReleaseFormat(format es.Format) {
	e.released[format.Codec]++
}

func stream(id es.ID, cat codec.Category, c codec.FourCC) es.Stream {
	return es.Stream{ID: id, Format: es.Format{Category: cat, Codec: c}}
}
