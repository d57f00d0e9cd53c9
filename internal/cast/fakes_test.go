package cast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
)

// eventLog records the order of engine and renderer calls.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type fakeEngine struct {
	log      *eventLog
	reject   map[codec.FourCC]bool
	nextSub  es.SubID
	handle   chain.Handle
	specs    []string
	released int
	frames   map[es.SubID]int
}

func newFakeEngine(log *eventLog) *fakeEngine {
	return &fakeEngine{log: log, reject: map[codec.FourCC]bool{}, frames: map[es.SubID]int{}}
}

func (e *fakeEngine) BuildChain(_ context.Context, spec string) (chain.Handle, error) {
	e.handle++
	e.specs = append(e.specs, spec)
	e.log.add("build")
	return e.handle, nil
}

func (e *fakeEngine) AttachStream(_ chain.Handle, f es.Format) (es.SubID, error) {
	if e.reject[f.Codec] {
		return 0, errors.New("unsupported")
	}
	e.nextSub++
	e.log.add("attach %s", f.Codec.Tag())
	return e.nextSub, nil
}

func (e *fakeEngine) DetachStream(_ chain.Handle, sub es.SubID) { e.log.add("detach %d", sub) }

func (e *fakeEngine) Deliver(_ chain.Handle, sub es.SubID, _ es.Frame) error {
	e.frames[sub]++
	return nil
}

func (e *fakeEngine) Flush(_ chain.Handle, sub es.SubID) { e.log.add("flush %d", sub) }

func (e *fakeEngine) TeardownChain(chain.Handle) { e.log.add("teardown") }

func (e *fakeEngine) ReleaseFormat(es.Format) { e.released++ }

type fakeRenderer struct {
	log  *eventLog
	fail map[string]error
	uris []string
}

func newFakeRenderer(log *eventLog) *fakeRenderer {
	return &fakeRenderer{log: log, fail: map[string]error{}}
}

func (r *fakeRenderer) Stop(context.Context) error {
	r.log.add("Stop")
	return r.fail["Stop"]
}

func (r *fakeRenderer) SetSource(_ context.Context, uri string) error {
	r.log.add("SetSource")
	r.uris = append(r.uris, uri)
	return r.fail["SetSource"]
}

func (r *fakeRenderer) Play(_ context.Context, speed string) error {
	r.log.add("Play %s", speed)
	return r.fail["Play"]
}

type fixedAddress struct {
	ip  string
	err error
}

func (a fixedAddress) LocalAddress(context.Context) (string, error) { return a.ip, a.err }

type fakeNegotiator struct {
	err error
}

func (n fakeNegotiator) NegotiateVideo(_ context.Context, target codec.FourCC, _ es.Format, _ codec.Quality) (chain.VideoEncoding, error) {
	if n.err != nil {
		return chain.VideoEncoding{}, n.err
	}
	return chain.VideoEncoding{Codec: target, Encoder: "libx264", Params: map[string]string{"crf": "23"}}, nil
}

type countingConfirmer struct {
	answer chain.Answer
	calls  int
}

func (c *countingConfirmer) Confirm(context.Context, chain.Prompt) (chain.Answer, error) {
	c.calls++
	return c.answer, nil
}

type harness struct {
	log      *eventLog
	engine   *fakeEngine
	renderer *fakeRenderer
	orch     *Orchestrator
}

type harnessOptions struct {
	supportsVideo   bool
	showPerfWarning bool
	confirmer       chain.Confirmer
	address         fixedAddress
	negotiator      chain.VideoNegotiator
}

func newHarness(opts harnessOptions) *harness {
	log := &eventLog{}
	engine := newFakeEngine(log)
	renderer := newFakeRenderer(log)
	if opts.address.ip == "" && opts.address.err == nil {
		opts.address.ip = "192.168.1.42"
	}
	if opts.negotiator == nil {
		opts.negotiator = fakeNegotiator{}
	}

	nonce := uint64(0)
	planner := chain.NewPlanner(chain.PlannerConfig{
		Port:            8080,
		Quality:         codec.QualityMedium,
		ShowPerfWarning: opts.showPerfWarning,
		Negotiator:      opts.negotiator,
		Confirmer:       opts.confirmer,
		Nonce:           func() uint64 { nonce++; return nonce },
	})

	orch := New(Config{
		Planner:       planner,
		Lifecycle:     chain.NewLifecycle(engine, nil),
		Renderer:      renderer,
		Addresses:     opts.address,
		Port:          8080,
		SupportsVideo: opts.supportsVideo,
		SessionID:     "test-session",
	})
	return &harness{log: log, engine: engine, renderer: renderer, orch: orch}
}

func audio(c codec.FourCC) es.Format {
	return es.Format{Category: codec.CategoryAudio, Codec: c}
}

func video(c codec.FourCC) es.Format {
	return es.Format{Category: codec.CategoryVideo, Codec: c}
}

func frame() es.Frame {
	return es.Frame{PTS: 90000, DTS: 90000, Units: [][]byte{{0x01, 0x02}}}
}
