package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/observability"
)

// Encoder option keys carried in the venc stage.
const (
	paramPreset  = "preset"
	paramCRF     = "crf"
	paramBitrate = "bitrate"
)

const (
	defaultQueueSize   = 512
	defaultStopTimeout = 5 * time.Second
	defaultVAAPIDevice = "/dev/dri/renderD128"
)

var (
	// ErrTracksFixed is returned by AttachStream once data has been delivered.
	ErrTracksFixed = errors.New("chain tracks are fixed after the first delivery")
	// ErrChainStopped is returned by Deliver after the chain process failed.
	ErrChainStopped = errors.New("chain process stopped")
	// ErrUnsupportedMux is returned by BuildChain for an unknown muxer.
	ErrUnsupportedMux = errors.New("unsupported muxer")
)

// Process is a running chain process.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Pid() int
	Wait() error
	Kill() error
	StderrTail() []string
}

// Starter launches the process of a built command.
type Starter func(ctx context.Context, cmd *Command) (Process, error)

func startCommand(ctx context.Context, cmd *Command) (Process, error) {
	if err := cmd.Start(ctx); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Publisher serves chain output on the local HTTP endpoint.
type Publisher interface {
	Mount(path, mime string, body io.ReadCloser) error
	Unmount(path string)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// FFmpegPath is the resolved binary, see BinaryDetector.
	FFmpegPath string
	LogLevel   string
	// QueueSize bounds the frames buffered per chain; overflow is dropped.
	QueueSize int
	// VAAPIDevice is the render node for VAAPI; empty detects one.
	VAAPIDevice string
	StopTimeout time.Duration

	Publisher Publisher
	Logger    *slog.Logger
	// Start is overridable for tests.
	Start Starter
}

// Engine implements chain.Engine. Each chain is one ffmpeg process reading
// MPEG-TS on stdin and writing fragmented MP4 to the publisher.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger

	mu         sync.Mutex
	nextHandle chain.Handle
	chains     map[chain.Handle]*pipeline
}

var _ chain.Engine = (*Engine)(nil)

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("engine requires a publisher")
	}
	if cfg.FFmpegPath == "" && cfg.Start == nil {
		return nil, ErrBinaryNotFound
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.VAAPIDevice == "" {
		cfg.VAAPIDevice = DetectVAAPIDevice()
	}
	if cfg.VAAPIDevice == "" {
		cfg.VAAPIDevice = defaultVAAPIDevice
	}
	if cfg.Start == nil {
		cfg.Start = startCommand
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "engine"),
		chains: make(map[chain.Handle]*pipeline),
	}, nil
}

// BuildChain parses the description, starts ffmpeg and mounts its output.
func (e *Engine) BuildChain(ctx context.Context, text string) (chain.Handle, error) {
	spec, err := chain.Parse(text)
	if err != nil {
		return 0, err
	}
	target, err := spec.Publish()
	if err != nil {
		return 0, err
	}
	if target.Mux != chain.MuxMP4Stream {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMux, target.Mux)
	}
	if target.MIME == "" {
		target.MIME = chain.MIMEVideoMP4
	}
	conv, transcode, err := spec.Conversion()
	if err != nil {
		return 0, err
	}

	cmd := e.buildCommand(conv, transcode)

	// The process outlives the request that built it.
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	proc, err := e.cfg.Start(pctx, cmd)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("starting chain process: %w", err)
	}
	if err := e.cfg.Publisher.Mount(target.Path, target.MIME, proc.Stdout()); err != nil {
		_ = proc.Kill()
		cancel()
		return 0, fmt.Errorf("publishing %s: %w", target.Path, err)
	}

	e.mu.Lock()
	e.nextHandle++
	h := e.nextHandle
	p := newPipeline(h, target, cmd.String(), proc, cancel, e.cfg.QueueSize,
		e.logger.With(slog.Uint64("chain", uint64(h))))
	e.chains[h] = p
	e.mu.Unlock()

	go p.run()

	p.logger.InfoContext(ctx, "chain started",
		slog.String("path", target.Path),
		slog.Bool("transcode", transcode),
		slog.String("command", p.command),
	)
	return h, nil
}

// AttachStream adds a track for format. Tracks are fixed once the first
// frame has been delivered.
func (e *Engine) AttachStream(h chain.Handle, format es.Format) (es.SubID, error) {
	p, err := e.get(h)
	if err != nil {
		return 0, err
	}
	return p.attach(format)
}

// DetachStream stops forwarding frames of sub.
func (e *Engine) DetachStream(h chain.Handle, sub es.SubID) {
	if p, err := e.get(h); err == nil {
		p.detach(sub)
	}
}

// Deliver queues a frame. A full queue drops the frame.
func (e *Engine) Deliver(h chain.Handle, sub es.SubID, frame es.Frame) error {
	p, err := e.get(h)
	if err != nil {
		return err
	}
	return p.deliver(sub, frame)
}

// Flush discards frames of sub still waiting in the queue.
func (e *Engine) Flush(h chain.Handle, sub es.SubID) {
	if p, err := e.get(h); err == nil {
		p.flush(sub)
	}
}

// TeardownChain unmounts the output and stops the process. Reaping the
// process happens in the background.
func (e *Engine) TeardownChain(h chain.Handle) {
	e.mu.Lock()
	p, ok := e.chains[h]
	delete(e.chains, h)
	e.mu.Unlock()
	if !ok {
		return
	}

	p.close()
	e.cfg.Publisher.Unmount(p.target.Path)
	go p.reap(e.cfg.StopTimeout)

	p.logger.Info("chain stopped",
		slog.Uint64("frames_written", p.written.Load()),
		slog.Uint64("frames_dropped", p.dropped.Load()),
	)
}

// ReleaseFormat has nothing to free; formats hold no engine resources
// until attached.
func (e *Engine) ReleaseFormat(format es.Format) {
	e.logger.Debug("format released", slog.String("format", format.String()))
}

// Close tears down every chain.
func (e *Engine) Close() {
	e.mu.Lock()
	handles := make([]chain.Handle, 0, len(e.chains))
	for h := range e.chains {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		e.TeardownChain(h)
	}
}

// Stats reports every running chain.
func (e *Engine) Stats(ctx context.Context) []ChainStats {
	e.mu.Lock()
	pipes := make([]*pipeline, 0, len(e.chains))
	for _, p := range e.chains {
		pipes = append(pipes, p)
	}
	e.mu.Unlock()

	out := make([]ChainStats, 0, len(pipes))
	for _, p := range pipes {
		out = append(out, p.stats(ctx))
	}
	return out
}

func (e *Engine) get(h chain.Handle) (*pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.chains[h]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", chain.ErrNotFound, h)
	}
	return p, nil
}

// buildCommand turns the transcode stage into ffmpeg arguments. Without a
// transcode stage every track is copied.
func (e *Engine) buildCommand(conv chain.Conversion, transcode bool) *Command {
	b := NewCommandBuilder(e.cfg.FFmpegPath).
		LogLevel(e.cfg.LogLevel).
		HideBanner().
		InputArgs("-fflags", "+genpts", "-f", "mpegts").
		Input("pipe:0").
		OutputArgs("-map", "0:v?", "-map", "0:a?")

	if transcode && conv.VideoEncoder != nil {
		encoder := conv.VideoEncoder.Value(chain.OptCodec)
		accel := encoderHWAccel(encoder)
		if accel == codec.HWAccelVAAPI {
			b.InitHWDevice(string(accel), e.cfg.VAAPIDevice)
		}
		b.VideoCodec(encoder)
		for _, opt := range conv.VideoEncoder.Options {
			if opt.Key == chain.OptCodec || opt.Sub != nil {
				continue
			}
			b.OutputArgs(encoderFlag(opt.Key), opt.Value)
		}
		if conv.MaxHeight > 0 {
			b.VideoFilter(fmt.Sprintf("scale=-2:'min(%d,ih)'", conv.MaxHeight))
		}
		b.HWUploadFilter(string(accel))
	} else {
		b.VideoCodec("copy")
	}

	if transcode && conv.AudioCodec != "" {
		encoder := "aac"
		if conv.AudioEncoder != nil {
			if v := conv.AudioEncoder.Value(chain.OptCodec); v != "" {
				encoder = v
			}
		}
		b.AudioCodec(encoder)
	} else {
		b.AudioCodec("copy")
	}

	return b.FMP4StreamArgs().Output("pipe:1").Build()
}

// encoderFlag maps an encoder option key to its ffmpeg flag.
func encoderFlag(key string) string {
	if key == paramBitrate {
		return "-b:v"
	}
	return "-" + key
}

// encoderHWAccel infers the acceleration from an encoder name suffix.
func encoderHWAccel(encoder string) codec.HWAccel {
	switch {
	case strings.HasSuffix(encoder, "_vaapi"):
		return codec.HWAccelVAAPI
	case strings.HasSuffix(encoder, "_qsv"):
		return codec.HWAccelQSV
	case strings.HasSuffix(encoder, "_nvenc"):
		return codec.HWAccelCUDA
	case strings.HasSuffix(encoder, "_videotoolbox"):
		return codec.HWAccelVT
	default:
		return codec.HWAccelNone
	}
}

// track is one attached stream.
type track struct {
	sub    es.SubID
	format es.Format
	ts     *mpegts.Track
	// gen is bumped by Flush; queued packets of older generations are dropped.
	gen      uint64
	detached bool
}

type packet struct {
	tr    *track
	gen   uint64
	frame es.Frame
}

// pipeline feeds one chain process.
type pipeline struct {
	handle  chain.Handle
	target  chain.PublishTarget
	command string
	proc    Process
	cancel  context.CancelFunc
	logger  *slog.Logger
	started time.Time

	mu      sync.Mutex
	tracks  []*track
	nextSub es.SubID
	fixed   bool
	closed  bool
	failed  error
	queue   chan packet
	done    chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	stdin   *countingWriter
}

func newPipeline(h chain.Handle, target chain.PublishTarget, command string, proc Process,
	cancel context.CancelFunc, queueSize int, logger *slog.Logger) *pipeline {
	return &pipeline{
		handle:  h,
		target:  target,
		command: command,
		proc:    proc,
		cancel:  cancel,
		logger:  logger,
		started: time.Now(),
		queue:   make(chan packet, queueSize),
		done:    make(chan struct{}),
		stdin:   &countingWriter{w: proc.Stdin()},
	}
}

func (p *pipeline) attach(format es.Format) (es.SubID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fixed {
		return 0, ErrTracksFixed
	}
	ts, err := newTSTrack(uint16(firstPID+len(p.tracks)), format)
	if err != nil {
		return 0, err
	}
	p.nextSub++
	p.tracks = append(p.tracks, &track{sub: p.nextSub, format: format, ts: ts})
	p.logger.Debug("stream attached",
		slog.Uint64("sub_id", uint64(p.nextSub)),
		slog.String("format", format.String()),
		slog.Int("pid", int(ts.PID)),
	)
	return p.nextSub, nil
}

func (p *pipeline) find(sub es.SubID) *track {
	for _, t := range p.tracks {
		if t.sub == sub && !t.detached {
			return t
		}
	}
	return nil
}

func (p *pipeline) detach(sub es.SubID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.find(sub); t != nil {
		t.detached = true
	}
}

func (p *pipeline) flush(sub es.SubID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.find(sub); t != nil {
		t.gen++
	}
}

func (p *pipeline) deliver(sub es.SubID, frame es.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed != nil {
		return fmt.Errorf("%w: %w", ErrChainStopped, p.failed)
	}
	t := p.find(sub)
	if t == nil || p.closed {
		return fmt.Errorf("%w: sub %d", chain.ErrNotFound, sub)
	}
	p.fixed = true

	select {
	case p.queue <- packet{tr: t, gen: t.gen, frame: frame}:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Debug("chain queue full, dropping frames", slog.Uint64("dropped", n))
		}
	}
	return nil
}

// current reports whether a queued packet should still be written.
func (p *pipeline) current(pkt packet) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !pkt.tr.detached && pkt.tr.gen == pkt.gen
}

func (p *pipeline) tsTracks() []*mpegts.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*mpegts.Track, 0, len(p.tracks))
	for _, t := range p.tracks {
		if !t.detached {
			out = append(out, t.ts)
		}
	}
	return out
}

func (p *pipeline) fail(err error) {
	p.mu.Lock()
	if p.failed == nil {
		p.failed = err
	}
	p.mu.Unlock()
	p.logger.Error("chain process failed",
		slog.String("error", err.Error()),
		slog.Any("stderr", p.proc.StderrTail()),
	)
}

// run writes queued frames as MPEG-TS into the process. The writer is
// created on the first frame so it carries exactly the attached tracks.
func (p *pipeline) run() {
	defer close(p.done)
	defer func() { _ = p.stdin.Close() }()

	var w *mpegts.Writer
	for pkt := range p.queue {
		if !p.current(pkt) {
			continue
		}
		if w == nil {
			w = &mpegts.Writer{W: p.stdin, Tracks: p.tsTracks()}
			if err := w.Initialize(); err != nil {
				p.fail(fmt.Errorf("initializing mpegts writer: %w", err))
				return
			}
		}
		if err := writeFrame(w, pkt.tr.ts, pkt.frame); err != nil {
			if errors.Is(err, ErrUnsupportedCodec) {
				p.logger.Warn("dropping frame", slog.String("error", err.Error()))
				continue
			}
			p.fail(fmt.Errorf("writing frame: %w", err))
			return
		}
		p.written.Add(1)
	}
}

func (p *pipeline) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// reap waits for the writer and the process, killing it after timeout.
func (p *pipeline) reap(timeout time.Duration) {
	defer p.cancel()

	exited := make(chan error, 1)
	go func() {
		select {
		case <-p.done:
		case <-time.After(timeout):
			_ = p.stdin.Close()
		}
		exited <- p.proc.Wait()
	}()

	select {
	case err := <-exited:
		if err != nil {
			p.logger.Debug("chain process exited", slog.String("error", err.Error()))
		}
	case <-time.After(timeout):
		p.logger.Warn("chain process did not exit, killing")
		_ = p.proc.Kill()
		<-exited
	}
}

func (p *pipeline) stats(ctx context.Context) ChainStats {
	p.mu.Lock()
	tracks := make([]string, 0, len(p.tracks))
	for _, t := range p.tracks {
		if !t.detached {
			tracks = append(tracks, t.format.String())
		}
	}
	var failed string
	if p.failed != nil {
		failed = p.failed.Error()
	}
	p.mu.Unlock()

	return ChainStats{
		Handle:        uint64(p.handle),
		Path:          p.target.Path,
		Command:       p.command,
		Tracks:        tracks,
		FramesWritten: p.written.Load(),
		FramesDropped: p.dropped.Load(),
		BytesWritten:  p.stdin.n.Load(),
		QueueDepth:    len(p.queue),
		Failed:        failed,
		Process:       sampleProcess(ctx, p.proc.Pid(), p.started),
		StderrTail:    p.proc.StderrTail(),
		StartedAt:     p.started,
	}
}

// countingWriter counts bytes written to the process.
type countingWriter struct {
	w    io.WriteCloser
	n    atomic.Uint64
	once sync.Once
	err  error
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n.Add(uint64(n))
	return n, err
}

func (c *countingWriter) Close() error {
	c.once.Do(func() { c.err = c.w.Close() })
	return c.err
}
