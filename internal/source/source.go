// Package source feeds elementary streams from an input URI into an es.Sink.
// MPEG-TS files and HTTP streams are demuxed with mediacommon; HLS playlists
// are followed with gohlslib.
package source

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/observability"
	"github.com/jmylchreest/castarr/pkg/httpclient"
)

// ErrNoTracks is returned when the input carries no stream the sink accepted.
var ErrNoTracks = errors.New("no usable tracks in input")

// maxTimestampJump is the forward PTS jump, in 90kHz ticks, treated as a
// discontinuity.
const maxTimestampJump = 10 * 90000

// Source pushes the streams of one input into a sink until the input ends
// or ctx is cancelled.
type Source interface {
	URI() string
	Run(ctx context.Context, sink es.Sink) error
}

// Config configures Open.
type Config struct {
	// HTTPClient fetches remote inputs. The default has no overall timeout.
	HTTPClient *httpclient.Client
	// Realtime paces delivery to the stream clock. Files are otherwise
	// read as fast as the sink accepts frames.
	Realtime bool
	Logger   *slog.Logger
}

// Open picks a Source for uri: .m3u playlists are played entry by entry,
// .m3u8 playlists are read as HLS and everything else as MPEG-TS.
func Open(uri string, cfg Config) Source {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = observability.WithComponent(cfg.Logger, "source")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewStreamClient(cfg.Logger)
	}

	if IsPlaylist(uri) {
		return NewPlaylistSource(uri, cfg)
	}
	return openMedia(uri, cfg)
}

func openMedia(uri string, cfg Config) Source {
	if IsHLS(uri) {
		return NewHLSSource(uri, cfg)
	}
	return NewTSSource(uri, cfg)
}

// NewStreamClient returns an httpclient suited to long-lived media bodies.
func NewStreamClient(logger *slog.Logger) *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 0
	cfg.MaxResponseSize = 0
	cfg.EnableDecompression = false
	cfg.Logger = logger
	return httpclient.New(cfg)
}

// IsHLS reports whether uri names an HLS playlist.
func IsHLS(uri string) bool {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".m3u8")
}

// tracker keeps the sink ids of one run and detects timestamp
// discontinuities per stream.
type tracker struct {
	sink   es.Sink
	logger *slog.Logger
	pacer  *pacer

	mu      sync.Mutex
	ids     []es.ID
	lastPTS map[es.ID]int64

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error
}

// terminal reports whether a Send error means the sink will take no more
// frames for this run.
func terminal(err error) bool {
	return errors.Is(err, chain.ErrUserDeclined)
}

func newTracker(sink es.Sink, cfg Config, logger *slog.Logger) *tracker {
	t := &tracker{
		sink:    sink,
		logger:  logger,
		lastPTS: make(map[es.ID]int64),
		stopped: make(chan struct{}),
	}
	if cfg.Realtime {
		t.pacer = &pacer{now: time.Now}
	}
	return t
}

// add offers format to the sink. A rejected stream returns ok false.
func (t *tracker) add(ctx context.Context, format es.Format) (es.ID, bool) {
	id, err := t.sink.Add(ctx, format)
	if err != nil {
		t.logger.Debug("stream rejected",
			slog.String("format", format.String()),
			slog.String("error", err.Error()),
		)
		return 0, false
	}

	t.mu.Lock()
	t.ids = append(t.ids, id)
	t.mu.Unlock()

	t.logger.Debug("stream added",
		slog.String("stream_id", id.String()),
		slog.String("format", format.String()),
	)
	return id, true
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// send forwards frame, flushing the stream first when its clock jumped.
// Send errors drop the frame and return nil, except terminal ones, which
// stop the tracker and are returned by every later call.
func (t *tracker) send(ctx context.Context, id es.ID, frame es.Frame) error {
	select {
	case <-t.stopped:
		return t.stopErr
	default:
	}

	t.mu.Lock()
	last, seen := t.lastPTS[id]
	t.lastPTS[id] = frame.PTS
	t.mu.Unlock()

	if seen && (frame.PTS < last-maxTimestampJump || frame.PTS > last+maxTimestampJump) {
		t.logger.Debug("timestamp discontinuity",
			slog.String("stream_id", id.String()),
			slog.Int64("last_pts", last),
			slog.Int64("pts", frame.PTS),
		)
		t.sink.Flush(ctx, id)
		if t.pacer != nil {
			t.pacer.reset()
		}
	}

	if t.pacer != nil {
		if err := t.pacer.wait(ctx, frame.PTS); err != nil {
			return err
		}
	}

	err := t.sink.Send(ctx, id, frame)
	switch {
	case err == nil || ctx.Err() != nil:
		return nil
	case terminal(err):
		t.stop(err)
		return t.stopErr
	default:
		t.logger.Debug("frame dropped",
			slog.String("stream_id", id.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
}

func (t *tracker) stop(err error) {
	t.stopOnce.Do(func() {
		t.stopErr = err
		t.logger.Info("sink stopped accepting frames", slog.String("error", err.Error()))
		close(t.stopped)
	})
}

// removeAll removes every added stream. It runs on a context detached from
// cancellation so teardown reaches the sink.
func (t *tracker) removeAll(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	t.mu.Lock()
	ids := t.ids
	t.ids = nil
	t.mu.Unlock()

	for _, id := range ids {
		t.sink.Remove(ctx, id)
	}
}

// pacer holds delivery back until the wall clock reaches a frame's PTS
// relative to the first frame seen.
type pacer struct {
	now func() time.Time

	mu      sync.Mutex
	started bool
	start   time.Time
	base    int64
}

func (p *pacer) reset() {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
}

// delay returns how long to wait before delivering a frame at pts.
func (p *pacer) delay(pts int64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.started || pts < p.base {
		p.started = true
		p.start = now
		p.base = pts
		return 0
	}
	target := p.start.Add(time.Duration(pts-p.base) * time.Second / 90000)
	return target.Sub(now)
}

func (p *pacer) wait(ctx context.Context, pts int64) error {
	d := p.delay(pts)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
