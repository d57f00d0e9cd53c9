package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/urlutil"
)

// TSSource demuxes an MPEG-TS file or HTTP stream.
type TSSource struct {
	uri     string
	cfg     Config
	fetcher *urlutil.ResourceFetcher
	logger  *slog.Logger
}

// NewTSSource creates a TSSource reading uri, which may be a local path,
// a file:// URL or an http(s) URL.
func NewTSSource(uri string, cfg Config) *TSSource {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TSSource{
		uri:     uri,
		cfg:     cfg,
		fetcher: urlutil.NewResourceFetcher(cfg.HTTPClient),
		logger:  cfg.Logger.With(slog.String("uri", uri)),
	}
}

// URI returns the input location.
func (s *TSSource) URI() string {
	return s.uri
}

// Run reads the input until EOF, cancellation or a terminal sink error.
func (s *TSSource) Run(ctx context.Context, sink es.Sink) error {
	body, err := s.fetcher.Fetch(ctx, s.uri)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.uri, err)
	}
	defer body.Close()

	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	return s.demux(ctx, body, sink)
}

func (s *TSSource) demux(ctx context.Context, r io.Reader, sink es.Sink) error {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading MPEG-TS header: %w", err)
	}

	reader.OnDecodeError(func(err error) {
		s.logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})

	t := newTracker(sink, s.cfg, s.logger)
	defer t.removeAll(ctx)

	for _, track := range reader.Tracks() {
		format, ok := tsFormat(track)
		if !ok {
			s.logger.Info("skipping unsupported track",
				slog.Int("pid", int(track.PID)),
				slog.String("codec", fmt.Sprintf("%T", track.Codec)),
			)
			continue
		}
		id, ok := t.add(ctx, format)
		if !ok {
			continue
		}
		registerTSTrack(ctx, reader, track, id, t)
	}

	if t.count() == 0 {
		return ErrNoTracks
	}

	for {
		if err := reader.Read(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if terminal(err) {
				return err
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Info("input ended")
				return nil
			}
			return fmt.Errorf("reading MPEG-TS: %w", err)
		}
	}
}

// tsFormat describes a demuxed track.
func tsFormat(track *mpegts.Track) (es.Format, bool) {
	fourcc := codec.FromMPEGTS(track.Codec)
	if !codec.MPEGTSMuxable(fourcc) {
		return es.Format{}, false
	}

	f := es.Format{
		Category: codec.CategoryOf(fourcc),
		Codec:    fourcc,
		TrackID:  track.PID,
	}

	switch c := track.Codec.(type) {
	case *mpegts.CodecMPEG4Audio:
		conf := c.Config
		f.AudioConfig = &conf
		f.SampleRate = conf.SampleRate
		f.ChannelCount = conf.ChannelCount
	case *mpegts.CodecAC3:
		f.SampleRate = c.SampleRate
		f.ChannelCount = c.ChannelCount
	case *mpegts.CodecEAC3:
		f.SampleRate = c.SampleRate
		f.ChannelCount = c.ChannelCount
	case *mpegts.CodecOpus:
		f.SampleRate = 48000
		f.ChannelCount = c.ChannelCount
	}
	return f, true
}

func registerTSTrack(ctx context.Context, reader *mpegts.Reader, track *mpegts.Track, id es.ID, t *tracker) {
	switch track.Codec.(type) {
	case *mpegts.CodecH264:
		reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return t.send(ctx, id, es.Frame{PTS: pts, DTS: dts, Units: au, Keyframe: h264.IsRandomAccess(au)})
		})
	case *mpegts.CodecH265:
		reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return t.send(ctx, id, es.Frame{PTS: pts, DTS: dts, Units: au, Keyframe: h265.IsRandomAccess(au)})
		})
	case *mpegts.CodecMPEG4Audio:
		reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return t.send(ctx, id, audioFrame(pts, aus))
		})
	case *mpegts.CodecAC3:
		reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			return t.send(ctx, id, audioFrame(pts, [][]byte{frame}))
		})
	case *mpegts.CodecEAC3:
		reader.OnDataEAC3(track, func(pts int64, frame []byte) error {
			return t.send(ctx, id, audioFrame(pts, [][]byte{frame}))
		})
	case *mpegts.CodecMPEG1Audio:
		reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return t.send(ctx, id, audioFrame(pts, frames))
		})
	case *mpegts.CodecOpus:
		reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			return t.send(ctx, id, audioFrame(pts, packets))
		})
	}
}

func audioFrame(pts int64, units [][]byte) es.Frame {
	return es.Frame{PTS: pts, DTS: pts, Units: units, Keyframe: true}
}
