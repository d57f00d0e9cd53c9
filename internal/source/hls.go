package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/pkg/httpclient"
)

// HLSSource follows an HLS playlist with gohlslib.
type HLSSource struct {
	uri    string
	cfg    Config
	client *httpclient.Client
	logger *slog.Logger
}

// NewHLSSource creates an HLSSource for the playlist at uri.
func NewHLSSource(uri string, cfg Config) *HLSSource {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewStreamClient(cfg.Logger)
	}
	return &HLSSource{
		uri:    uri,
		cfg:    cfg,
		client: cfg.HTTPClient,
		logger: cfg.Logger.With(slog.String("uri", uri)),
	}
}

// URI returns the playlist location.
func (s *HLSSource) URI() string {
	return s.uri
}

// Run plays the playlist until it ends, ctx is cancelled or the sink
// returns a terminal error.
func (s *HLSSource) Run(ctx context.Context, sink es.Sink) error {
	t := newTracker(sink, s.cfg, s.logger)
	defer t.removeAll(ctx)

	client := &gohlslib.Client{
		URI:        s.uri,
		HTTPClient: s.client.StandardClient(),
	}
	client.OnTracks = func(tracks []*gohlslib.Track) error {
		for _, track := range tracks {
			s.addTrack(ctx, client, track, t)
		}
		if t.count() == 0 {
			return ErrNoTracks
		}
		return nil
	}

	if err := client.Start(); err != nil {
		return fmt.Errorf("starting HLS client: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- client.Wait2() }()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		return ctx.Err()
	case <-t.stopped:
		client.Close()
		<-done
		return t.stopErr
	case err := <-done:
		client.Close()
		if err == nil || errors.Is(err, gohlslib.ErrClientEOS) {
			s.logger.Info("playlist ended")
			return nil
		}
		return fmt.Errorf("playing HLS: %w", err)
	}
}

func (s *HLSSource) addTrack(ctx context.Context, client *gohlslib.Client, track *gohlslib.Track, t *tracker) {
	format, ok := hlsFormat(track)
	if !ok {
		s.logger.Info("skipping unsupported track",
			slog.String("codec", fmt.Sprintf("%T", track.Codec)),
		)
		return
	}
	id, ok := t.add(ctx, format)
	if !ok {
		return
	}

	// gohlslib reports timestamps in the track clock rate.
	rescale := func(ts int64) int64 {
		if track.ClockRate <= 0 || track.ClockRate == 90000 {
			return ts
		}
		return ts * 90000 / int64(track.ClockRate)
	}

	switch track.Codec.(type) {
	case *codecs.H264:
		client.OnDataH26x(track, func(pts, dts int64, au [][]byte) {
			_ = t.send(ctx, id, es.Frame{PTS: rescale(pts), DTS: rescale(dts), Units: au, Keyframe: h264.IsRandomAccess(au)})
		})
	case *codecs.H265:
		client.OnDataH26x(track, func(pts, dts int64, au [][]byte) {
			_ = t.send(ctx, id, es.Frame{PTS: rescale(pts), DTS: rescale(dts), Units: au, Keyframe: h265.IsRandomAccess(au)})
		})
	case *codecs.MPEG4Audio:
		client.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) {
			_ = t.send(ctx, id, audioFrame(rescale(pts), aus))
		})
	case *codecs.Opus:
		client.OnDataOpus(track, func(pts int64, packets [][]byte) {
			_ = t.send(ctx, id, audioFrame(rescale(pts), packets))
		})
	}
}

// hlsFormat describes a playlist track.
func hlsFormat(track *gohlslib.Track) (es.Format, bool) {
	f := es.Format{Language: track.Language}

	switch c := track.Codec.(type) {
	case *codecs.H264:
		f.Category, f.Codec = codec.CategoryVideo, codec.H264
		var sps h264.SPS
		if err := sps.Unmarshal(c.SPS); err == nil {
			f.Width, f.Height = sps.Width(), sps.Height()
		}
	case *codecs.H265:
		f.Category, f.Codec = codec.CategoryVideo, codec.HEVC
		var sps h265.SPS
		if err := sps.Unmarshal(c.SPS); err == nil {
			f.Width, f.Height = sps.Width(), sps.Height()
		}
	case *codecs.MPEG4Audio:
		f.Category, f.Codec = codec.CategoryAudio, codec.MP4A
		conf := c.Config
		f.AudioConfig = &conf
		f.SampleRate = conf.SampleRate
		f.ChannelCount = conf.ChannelCount
	case *codecs.Opus:
		f.Category, f.Codec = codec.CategoryAudio, codec.OPUS
		f.SampleRate = 48000
		f.ChannelCount = c.ChannelCount
	default:
		return es.Format{}, false
	}
	return f, true
}
