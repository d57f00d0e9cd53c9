package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
)

func newTestPlanner(cfg PlannerConfig) *Planner {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Negotiator == nil {
		cfg.Negotiator = &fakeNegotiator{}
	}
	return NewPlanner(cfg)
}

func TestPlan_NoEligibleStreams(t *testing.T) {
	p := newTestPlanner(PlannerConfig{})

	tests := []struct {
		name          string
		streams       []es.Stream
		supportsVideo bool
	}{
		{"empty", nil, true},
		{"video only without video support", []es.Stream{stream(1, codec.CategoryVideo, codec.H264)}, false},
		{"unknown category", []es.Stream{stream(1, codec.CategoryUnknown, codec.Unknown)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Plan(context.Background(), tt.streams, tt.supportsVideo)
			require.NoError(t, err)
			assert.Equal(t, NoEligibleStreams, result.Decision)
			assert.Empty(t, result.Candidates)
			assert.Empty(t, result.Spec.Stages)
		})
	}
}

func TestPlan_Direct(t *testing.T) {
	tests := []struct {
		name          string
		streams       []es.Stream
		supportsVideo bool
		candidates    int
	}{
		{"native audio", []es.Stream{stream(1, codec.CategoryAudio, codec.MP4A)}, true, 1},
		{"native audio and video", []es.Stream{
			stream(1, codec.CategoryVideo, codec.H264),
			stream(2, codec.CategoryAudio, codec.MP4A),
		}, true, 2},
		{"non-native video ignored without video support", []es.Stream{
			stream(1, codec.CategoryVideo, codec.HEVC),
			stream(2, codec.CategoryAudio, codec.MP4A),
		}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(PlannerConfig{Port: 8080})
			result, err := p.Plan(context.Background(), tt.streams, tt.supportsVideo)
			require.NoError(t, err)

			assert.Equal(t, Direct, result.Decision)
			assert.Len(t, result.Candidates, tt.candidates)
			require.Len(t, result.Spec.Stages, 1)
			_, hasTranscode := result.Spec.Stage(StageTranscode)
			assert.False(t, hasTranscode)

			target, err := result.Spec.Publish()
			require.NoError(t, err)
			assert.Equal(t, 8080, target.Port)
			assert.Equal(t, result.Path, target.Path)
			assert.Equal(t, MuxMP4Stream, target.Mux)
			assert.Equal(t, MIMEVideoMP4, target.MIME)
		})
	}
}

func TestPlan_ConvertAudio(t *testing.T) {
	neg := &fakeNegotiator{}
	p := newTestPlanner(PlannerConfig{Negotiator: neg})

	result, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryAudio, codec.A52)}, true)
	require.NoError(t, err)

	assert.Equal(t, Convert, result.Decision)
	assert.Equal(t, codec.MP4A, result.AudioTarget)
	assert.Zero(t, neg.calls, "audio conversion needs no video negotiation")

	conv, ok, err := result.Spec.Conversion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mp4a", conv.AudioCodec)
	assert.Equal(t, "aac", conv.AudioEncoder.Value(OptCodec))
	assert.Empty(t, conv.VideoCodec)
	assert.True(t, strings.HasPrefix(result.Spec.String(), "transcode{acodec=mp4a,aenc=avcodec{codec=aac}}:http{dst=:8080/dlna/"))
}

func TestPlan_ConvertVideoOnly(t *testing.T) {
	// H.264-incompatible video with video enabled and no perf warning.
	confirmer := &scriptedConfirmer{}
	p := newTestPlanner(PlannerConfig{Port: 7070, Confirmer: confirmer, ShowPerfWarning: false})

	result, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryVideo, codec.MP2V)}, true)
	require.NoError(t, err)

	assert.Equal(t, Convert, result.Decision)
	assert.Zero(t, confirmer.calls)
	assert.Equal(t, codec.H264, result.VideoTarget)

	conv, ok, err := result.Spec.Conversion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h264", conv.VideoCodec)
	assert.Equal(t, "libx264", conv.VideoEncoder.Value(OptCodec))
	assert.Empty(t, conv.AudioCodec)

	target, err := result.Spec.Publish()
	require.NoError(t, err)
	assert.Equal(t, 7070, target.Port)
}

func TestPlan_MaxHeight(t *testing.T) {
	neg := &fakeNegotiator{enc: VideoEncoding{Codec: codec.H264, Encoder: "libx264", MaxHeight: 720}}
	p := newTestPlanner(PlannerConfig{Negotiator: neg})

	result, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryVideo, codec.HEVC)}, true)
	require.NoError(t, err)

	conv, _, err := result.Spec.Conversion()
	require.NoError(t, err)
	assert.Equal(t, 720, conv.MaxHeight)
}

func TestPlan_NativeStreamSuppressesCategoryConversion(t *testing.T) {
	p := newTestPlanner(PlannerConfig{})

	result, err := p.Plan(context.Background(), []es.Stream{
		stream(1, codec.CategoryAudio, codec.MP4A),
		stream(2, codec.CategoryAudio, codec.A52),
	}, true)
	require.NoError(t, err)

	assert.Equal(t, Convert, result.Decision)
	assert.Len(t, result.Candidates, 2)
	conv, ok, err := result.Spec.Conversion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, conv.AudioCodec, "a native audio stream already provides the audio path")
}

func TestPlan_NegotiationFailure(t *testing.T) {
	p := newTestPlanner(PlannerConfig{Negotiator: &fakeNegotiator{err: errors.New("no h264 encoder")}})

	result, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryVideo, codec.VP9)}, true)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNegotiationFailed)
}

func TestPlan_PathsAreDistinct(t *testing.T) {
	p := newTestPlanner(PlannerConfig{})
	streams := []es.Stream{stream(1, codec.CategoryAudio, codec.MP4A)}

	seen := map[string]bool{}
	for range 200 {
		result, err := p.Plan(context.Background(), streams, true)
		require.NoError(t, err)
		assert.False(t, seen[result.Path], "duplicate path %s", result.Path)
		seen[result.Path] = true
		assert.Regexp(t, `^/dlna/\d+/\d+/stream$`, result.Path)
	}
}

func TestPlan_PathUsesClockAndNonce(t *testing.T) {
	p := newTestPlanner(PlannerConfig{
		Now:   func() time.Time { return time.Unix(1700000000, 123456789) },
		Nonce: func() uint64 { return 99 },
	})

	result, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryAudio, codec.MP4A)}, true)
	require.NoError(t, err)
	assert.Equal(t, "/dlna/1700000000123456789/99/stream", result.Path, "timestamp is in nanoseconds")
}

func TestPlan_PerfWarning(t *testing.T) {
	video := []es.Stream{stream(1, codec.CategoryVideo, codec.HEVC)}

	t.Run("accept prompts once per session", func(t *testing.T) {
		c := &scriptedConfirmer{answers: []Answer{Accept}}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c})

		_, err := p.Plan(context.Background(), video, true)
		require.NoError(t, err)
		_, err = p.Plan(context.Background(), video, true)
		require.NoError(t, err)
		assert.Equal(t, 1, c.calls)
	})

	t.Run("decline is sticky", func(t *testing.T) {
		c := &scriptedConfirmer{answers: []Answer{Decline}}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c})

		_, err := p.Plan(context.Background(), video, true)
		assert.ErrorIs(t, err, ErrUserDeclined)
		assert.True(t, p.Declined())

		_, err = p.Plan(context.Background(), video, true)
		assert.ErrorIs(t, err, ErrUserDeclined)
		assert.Equal(t, 1, c.calls, "no second prompt after a decline")

		// Audio-only plans are unaffected.
		result, err := p.Plan(context.Background(), []es.Stream{stream(2, codec.CategoryAudio, codec.A52)}, true)
		require.NoError(t, err)
		assert.Equal(t, Convert, result.Decision)
	})

	t.Run("suppress persists preference", func(t *testing.T) {
		c := &scriptedConfirmer{answers: []Answer{AcceptAndSuppressFuture}}
		pref := &memoryPreference{show: true}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c, Preference: pref})

		_, err := p.Plan(context.Background(), video, true)
		require.NoError(t, err)
		assert.Equal(t, 1, pref.suppressed)

		// A new session with the persisted preference does not prompt.
		c2 := &scriptedConfirmer{}
		p2 := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c2, Preference: pref})
		_, err = p2.Plan(context.Background(), video, true)
		require.NoError(t, err)
		assert.Zero(t, c2.calls)
	})

	t.Run("not shown when a native video stream exists", func(t *testing.T) {
		c := &scriptedConfirmer{answers: []Answer{Decline}}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c})

		_, err := p.Plan(context.Background(), []es.Stream{
			stream(1, codec.CategoryVideo, codec.H264),
			stream(2, codec.CategoryVideo, codec.HEVC),
		}, true)
		require.NoError(t, err)
		assert.Zero(t, c.calls)
	})

	t.Run("not shown for audio conversion", func(t *testing.T) {
		c := &scriptedConfirmer{answers: []Answer{Decline}}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c})

		_, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryAudio, codec.A52)}, true)
		require.NoError(t, err)
		assert.Zero(t, c.calls)
	})

	t.Run("confirm error declines without stickiness", func(t *testing.T) {
		c := &scriptedConfirmer{err: errors.New("no terminal")}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c})

		_, err := p.Plan(context.Background(), video, true)
		assert.ErrorIs(t, err, ErrUserDeclined)
		assert.False(t, p.Declined())
	})

	t.Run("preference read error still prompts", func(t *testing.T) {
		c := &scriptedConfirmer{answers: []Answer{Accept}}
		pref := &memoryPreference{readErr: errors.New("db locked")}
		p := newTestPlanner(PlannerConfig{ShowPerfWarning: true, Confirmer: c, Preference: pref})

		_, err := p.Plan(context.Background(), video, true)
		require.NoError(t, err)
		assert.Equal(t, 1, c.calls)
	})
}

func TestPlan_LogsDecision(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	p := newTestPlanner(PlannerConfig{Logger: logger})

	_, err := p.Plan(context.Background(), []es.Stream{stream(1, codec.CategoryAudio, codec.MP4A)}, true)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chain plan decided", entry["msg"])
	assert.Equal(t, "direct", entry["decision"])
	assert.Equal(t, "planner", entry["component"])
}

func TestDecisionAndAnswerStrings(t *testing.T) {
	assert.Equal(t, "none", NoEligibleStreams.String())
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "convert", Convert.String())
	data, err := json.Marshal(Convert)
	require.NoError(t, err)
	assert.JSONEq(t, `"convert"`, string(data))

	assert.Equal(t, "decline", Decline.String())
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "accept-and-suppress", AcceptAndSuppressFuture.String())
}

func TestVideoEncoding_Stage(t *testing.T) {
	enc := VideoEncoding{Encoder: "libx264", Params: map[string]string{"preset": "fast", "crf": "23"}}
	assert.Equal(t, "avcodec{codec=libx264,crf=23,preset=fast}", enc.Stage().String())
}
