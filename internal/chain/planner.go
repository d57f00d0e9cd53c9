package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/observability"
)

// Decision is the outcome of planning.
type Decision int

const (
	// NoEligibleStreams - nothing the renderer could be sent.
	NoEligibleStreams Decision = iota
	// Direct - every admitted stream is natively playable and is only remuxed.
	Direct
	// Convert - at least one admitted stream must be transcoded.
	Convert
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case NoEligibleStreams:
		return "none"
	case Direct:
		return "direct"
	case Convert:
		return "convert"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the decision as its string form.
func (d Decision) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// PlanResult is a planning decision with the chain it requires.
type PlanResult struct {
	Decision Decision
	Spec     Spec
	// Path is the freshly generated publishing path.
	Path string
	// Candidates are the streams to attach, in registry order.
	Candidates []es.Stream

	AudioTarget codec.FourCC
	VideoTarget codec.FourCC

	Reasons []string
}

// VideoEncoding is a negotiated video conversion.
type VideoEncoding struct {
	Codec   codec.FourCC
	Encoder string
	// Params are encoder private options such as preset or crf.
	Params    map[string]string
	MaxHeight int
}

// Stage renders the encoder as a venc option value, e.g. avcodec{codec=libx264,crf=23}.
func (v VideoEncoding) Stage() *Stage {
	st := NewStage("avcodec").Set(OptCodec, v.Encoder)
	keys := make([]string, 0, len(v.Params))
	for k := range v.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st.Set(k, v.Params[k])
	}
	return st
}

// VideoNegotiator picks an encoder able to produce target from source.
type VideoNegotiator interface {
	NegotiateVideo(ctx context.Context, target codec.FourCC, source es.Format, quality codec.Quality) (VideoEncoding, error)
}

// Answer is the operator's response to a confirmation prompt.
type Answer int

const (
	Decline Answer = iota
	Accept
	AcceptAndSuppressFuture
)

// String returns the answer name.
func (a Answer) String() string {
	switch a {
	case Accept:
		return "accept"
	case AcceptAndSuppressFuture:
		return "accept-and-suppress"
	default:
		return "decline"
	}
}

// Prompt is a question put to the operator.
type Prompt struct {
	Title   string
	Message string
}

// Confirmer asks the operator a blocking question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (Answer, error)
}

// WarningPreference is the persisted cross-session performance warning switch.
type WarningPreference interface {
	ShowPerfWarning(ctx context.Context) (bool, error)
	SuppressPerfWarning(ctx context.Context) error
}

// PerfWarningPrompt is shown before the first video conversion of a session.
var PerfWarningPrompt = Prompt{
	Title: "Performance warning",
	Message: "Casting this video requires conversion. The conversion can use all " +
		"available processing power and could quickly drain your battery.",
}

// PlannerConfig configures a Planner.
type PlannerConfig struct {
	// Port is the local publishing port declared in the http stage.
	Port    int
	Quality codec.Quality
	// ShowPerfWarning enables the conversion prompt for this session.
	ShowPerfWarning bool

	Negotiator VideoNegotiator
	// Confirmer may be nil, in which case conversions are accepted silently.
	Confirmer  Confirmer
	Preference WarningPreference

	Logger *slog.Logger
	// Now and Nonce are overridable for tests.
	Now   func() time.Time
	Nonce func() uint64
}

// Planner decides whether the offered streams can be remuxed or must be
// converted and synthesizes the chain description. It keeps per-session
// prompt state and is not safe for concurrent use.
type Planner struct {
	cfg    PlannerConfig
	logger *slog.Logger

	warningShown bool
	declined     bool
}

// NewPlanner creates a planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nonce == nil {
		cfg.Nonce = rand.Uint64
	}
	return &Planner{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "planner"),
	}
}

// Declined reports whether the operator declined conversion in this session.
func (p *Planner) Declined() bool {
	return p.declined
}

// Plan classifies streams and builds the chain description.
// The flow is:
// 1. Admit audio streams, and video streams when the renderer supports video
// 2. Remember the first native codec per category, or the first incompatible format
// 3. If anything is incompatible, confirm video conversion and add a transcode stage
// 4. Append the http publishing stage with a fresh path
func (p *Planner) Plan(ctx context.Context, streams []es.Stream, supportsVideo bool) (*PlanResult, error) {
	result := &PlanResult{Reasons: make([]string, 0, 4)}

	canRemux := true
	var origAudio, origVideo *es.Format

	for _, s := range streams {
		f := s.Format
		switch {
		case f.Category == codec.CategoryAudio:
			if !codec.CanDecodeAudio(f.Codec) {
				p.logger.Debug("cannot remux audio stream",
					slog.Uint64("stream_id", uint64(s.ID)),
					slog.String("codec", f.Codec.Tag()))
				if origAudio == nil {
					origAudio = &f
				}
				canRemux = false
			} else if result.AudioTarget == codec.Unknown {
				result.AudioTarget = f.Codec
			}
			result.Candidates = append(result.Candidates, s)

		case supportsVideo && f.Category == codec.CategoryVideo:
			if !codec.CanDecodeVideo(f.Codec) {
				p.logger.Debug("cannot remux video stream",
					slog.Uint64("stream_id", uint64(s.ID)),
					slog.String("codec", f.Codec.Tag()))
				if origVideo == nil {
					origVideo = &f
				}
				canRemux = false
			} else if result.VideoTarget == codec.Unknown {
				result.VideoTarget = f.Codec
			}
			result.Candidates = append(result.Candidates, s)
		}
	}

	if len(result.Candidates) == 0 {
		result.Decision = NoEligibleStreams
		result.Reasons = append(result.Reasons, "no audio or supported video streams offered")
		return result, nil
	}

	b := NewBuilder()
	if canRemux {
		result.Decision = Direct
		result.Reasons = append(result.Reasons, "all admitted streams are natively playable - remux only")
	} else {
		result.Decision = Convert
		needsVideo := result.VideoTarget == codec.Unknown && origVideo != nil

		if needsVideo {
			if err := p.confirmVideoConversion(ctx); err != nil {
				return nil, err
			}
		}

		tr := b.Stage(StageTranscode)
		if result.AudioTarget == codec.Unknown && origAudio != nil {
			result.AudioTarget = codec.NativeAudio
			p.logger.Debug("converting audio",
				slog.String("from", origAudio.Codec.Tag()),
				slog.String("to", codec.NativeAudio.Tag()))
			tr.Set(OptAudioCodec, codec.NativeAudio.Tag()).
				SetSub(OptAudioEncoder, NewStage("avcodec").Set(OptCodec, codec.Encoder(codec.NativeAudio, codec.HWAccelNone)))
			result.Reasons = append(result.Reasons, fmt.Sprintf("audio %s is not playable - converting to %s",
				origAudio.Codec.Tag(), codec.NativeAudio.Tag()))
		}
		if needsVideo {
			enc, err := p.negotiateVideo(ctx, *origVideo)
			if err != nil {
				return nil, err
			}
			result.VideoTarget = enc.Codec
			tr.Set(OptVideoCodec, enc.Codec.Tag()).SetSub(OptVideoEncoder, enc.Stage())
			if enc.MaxHeight > 0 {
				tr.SetInt(OptMaxHeight, enc.MaxHeight)
			}
			result.Reasons = append(result.Reasons, fmt.Sprintf("video %s is not playable - converting to %s with %s",
				origVideo.Codec.Tag(), enc.Codec.Tag(), enc.Encoder))
		}
	}

	result.Path = p.newPath()
	b.Publish(PublishTarget{
		Port: p.cfg.Port,
		Path: result.Path,
		Mux:  MuxMP4Stream,
		MIME: MIMEVideoMP4,
	})
	result.Spec = b.Build()

	p.logPlan(result)
	return result, nil
}

func (p *Planner) confirmVideoConversion(ctx context.Context) error {
	if p.declined {
		return fmt.Errorf("%w: earlier in this session", ErrUserDeclined)
	}
	if p.warningShown || !p.cfg.ShowPerfWarning || p.cfg.Confirmer == nil {
		return nil
	}
	if p.cfg.Preference != nil {
		show, err := p.cfg.Preference.ShowPerfWarning(ctx)
		if err != nil {
			p.logger.Warn("reading performance warning preference failed",
				slog.String("error", err.Error()))
		} else if !show {
			return nil
		}
	}

	answer, err := p.cfg.Confirmer.Confirm(ctx, PerfWarningPrompt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUserDeclined, err)
	}

	switch answer {
	case Accept:
		p.warningShown = true
	case AcceptAndSuppressFuture:
		p.warningShown = true
		if p.cfg.Preference != nil {
			if err := p.cfg.Preference.SuppressPerfWarning(ctx); err != nil {
				p.logger.Warn("persisting performance warning preference failed",
					slog.String("error", err.Error()))
			}
		}
	default:
		p.declined = true
		return ErrUserDeclined
	}
	return nil
}

func (p *Planner) negotiateVideo(ctx context.Context, source es.Format) (VideoEncoding, error) {
	if p.cfg.Negotiator == nil {
		return VideoEncoding{}, fmt.Errorf("%w: no negotiator configured", ErrNegotiationFailed)
	}
	enc, err := p.cfg.Negotiator.NegotiateVideo(ctx, codec.NativeVideo, source, p.cfg.Quality)
	if err != nil {
		p.logger.Error("video conversion negotiation failed",
			slog.String("source_codec", source.Codec.Tag()),
			slog.String("error", err.Error()))
		return VideoEncoding{}, fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if enc.Codec == codec.Unknown {
		enc.Codec = codec.NativeVideo
	}
	return enc, nil
}

// newPath embeds a nanosecond timestamp and a random 64-bit nonce.
func (p *Planner) newPath() string {
	return fmt.Sprintf("/dlna/%d/%d/stream", p.cfg.Now().UnixNano(), p.cfg.Nonce())
}

func (p *Planner) logPlan(result *PlanResult) {
	p.logger.Info("chain plan decided",
		slog.String("decision", result.Decision.String()),
		slog.Int("candidates", len(result.Candidates)),
		slog.String("audio_target", result.AudioTarget.Tag()),
		slog.String("video_target", result.VideoTarget.Tag()),
		slog.String("path", result.Path),
		slog.Any("reasons", result.Reasons),
	)
}
