package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/observability"
)

// ErrNoEncoder is returned when ffmpeg offers no encoder for the target codec.
var ErrNoEncoder = errors.New("no usable encoder")

// Detector reports the capabilities of the ffmpeg installation.
type Detector interface {
	Detect(ctx context.Context) (*BinaryInfo, error)
}

// Negotiator picks a video encoder among those ffmpeg provides, trying the
// configured hardware accelerations in order before software.
type Negotiator struct {
	detector Detector
	priority []codec.HWAccel
	logger   *slog.Logger
}

var _ chain.VideoNegotiator = (*Negotiator)(nil)

// NewNegotiator creates a negotiator. Unknown names in priority are
// skipped; software encoding is always the last resort.
func NewNegotiator(detector Detector, priority []string, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	accels := make([]codec.HWAccel, 0, len(priority))
	for _, name := range priority {
		accel, ok := codec.ParseHWAccel(name)
		if !ok {
			logger.Warn("ignoring unknown hwaccel", slog.String("hwaccel", name))
			continue
		}
		if accel == codec.HWAccelNone {
			continue
		}
		accels = append(accels, accel)
	}
	accels = append(accels, codec.HWAccelNone)
	return &Negotiator{
		detector: detector,
		priority: accels,
		logger:   observability.WithComponent(logger, "negotiator"),
	}
}

// NegotiateVideo implements chain.VideoNegotiator.
func (n *Negotiator) NegotiateVideo(ctx context.Context, target codec.FourCC, source es.Format, quality codec.Quality) (chain.VideoEncoding, error) {
	info, err := n.detector.Detect(ctx)
	if err != nil {
		return chain.VideoEncoding{}, fmt.Errorf("detecting ffmpeg: %w", err)
	}

	for _, accel := range n.priority {
		encoder := codec.Encoder(target, accel)
		if encoder == "" || !info.HasHWAccel(accel) || !info.HasEncoder(encoder) {
			continue
		}

		enc := chain.VideoEncoding{
			Codec:     target,
			Encoder:   encoder,
			Params:    encoderParams(accel, quality),
			MaxHeight: quality.SoftwareParams().MaxHeight,
		}
		if source.Height > 0 && source.Height <= enc.MaxHeight {
			enc.MaxHeight = 0
		}

		n.logger.DebugContext(ctx, "video encoder negotiated",
			slog.String("source", source.String()),
			slog.String("encoder", encoder),
			slog.String("hwaccel", string(accel)),
			slog.String("quality", quality.String()),
		)
		return enc, nil
	}

	return chain.VideoEncoding{}, fmt.Errorf("%w for %s", ErrNoEncoder, codec.Name(target))
}

// encoderParams returns the tuning options for an encoder. Hardware
// encoders take a bitrate; libx264 takes preset and crf.
func encoderParams(accel codec.HWAccel, quality codec.Quality) map[string]string {
	if accel != codec.HWAccelNone {
		return map[string]string{
			paramBitrate: strconv.Itoa(quality.HardwareBitrate()) + "k",
		}
	}
	sp := quality.SoftwareParams()
	return map[string]string{
		paramPreset: sp.Preset,
		paramCRF:    strconv.Itoa(sp.CRF),
	}
}
