package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
)

// ErrUnsupportedCodec is returned by AttachStream for formats the MPEG-TS
// writer cannot carry.
var ErrUnsupportedCodec = errors.New("codec not supported by the chain input")

// firstPID is the elementary stream PID of the first track.
const firstPID = 256

// Defaults for audio formats that arrive without parameters.
const (
	defaultSampleRate   = 48000
	defaultChannelCount = 2
	// ac3FrameSamples is the sample count of one AC-3 or E-AC-3 sync frame.
	ac3FrameSamples = 1536
)

// newTSTrack maps a stream format to an MPEG-TS track.
func newTSTrack(pid uint16, f es.Format) (*mpegts.Track, error) {
	c, err := tsCodec(f)
	if err != nil {
		return nil, err
	}
	return &mpegts.Track{PID: pid, Codec: c}, nil
}

func tsCodec(f es.Format) (mpegts.Codec, error) {
	sampleRate, channels := f.SampleRate, f.ChannelCount
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if channels <= 0 {
		channels = defaultChannelCount
	}

	switch f.Codec {
	case codec.H264:
		return &mpegts.CodecH264{}, nil
	case codec.HEVC:
		return &mpegts.CodecH265{}, nil
	case codec.MP4A:
		conf := f.AudioConfig
		if conf == nil {
			conf = &mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   sampleRate,
				ChannelCount: channels,
			}
		}
		return &mpegts.CodecMPEG4Audio{Config: *conf}, nil
	case codec.A52:
		return &mpegts.CodecAC3{SampleRate: sampleRate, ChannelCount: channels}, nil
	case codec.EAC3:
		return &mpegts.CodecEAC3{SampleRate: sampleRate, ChannelCount: channels}, nil
	case codec.MPGA:
		return &mpegts.CodecMPEG1Audio{}, nil
	case codec.OPUS:
		return &mpegts.CodecOpus{ChannelCount: channels}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, f)
	}
}

// writeFrame writes one frame of track to w, dispatching on the track codec.
func writeFrame(w *mpegts.Writer, track *mpegts.Track, frame es.Frame) error {
	if len(frame.Units) == 0 {
		return nil
	}

	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		return w.WriteH264(track, frame.PTS, frame.DTS, accessUnit(frame.Units))
	case *mpegts.CodecH265:
		return w.WriteH265(track, frame.PTS, frame.DTS, accessUnit(frame.Units))
	case *mpegts.CodecMPEG4Audio:
		aus := aacUnits(frame.Units)
		if len(aus) == 0 {
			return nil
		}
		return w.WriteMPEG4Audio(track, frame.PTS, aus)
	case *mpegts.CodecAC3:
		step := syncFrameDuration(c.SampleRate)
		for i, u := range frame.Units {
			if err := w.WriteAC3(track, frame.PTS+int64(i)*step, u); err != nil {
				return err
			}
		}
		return nil
	case *mpegts.CodecEAC3:
		step := syncFrameDuration(c.SampleRate)
		for i, u := range frame.Units {
			if err := w.WriteEAC3(track, frame.PTS+int64(i)*step, u); err != nil {
				return err
			}
		}
		return nil
	case *mpegts.CodecMPEG1Audio:
		return w.WriteMPEG1Audio(track, frame.PTS, frame.Units)
	case *mpegts.CodecOpus:
		return w.WriteOpus(track, frame.PTS, frame.Units)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedCodec, c)
	}
}

// syncFrameDuration is the 90kHz duration of one AC-3 sync frame.
func syncFrameDuration(sampleRate int) int64 {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return int64(ac3FrameSamples) * 90000 / int64(sampleRate)
}

// accessUnit returns the NAL units of a video frame. A frame delivered as
// one Annex-B buffer is split on its start codes.
func accessUnit(units [][]byte) [][]byte {
	if len(units) != 1 || !hasStartCode(units[0]) {
		return units
	}
	var au h264.AnnexB
	if err := au.Unmarshal(units[0]); err != nil {
		return units
	}
	return au
}

func hasStartCode(b []byte) bool {
	if len(b) < 4 || b[0] != 0 || b[1] != 0 {
		return false
	}
	return b[2] == 1 || (b[2] == 0 && b[3] == 1)
}

// aacUnits strips ADTS framing when present; mediacommon expects raw AUs.
func aacUnits(units [][]byte) [][]byte {
	out := make([][]byte, 0, len(units))
	for _, u := range units {
		if len(u) == 0 {
			continue
		}
		if len(u) >= 7 && u[0] == 0xFF && u[1]&0xF0 == 0xF0 {
			var pkts mpeg4audio.ADTSPackets
			if err := pkts.Unmarshal(u); err == nil {
				for _, pkt := range pkts {
					out = append(out, pkt.AU)
				}
				continue
			}
		}
		out = append(out, u)
	}
	return out
}
