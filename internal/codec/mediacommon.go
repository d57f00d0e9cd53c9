package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// FromMPEGTS maps a mediacommon MPEG-TS codec to its FourCC.
// Unsupported codecs map to Unknown.
func FromMPEGTS(c mpegts.Codec) FourCC {
	switch c.(type) {
	case *mpegts.CodecH264:
		return H264
	case *mpegts.CodecH265:
		return HEVC
	case *mpegts.CodecMPEG1Video:
		return MP2V
	case *mpegts.CodecMPEG4Video:
		return MP4V
	case *mpegts.CodecMPEG4Audio:
		return MP4A
	case *mpegts.CodecMPEG1Audio:
		return MPGA
	case *mpegts.CodecAC3:
		return A52
	case *mpegts.CodecEAC3:
		return EAC3
	case *mpegts.CodecOpus:
		return OPUS
	default:
		return Unknown
	}
}

// MPEGTSMuxable reports whether the chain's MPEG-TS writer can carry f.
func MPEGTSMuxable(f FourCC) bool {
	switch f {
	case H264, HEVC, MP4A, MPGA, A52, EAC3, OPUS:
		return true
	default:
		return false
	}
}
