package codec

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFourCC_String(t *testing.T) {
	tests := []struct {
		fourcc FourCC
		str    string
		tag    string
	}{
		{MP4A, "mp4a", "mp4a"},
		{H264, "h264", "h264"},
		{A52, "a52 ", "a52"},
		{OPUS, "Opus", "Opus"},
		{Unknown, "undf", "undf"},
	}
	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			assert.Equal(t, tt.str, tt.fourcc.String())
			assert.Equal(t, tt.tag, tt.fourcc.Tag())
		})
	}
}

func TestMakeFourCC(t *testing.T) {
	assert.Equal(t, MP4A, MakeFourCC('m', 'p', '4', 'a'))
	assert.Equal(t, H264, MakeFourCC('h', '2', '6', '4'))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want FourCC
		ok   bool
	}{
		{"aac", MP4A, true},
		{"mp4a", MP4A, true},
		{"AVC1", H264, true},
		{" h264 ", H264, true},
		{"h265", HEVC, true},
		{"ac-3", A52, true},
		{"vp9", VP9, true},
		{"", Unknown, false},
		{"wmv9", Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Parse(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryAudio, CategoryOf(MP4A))
	assert.Equal(t, CategoryAudio, CategoryOf(A52))
	assert.Equal(t, CategoryVideo, CategoryOf(H264))
	assert.Equal(t, CategoryVideo, CategoryOf(MP2V))
	assert.Equal(t, CategoryUnknown, CategoryOf(Unknown))
	assert.Equal(t, "audio", CategoryAudio.String())
	assert.Equal(t, "video", CategoryVideo.String())
	assert.Equal(t, "unknown", CategoryUnknown.String())
}

func TestNativeCodecs(t *testing.T) {
	assert.True(t, CanDecodeAudio(MP4A))
	assert.False(t, CanDecodeAudio(A52))
	assert.False(t, CanDecodeAudio(H264))
	assert.True(t, CanDecodeVideo(H264))
	assert.False(t, CanDecodeVideo(HEVC))
}

func TestEncoder(t *testing.T) {
	assert.Equal(t, "libx264", Encoder(H264, HWAccelNone))
	assert.Equal(t, "h264_vaapi", Encoder(H264, HWAccelVAAPI))
	assert.Equal(t, "h264_nvenc", Encoder(H264, HWAccelCUDA))
	assert.Equal(t, "aac", Encoder(MP4A, HWAccelNone))
	assert.Empty(t, Encoder(VP9, HWAccelNone))
	assert.Empty(t, Encoder(Unknown, HWAccelNone))

	encoders := Encoders(H264)
	encoders[HWAccelNone] = "mutated"
	assert.Equal(t, "libx264", Encoder(H264, HWAccelNone), "Encoders must return a copy")
}

func TestParseHWAccel(t *testing.T) {
	hw, ok := ParseHWAccel("nvenc")
	assert.True(t, ok)
	assert.Equal(t, HWAccelCUDA, hw)

	hw, ok = ParseHWAccel("VAAPI")
	assert.True(t, ok)
	assert.Equal(t, HWAccelVAAPI, hw)

	_, ok = ParseHWAccel("amf")
	assert.False(t, ok)
}

func TestParseQuality(t *testing.T) {
	for _, q := range []Quality{QualityHigh, QualityMedium, QualityLow, QualityLowCPU} {
		parsed, err := ParseQuality(q.String())
		require.NoError(t, err)
		assert.Equal(t, q, parsed)
	}

	q, err := ParseQuality("")
	require.NoError(t, err)
	assert.Equal(t, QualityMedium, q)

	_, err = ParseQuality("ultra")
	assert.Error(t, err)
}

func TestQualityParams(t *testing.T) {
	assert.Equal(t, 720, QualityLowCPU.SoftwareParams().MaxHeight)
	assert.Zero(t, QualityHigh.SoftwareParams().MaxHeight)
	assert.Less(t, QualityHigh.SoftwareParams().CRF, QualityLow.SoftwareParams().CRF)
	assert.Greater(t, QualityHigh.HardwareBitrate(), QualityLowCPU.HardwareBitrate())
}

func TestFromMPEGTS(t *testing.T) {
	tests := []struct {
		name  string
		codec mpegts.Codec
		want  FourCC
	}{
		{"h264", &mpegts.CodecH264{}, H264},
		{"h265", &mpegts.CodecH265{}, HEVC},
		{"aac", &mpegts.CodecMPEG4Audio{}, MP4A},
		{"ac3", &mpegts.CodecAC3{}, A52},
		{"mp3", &mpegts.CodecMPEG1Audio{}, MPGA},
		{"opus", &mpegts.CodecOpus{}, OPUS},
		{"mpeg2", &mpegts.CodecMPEG1Video{}, MP2V},
		{"unsupported", &mpegts.CodecUnsupported{}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromMPEGTS(tt.codec))
		})
	}
}

func TestMPEGTSMuxable(t *testing.T) {
	assert.True(t, MPEGTSMuxable(H264))
	assert.True(t, MPEGTSMuxable(A52))
	assert.False(t, MPEGTSMuxable(VP9))
	assert.False(t, MPEGTSMuxable(FLAC))
	assert.False(t, MPEGTSMuxable(MP2V))
}
