// Package codec provides the codec registry used to classify elementary
// streams, decide what a DLNA renderer can play natively and pick encoders
// for conversion.
package codec

import (
	"strings"
)

// FourCC is a four character codec tag, stored little-endian so that the
// first character occupies the low byte.
type FourCC uint32

// MakeFourCC builds a FourCC from four characters.
func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Known codec tags.
const (
	Unknown FourCC = 0

	// Audio
	MP4A FourCC = 'm' | 'p'<<8 | '4'<<16 | 'a'<<24
	MPGA FourCC = 'm' | 'p'<<8 | 'g'<<16 | 'a'<<24
	A52  FourCC = 'a' | '5'<<8 | '2'<<16 | ' '<<24
	EAC3 FourCC = 'e' | 'a'<<8 | 'c'<<16 | '3'<<24
	OPUS FourCC = 'O' | 'p'<<8 | 'u'<<16 | 's'<<24
	FLAC FourCC = 'f' | 'l'<<8 | 'a'<<16 | 'c'<<24
	VORB FourCC = 'v' | 'o'<<8 | 'r'<<16 | 'b'<<24
	DTS  FourCC = 'd' | 't'<<8 | 's'<<16 | ' '<<24

	// Video
	H264 FourCC = 'h' | '2'<<8 | '6'<<16 | '4'<<24
	HEVC FourCC = 'h' | 'e'<<8 | 'v'<<16 | 'c'<<24
	MP1V FourCC = 'm' | 'p'<<8 | '1'<<16 | 'v'<<24
	MP2V FourCC = 'm' | 'p'<<8 | '2'<<16 | 'v'<<24
	MP4V FourCC = 'm' | 'p'<<8 | '4'<<16 | 'v'<<24
	VP8  FourCC = 'V' | 'P'<<8 | '8'<<16 | '0'<<24
	VP9  FourCC = 'V' | 'P'<<8 | '9'<<16 | '0'<<24
	AV1  FourCC = 'a' | 'v'<<8 | '0'<<16 | '1'<<24
)

// Codecs every DLNA MediaRenderer is expected to decode.
const (
	NativeAudio = MP4A
	NativeVideo = H264
)

// String returns the four character tag, with trailing spaces kept.
func (f FourCC) String() string {
	if f == Unknown {
		return "undf"
	}
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

// Tag returns the tag without padding, suitable for chain options.
func (f FourCC) Tag() string {
	return strings.TrimRight(f.String(), " ")
}

// Category classifies an elementary stream.
type Category int

// Stream categories.
const (
	CategoryUnknown Category = iota
	CategoryAudio
	CategoryVideo
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryAudio:
		return "audio"
	case CategoryVideo:
		return "video"
	default:
		return "unknown"
	}
}

// HWAccel represents a hardware acceleration type.
type HWAccel string

// Hardware acceleration constants.
const (
	HWAccelNone  HWAccel = "none"
	HWAccelCUDA  HWAccel = "cuda"
	HWAccelQSV   HWAccel = "qsv"
	HWAccelVAAPI HWAccel = "vaapi"
	HWAccelVT    HWAccel = "videotoolbox"
)

// ParseHWAccel parses a hardware acceleration name. "nvenc" is accepted for cuda.
func ParseHWAccel(s string) (HWAccel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return HWAccelNone, true
	case "cuda", "nvenc":
		return HWAccelCUDA, true
	case "qsv":
		return HWAccelQSV, true
	case "vaapi":
		return HWAccelVAAPI, true
	case "videotoolbox":
		return HWAccelVT, true
	default:
		return "", false
	}
}

// info describes a codec known to the registry.
type info struct {
	FourCC   FourCC
	Category Category
	// Name is the ffmpeg codec name.
	Name string
	// Aliases lists other spellings that resolve to this codec.
	Aliases []string
	// Encoders maps a hardware acceleration type to an ffmpeg encoder.
	Encoders map[HWAccel]string
}

var registry = map[FourCC]*info{
	MP4A: {MP4A, CategoryAudio, "aac", []string{"mp4a", "aac", "libfdk_aac"}, map[HWAccel]string{HWAccelNone: "aac"}},
	MPGA: {MPGA, CategoryAudio, "mp3", []string{"mpga", "mp3", "mp2", "mpeg1audio"}, map[HWAccel]string{HWAccelNone: "libmp3lame"}},
	A52:  {A52, CategoryAudio, "ac3", []string{"a52", "ac3", "ac-3"}, map[HWAccel]string{HWAccelNone: "ac3"}},
	EAC3: {EAC3, CategoryAudio, "eac3", []string{"eac3", "ec-3"}, map[HWAccel]string{HWAccelNone: "eac3"}},
	OPUS: {OPUS, CategoryAudio, "opus", []string{"opus", "libopus"}, map[HWAccel]string{HWAccelNone: "libopus"}},
	FLAC: {FLAC, CategoryAudio, "flac", []string{"flac"}, map[HWAccel]string{HWAccelNone: "flac"}},
	VORB: {VORB, CategoryAudio, "vorbis", []string{"vorb", "vorbis"}, nil},
	DTS:  {DTS, CategoryAudio, "dts", []string{"dts", "dca"}, nil},
	H264: {H264, CategoryVideo, "h264", []string{"h264", "avc", "avc1", "h.264"}, map[HWAccel]string{
		HWAccelNone:  "libx264",
		HWAccelCUDA:  "h264_nvenc",
		HWAccelQSV:   "h264_qsv",
		HWAccelVAAPI: "h264_vaapi",
		HWAccelVT:    "h264_videotoolbox",
	}},
	HEVC: {HEVC, CategoryVideo, "hevc", []string{"hevc", "h265", "hvc1", "hev1"}, map[HWAccel]string{
		HWAccelNone:  "libx265",
		HWAccelCUDA:  "hevc_nvenc",
		HWAccelQSV:   "hevc_qsv",
		HWAccelVAAPI: "hevc_vaapi",
		HWAccelVT:    "hevc_videotoolbox",
	}},
	MP1V: {MP1V, CategoryVideo, "mpeg1video", []string{"mp1v", "mpeg1", "mpeg1video"}, nil},
	MP2V: {MP2V, CategoryVideo, "mpeg2video", []string{"mp2v", "mpeg2", "mpeg2video"}, nil},
	MP4V: {MP4V, CategoryVideo, "mpeg4", []string{"mp4v", "mpeg4"}, nil},
	VP8:  {VP8, CategoryVideo, "vp8", []string{"vp80", "vp8"}, nil},
	VP9:  {VP9, CategoryVideo, "vp9", []string{"vp90", "vp9", "vp09"}, nil},
	AV1:  {AV1, CategoryVideo, "av1", []string{"av01", "av1"}, nil},
}

var aliasIndex map[string]FourCC

func init() {
	aliasIndex = make(map[string]FourCC)
	for fourcc, inf := range registry {
		for _, alias := range inf.Aliases {
			aliasIndex[strings.ToLower(alias)] = fourcc
		}
	}
}

// Parse resolves a codec name, alias or four character tag to a FourCC.
func Parse(s string) (FourCC, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Unknown, false
	}
	fourcc, ok := aliasIndex[s]
	return fourcc, ok
}

// CategoryOf returns the category of a known codec.
func CategoryOf(f FourCC) Category {
	if inf, ok := registry[f]; ok {
		return inf.Category
	}
	return CategoryUnknown
}

// Name returns the ffmpeg codec name, or the tag if the codec is unknown.
func Name(f FourCC) string {
	if inf, ok := registry[f]; ok {
		return inf.Name
	}
	return f.Tag()
}

// CanDecodeAudio reports whether a renderer plays the audio codec without conversion.
func CanDecodeAudio(f FourCC) bool {
	return f == NativeAudio
}

// CanDecodeVideo reports whether a renderer plays the video codec without conversion.
func CanDecodeVideo(f FourCC) bool {
	return f == NativeVideo
}

// Encoder returns the ffmpeg encoder producing target with the given
// acceleration. An empty string means no such encoder is known.
func Encoder(target FourCC, hwaccel HWAccel) string {
	inf, ok := registry[target]
	if !ok || inf.Encoders == nil {
		return ""
	}
	return inf.Encoders[hwaccel]
}

// Encoders returns every known encoder for target keyed by acceleration.
func Encoders(target FourCC) map[HWAccel]string {
	inf, ok := registry[target]
	if !ok {
		return nil
	}
	out := make(map[HWAccel]string, len(inf.Encoders))
	for k, v := range inf.Encoders {
		out[k] = v
	}
	return out
}
