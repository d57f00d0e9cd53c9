package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/castarr/internal/codec"
)

const versionOutput = `ffmpeg version n7.1 Copyright (c) 2000-2024 the FFmpeg developers
built with gcc 14.2.1 (GCC) 20240910
configuration: --prefix=/usr --enable-vaapi
`

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
 S..... srt                  SubRip subtitle
`

const hwaccelsOutput = `Hardware acceleration methods:
vdpau
cuda
vaapi
qsv
drm
vaapi

`

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantFull  string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"release tag", versionOutput, "n7.1", 7, 1, false},
		{"plain", "ffmpeg version 6.0.1-static https://johnvansickle.com", "6.0.1-static", 6, 0, false},
		{"git build", "ffmpeg version N-112345-gabcdef", "N-112345-gabcdef", 0, 0, false},
		{"garbage", "not ffmpeg", "", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, major, minor, err := parseVersion(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFull, full)
			assert.Equal(t, tt.wantMajor, major)
			assert.Equal(t, tt.wantMinor, minor)
		})
	}
}

func TestParseEncoders(t *testing.T) {
	got := parseEncoders(encodersOutput)
	assert.Equal(t, []string{"libx264", "h264_vaapi", "h264_nvenc", "aac", "srt"}, got)
	assert.Empty(t, parseEncoders("no table here"))
}

func TestParseHWAccels(t *testing.T) {
	got := parseHWAccels(hwaccelsOutput)
	assert.Equal(t, []codec.HWAccel{codec.HWAccelCUDA, codec.HWAccelVAAPI, codec.HWAccelQSV}, got)
}

func TestBinaryInfo(t *testing.T) {
	info := &BinaryInfo{
		MajorVersion: 6,
		MinorVersion: 1,
		Encoders:     []string{"libx264"},
		HWAccels:     []codec.HWAccel{codec.HWAccelVAAPI},
	}

	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("h264_qsv"))
	assert.True(t, info.HasHWAccel(codec.HWAccelNone))
	assert.True(t, info.HasHWAccel(codec.HWAccelVAAPI))
	assert.False(t, info.HasHWAccel(codec.HWAccelCUDA))

	assert.True(t, info.SupportsMinVersion(5, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestFindBinary(t *testing.T) {
	dir := t.TempDir()
	exe := writeExecutable(t, dir, "ffmpeg")
	plain := filepath.Join(dir, "not-exec")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))

	t.Run("configured path", func(t *testing.T) {
		got, err := findBinary("ffmpeg", exe, "")
		require.NoError(t, err)
		assert.Equal(t, exe, got)
	})

	t.Run("configured path not executable", func(t *testing.T) {
		_, err := findBinary("ffmpeg", plain, "")
		assert.ErrorIs(t, err, ErrBinaryNotFound)
	})

	t.Run("environment variable", func(t *testing.T) {
		t.Setenv("CASTARR_TEST_FFMPEG", exe)
		got, err := findBinary("ffmpeg", "", "CASTARR_TEST_FFMPEG")
		require.NoError(t, err)
		assert.Equal(t, exe, got)
	})

	t.Run("PATH", func(t *testing.T) {
		t.Setenv("PATH", dir)
		got, err := findBinary("ffmpeg", "", "")
		require.NoError(t, err)
		assert.Equal(t, exe, got)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		_, err := findBinary("castarr-no-such-binary", "", "")
		assert.ErrorIs(t, err, ErrBinaryNotFound)
	})
}

func TestBinaryDetector_Detect(t *testing.T) {
	exe := writeExecutable(t, t.TempDir(), "ffmpeg")

	calls := 0
	d := NewBinaryDetector(exe)
	d.run = func(ctx context.Context, path string, args ...string) ([]byte, error) {
		calls++
		switch args[0] {
		case "-version":
			return []byte(versionOutput), nil
		case "-encoders":
			return []byte(encodersOutput), nil
		case "-hwaccels":
			return nil, errors.New("exit status 1")
		}
		return nil, errors.New("unexpected args")
	}

	info, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, exe, info.FFmpegPath)
	assert.Equal(t, 7, info.MajorVersion)
	assert.True(t, info.HasEncoder("h264_vaapi"))
	assert.Empty(t, info.HWAccels)
	assert.Equal(t, 3, calls)

	// Cached.
	_, err = d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	d.Clear()
	_, err = d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, calls)
}

func TestBinaryDetector_VersionFailure(t *testing.T) {
	exe := writeExecutable(t, t.TempDir(), "ffmpeg")
	d := NewBinaryDetector(exe)
	d.run = func(ctx context.Context, path string, args ...string) ([]byte, error) {
		return nil, errors.New("boom")
	}

	_, err := d.Detect(context.Background())
	assert.ErrorContains(t, err, "getting ffmpeg version")
}
