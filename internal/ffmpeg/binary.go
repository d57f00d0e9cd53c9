// Package ffmpeg runs the cast chain on an FFmpeg child process: the chain's
// elementary streams are muxed to MPEG-TS on stdin and the remuxed or
// converted fragmented MP4 on stdout is published to the renderer.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/castarr/internal/codec"
)

// BinaryEnvVar overrides the ffmpeg binary location.
const BinaryEnvVar = "CASTARR_FFMPEG_BINARY"

// ErrBinaryNotFound is returned when no usable ffmpeg binary exists.
var ErrBinaryNotFound = errors.New("ffmpeg binary not found")

// BinaryInfo contains what castarr needs to know about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string          `json:"ffmpeg_path"`
	Version      string          `json:"version"`
	MajorVersion int             `json:"major_version"`
	MinorVersion int             `json:"minor_version"`
	Encoders     []string        `json:"encoders,omitempty"`
	HWAccels     []codec.HWAccel `json:"hw_accels,omitempty"`
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasHWAccel returns true if ffmpeg lists the acceleration method.
func (info *BinaryInfo) HasHWAccel(accel codec.HWAccel) bool {
	return accel == codec.HWAccelNone || slices.Contains(info.HWAccels, accel)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}

// runFunc executes ffmpeg with args and returns its stdout.
type runFunc func(ctx context.Context, path string, args ...string) ([]byte, error)

func runBinary(ctx context.Context, path string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, path, args...).Output()
}

// BinaryDetector handles detection and caching of the FFmpeg binary.
type BinaryDetector struct {
	configured string
	run        runFunc

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. An empty path searches the
// CASTARR_FFMPEG_BINARY variable, the working directory and PATH.
func NewBinaryDetector(path string) *BinaryDetector {
	return &BinaryDetector{
		configured: path,
		run:        runBinary,
		cacheTTL:   5 * time.Minute,
	}
}

// Detect locates ffmpeg and reads its version, encoders and hwaccels.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	path, err := findBinary("ffmpeg", d.configured, BinaryEnvVar)
	if err != nil {
		return nil, err
	}
	info := &BinaryInfo{FFmpegPath: path}

	out, err := d.run(ctx, path, "-version")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	if info.Version, info.MajorVersion, info.MinorVersion, err = parseVersion(string(out)); err != nil {
		return nil, err
	}

	// Capability listings are best effort; a missing list only narrows
	// what negotiation can pick.
	if out, err := d.run(ctx, path, "-encoders", "-hide_banner"); err == nil {
		info.Encoders = parseEncoders(string(out))
	}
	if out, err := d.run(ctx, path, "-hwaccels", "-hide_banner"); err == nil {
		info.HWAccels = parseHWAccels(string(out))
	}
	return info, nil
}

// findBinary resolves name from the configured path, then envVar, then
// ./name, then PATH.
func findBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("%w: %s is not executable", ErrBinaryNotFound, configured)
	}
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && isExecutable(p) {
			return p, nil
		}
	}
	if local := "./" + name; isExecutable(local) {
		return local, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s not on PATH", ErrBinaryNotFound, name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads "ffmpeg version 6.1.1 Copyright ..." style output.
func parseVersion(output string) (full string, major, minor int, err error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		full = parts[2]
		if m := versionRegex.FindStringSubmatch(full); len(m) == 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, errors.New("failed to parse ffmpeg version")
}

// parseEncoders reads the "V....D name description" table of -encoders.
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 || (line[0] != 'V' && line[0] != 'A' && line[0] != 'S') {
			continue
		}
		if parts := strings.Fields(line[6:]); len(parts) > 0 {
			encoders = append(encoders, parts[0])
		}
	}
	return encoders
}

// parseHWAccels reads the list printed by -hwaccels, keeping the methods
// castarr can encode with.
func parseHWAccels(output string) []codec.HWAccel {
	var accels []codec.HWAccel
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if !inList || line == "" {
			continue
		}
		if accel, ok := codec.ParseHWAccel(line); ok && accel != codec.HWAccelNone && !slices.Contains(accels, accel) {
			accels = append(accels, accel)
		}
	}
	return accels
}
