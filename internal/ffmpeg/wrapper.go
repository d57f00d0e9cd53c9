package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// maxStderrLines bounds the stderr tail kept for diagnostics.
const maxStderrLines = 100

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
	logLevel   string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// InitHWDevice initializes a named hardware device, e.g. vaapi=hw:/dev/dri/renderD128.
func (b *CommandBuilder) InitHWDevice(hwType, device string) *CommandBuilder {
	if hwType == "" || hwType == "none" {
		return b
	}
	if device != "" {
		b.globalArgs = append(b.globalArgs, "-init_hw_device", fmt.Sprintf("%s=hw:%s", hwType, device))
	} else {
		b.globalArgs = append(b.globalArgs, "-init_hw_device", hwType+"=hw")
	}
	b.globalArgs = append(b.globalArgs, "-filter_hw_device", "hw")
	return b
}

// HWUploadFilter adds the filter moving software frames to the device
// for encoders that only take hardware frames.
func (b *CommandBuilder) HWUploadFilter(hwType string) *CommandBuilder {
	switch hwType {
	case "vaapi":
		b.filterArgs = append(b.filterArgs, "format=nv12,hwupload")
	case "qsv":
		b.filterArgs = append(b.filterArgs, "format=nv12,hwupload=extra_hw_frames=64")
	}
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoFilter adds a video filter.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// FMP4StreamArgs selects a fragmented MP4 that can be played while it is
// being written: an empty moov up front and a fragment at every keyframe.
func (b *CommandBuilder) FMP4StreamArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
	)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:      b.binary,
		Args:        args,
		stderrLines: make([]string, 0, maxStderrLines),
	}
}

// Command is an FFmpeg invocation whose stdin and stdout are pipes.
type Command struct {
	Binary string
	Args   []string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time
	stdin   io.WriteCloser
	stdout  io.ReadCloser

	waitOnce sync.Once
	waitErr  error

	stderrDone  chan struct{}
	stderrLines []string
	stderrMu    sync.RWMutex
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the process with stdin and stdout connected to pipes.
// The process is killed when ctx is cancelled.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return errors.New("command already started")
	}
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("getting stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.stdin = stdin
	c.stdout = stdout
	c.stderrDone = make(chan struct{})
	go c.captureStderr(stderr)
	return nil
}

// Stdin returns the pipe feeding the process input.
func (c *Command) Stdin() io.WriteCloser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdin
}

// Stdout returns the pipe carrying the process output.
func (c *Command) Stdout() io.ReadCloser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdout
}

// Pid returns the process id, 0 before Start.
func (c *Command) Pid() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// Wait waits for the process to exit. It is safe to call more than once.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd, stderrDone := c.cmd, c.stderrDone
	c.mu.RUnlock()
	if cmd == nil {
		return errors.New("command not started")
	}

	c.waitOnce.Do(func() {
		// Drain stderr before Wait closes the pipe.
		<-stderrDone
		c.waitErr = cmd.Wait()
	})
	return c.waitErr
}

// Kill terminates the FFmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// captureStderr keeps the last maxStderrLines lines of stderr.
func (c *Command) captureStderr(stderr io.Reader) {
	defer close(c.stderrDone)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()
	}
}

// StderrTail returns the recent stderr lines captured from FFmpeg.
func (c *Command) StderrTail() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}
