package ffmpeg

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a resource snapshot of a chain process.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	Uptime         time.Duration `json:"uptime"`
}

// ChainStats describes one running chain.
type ChainStats struct {
	Handle        uint64        `json:"handle"`
	Path          string        `json:"path"`
	Command       string        `json:"command"`
	Tracks        []string      `json:"tracks"`
	FramesWritten uint64        `json:"frames_written"`
	FramesDropped uint64        `json:"frames_dropped"`
	BytesWritten  uint64        `json:"bytes_written"`
	QueueDepth    int           `json:"queue_depth"`
	Failed        string        `json:"failed,omitempty"`
	Process       *ProcessStats `json:"process,omitempty"`
	StderrTail    []string      `json:"stderr_tail,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
}

// sampleProcess reads CPU and memory usage of pid. It returns nil when the
// process cannot be inspected.
func sampleProcess(ctx context.Context, pid int, started time.Time) *ProcessStats {
	if pid <= 0 {
		return nil
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}

	stats := &ProcessStats{PID: pid, Uptime: time.Since(started)}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.MemoryRSSBytes = mem.RSS
	}
	return stats
}
