package codec

import (
	"fmt"
	"strings"
)

// Quality is the operator's trade-off between picture quality and CPU cost
// when a stream has to be converted.
type Quality int

// Conversion qualities, best first.
const (
	QualityHigh Quality = iota
	QualityMedium
	QualityLow
	QualityLowCPU
)

// ParseQuality parses a quality name as found in configuration.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return QualityHigh, nil
	case "medium", "":
		return QualityMedium, nil
	case "low":
		return QualityLow, nil
	case "low-cpu", "lowcpu":
		return QualityLowCPU, nil
	default:
		return QualityMedium, fmt.Errorf("unknown conversion quality %q", s)
	}
}

// String returns the configuration name of q.
func (q Quality) String() string {
	switch q {
	case QualityHigh:
		return "high"
	case QualityLow:
		return "low"
	case QualityLowCPU:
		return "low-cpu"
	default:
		return "medium"
	}
}

// SoftwareParams holds the software encoder tuning for a quality.
type SoftwareParams struct {
	Preset string
	CRF    int
	// MaxHeight caps the output height, 0 keeps the source size.
	MaxHeight int
}

// SoftwareParams returns libx264 tuning for q.
func (q Quality) SoftwareParams() SoftwareParams {
	switch q {
	case QualityHigh:
		return SoftwareParams{Preset: "medium", CRF: 21}
	case QualityLow:
		return SoftwareParams{Preset: "veryfast", CRF: 26}
	case QualityLowCPU:
		return SoftwareParams{Preset: "ultrafast", CRF: 28, MaxHeight: 720}
	default:
		return SoftwareParams{Preset: "faster", CRF: 23}
	}
}

// HardwareBitrate returns a target bitrate in kbit/s for hardware encoders,
// which do not share x264's CRF scale.
func (q Quality) HardwareBitrate() int {
	switch q {
	case QualityHigh:
		return 8000
	case QualityLow:
		return 3000
	case QualityLowCPU:
		return 2000
	default:
		return 5000
	}
}
