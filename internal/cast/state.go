package cast

import (
	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/es"
)

// State is the orchestrator's position in a session.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateSwitching
	StateAnnouncing
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateSwitching:
		return "switching"
	case StateAnnouncing:
		return "announcing"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StreamInfo describes one registered stream.
type StreamInfo struct {
	ID       uint64 `json:"id"`
	Category string `json:"category"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Attached bool   `json:"attached"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID     string       `json:"session_id,omitempty"`
	State         State        `json:"state"`
	URI           string       `json:"uri,omitempty"`
	Decision      string       `json:"decision,omitempty"`
	Spec          string       `json:"spec,omitempty"`
	Reasons       []string     `json:"reasons,omitempty"`
	Streams       []StreamInfo `json:"streams"`
	Declined      bool         `json:"declined"`
	LastError     string       `json:"last_error,omitempty"`
	AnnounceError string       `json:"announce_error,omitempty"`
}

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		SessionID: o.cfg.SessionID,
		State:     o.state,
		URI:       o.uri,
		Spec:      o.cfg.Lifecycle.Spec(),
		Declined:  o.cfg.Planner.Declined(),
		Streams:   make([]StreamInfo, 0, o.registry.Len()),
	}
	if o.plan != nil {
		snap.Decision = o.plan.Decision.String()
		snap.Reasons = append([]string(nil), o.plan.Reasons...)
	}
	if o.lastErr != nil {
		snap.LastError = o.lastErr.Error()
	}
	if o.lastAnnounceErr != nil {
		snap.AnnounceError = o.lastAnnounceErr.Error()
	}
	for _, s := range o.registry.List() {
		snap.Streams = append(snap.Streams, streamInfo(s))
	}
	return snap
}

func streamInfo(s es.Stream) StreamInfo {
	return StreamInfo{
		ID:       uint64(s.ID),
		Category: s.Format.Category.String(),
		Codec:    s.Format.Codec.Tag(),
		Language: s.Format.Language,
		Attached: s.SubID != 0,
	}
}

// Plan returns the plan of the running chain, or nil.
func (o *Orchestrator) Plan() *chain.PlanResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plan
}
