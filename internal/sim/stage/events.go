package stage

import "time"

// Event types written by the engine and the collision coordinator.
const (
	EventRunStarted         = "run_started"
	EventRunFinished        = "run_finished"
	EventRunAborted         = "run_aborted"
	EventInstructionSkipped = "instruction_skipped"
	EventCollisionSwap      = "collision_swap"
)

// Abort reasons.
const (
	ReasonStale    = "stale"
	ReasonStopped  = "stopped"
	ReasonRemoved  = "removed"
	ReasonRevoked  = "revoked"
	ReasonShutdown = "shutdown"
)

type Event struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	ActorID string    `json:"actor_id"`
	RunID   string    `json:"run_id,omitempty"`
	Token   uint64    `json:"token"`
	Reason  string    `json:"reason,omitempty"`
	Kind    string    `json:"kind,omitempty"`

	// Collision swaps only.
	PeerID    string  `json:"peer_id,omitempty"`
	PeerToken uint64  `json:"peer_token,omitempty"`
	Distance  float64 `json:"distance,omitempty"`
}

// EventSink receives events. Implementations must not block the caller for
// long; it runs on interpreter goroutines.
type EventSink interface {
	WriteEvent(ev Event) error
}

// MultiSink fans an event out to every non-nil sink and ignores their errors.
type MultiSink []EventSink

func (m MultiSink) WriteEvent(ev Event) error {
	for _, s := range m {
		if s != nil {
			_ = s.WriteEvent(ev)
		}
	}
	return nil
}
