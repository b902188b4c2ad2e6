package observerproto

import "blockstage.ai/internal/protocol"

// Version is the observer protocol version (separate from the editor WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the frame interval.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	IntervalMs      int    `json:"interval_ms"`
}

// HTTP response for GET /admin/v1/state.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`

	Stage protocol.StageSize `json:"stage"`
	// StageReported is false while clamping uses the default box.
	StageReported bool `json:"stage_reported"`

	Running []string             `json:"running"`
	Cooling bool                 `json:"collision_cooldown"`
	Actors  []protocol.ActorView `json:"actors"`
}
