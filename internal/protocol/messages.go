package protocol

import "blockstage.ai/internal/sim/script"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientName      string     `json:"client_name"`
	Stage           *StageSize `json:"stage,omitempty"`
}

type StageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Params          StageParams `json:"params"`
	Actors          []ActorView `json:"actors"`
}

type StageParams struct {
	Stage               StageSize     `json:"stage"`
	SettleDelayMs       int           `json:"settle_delay_ms"`
	MoveStepDelayMs     int           `json:"move_step_delay_ms"`
	CollisionTickMs     int           `json:"collision_tick_ms"`
	CollisionCooldownMs int           `json:"collision_cooldown_ms"`
	MaxActors           int           `json:"max_actors,omitempty"`
	MaxScriptBlocks     int           `json:"max_script_blocks,omitempty"`
	Palette             script.Script `json:"palette"`
}

// ActorView is the renderer-facing actor state.
type ActorView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Direction float64       `json:"direction"`
	Size      float64       `json:"size"`
	Message   string        `json:"message"`
	Thinking  string        `json:"thinking"`
	Run       bool          `json:"run"`
	Token     uint64        `json:"execution_token"`
	Script    script.Script `json:"script"`
}

// STATE (server -> client): full actor list after a store change.
type StateMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Seq             uint64      `json:"seq"`
	Actors          []ActorView `json:"actors"`
}

// CMD (client -> server). Which fields apply depends on Op.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op"`

	ActorID  string   `json:"actor_id,omitempty"`
	ActorIDs []string `json:"actor_ids,omitempty"`
	Mode     string   `json:"mode,omitempty"`

	// ADD_ACTOR
	Actor *ActorSpec `json:"actor,omitempty"`

	// EDIT_ACTOR; nil fields are left alone.
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Direction *float64 `json:"direction,omitempty"`
	Size      *float64 `json:"size,omitempty"`
	Name      *string  `json:"name,omitempty"`

	// SET_SCRIPT
	Script script.Script `json:"script,omitempty"`

	// SET_STAGE
	Stage *StageSize `json:"stage,omitempty"`
}

type ActorSpec struct {
	Name      string        `json:"name"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Direction float64       `json:"direction"`
	Size      float64       `json:"size,omitempty"`
	Script    script.Script `json:"script,omitempty"`
}

// RESULT (server -> client): outcome of one CMD.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
}
