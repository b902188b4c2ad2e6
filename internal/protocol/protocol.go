package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeState   = "STATE"
	TypeCmd     = "CMD"
	TypeResult  = "RESULT"
)

// CMD operations.
const (
	OpAddActor    = "ADD_ACTOR"
	OpRemoveActor = "REMOVE_ACTOR"
	OpEditActor   = "EDIT_ACTOR"
	OpSetScript   = "SET_SCRIPT"
	OpRun         = "RUN"
	OpStop        = "STOP"
	OpRunAll      = "RUN_ALL"
	OpSetStage    = "SET_STAGE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
