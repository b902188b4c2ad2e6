package stage

import (
	"math"

	"blockstage.ai/internal/sim/script"
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Actor is one on-stage entity. Position is the top-left corner of its
// footprint; Size is both the rendered scale and the collision diameter.
type Actor struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Position  Vec2          `json:"position"`
	Direction float64       `json:"direction"`
	Size      float64       `json:"size"`
	Message   string        `json:"message"`
	Thinking  string        `json:"thinking"`
	Script    script.Script `json:"script"`
	Run       bool          `json:"run"`
	Token     uint64        `json:"execution_token"`
}

func (a Actor) Center() Vec2 {
	return Vec2{X: a.Position.X + a.Size/2, Y: a.Position.Y + a.Size/2}
}

// Field is a bit mask naming actor fields touched by a write.
type Field uint16

const (
	FieldName Field = 1 << iota
	FieldPosition
	FieldDirection
	FieldSize
	FieldMessage
	FieldThinking
	FieldScript
	FieldRun
	FieldToken

	// Lifecycle bits, reported to watchers only.
	FieldAdded
	FieldRemoved

	FieldAll = FieldName | FieldPosition | FieldDirection | FieldSize | FieldMessage |
		FieldThinking | FieldScript | FieldRun | FieldToken
)

// NormalizeDirection maps any finite angle into [0, 360).
func NormalizeDirection(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

func merge(dst *Actor, src Actor, mask Field) {
	if mask&FieldName != 0 {
		dst.Name = src.Name
	}
	if mask&FieldPosition != 0 {
		dst.Position = src.Position
	}
	if mask&FieldDirection != 0 {
		dst.Direction = NormalizeDirection(src.Direction)
	}
	if mask&FieldSize != 0 {
		dst.Size = src.Size
	}
	if mask&FieldMessage != 0 {
		dst.Message = src.Message
	}
	if mask&FieldThinking != 0 {
		dst.Thinking = src.Thinking
	}
	if mask&FieldScript != 0 {
		dst.Script = src.Script
	}
	if mask&FieldRun != 0 {
		dst.Run = src.Run
	}
	if mask&FieldToken != 0 {
		dst.Token = src.Token
	}
}
