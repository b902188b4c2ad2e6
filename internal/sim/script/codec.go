package script

import (
	"encoding/json"
	"fmt"
	"math"
)

// block is the wire shape produced by the editor:
//
//	{"type":"move","value":10}
//	{"type":"goto","value":{"x":100,"y":100}}
//	{"type":"say","value":"Hello","duration":2}
//	{"type":"repeat","value":5,"body":[...]}
//
// "subBlocks" is accepted as an alias of "body".
type block struct {
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value,omitempty"`
	Duration  *float64        `json:"duration,omitempty"`
	Body      Script          `json:"body,omitempty"`
	SubBlocks Script          `json:"subBlocks,omitempty"`
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s Script) MarshalJSON() ([]byte, error) {
	out := make([]block, 0, len(s))
	for i, in := range s {
		b, err := toBlock(in)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

func (s *Script) UnmarshalJSON(b []byte) error {
	var raw []block
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = nil
		return nil
	}
	out := make(Script, 0, len(raw))
	for i, bl := range raw {
		in, err := bl.instruction()
		if err != nil {
			return fmt.Errorf("block %d (%s): %w", i, bl.Type, err)
		}
		out = append(out, in)
	}
	*s = out
	return nil
}

func (b block) instruction() (Instruction, error) {
	switch Kind(b.Type) {
	case KindMove:
		v, err := b.number()
		return Move{Distance: v}, err
	case KindTurnLeft:
		v, err := b.number()
		return TurnLeft{Degrees: v}, err
	case KindTurnRight:
		v, err := b.number()
		return TurnRight{Degrees: v}, err
	case KindGoTo:
		var p point
		if err := json.Unmarshal(b.Value, &p); err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		return GoTo{X: p.X, Y: p.Y}, nil
	case KindSay:
		text, secs, err := b.bubble()
		return Say{Text: text, Seconds: secs}, err
	case KindThink:
		text, secs, err := b.bubble()
		return Think{Text: text, Seconds: secs}, err
	case KindRepeat:
		v, err := b.number()
		if err != nil {
			return nil, err
		}
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("repeat count must be an integer, got %g", v)
		}
		body := b.Body
		if len(body) == 0 {
			body = b.SubBlocks
		}
		return Repeat{Count: int(v), Body: body}, nil
	case "":
		return nil, fmt.Errorf("missing type")
	default:
		return Unknown{Type: b.Type}, nil
	}
}

func (b block) number() (float64, error) {
	var v float64
	if len(b.Value) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	if err := json.Unmarshal(b.Value, &v); err != nil {
		return 0, fmt.Errorf("value: %w", err)
	}
	return v, nil
}

func (b block) bubble() (string, float64, error) {
	var text string
	if len(b.Value) > 0 {
		if err := json.Unmarshal(b.Value, &text); err != nil {
			return "", 0, fmt.Errorf("value: %w", err)
		}
	}
	secs := 0.0
	if b.Duration != nil {
		secs = *b.Duration
	}
	return text, secs, nil
}

func toBlock(in Instruction) (block, error) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	switch v := in.(type) {
	case Move:
		return block{Type: string(KindMove), Value: raw(v.Distance)}, nil
	case TurnLeft:
		return block{Type: string(KindTurnLeft), Value: raw(v.Degrees)}, nil
	case TurnRight:
		return block{Type: string(KindTurnRight), Value: raw(v.Degrees)}, nil
	case GoTo:
		return block{Type: string(KindGoTo), Value: raw(point{X: v.X, Y: v.Y})}, nil
	case Say:
		d := v.Seconds
		return block{Type: string(KindSay), Value: raw(v.Text), Duration: &d}, nil
	case Think:
		d := v.Seconds
		return block{Type: string(KindThink), Value: raw(v.Text), Duration: &d}, nil
	case Repeat:
		return block{Type: string(KindRepeat), Value: raw(v.Count), Body: v.Body}, nil
	case Unknown:
		return block{Type: v.Type}, nil
	default:
		return block{}, fmt.Errorf("unsupported instruction %T", in)
	}
}
