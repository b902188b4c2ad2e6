package protocol

import "blockstage.ai/internal/sim/stage"

func ViewOf(a stage.Actor) ActorView {
	return ActorView{
		ID:        a.ID,
		Name:      a.Name,
		X:         a.Position.X,
		Y:         a.Position.Y,
		Direction: a.Direction,
		Size:      a.Size,
		Message:   a.Message,
		Thinking:  a.Thinking,
		Run:       a.Run,
		Token:     a.Token,
		Script:    a.Script,
	}
}

func Views(as []stage.Actor) []ActorView {
	out := make([]ActorView, 0, len(as))
	for _, a := range as {
		out = append(out, ViewOf(a))
	}
	return out
}

func NewState(seq uint64, as []stage.Actor) StateMsg {
	return StateMsg{Type: TypeState, ProtocolVersion: Version, Seq: seq, Actors: Views(as)}
}
