// Package script defines the block vocabulary an actor can execute.
//
// Instructions are immutable values. A Script is an ordered list of them; a
// Repeat owns its own nested body.
package script

import (
	"fmt"
	"math"
)

type Kind string

const (
	KindMove      Kind = "move"
	KindTurnLeft  Kind = "turn-left"
	KindTurnRight Kind = "turn-right"
	KindGoTo      Kind = "goto"
	KindSay       Kind = "say"
	KindThink     Kind = "think"
	KindRepeat    Kind = "repeat"
)

// Instruction is one typed command. The set of implementations is closed.
type Instruction interface {
	Kind() Kind
	validate() error
}

type Move struct{ Distance float64 }

type TurnLeft struct{ Degrees float64 }

type TurnRight struct{ Degrees float64 }

type GoTo struct{ X, Y float64 }

// Say shows Text in the actor's speech bubble for Seconds.
type Say struct {
	Text    string
	Seconds float64
}

// Think shows Text in the actor's thought bubble for Seconds.
type Think struct {
	Text    string
	Seconds float64
}

type Repeat struct {
	Count int
	Body  Script
}

// Unknown carries a block whose type this build does not understand. The
// engine skips it with a warning.
type Unknown struct{ Type string }

func (Move) Kind() Kind      { return KindMove }
func (TurnLeft) Kind() Kind  { return KindTurnLeft }
func (TurnRight) Kind() Kind { return KindTurnRight }
func (GoTo) Kind() Kind      { return KindGoTo }
func (Say) Kind() Kind       { return KindSay }
func (Think) Kind() Kind     { return KindThink }
func (Repeat) Kind() Kind    { return KindRepeat }
func (u Unknown) Kind() Kind { return Kind(u.Type) }

func (m Move) validate() error      { return finite("distance", m.Distance) }
func (t TurnLeft) validate() error  { return finite("degrees", t.Degrees) }
func (t TurnRight) validate() error { return finite("degrees", t.Degrees) }

func (g GoTo) validate() error {
	if err := finite("x", g.X); err != nil {
		return err
	}
	return finite("y", g.Y)
}

func (s Say) validate() error   { return duration(s.Seconds) }
func (s Think) validate() error { return duration(s.Seconds) }

func (r Repeat) validate() error {
	if r.Count < 0 {
		return fmt.Errorf("count must be >= 0, got %d", r.Count)
	}
	return r.Body.walk("body")
}

func (Unknown) validate() error { return nil }

// Script is executed in insertion order.
type Script []Instruction

// Validate checks every instruction, including nested repeat bodies.
func (s Script) Validate() error { return s.walk("") }

func (s Script) walk(prefix string) error {
	for i, in := range s {
		if in == nil {
			return fmt.Errorf("%s[%d]: nil instruction", prefix, i)
		}
		if err := in.validate(); err != nil {
			return fmt.Errorf("%s[%d] %s: %w", prefix, i, in.Kind(), err)
		}
	}
	return nil
}

// Count returns the number of instructions including nested bodies (each body
// counted once, not per iteration).
func (s Script) Count() int {
	n := 0
	for _, in := range s {
		n++
		if r, ok := in.(Repeat); ok {
			n += r.Body.Count()
		}
	}
	return n
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be finite", name)
	}
	return nil
}

func duration(v float64) error {
	if err := finite("duration", v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration must be >= 0, got %g", v)
	}
	return nil
}

// Palette returns the default block of every kind, as offered by the editor.
func Palette() Script {
	return Script{
		Move{Distance: 10},
		TurnLeft{Degrees: 15},
		TurnRight{Degrees: 15},
		GoTo{X: 100, Y: 100},
		Repeat{Count: 5},
		Say{Text: "Hello", Seconds: 2},
		Think{Text: "Hmm...", Seconds: 3},
	}
}
