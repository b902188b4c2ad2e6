package main

import (
	"fmt"
	"time"

	"blockstage.ai/internal/sim/stage"
)

type summary struct {
	Events       int
	Runs         int
	Finished     int
	Aborted      int
	Skipped      int
	Collisions   int
	Open         int
	AbortReasons map[string]int
	Violations   []string
}

// auditor checks an event stream against the execution rules: at most one
// live run per actor, every run ends once, and collision swaps respect the
// global cooldown.
type auditor struct {
	cooldown time.Duration

	live          map[string]string // actor -> run id
	lastCollision time.Time
	s             summary
}

func newAuditor(cooldown time.Duration) *auditor {
	return &auditor{
		cooldown: cooldown,
		live:     map[string]string{},
		s:        summary{AbortReasons: map[string]int{}},
	}
}

func (a *auditor) observe(ev stage.Event) {
	a.s.Events++
	switch ev.Type {
	case stage.EventRunStarted:
		a.s.Runs++
		if prev, ok := a.live[ev.ActorID]; ok {
			a.violate(ev, "run %s started while run %s is live", ev.RunID, prev)
		}
		a.live[ev.ActorID] = ev.RunID

	case stage.EventRunFinished, stage.EventRunAborted:
		if ev.Type == stage.EventRunFinished {
			a.s.Finished++
		} else {
			a.s.Aborted++
			a.s.AbortReasons[ev.Reason]++
		}
		if cur, ok := a.live[ev.ActorID]; !ok || cur != ev.RunID {
			a.violate(ev, "run %s ended but live run is %q", ev.RunID, cur)
		}
		delete(a.live, ev.ActorID)

	case stage.EventInstructionSkipped:
		a.s.Skipped++

	case stage.EventCollisionSwap:
		a.s.Collisions++
		if !a.lastCollision.IsZero() && ev.Time.Sub(a.lastCollision) < a.cooldown {
			a.violate(ev, "collision %s <-> %s %v after the previous one", ev.ActorID, ev.PeerID, ev.Time.Sub(a.lastCollision))
		}
		a.lastCollision = ev.Time
	}
}

func (a *auditor) violate(ev stage.Event, format string, args ...any) {
	a.s.Violations = append(a.s.Violations, fmt.Sprintf("%s %s: ", ev.Time.Format(time.RFC3339Nano), ev.ActorID)+fmt.Sprintf(format, args...))
}

// summary reports runs still live at the end of the stream as Open; a log
// cut off mid-run is not a violation.
func (a *auditor) summary() summary {
	s := a.s
	s.Open = len(a.live)
	return s
}
