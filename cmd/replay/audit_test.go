package main

import (
	"testing"
	"time"

	"blockstage.ai/internal/sim/stage"
)

func TestAuditor_CleanStream(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := newAuditor(time.Second)
	for _, ev := range []stage.Event{
		{Time: t0, Type: stage.EventRunStarted, ActorID: "A1", RunID: "r1"},
		{Time: t0, Type: stage.EventRunStarted, ActorID: "A2", RunID: "r2"},
		{Time: t0.Add(100 * time.Millisecond), Type: stage.EventCollisionSwap, ActorID: "A1", PeerID: "A2"},
		{Time: t0.Add(100 * time.Millisecond), Type: stage.EventRunAborted, ActorID: "A1", RunID: "r1", Reason: stage.ReasonRevoked},
		{Time: t0.Add(100 * time.Millisecond), Type: stage.EventRunAborted, ActorID: "A2", RunID: "r2", Reason: stage.ReasonRevoked},
		{Time: t0.Add(150 * time.Millisecond), Type: stage.EventRunStarted, ActorID: "A1", RunID: "r3"},
		{Time: t0.Add(200 * time.Millisecond), Type: stage.EventInstructionSkipped, ActorID: "A1", RunID: "r3", Kind: "dance"},
		{Time: t0.Add(300 * time.Millisecond), Type: stage.EventRunFinished, ActorID: "A1", RunID: "r3"},
		{Time: t0.Add(1100 * time.Millisecond), Type: stage.EventCollisionSwap, ActorID: "A1", PeerID: "A2"},
		{Time: t0.Add(1200 * time.Millisecond), Type: stage.EventRunStarted, ActorID: "A2", RunID: "r4"},
	} {
		a.observe(ev)
	}
	s := a.summary()
	if len(s.Violations) != 0 {
		t.Fatalf("violations: %v", s.Violations)
	}
	if s.Runs != 4 || s.Finished != 1 || s.Aborted != 2 || s.Collisions != 2 || s.Skipped != 1 || s.Open != 1 {
		t.Fatalf("summary: %+v", s)
	}
	if s.AbortReasons[stage.ReasonRevoked] != 2 {
		t.Fatalf("abort reasons: %v", s.AbortReasons)
	}
}

func TestAuditor_Violations(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := newAuditor(time.Second)
	for _, ev := range []stage.Event{
		{Time: t0, Type: stage.EventRunStarted, ActorID: "A1", RunID: "r1"},
		{Time: t0, Type: stage.EventRunStarted, ActorID: "A1", RunID: "r2"},
		{Time: t0, Type: stage.EventRunFinished, ActorID: "A3", RunID: "r9"},
		{Time: t0, Type: stage.EventCollisionSwap, ActorID: "A1", PeerID: "A2"},
		{Time: t0.Add(500 * time.Millisecond), Type: stage.EventCollisionSwap, ActorID: "A1", PeerID: "A2"},
	} {
		a.observe(ev)
	}
	if got := len(a.summary().Violations); got != 3 {
		t.Fatalf("violations: got %d want 3: %v", got, a.summary().Violations)
	}
}
