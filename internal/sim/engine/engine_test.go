package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"blockstage.ai/internal/sim/clock"
	"blockstage.ai/internal/sim/script"
	"blockstage.ai/internal/sim/stage"
)

type recorder struct {
	mu  sync.Mutex
	evs []stage.Event
}

func (r *recorder) WriteEvent(ev stage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recorder) last(typ string) (stage.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.evs) - 1; i >= 0; i-- {
		if r.evs[i].Type == typ {
			return r.evs[i], true
		}
	}
	return stage.Event{}, false
}

type fixture struct {
	store *stage.Store
	eng   *Engine
	clk   *clock.Manual
	rec   *recorder
	vp    *stage.Viewport
}

func newFixture(t *testing.T, timing Timing) *fixture {
	t.Helper()
	f := &fixture{
		store: stage.NewStore(),
		clk:   clock.NewManual(time.Unix(0, 0)),
		rec:   &recorder{},
		vp:    &stage.Viewport{},
	}
	f.vp.Set(stage.Rect{Width: 480, Height: 360})
	f.eng = New(f.store, Config{
		Timing:  timing,
		Bounds:  f.vp,
		Clock:   f.clk,
		Logger:  log.New(io.Discard, "", 0),
		Events:  f.rec,
		Metrics: nil,
	})
	t.Cleanup(f.eng.Close)
	return f
}

func (f *fixture) add(a stage.Actor) stage.Actor {
	a.Run = true
	return f.store.Add(a)
}

func (f *fixture) get(t *testing.T, id string) stage.Actor {
	t.Helper()
	a, ok := f.store.Get(id)
	if !ok {
		t.Fatalf("actor %s missing", id)
	}
	return a
}

func (f *fixture) runToEnd(t *testing.T, id string) stage.Actor {
	t.Helper()
	if err := f.eng.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.eng.Wait()
	return f.get(t, id)
}

func TestMove_UnitStepsAlongHeading(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.Move{Distance: 100}}})

	got := f.runToEnd(t, a.ID)
	if got.Position != (stage.Vec2{X: 100, Y: 0}) {
		t.Fatalf("position: got %+v want {100 0}", got.Position)
	}
	if got.Run {
		t.Fatalf("run flag should be cleared on completion")
	}
	if f.eng.Running(a.ID) {
		t.Fatalf("actor still in running set")
	}
	if _, ok := f.rec.last(stage.EventRunFinished); !ok {
		t.Fatalf("missing run_finished event")
	}
}

func TestMove_NegativeAndFractional(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{
		Position:  stage.Vec2{X: 50, Y: 50},
		Direction: 90,
		Size:      10,
		Script:    script.Script{script.Move{Distance: -20.5}},
	})
	got := f.runToEnd(t, a.ID)
	if got.Position.X != 50 || got.Position.Y != 29.5 {
		t.Fatalf("position: got %+v want {50 29.5}", got.Position)
	}
}

func TestMove_ClampedToStage(t *testing.T) {
	f := newFixture(t, Timing{})
	f.vp.Set(stage.Rect{Width: 150, Height: 150})
	a := f.add(stage.Actor{Size: 100, Script: script.Script{script.Move{Distance: 100}}})
	got := f.runToEnd(t, a.ID)
	if got.Position != (stage.Vec2{X: 50, Y: 0}) {
		t.Fatalf("position: got %+v want {50 0}", got.Position)
	}
}

func TestMove_ZeroLeavesPosition(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Position: stage.Vec2{X: 7, Y: 9}, Script: script.Script{script.Move{Distance: 0}}})
	got := f.runToEnd(t, a.ID)
	if got.Position != (stage.Vec2{X: 7, Y: 9}) {
		t.Fatalf("position: got %+v", got.Position)
	}
}

func TestTurn_Normalized(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.TurnRight{Degrees: 370}}})
	if got := f.runToEnd(t, a.ID); got.Direction != 10 {
		t.Fatalf("direction: got %v want 10", got.Direction)
	}

	rng := rand.New(rand.NewSource(7))
	var s script.Script
	for i := 0; i < 50; i++ {
		deg := rng.Float64()*2000 - 1000
		if i%2 == 0 {
			s = append(s, script.TurnLeft{Degrees: deg})
		} else {
			s = append(s, script.TurnRight{Degrees: deg})
		}
	}
	b := f.add(stage.Actor{Script: s})
	got := f.runToEnd(t, b.ID)
	if got.Direction < 0 || got.Direction >= 360 {
		t.Fatalf("direction out of range: %v", got.Direction)
	}
}

func TestGoTo_Clamped(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Size: 100, Script: script.Script{script.GoTo{X: 1000, Y: -40}}})
	got := f.runToEnd(t, a.ID)
	if got.Position != (stage.Vec2{X: 380, Y: 0}) {
		t.Fatalf("position: got %+v want {380 0}", got.Position)
	}
}

func TestGoTo_DefaultStageWhenBoundsMissing(t *testing.T) {
	store := stage.NewStore()
	eng := New(store, Config{Logger: log.New(io.Discard, "", 0)})
	defer eng.Close()
	a := store.Add(stage.Actor{Size: 100, Run: true, Script: script.Script{script.GoTo{X: 9999, Y: 9999}}})
	if err := eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.Wait()
	got, _ := store.Get(a.ID)
	want := stage.Vec2{X: stage.DefaultStage.Width - 100, Y: stage.DefaultStage.Height - 100}
	if got.Position != want {
		t.Fatalf("position: got %+v want %+v", got.Position, want)
	}
}

func TestRepeat_ZeroIsNoop(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{
		Position:  stage.Vec2{X: 3, Y: 4},
		Direction: 45,
		Message:   "keep",
		Script:    script.Script{script.Repeat{Count: 0, Body: script.Script{script.Move{Distance: 10}, script.TurnLeft{Degrees: 5}}}},
	})
	got := f.runToEnd(t, a.ID)
	if got.Position != a.Position || got.Direction != a.Direction || got.Message != a.Message {
		t.Fatalf("state changed: before=%+v after=%+v", a, got)
	}
}

func TestRepeat_NestedBody(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Size: 10, Script: script.Script{
		script.Repeat{Count: 2, Body: script.Script{
			script.Repeat{Count: 3, Body: script.Script{script.Move{Distance: 5}}},
			script.TurnRight{Degrees: 90},
		}},
	}})
	got := f.runToEnd(t, a.ID)
	// 15 along +x, turn to 90, 15 along +y, turn to 180.
	if got.Position != (stage.Vec2{X: 15, Y: 15}) || got.Direction != 180 {
		t.Fatalf("got pos=%+v dir=%v", got.Position, got.Direction)
	}
}

func TestSay_SetsThenClearsMessage(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.Say{Text: "Hi", Seconds: 2}}})
	other := f.store.Add(stage.Actor{Name: "other", Message: "Hmm...", Position: stage.Vec2{X: 100, Y: 100}})

	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.clk.BlockUntil(1, time.Second) {
		t.Fatalf("interpreter never suspended")
	}
	if got := f.get(t, a.ID); got.Message != "Hi" {
		t.Fatalf("message during say: got %q want %q", got.Message, "Hi")
	}
	f.clk.Advance(time.Second)
	if got := f.get(t, a.ID); got.Message != "Hi" {
		t.Fatalf("message cleared early")
	}
	f.clk.Advance(time.Second)
	f.eng.Wait()
	if got := f.get(t, a.ID); got.Message != "" {
		t.Fatalf("message after say: got %q want empty", got.Message)
	}
	if got := f.get(t, other.ID); got.Message != "Hmm..." || got.Position != other.Position || got.Run {
		t.Fatalf("other actor touched: %+v", got)
	}
}

func TestThink_UsesThinkingField(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Message: "Hello", Script: script.Script{script.Think{Text: "Hmm...", Seconds: 1}}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.BlockUntil(1, time.Second)
	if got := f.get(t, a.ID); got.Thinking != "Hmm..." || got.Message != "Hello" {
		t.Fatalf("during think: %+v", got)
	}
	f.clk.Advance(time.Second)
	f.eng.Wait()
	if got := f.get(t, a.ID); got.Thinking != "" || got.Message != "Hello" {
		t.Fatalf("after think: %+v", got)
	}
}

func TestStart_DuplicateIsNoop(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.Say{Text: "x", Seconds: 5}}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.BlockUntil(1, time.Second)
	if err := f.eng.Start(a.ID); !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("second start: got %v want ErrDuplicateRun", err)
	}
	if f.eng.Reconcile() != 0 {
		t.Fatalf("reconcile started a second interpreter")
	}
	if got := f.eng.Registry().Len(); got != 1 {
		t.Fatalf("running set size: got %d want 1", got)
	}
	f.clk.Advance(5 * time.Second)
	f.eng.Wait()
}

func TestStart_RequiresRunFlag(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.store.Add(stage.Actor{Script: script.Script{script.Move{Distance: 3}}})
	if err := f.eng.Start(a.ID); !errors.Is(err, ErrNotRequested) {
		t.Fatalf("start: got %v want ErrNotRequested", err)
	}
	if err := f.eng.Start("A404"); !errors.Is(err, stage.ErrNotFound) {
		t.Fatalf("start missing: got %v want ErrNotFound", err)
	}
}

func TestTokenBumpMidRepeatAborts(t *testing.T) {
	f := newFixture(t, Timing{SettleDelay: time.Second})
	a := f.add(stage.Actor{Size: 10, Script: script.Script{
		script.Repeat{Count: 10, Body: script.Script{script.Move{Distance: 1}}},
	}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.clk.BlockUntil(1, time.Second) {
		t.Fatalf("interpreter never suspended")
	}
	before := f.get(t, a.ID)
	if before.Position.X != 1 {
		t.Fatalf("first iteration: got x=%v want 1", before.Position.X)
	}
	_ = f.store.Update(a.ID, func(x *stage.Actor) (stage.Field, error) {
		x.Token++
		return stage.FieldToken, nil
	})
	f.clk.Advance(time.Second)
	f.eng.Wait()

	after := f.get(t, a.ID)
	if after.Position != before.Position {
		t.Fatalf("stale write landed: before=%+v after=%+v", before.Position, after.Position)
	}
	if !after.Run {
		t.Fatalf("stale abort must not touch run flag")
	}
	ev, ok := f.rec.last(stage.EventRunAborted)
	if !ok || ev.Reason != stage.ReasonStale {
		t.Fatalf("abort event: got %+v ok=%v", ev, ok)
	}
	if f.eng.Running(a.ID) {
		t.Fatalf("aborted run kept its lease")
	}
}

func TestExternalStop(t *testing.T) {
	f := newFixture(t, Timing{MoveStepDelay: time.Second})
	a := f.add(stage.Actor{Size: 10, Script: script.Script{script.Move{Distance: 50}}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.BlockUntil(1, time.Second)
	_ = f.store.Update(a.ID, func(x *stage.Actor) (stage.Field, error) {
		x.Run = false
		return stage.FieldRun, nil
	})
	f.clk.Advance(time.Second)
	f.eng.Wait()
	if got := f.get(t, a.ID); got.Position.X != 1 {
		t.Fatalf("moved after stop: %+v", got.Position)
	}
	if ev, _ := f.rec.last(stage.EventRunAborted); ev.Reason != stage.ReasonStopped {
		t.Fatalf("abort reason: got %q want %q", ev.Reason, stage.ReasonStopped)
	}
}

func TestRemovedActorStopsSilently(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.Say{Text: "bye", Seconds: 1}, script.Move{Distance: 5}}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.BlockUntil(1, time.Second)
	if err := f.store.Remove(a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	f.clk.Advance(time.Second)
	f.eng.Wait()
	if f.store.Len() != 0 {
		t.Fatalf("removed actor came back")
	}
	if ev, _ := f.rec.last(stage.EventRunAborted); ev.Reason != stage.ReasonRemoved {
		t.Fatalf("abort reason: got %q want %q", ev.Reason, stage.ReasonRemoved)
	}
}

func TestStopAllRevokesLeases(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.Say{Text: "x", Seconds: 1}, script.TurnLeft{Degrees: 90}}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.BlockUntil(1, time.Second)
	if n := f.eng.StopAll(); n != 1 {
		t.Fatalf("StopAll: got %d want 1", n)
	}
	f.clk.Advance(time.Second)
	f.eng.Wait()
	got := f.get(t, a.ID)
	if got.Direction != 0 || !got.Run || got.Message != "x" {
		t.Fatalf("revoked run wrote state: %+v", got)
	}
	if ev, _ := f.rec.last(stage.EventRunAborted); ev.Reason != stage.ReasonRevoked {
		t.Fatalf("abort reason: got %q want %q", ev.Reason, stage.ReasonRevoked)
	}
}

func TestUnknownInstructionSkipped(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{script.Unknown{Type: "glide"}, script.TurnRight{Degrees: 90}}})
	got := f.runToEnd(t, a.ID)
	if got.Direction != 90 {
		t.Fatalf("direction: got %v want 90", got.Direction)
	}
	ev, ok := f.rec.last(stage.EventInstructionSkipped)
	if !ok || ev.Kind != "glide" {
		t.Fatalf("skip event: %+v ok=%v", ev, ok)
	}
}

func TestLiveStateRespected(t *testing.T) {
	f := newFixture(t, Timing{SettleDelay: time.Second})
	a := f.add(stage.Actor{Size: 10, Script: script.Script{script.TurnRight{Degrees: 0}, script.Move{Distance: 10}}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.BlockUntil(1, time.Second)
	_ = f.store.Update(a.ID, func(x *stage.Actor) (stage.Field, error) {
		x.Direction = 90
		x.Position = stage.Vec2{X: 20, Y: 20}
		return stage.FieldDirection | stage.FieldPosition, nil
	})
	f.clk.Advance(time.Second)
	f.clk.BlockUntil(1, time.Second)
	f.clk.Advance(time.Second)
	f.eng.Wait()
	if got := f.get(t, a.ID); got.Position != (stage.Vec2{X: 20, Y: 30}) {
		t.Fatalf("position: got %+v want {20 30}", got.Position)
	}
}

func TestRunLoopPicksUpRunFlag(t *testing.T) {
	store := stage.NewStore()
	eng := New(store, Config{Logger: log.New(io.Discard, "", 0)})
	a := store.Add(stage.Actor{Size: 10, Script: script.Script{script.Move{Distance: 3}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	_ = store.Update(a.ID, func(x *stage.Actor) (stage.Field, error) {
		x.Run = true
		return stage.FieldRun, nil
	})
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.Get(a.ID)
		if got.Position.X == 3 && !got.Run {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run loop never completed script: %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: got %v want context.Canceled", err)
	}
}

func TestRunLoopRestartsAfterTokenBumpMidSay(t *testing.T) {
	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Size: 10, Script: script.Script{script.Say{Text: "hi", Seconds: 5}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.eng.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if !f.clk.BlockUntil(1, time.Second) {
		t.Fatalf("interpreter never suspended")
	}
	_ = f.store.Update(a.ID, func(x *stage.Actor) (stage.Field, error) {
		x.Script = script.Script{script.Move{Distance: 3}}
		x.Token++
		x.Run = false
		return stage.FieldScript | stage.FieldToken | stage.FieldRun, nil
	})
	_ = f.store.Update(a.ID, func(x *stage.Actor) (stage.Field, error) {
		x.Run = true
		return stage.FieldRun, nil
	})
	// The old interpreter still holds its lease until it wakes.
	if !f.eng.Running(a.ID) {
		t.Fatalf("old interpreter released before waking")
	}
	f.clk.Advance(5 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := f.get(t, a.ID)
		if got.Position.X == 3 && !got.Run {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("new script never ran after run request: %+v run=%v running=%v", got.Position, got.Run, f.eng.Running(a.ID))
		}
		time.Sleep(5 * time.Millisecond)
	}
	ev, ok := f.rec.last(stage.EventRunAborted)
	if !ok || ev.Reason != stage.ReasonStale {
		t.Fatalf("old run abort: got %+v ok=%v", ev, ok)
	}
}

func TestSay_HugeDurationStillSuspends(t *testing.T) {
	s := script.Say{Text: "Hi", Seconds: 1e10}
	if err := (script.Script{s}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d := seconds(1e10); d <= 0 {
		t.Fatalf("seconds(1e10): got %v want positive", d)
	}
	if d := seconds(1e300); d != time.Duration(math.MaxInt64) {
		t.Fatalf("seconds(1e300): got %v want saturated", d)
	}

	f := newFixture(t, Timing{})
	a := f.add(stage.Actor{Script: script.Script{s}})
	if err := f.eng.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.clk.BlockUntil(1, time.Second) {
		t.Fatalf("interpreter never suspended")
	}
	f.clk.Advance(24 * time.Hour)
	if got := f.get(t, a.ID); got.Message != "Hi" || !got.Run {
		t.Fatalf("say ended early: message=%q run=%v", got.Message, got.Run)
	}
}
