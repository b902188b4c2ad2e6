package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"blockstage.ai/internal/sim/script"
	"blockstage.ai/internal/sim/stage"
)

// run is one interpreter pass over an actor's script.
type run struct {
	e     *Engine
	id    string
	runID string
	lease Lease
	token uint64
}

func newRun(e *Engine, lease Lease, token uint64) *run {
	return &run{e: e, id: lease.ActorID, runID: uuid.NewString(), lease: lease, token: token}
}

func (r *run) execute(s script.Script) {
	err := r.exec(s, true)
	if err == nil {
		// Completion: clear the run flag, unless something invalidated us on
		// the very last step.
		err = r.write(func(a *stage.Actor) stage.Field {
			a.Run = false
			return stage.FieldRun
		})
	}
	r.e.reg.Release(r.lease)
	r.e.metrics.RunningActors(r.e.reg.Len())
	// A RUN that landed while this lease was held was skipped by Reconcile.
	r.e.wake()

	out := outcome(err)
	r.e.metrics.RunEnded(out)
	if err == nil {
		r.e.emit(stage.Event{Type: stage.EventRunFinished, ActorID: r.id, RunID: r.runID, Token: r.token})
		return
	}
	r.e.emit(stage.Event{Type: stage.EventRunAborted, ActorID: r.id, RunID: r.runID, Token: r.token, Reason: out})
}

func (r *run) exec(s script.Script, top bool) error {
	for _, in := range s {
		if err := r.checkpoint(); err != nil {
			return err
		}
		if err := r.step(in); err != nil {
			return err
		}
		if top {
			if err := r.pause(r.e.Timing().SettleDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) step(in script.Instruction) error {
	switch v := in.(type) {
	case script.Move:
		return r.counted(in, r.move(v.Distance))
	case script.TurnLeft:
		return r.counted(in, r.turn(-v.Degrees))
	case script.TurnRight:
		return r.counted(in, r.turn(v.Degrees))
	case script.GoTo:
		return r.counted(in, r.write(func(a *stage.Actor) stage.Field {
			a.Position = stage.Clamp(stage.Vec2{X: v.X, Y: v.Y}, r.e.stageSize(), a.Size)
			return stage.FieldPosition
		}))
	case script.Say:
		return r.counted(in, r.bubble(stage.FieldMessage, v.Text, v.Seconds))
	case script.Think:
		return r.counted(in, r.bubble(stage.FieldThinking, v.Text, v.Seconds))
	case script.Repeat:
		return r.counted(in, r.repeat(v))
	default:
		kind := "<nil>"
		if in != nil {
			kind = string(in.Kind())
		}
		r.e.log.Printf("engine: actor %s run %s: %v %q, skipping", r.id, r.runID, ErrUnknownInstruction, kind)
		r.e.metrics.InstructionSkipped(kind)
		r.e.emit(stage.Event{Type: stage.EventInstructionSkipped, ActorID: r.id, RunID: r.runID, Token: r.token, Kind: kind})
		return nil
	}
}

func (r *run) counted(in script.Instruction, err error) error {
	if err == nil {
		r.e.metrics.InstructionExecuted(string(in.Kind()))
	}
	return err
}

// move integrates position along the live heading in unit steps, clamping
// every step. Each step is a suspension point.
func (r *run) move(d float64) error {
	total := math.Abs(d)
	sign := 1.0
	if d < 0 {
		sign = -1
	}
	for moved := 0.0; moved < total; {
		step := math.Min(1, total-moved)
		err := r.write(func(a *stage.Actor) stage.Field {
			dx, dy := heading(a.Direction)
			p := stage.Vec2{X: a.Position.X + sign*step*dx, Y: a.Position.Y + sign*step*dy}
			a.Position = stage.Clamp(p, r.e.stageSize(), a.Size)
			return stage.FieldPosition
		})
		if err != nil {
			return err
		}
		moved += step
		if err := r.pause(r.e.Timing().MoveStepDelay); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) turn(deg float64) error {
	return r.write(func(a *stage.Actor) stage.Field {
		a.Direction = stage.NormalizeDirection(a.Direction + deg)
		return stage.FieldDirection
	})
}

func (r *run) bubble(field stage.Field, text string, secs float64) error {
	set := func(v string) func(a *stage.Actor) stage.Field {
		return func(a *stage.Actor) stage.Field {
			if field == stage.FieldMessage {
				a.Message = v
			} else {
				a.Thinking = v
			}
			return field
		}
	}
	if err := r.write(set(text)); err != nil {
		return err
	}
	if err := r.pause(seconds(secs)); err != nil {
		return err
	}
	return r.write(set(""))
}

func (r *run) repeat(rep script.Repeat) error {
	for i := 0; i < rep.Count; i++ {
		if err := r.checkpoint(); err != nil {
			return err
		}
		if err := r.exec(rep.Body, false); err != nil {
			return err
		}
		if err := r.pause(r.e.Timing().SettleDelay); err != nil {
			return err
		}
	}
	return nil
}

// pause is a suspension point: wait, then re-validate.
func (r *run) pause(d time.Duration) error {
	if err := r.e.clk.Sleep(r.e.ctx, d); err != nil {
		return err
	}
	return r.checkpoint()
}

func (r *run) checkpoint() error {
	return r.e.store.Update(r.id, func(a *stage.Actor) (stage.Field, error) {
		return 0, r.check(a)
	})
}

// write applies fn only if this run is still current, atomically with the check.
func (r *run) write(fn func(a *stage.Actor) stage.Field) error {
	return r.e.store.Update(r.id, func(a *stage.Actor) (stage.Field, error) {
		if err := r.check(a); err != nil {
			return 0, err
		}
		return fn(a), nil
	})
}

func (r *run) check(a *stage.Actor) error {
	if a.Token != r.token {
		return ErrStaleExecution
	}
	if !r.e.reg.Valid(r.lease) {
		return errRevoked
	}
	if !a.Run {
		return errStopped
	}
	return nil
}

func heading(dir float64) (dx, dy float64) {
	rad := dir * math.Pi / 180
	dx, dy = math.Cos(rad), math.Sin(rad)
	if math.Abs(dx) < 1e-12 {
		dx = 0
	}
	if math.Abs(dy) < 1e-12 {
		dy = 0
	}
	return dx, dy
}

func seconds(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) {
		return 0
	}
	if s >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}
