package main

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"blockstage.ai/internal/metrics"
	"blockstage.ai/internal/protocol"
	"blockstage.ai/internal/sim/clock"
	"blockstage.ai/internal/sim/collision"
	"blockstage.ai/internal/sim/engine"
	"blockstage.ai/internal/sim/runctl"
	"blockstage.ai/internal/sim/script"
	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/sim/tuning"
)

// stageRuntime is one stage with everything that drives it.
type stageRuntime struct {
	store       *stage.Store
	viewport    *stage.Viewport
	engine      *engine.Engine
	coordinator *collision.Coordinator
	runs        *runctl.Controller
	validator   *protocol.Validator
	metrics     *metrics.Stage

	tune atomic.Pointer[tuning.Tuning]
}

func newStageRuntime(tune tuning.Tuning, events stage.EventSink, m *metrics.Stage, logger *log.Logger) (*stageRuntime, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	rt := &stageRuntime{
		store:     stage.NewStore(),
		viewport:  &stage.Viewport{},
		validator: v,
		metrics:   m,
	}
	rt.tune.Store(&tune)

	sink := stage.MultiSink{events, m}
	defaultStage := stage.Rect{Width: tune.Stage.Width, Height: tune.Stage.Height}
	rt.engine = engine.New(rt.store, engine.Config{
		Timing:       engineTiming(tune),
		Bounds:       rt.viewport,
		DefaultStage: defaultStage,
		Clock:        clock.Real{},
		Logger:       logger,
		Events:       sink,
		Metrics:      m,
	})
	rt.coordinator = collision.New(rt.store, rt.engine, collision.Config{
		Timing:  collisionTiming(tune),
		Clock:   clock.Real{},
		Logger:  logger,
		Events:  sink,
		Metrics: m,
	})
	rt.runs = runctl.New(rt.store)
	m.WatchActors(rt.store)

	for _, a := range tune.DefaultActors {
		rt.store.Add(stage.Actor{
			Name:      a.Name,
			Position:  stage.Vec2{X: a.X, Y: a.Y},
			Direction: a.Direction,
			Size:      a.Size,
		})
	}
	return rt, nil
}

func engineTiming(t tuning.Tuning) engine.Timing {
	return engine.Timing{SettleDelay: t.SettleDelay(), MoveStepDelay: t.MoveStepDelay()}
}

func collisionTiming(t tuning.Tuning) collision.Timing {
	return collision.Timing{Tick: t.CollisionTick(), SettleDelay: t.SwapSettleDelay(), Cooldown: t.CollisionCooldown()}
}

// applyTuning takes effect for waits that start after the call.
func (rt *stageRuntime) applyTuning(t tuning.Tuning) {
	rt.tune.Store(&t)
	rt.engine.SetTiming(engineTiming(t))
	rt.coordinator.SetTiming(collisionTiming(t))
}

func (rt *stageRuntime) params() protocol.StageParams {
	t := rt.tune.Load()
	return protocol.StageParams{
		Stage:               protocol.StageSize{Width: t.Stage.Width, Height: t.Stage.Height},
		SettleDelayMs:       t.SettleDelayMs,
		MoveStepDelayMs:     t.MoveStepDelayMs,
		CollisionTickMs:     t.CollisionTickMs,
		CollisionCooldownMs: t.CollisionCooldownMs,
		MaxActors:           t.MaxActors,
		MaxScriptBlocks:     t.MaxScriptBlocks,
		Palette:             script.Palette(),
	}
}

func (rt *stageRuntime) running() []string { return rt.engine.Registry().IDs() }

// run drives the engine and the collision coordinator until ctx is done, then
// waits for every interpreter to exit.
func (rt *stageRuntime) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.engine.Run(ctx) })
	g.Go(func() error { return rt.coordinator.Run(ctx) })
	err := g.Wait()
	rt.engine.Close()
	rt.coordinator.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
