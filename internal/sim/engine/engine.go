// Package engine interprets actor scripts over time.
//
// One interpreter goroutine runs per actor whose run flag is set. Every
// interpreter reads live actor state from the store and writes back field
// merges; each write is guarded by the execution token captured at start,
// the actor's run flag, and the interpreter's running-set lease, all checked
// inside the same store critical section as the write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"blockstage.ai/internal/sim/clock"
	"blockstage.ai/internal/sim/stage"
)

// Timing paces interpretation.
type Timing struct {
	// SettleDelay follows every top-level instruction and every repeat iteration.
	SettleDelay time.Duration
	// MoveStepDelay follows every unit step of a Move.
	MoveStepDelay time.Duration
}

func DefaultTiming() Timing {
	return Timing{SettleDelay: 300 * time.Millisecond, MoveStepDelay: 10 * time.Millisecond}
}

type Config struct {
	Timing Timing

	// Bounds supplies the visible stage size; DefaultStage is used when it is
	// nil or reports no size.
	Bounds       stage.Bounds
	DefaultStage stage.Rect

	Clock   clock.Clock
	Logger  *log.Logger
	Events  stage.EventSink
	Metrics Metrics
}

type Engine struct {
	store  *stage.Store
	reg    *Registry
	clk    clock.Clock
	timing atomic.Pointer[Timing]

	bounds       stage.Bounds
	defaultStage stage.Rect
	boundsWarn   sync.Once

	log     *log.Logger
	events  stage.EventSink
	metrics Metrics

	kick chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store *stage.Store, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.DefaultStage.Width <= 0 || cfg.DefaultStage.Height <= 0 {
		cfg.DefaultStage = stage.DefaultStage
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:        store,
		reg:          NewRegistry(),
		clk:          cfg.Clock,
		bounds:       cfg.Bounds,
		defaultStage: cfg.DefaultStage,
		log:          cfg.Logger,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		kick:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	t := cfg.Timing
	e.timing.Store(&t)
	return e
}

func (e *Engine) SetTiming(t Timing) { e.timing.Store(&t) }
func (e *Engine) Timing() Timing     { return *e.timing.Load() }

func (e *Engine) Registry() *Registry { return e.reg }

func (e *Engine) Running(id string) bool { return e.reg.Running(id) }

// Start launches an interpreter for id if its run flag is set and it is not
// already running. ErrDuplicateRun and ErrNotRequested mean nothing happened.
func (e *Engine) Start(id string) error {
	a, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("start %s: %w", id, stage.ErrNotFound)
	}
	if !a.Run {
		return ErrNotRequested
	}
	lease, ok := e.reg.Acquire(id)
	if !ok {
		return ErrDuplicateRun
	}
	// Re-read after acquiring so the captured token belongs to this lease.
	a, ok = e.store.Get(id)
	if !ok || !a.Run {
		e.reg.Release(lease)
		if !ok {
			return fmt.Errorf("start %s: %w", id, stage.ErrNotFound)
		}
		return ErrNotRequested
	}
	if err := e.ctx.Err(); err != nil {
		e.reg.Release(lease)
		return err
	}

	r := newRun(e, lease, a.Token)
	e.metrics.RunStarted()
	e.metrics.RunningActors(e.reg.Len())
	e.emit(stage.Event{Type: stage.EventRunStarted, ActorID: id, RunID: r.runID, Token: r.token})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.execute(a.Script)
	}()
	return nil
}

// Reconcile starts every actor whose run flag is set and that has no live
// interpreter. It returns how many were started.
func (e *Engine) Reconcile() int {
	n := 0
	for _, a := range e.store.List() {
		if !a.Run || e.reg.Running(a.ID) {
			continue
		}
		if err := e.Start(a.ID); err == nil {
			n++
		}
	}
	return n
}

// StopAll revokes every running-set lease. In-flight interpreters stop at
// their next suspension point without further writes. Safe to call while
// holding the store lock (from inside Store.Batch).
func (e *Engine) StopAll() int {
	n := e.reg.Clear()
	e.metrics.RunningActors(0)
	e.wake()
	return n
}

// wake asks Run for another reconcile pass without blocking.
func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run watches the store and starts interpreters as run flags turn on. It
// returns when ctx is done, after all interpreters have exited.
func (e *Engine) Run(ctx context.Context) error {
	ch, stop := e.store.Watch(stage.FieldRun | stage.FieldAdded)
	defer stop()

	e.Reconcile()
	for {
		select {
		case <-ctx.Done():
			e.Close()
			return ctx.Err()
		case <-ch:
		case <-e.kick:
		}
		e.Reconcile()
	}
}

// Close cancels every interpreter and waits for them to exit.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until every interpreter launched so far has exited.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) stageSize() stage.Rect {
	if e.bounds != nil {
		if r, ok := e.bounds.StageSize(); ok {
			return r
		}
	}
	e.boundsWarn.Do(func() {
		e.log.Printf("engine: %v; clamping to default %gx%g", ErrMissingStageBounds, e.defaultStage.Width, e.defaultStage.Height)
	})
	return e.defaultStage
}

func (e *Engine) emit(ev stage.Event) {
	if e.events == nil {
		return
	}
	ev.Time = e.clk.Now()
	_ = e.events.WriteEvent(ev)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "finished"
	case errors.Is(err, ErrStaleExecution):
		return stage.ReasonStale
	case errors.Is(err, errRevoked):
		return stage.ReasonRevoked
	case errors.Is(err, errStopped):
		return stage.ReasonStopped
	case errors.Is(err, stage.ErrNotFound):
		return stage.ReasonRemoved
	default:
		return stage.ReasonShutdown
	}
}
