// Package collision swaps the scripts of overlapping actors.
package collision

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"blockstage.ai/internal/sim/clock"
	"blockstage.ai/internal/sim/stage"
)

// Runner owns the running set. StopAll must not take the store lock; it is
// called from inside Store.Batch.
type Runner interface {
	StopAll() int
}

type Metrics interface {
	CollisionHandled()
}

type nopMetrics struct{}

func (nopMetrics) CollisionHandled() {}

type Timing struct {
	Tick time.Duration
	// SettleDelay separates the swap from the restart of both actors.
	SettleDelay time.Duration
	// Cooldown is measured from the swap; no pair is handled until it ends.
	Cooldown time.Duration
}

func DefaultTiming() Timing {
	return Timing{Tick: 100 * time.Millisecond, SettleDelay: 50 * time.Millisecond, Cooldown: time.Second}
}

type Config struct {
	Timing  Timing
	Clock   clock.Clock
	Logger  *log.Logger
	Events  stage.EventSink
	Metrics Metrics
}

// Swap describes one handled collision.
type Swap struct {
	A, B     string
	Distance float64
	// Tokens after the bump.
	TokenA, TokenB uint64
}

type Coordinator struct {
	store  *stage.Store
	runner Runner
	clk    clock.Clock
	timing atomic.Pointer[Timing]

	log     *log.Logger
	events  stage.EventSink
	metrics Metrics

	cooling atomic.Bool
	wg      sync.WaitGroup
}

var errSeparated = errors.New("pair no longer colliding")

func New(store *stage.Store, runner Runner, cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Timing.Tick <= 0 {
		cfg.Timing.Tick = DefaultTiming().Tick
	}
	c := &Coordinator{
		store:   store,
		runner:  runner,
		clk:     cfg.Clock,
		log:     cfg.Logger,
		events:  cfg.Events,
		metrics: cfg.Metrics,
	}
	t := cfg.Timing
	c.timing.Store(&t)
	return c
}

func (c *Coordinator) SetTiming(t Timing) {
	if t.Tick <= 0 {
		t.Tick = c.Timing().Tick
	}
	c.timing.Store(&t)
}

func (c *Coordinator) Timing() Timing { return *c.timing.Load() }

// Cooling reports whether collision handling is suspended.
func (c *Coordinator) Cooling() bool { return c.cooling.Load() }

// Run scans once per tick until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.wg.Wait()
	for {
		if err := c.clk.Sleep(ctx, c.Timing().Tick); err != nil {
			return err
		}
		c.Scan(ctx)
	}
}

// Wait blocks until pending restarts and cooldowns have finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Scan handles at most one colliding pair, the first found in creation
// order, and only while no cooldown is active.
func (c *Coordinator) Scan(ctx context.Context) (Swap, bool) {
	if c.cooling.Load() {
		return Swap{}, false
	}
	a, b, ok := firstPair(c.store.List())
	if !ok {
		return Swap{}, false
	}
	if !c.cooling.CompareAndSwap(false, true) {
		return Swap{}, false
	}

	var sw Swap
	err := c.store.Batch([]string{a, b}, func(as []*stage.Actor) ([]stage.Field, error) {
		x, y := as[0], as[1]
		d, hit := Colliding(*x, *y)
		if !hit {
			return nil, errSeparated
		}
		c.runner.StopAll()
		x.Script, y.Script = y.Script, x.Script
		x.Token++
		y.Token++
		x.Run, y.Run = false, false
		sw = Swap{A: x.ID, B: y.ID, Distance: d, TokenA: x.Token, TokenB: y.Token}
		m := stage.FieldScript | stage.FieldToken | stage.FieldRun
		return []stage.Field{m, m}, nil
	})
	if err != nil {
		// Moved apart or removed since the scan read them.
		c.cooling.Store(false)
		return Swap{}, false
	}

	c.metrics.CollisionHandled()
	c.log.Printf("collision: %s <-> %s distance=%.1f; scripts swapped", sw.A, sw.B, sw.Distance)
	if c.events != nil {
		_ = c.events.WriteEvent(stage.Event{
			Time:      c.clk.Now(),
			Type:      stage.EventCollisionSwap,
			ActorID:   sw.A,
			Token:     sw.TokenA,
			PeerID:    sw.B,
			PeerToken: sw.TokenB,
			Distance:  sw.Distance,
		})
	}

	t := c.Timing()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.cooling.Store(false)
		if err := c.clk.Sleep(ctx, t.SettleDelay); err != nil {
			return
		}
		for _, id := range []string{sw.A, sw.B} {
			_ = c.store.Update(id, func(a *stage.Actor) (stage.Field, error) {
				a.Run = true
				return stage.FieldRun, nil
			})
		}
		_ = c.clk.Sleep(ctx, t.Cooldown-t.SettleDelay)
	}()
	return sw, true
}

// Colliding compares center distance with the sum of radii. Touching is not
// colliding.
func Colliding(a, b stage.Actor) (float64, bool) {
	ca, cb := a.Center(), b.Center()
	d := math.Hypot(ca.X-cb.X, ca.Y-cb.Y)
	return d, d < a.Size/2+b.Size/2
}

func firstPair(as []stage.Actor) (string, string, bool) {
	for i := 0; i < len(as); i++ {
		for j := i + 1; j < len(as); j++ {
			if _, hit := Colliding(as[i], as[j]); hit {
				return as[i].ID, as[j].ID, true
			}
		}
	}
	return "", "", false
}
