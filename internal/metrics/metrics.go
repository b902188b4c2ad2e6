// Package metrics exports stage instrumentation to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockstage.ai/internal/sim/stage"
)

// Stage implements engine.Metrics and collision.Metrics, and doubles as a
// stage.EventSink counting every event by type.
type Stage struct {
	reg *prometheus.Registry

	runsStarted  prometheus.Counter
	runsEnded    *prometheus.CounterVec
	instructions *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	running      prometheus.Gauge
	collisions   prometheus.Counter
	events       *prometheus.CounterVec
}

// New registers the stage collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Stage {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Stage{
		reg: reg,
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockstage_runs_started_total",
			Help: "Script runs started",
		}),
		runsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockstage_runs_ended_total",
			Help: "Script runs ended, by outcome",
		}, []string{"outcome"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockstage_instructions_total",
			Help: "Instructions executed, by kind",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockstage_instructions_skipped_total",
			Help: "Unknown instructions skipped, by kind",
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockstage_running_actors",
			Help: "Actors with a live interpreter",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockstage_collisions_total",
			Help: "Collisions handled with a script swap",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockstage_events_total",
			Help: "Stage events emitted, by type",
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.runsStarted,
		m.runsEnded,
		m.instructions,
		m.skipped,
		m.running,
		m.collisions,
		m.events,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Stage) RunStarted()                  { m.runsStarted.Inc() }
func (m *Stage) RunEnded(outcome string)      { m.runsEnded.WithLabelValues(outcome).Inc() }
func (m *Stage) InstructionExecuted(k string) { m.instructions.WithLabelValues(k).Inc() }
func (m *Stage) InstructionSkipped(k string)  { m.skipped.WithLabelValues(k).Inc() }
func (m *Stage) RunningActors(n int)          { m.running.Set(float64(n)) }
func (m *Stage) CollisionHandled()            { m.collisions.Inc() }

func (m *Stage) WriteEvent(ev stage.Event) error {
	m.events.WithLabelValues(ev.Type).Inc()
	return nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Stage) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// WatchActors reports the store's actor count at scrape time.
func (m *Stage) WatchActors(store *stage.Store) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "blockstage_actors",
		Help: "Actors on stage",
	}, func() float64 { return float64(store.Len()) }))
}

// WatchQueue exports depth and drop count of a background writer queue
// (index, log mirror) at scrape time.
func (m *Stage) WatchQueue(name string, depth func() int, drops func() uint64) {
	labels := prometheus.Labels{"queue": name}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "blockstage_queue_depth",
			Help:        "Background queue backlog",
			ConstLabels: labels,
		}, func() float64 { return float64(depth()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "blockstage_queue_dropped_total",
			Help:        "Items dropped by a background queue",
			ConstLabels: labels,
		}, func() float64 { return float64(drops()) }),
	)
}
