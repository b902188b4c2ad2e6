package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"blockstage.ai/internal/sim/stage"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestStage_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	store := stage.NewStore()
	store.Add(stage.Actor{Name: "Cat", Size: 100})
	store.Add(stage.Actor{Name: "Mouse", Size: 100})
	m.WatchActors(store)
	m.WatchQueue("index", func() int { return 3 }, func() uint64 { return 7 })

	m.RunStarted()
	m.RunStarted()
	m.RunEnded("finished")
	m.RunEnded("stale")
	m.InstructionExecuted("move")
	m.InstructionSkipped("dance")
	m.RunningActors(1)
	m.CollisionHandled()
	_ = m.WriteEvent(stage.Event{Type: stage.EventCollisionSwap})

	mfs := gather(t, reg)
	if got := mfs["blockstage_runs_started_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("runs started: got %v want 2", got)
	}
	if got := len(mfs["blockstage_runs_ended_total"].GetMetric()); got != 2 {
		t.Fatalf("run outcomes: got %d want 2", got)
	}
	if got := mfs["blockstage_running_actors"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("running: got %v want 1", got)
	}
	if got := mfs["blockstage_actors"].GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Fatalf("actors: got %v want 2", got)
	}
	if got := mfs["blockstage_collisions_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("collisions: got %v want 1", got)
	}
	if got := mfs["blockstage_queue_dropped_total"].GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Fatalf("queue drops: got %v want 7", got)
	}
	ev := mfs["blockstage_events_total"].GetMetric()[0]
	if ev.GetLabel()[0].GetValue() != stage.EventCollisionSwap {
		t.Fatalf("event label: got %q", ev.GetLabel()[0].GetValue())
	}
}

func TestStage_Handler(t *testing.T) {
	m := New(nil)
	m.CollisionHandled()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "blockstage_collisions_total 1") {
		t.Fatalf("metrics body missing collision counter:\n%s", body)
	}
}
