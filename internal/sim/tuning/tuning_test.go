package tuning

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.CollisionTick() != 100*time.Millisecond || got.CollisionCooldown() != time.Second {
		t.Fatalf("collision timings: %v %v", got.CollisionTick(), got.CollisionCooldown())
	}
	if len(got.DefaultActors) != 2 || got.DefaultActors[0].Name != "Cat" {
		t.Fatalf("default actors: %+v", got.DefaultActors)
	}
}

func TestLoad_OverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "stage: {width: 800, height: 600}\nsettle_delay_ms: 0\ncollision_tick_ms: 0\ndefault_actors:\n  - {x: 5, y: 6}\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Stage.Width != 800 || got.SettleDelay() != 0 || got.MoveStepDelay() != 10*time.Millisecond {
		t.Fatalf("overrides: %+v", got)
	}
	if got.CollisionTickMs != 100 {
		t.Fatalf("collision_tick_ms: got %d want 100", got.CollisionTickMs)
	}
	if len(got.DefaultActors) != 1 || got.DefaultActors[0].Size != 100 || got.DefaultActors[0].Name != "Actor 1" {
		t.Fatalf("default actors: %+v", got.DefaultActors)
	}
}

func TestValidate(t *testing.T) {
	bad := []func(*Tuning){
		func(t *Tuning) { t.Stage.Width = 0 },
		func(t *Tuning) { t.MoveStepDelayMs = -1 },
		func(t *Tuning) { t.CollisionCooldownMs = 10; t.SwapSettleDelayMs = 20 },
		func(t *Tuning) { t.MaxActors = 1 },
		func(t *Tuning) { t.DefaultActors[0].Size = -5 },
	}
	for i, mut := range bad {
		tu := Defaults()
		mut(&tu)
		if err := tu.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestRepoTuningFileLoads(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "tuning.yaml")
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s): %v", path, err)
	}
	if got.ProtocolVersion != "1.0" {
		t.Fatalf("protocol_version: got %q", got.ProtocolVersion)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("settle_delay_ms: 300\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make(chan Tuning, 4)
	stop, err := Watch(path, log.New(io.Discard, "", 0), func(t Tuning) { got <- t })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("stage: {width: 0, height: 1}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(3 * reloadDebounce)
	if err := os.WriteFile(path, []byte("settle_delay_ms: 42\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case tu := <-got:
		if tu.SettleDelayMs != 42 {
			t.Fatalf("reloaded settle_delay_ms: got %d want 42", tu.SettleDelayMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
