package tuning

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Stage is the clamp box used until a client reports its viewport.
	Stage StageSpec `yaml:"stage"`

	SettleDelayMs   int `yaml:"settle_delay_ms"`
	MoveStepDelayMs int `yaml:"move_step_delay_ms"`

	CollisionTickMs     int `yaml:"collision_tick_ms"`
	SwapSettleDelayMs   int `yaml:"swap_settle_delay_ms"`
	CollisionCooldownMs int `yaml:"collision_cooldown_ms"`

	MaxActors       int `yaml:"max_actors"`
	MaxScriptBlocks int `yaml:"max_script_blocks"`

	DefaultActors []ActorSpec `yaml:"default_actors"`
}

type StageSpec struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

type ActorSpec struct {
	Name      string  `yaml:"name"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Direction float64 `yaml:"direction"`
	Size      float64 `yaml:"size"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		Stage:               StageSpec{Width: 480, Height: 360},
		SettleDelayMs:       300,
		MoveStepDelayMs:     10,
		CollisionTickMs:     100,
		SwapSettleDelayMs:   50,
		CollisionCooldownMs: 1000,
		MaxActors:           64,
		MaxScriptBlocks:     500,
		DefaultActors: []ActorSpec{
			{Name: "Cat", X: 0, Y: 0, Size: 100},
			{Name: "Mouse", X: 100, Y: 100, Size: 100},
		},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return parse(raw)
}

func parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if strings.TrimSpace(t.ProtocolVersion) == "" {
		t.ProtocolVersion = "1.0"
	}
	if t.CollisionTickMs <= 0 {
		t.CollisionTickMs = 100
	}
	for i := range t.DefaultActors {
		if t.DefaultActors[i].Size <= 0 {
			t.DefaultActors[i].Size = 100
		}
		if strings.TrimSpace(t.DefaultActors[i].Name) == "" {
			t.DefaultActors[i].Name = fmt.Sprintf("Actor %d", i+1)
		}
	}
}

func (t Tuning) Validate() error {
	if !finitePositive(t.Stage.Width) || !finitePositive(t.Stage.Height) {
		return fmt.Errorf("stage width and height must be > 0")
	}
	if t.SettleDelayMs < 0 || t.MoveStepDelayMs < 0 {
		return fmt.Errorf("settle_delay_ms and move_step_delay_ms must be >= 0")
	}
	if t.SwapSettleDelayMs < 0 {
		return fmt.Errorf("swap_settle_delay_ms must be >= 0")
	}
	if t.CollisionCooldownMs < t.SwapSettleDelayMs {
		return fmt.Errorf("collision_cooldown_ms must be >= swap_settle_delay_ms")
	}
	if t.MaxActors < 0 || t.MaxScriptBlocks < 0 {
		return fmt.Errorf("max_actors and max_script_blocks must be >= 0")
	}
	if t.MaxActors > 0 && len(t.DefaultActors) > t.MaxActors {
		return fmt.Errorf("default_actors exceeds max_actors (%d > %d)", len(t.DefaultActors), t.MaxActors)
	}
	for i, a := range t.DefaultActors {
		if math.IsNaN(a.X) || math.IsInf(a.X, 0) || math.IsNaN(a.Y) || math.IsInf(a.Y, 0) {
			return fmt.Errorf("default_actors[%d] position must be finite", i)
		}
		if math.IsNaN(a.Direction) || math.IsInf(a.Direction, 0) {
			return fmt.Errorf("default_actors[%d] direction must be finite", i)
		}
		if !finitePositive(a.Size) {
			return fmt.Errorf("default_actors[%d] size must be > 0", i)
		}
	}
	return nil
}

func (t Tuning) SettleDelay() time.Duration       { return ms(t.SettleDelayMs) }
func (t Tuning) MoveStepDelay() time.Duration     { return ms(t.MoveStepDelayMs) }
func (t Tuning) CollisionTick() time.Duration     { return ms(t.CollisionTickMs) }
func (t Tuning) SwapSettleDelay() time.Duration   { return ms(t.SwapSettleDelayMs) }
func (t Tuning) CollisionCooldown() time.Duration { return ms(t.CollisionCooldownMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
