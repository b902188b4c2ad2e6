package stage

import (
	"math"
	"sync"
)

// Rect is the visible stage size in stage units.
type Rect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) valid() bool {
	return r.Width > 0 && r.Height > 0 && !math.IsInf(r.Width, 0) && !math.IsInf(r.Height, 0)
}

// DefaultStage is used when no renderer has reported its viewport.
var DefaultStage = Rect{Width: 480, Height: 360}

// Bounds reports the current visible stage size. ok is false when no size
// is known.
type Bounds interface {
	StageSize() (r Rect, ok bool)
}

// Viewport is a Bounds whose size is pushed by the renderer.
type Viewport struct {
	mu   sync.RWMutex
	size Rect
	set  bool
}

func (v *Viewport) Set(r Rect) bool {
	if !r.valid() {
		return false
	}
	v.mu.Lock()
	v.size, v.set = r, true
	v.mu.Unlock()
	return true
}

func (v *Viewport) StageSize() (Rect, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.size, v.set
}

// Clamp keeps an actor with the given footprint fully inside stage:
// [0, W-footprint] x [0, H-footprint].
func Clamp(p Vec2, stage Rect, footprint float64) Vec2 {
	maxX := math.Max(0, stage.Width-footprint)
	maxY := math.Max(0, stage.Height-footprint)
	return Vec2{X: clamp(p.X, 0, maxX), Y: clamp(p.Y, 0, maxY)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
