// Package runctl turns run requests into actor run flags. Setting a flag is
// what makes the engine pick an actor up; clearing it asks the actor's
// interpreter to stop at its next suspension point.
package runctl

import (
	"fmt"
	"sort"
	"strings"

	"blockstage.ai/internal/sim/stage"
)

type Mode string

const (
	// ModeExclusive runs the named actors and stops every other.
	ModeExclusive Mode = "exclusive"
	// ModeAdditive runs the named actors and leaves the rest alone.
	ModeAdditive Mode = "additive"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeExclusive:
		return ModeExclusive, nil
	case ModeAdditive:
		return ModeAdditive, nil
	default:
		return "", fmt.Errorf("unknown run mode %q", s)
	}
}

type Controller struct {
	store *stage.Store
}

func New(store *stage.Store) *Controller {
	return &Controller{store: store}
}

// RequestRun applies mode to ids in one store step. Unknown ids are reported
// after the known ones have been applied.
func (c *Controller) RequestRun(ids []string, mode Mode) error {
	want := set(ids)
	seen := map[string]bool{}
	c.store.UpdateAll(func(a *stage.Actor) stage.Field {
		on := want[a.ID]
		if on {
			seen[a.ID] = true
		}
		switch {
		case on && !a.Run:
			a.Run = true
			return stage.FieldRun
		case !on && a.Run && mode == ModeExclusive:
			a.Run = false
			return stage.FieldRun
		}
		return 0
	})
	return missing(want, seen)
}

// Stop clears the run flag of ids.
func (c *Controller) Stop(ids []string) error {
	want := set(ids)
	seen := map[string]bool{}
	c.store.UpdateAll(func(a *stage.Actor) stage.Field {
		if !want[a.ID] {
			return 0
		}
		seen[a.ID] = true
		if !a.Run {
			return 0
		}
		a.Run = false
		return stage.FieldRun
	})
	return missing(want, seen)
}

// RunAll starts every actor, like a green flag click. It returns how many
// flags changed.
func (c *Controller) RunAll() int {
	return c.setAll(true)
}

// StopAll clears every run flag.
func (c *Controller) StopAll() int {
	return c.setAll(false)
}

func (c *Controller) setAll(run bool) int {
	n := 0
	c.store.UpdateAll(func(a *stage.Actor) stage.Field {
		if a.Run == run {
			return 0
		}
		a.Run = run
		n++
		return stage.FieldRun
	})
	return n
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func missing(want, seen map[string]bool) error {
	var out []string
	for id := range want {
		if !seen[id] {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return fmt.Errorf("actors %s: %w", strings.Join(out, ","), stage.ErrNotFound)
}
