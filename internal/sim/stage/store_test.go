package stage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"blockstage.ai/internal/sim/script"
)

func TestStore_AddAssignsFreshIDs(t *testing.T) {
	s := NewStore()
	a := s.Add(Actor{Name: "Cat", Direction: -90})
	b := s.Add(Actor{Name: "Mouse"})
	if a.ID == b.ID {
		t.Fatalf("duplicate id %s", a.ID)
	}
	if a.Direction != 270 {
		t.Fatalf("direction: got %v want 270", a.Direction)
	}
	if a.Size != DefaultActorSize {
		t.Fatalf("size: got %v want %v", a.Size, DefaultActorSize)
	}
	if err := s.Remove(a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	c := s.Add(Actor{Name: "Dog"})
	if c.ID == a.ID || c.ID == b.ID {
		t.Fatalf("id reused: %s", c.ID)
	}
	if err := s.Remove(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: got %v want ErrNotFound", err)
	}
	got := s.List()
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != c.ID {
		t.Fatalf("list order: %+v", got)
	}
}

func TestStore_UpdateMergesOnlyNamedFields(t *testing.T) {
	s := NewStore()
	a := s.Add(Actor{Name: "Cat", Message: "Hello"})

	err := s.Update(a.ID, func(x *Actor) (Field, error) {
		x.Position = Vec2{X: 5, Y: 6}
		x.Message = "ignored"
		return FieldPosition, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Position != (Vec2{X: 5, Y: 6}) || got.Message != "Hello" {
		t.Fatalf("merge: got %+v", got)
	}

	boom := errors.New("boom")
	err = s.Update(a.ID, func(x *Actor) (Field, error) {
		x.Position = Vec2{}
		return FieldPosition, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("update error: got %v", err)
	}
	got, _ = s.Get(a.ID)
	if got.Position != (Vec2{X: 5, Y: 6}) {
		t.Fatalf("failed update leaked: %+v", got)
	}

	if err := s.Update("A99", func(*Actor) (Field, error) { return 0, nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: got %v want ErrNotFound", err)
	}
}

func TestStore_DirectionNormalizedOnWrite(t *testing.T) {
	s := NewStore()
	a := s.Add(Actor{})
	for _, tc := range []struct{ in, want float64 }{{370, 10}, {-15, 345}, {360, 0}, {725, 5}} {
		_ = s.Update(a.ID, func(x *Actor) (Field, error) {
			x.Direction = tc.in
			return FieldDirection, nil
		})
		got, _ := s.Get(a.ID)
		if got.Direction != tc.want {
			t.Fatalf("direction %v: got %v want %v", tc.in, got.Direction, tc.want)
		}
	}
}

func TestStore_ConcurrentFieldWritesDoNotClobber(t *testing.T) {
	s := NewStore()
	a := s.Add(Actor{})
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Update(a.ID, func(x *Actor) (Field, error) {
				x.Position.X++
				return FieldPosition, nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = s.Update(a.ID, func(x *Actor) (Field, error) {
				x.Direction++
				return FieldDirection, nil
			})
		}()
	}
	wg.Wait()
	got, _ := s.Get(a.ID)
	if got.Position.X != 200 || got.Direction != 200 {
		t.Fatalf("lost updates: x=%v dir=%v", got.Position.X, got.Direction)
	}
}

func TestStore_BatchSwapIsAtomic(t *testing.T) {
	s := NewStore()
	a := s.Add(Actor{Script: script.Script{script.Move{Distance: 1}}})
	b := s.Add(Actor{Script: script.Script{script.TurnLeft{Degrees: 2}}})

	err := s.Batch([]string{a.ID, b.ID}, func(as []*Actor) ([]Field, error) {
		as[0].Script, as[1].Script = as[1].Script, as[0].Script
		as[0].Token++
		as[1].Token++
		return []Field{FieldScript | FieldToken, FieldScript | FieldToken}, nil
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	ga, _ := s.Get(a.ID)
	gb, _ := s.Get(b.ID)
	if ga.Script[0] != (script.TurnLeft{Degrees: 2}) || gb.Script[0] != (script.Move{Distance: 1}) {
		t.Fatalf("swap: a=%v b=%v", ga.Script, gb.Script)
	}
	if ga.Token != 1 || gb.Token != 1 {
		t.Fatalf("tokens: a=%d b=%d", ga.Token, gb.Token)
	}

	if err := s.Batch([]string{a.ID, "A42"}, func([]*Actor) ([]Field, error) { return nil, nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("batch missing: got %v", err)
	}
}

func TestStore_WatchFiltersByMask(t *testing.T) {
	s := NewStore()
	a := s.Add(Actor{})
	ch, stop := s.Watch(FieldRun)
	defer stop()

	_ = s.Update(a.ID, func(x *Actor) (Field, error) {
		x.Position.X = 1
		return FieldPosition, nil
	})
	select {
	case <-ch:
		t.Fatalf("unexpected notification for position write")
	default:
	}

	_ = s.Update(a.ID, func(x *Actor) (Field, error) {
		x.Run = true
		return FieldRun, nil
	})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("missing run notification")
	}
}

func TestClamp(t *testing.T) {
	st := Rect{Width: 200, Height: 100}
	if got := Clamp(Vec2{X: 150, Y: -5}, st, 100); got != (Vec2{X: 100, Y: 0}) {
		t.Fatalf("clamp: got %+v", got)
	}
	if got := Clamp(Vec2{X: 10, Y: 10}, Rect{Width: 50, Height: 50}, 100); got != (Vec2{}) {
		t.Fatalf("clamp oversize: got %+v", got)
	}
	var vp Viewport
	if _, ok := vp.StageSize(); ok {
		t.Fatalf("empty viewport reported ok")
	}
	if vp.Set(Rect{Width: 0, Height: 10}) {
		t.Fatalf("accepted zero width")
	}
	vp.Set(st)
	if r, ok := vp.StageSize(); !ok || r != st {
		t.Fatalf("viewport: got %+v %v", r, ok)
	}
}
