package stage

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("actor not found")

const DefaultActorSize = 100

// Store owns all actor state. Every write is a per-id merge of the fields the
// writer names, applied under one lock.
type Store struct {
	mu      sync.Mutex
	actors  map[string]*Actor
	order   []string
	nextNum uint64
	seq     uint64

	watchers map[int]*watcher
	nextW    int
}

type watcher struct {
	mask Field
	ch   chan struct{}
}

func NewStore() *Store {
	return &Store{
		actors:   map[string]*Actor{},
		watchers: map[int]*watcher{},
	}
}

// Add inserts a new actor and assigns it a fresh id. Ids are never reused.
func (s *Store) Add(a Actor) Actor {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNum++
	a.ID = fmt.Sprintf("A%d", s.nextNum)
	if a.Size <= 0 {
		a.Size = DefaultActorSize
	}
	a.Direction = NormalizeDirection(a.Direction)
	cp := a
	s.actors[a.ID] = &cp
	s.order = append(s.order, a.ID)
	s.notifyLocked(FieldAdded)
	return a
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(s.actors, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.notifyLocked(FieldRemoved)
	return nil
}

func (s *Store) Get(id string) (Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return Actor{}, false
	}
	return *a, true
}

// List returns a copy of every actor in creation order.
func (s *Store) List() []Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Actor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.actors[id])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

// Seq increments on every committed change.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Update runs fn on a copy of the live actor. fn returns the fields it wants
// written; only those are merged back. If fn returns an error nothing is
// written and the error is returned unchanged.
func (s *Store) Update(id string, fn func(a *Actor) (Field, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actors[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	cp := *cur
	mask, err := fn(&cp)
	if err != nil {
		return err
	}
	mask &= FieldAll
	if mask == 0 {
		return nil
	}
	merge(cur, cp, mask)
	s.notifyLocked(mask)
	return nil
}

// Batch is Update across several actors as one indivisible step. fn receives
// copies in the order of ids and returns one mask per actor.
func (s *Store) Batch(ids []string, fn func(as []*Actor) ([]Field, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := make([]*Actor, len(ids))
	for i, id := range ids {
		cur, ok := s.actors[id]
		if !ok {
			return fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		cp := *cur
		cps[i] = &cp
	}
	masks, err := fn(cps)
	if err != nil {
		return err
	}
	if len(masks) != len(ids) {
		return fmt.Errorf("batch: got %d masks for %d actors", len(masks), len(ids))
	}
	var all Field
	for i, id := range ids {
		m := masks[i] & FieldAll
		if m == 0 {
			continue
		}
		merge(s.actors[id], *cps[i], m)
		all |= m
	}
	if all != 0 {
		s.notifyLocked(all)
	}
	return nil
}

// UpdateAll applies fn to every actor as one indivisible step.
func (s *Store) UpdateAll(fn func(a *Actor) Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all Field
	for _, id := range s.order {
		cur := s.actors[id]
		cp := *cur
		m := fn(&cp) & FieldAll
		if m == 0 {
			continue
		}
		merge(cur, cp, m)
		all |= m
	}
	if all != 0 {
		s.notifyLocked(all)
	}
}

// Watch returns a coalescing notification channel that fires after any
// change touching mask. Call the returned func to stop watching.
func (s *Store) Watch(mask Field) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextW++
	id := s.nextW
	w := &watcher{mask: mask, ch: make(chan struct{}, 1)}
	s.watchers[id] = w
	return w.ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *Store) notifyLocked(mask Field) {
	s.seq++
	for _, w := range s.watchers {
		if w.mask&mask == 0 {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}
