// Package feed turns store changes into paced STATE frames.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"blockstage.ai/internal/protocol"
	"blockstage.ai/internal/sim/stage"
)

const DefaultInterval = 33 * time.Millisecond

// Watched is every change a renderer needs to see.
const Watched = stage.FieldAll | stage.FieldAdded | stage.FieldRemoved

// Snapshot encodes the current store as a STATE frame.
func Snapshot(store *stage.Store) ([]byte, error) {
	// Seq first so a frame never claims a newer seq than its actors.
	seq := store.Seq()
	return json.Marshal(protocol.NewState(seq, store.List()))
}

// Run sends one STATE frame per interval while the store keeps changing,
// plus one immediately. It returns when ctx is done.
func Run(ctx context.Context, store *stage.Store, interval time.Duration, send func([]byte)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ch, stop := store.Watch(Watched)
	defer stop()

	push := func() {
		b, err := Snapshot(store)
		if err != nil {
			return
		}
		send(b)
	}
	push()

	t := time.NewTicker(interval)
	defer t.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			dirty = true
		case <-t.C:
			if dirty {
				dirty = false
				push()
			}
		}
	}
}

// SendLatest replaces whatever is queued in ch with b.
func SendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
