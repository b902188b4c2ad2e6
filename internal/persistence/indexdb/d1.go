package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/sim/tuning"
)

// D1Config configures the remote ingest index. The endpoint is any HTTP
// service that accepts {"events":[...]} batches (a Cloudflare D1 worker in
// production).
type D1Config struct {
	Endpoint      string
	Token         string
	StageID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  atomic.Uint64
	failed atomic.Uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	StageID string `json:"stage_id"`
	Payload any    `json:"payload"`
}

type d1CollisionPayload struct {
	Time     string  `json:"time"`
	ActorA   string  `json:"actor_a"`
	ActorB   string  `json:"actor_b"`
	TokenA   uint64  `json:"token_a"`
	TokenB   uint64  `json:"token_b"`
	Distance float64 `json:"distance"`
}

type d1ConfigPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.StageID = strings.TrimSpace(cfg.StageID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.StageID == "" {
		return nil, fmt.Errorf("empty stage id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) WriteEvent(ev stage.Event) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(d1Event{Kind: "event", StageID: d.cfg.StageID, Payload: ev})
	if ev.Type == stage.EventCollisionSwap {
		d.enqueue(d1Event{Kind: "collision", StageID: d.cfg.StageID, Payload: d1CollisionPayload{
			Time:     ev.Time.UTC().Format(time.RFC3339Nano),
			ActorA:   ev.ActorID,
			ActorB:   ev.PeerID,
			TokenA:   ev.Token,
			TokenB:   ev.PeerToken,
			Distance: ev.Distance,
		}})
	}
	return nil
}

func (d *D1Index) RecordTuning(t tuning.Tuning) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue(d1Event{Kind: "config", StageID: d.cfg.StageID, Payload: d1ConfigPayload{
		Name:      "tuning",
		Digest:    hex.EncodeToString(sum[:]),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (d *D1Index) Stats() Stats {
	return Stats{QueueDepth: len(d.ch), QueueCapacity: cap(d.ch), DropTotal: d.drops.Load() + d.failed.Load()}
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.drops.Add(1)
		d.printf("d1 index queue full; drop kind=%s stage=%s", ev.Kind, ev.StageID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.failed.Add(uint64(len(batch)))
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-bs-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
