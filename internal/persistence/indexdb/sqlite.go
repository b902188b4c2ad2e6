package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable copy of the event stream. Writes are
// queued to one writer goroutine and dropped if it falls behind; the JSONL
// logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  atomic.Uint64
}

type req struct {
	ev     *stage.Event
	config *configRow
}

type configRow struct {
	name   string
	digest string
	json   string
	at     string
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteIndex{
		db: db,
		// Bursty: every move step of every actor can produce events.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			run_id TEXT,
			token INTEGER NOT NULL,
			reason TEXT,
			kind TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, seq);`,
		`CREATE TABLE IF NOT EXISTS collisions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			actor_a TEXT NOT NULL,
			actor_b TEXT NOT NULL,
			token_a INTEGER NOT NULL,
			token_b INTEGER NOT NULL,
			distance REAL NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteEvent(ev stage.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{ev: &ev})
	return nil
}

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		s.drops.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{QueueDepth: len(s.ch), QueueCapacity: cap(s.ch), DropTotal: s.drops.Load()}
}

// RecordTuning stores the tuning values actually applied, keyed by digest.
func (s *SQLiteIndex) RecordTuning(t tuning.Tuning) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	s.enqueue(req{config: &configRow{
		name:   "tuning",
		digest: hex.EncodeToString(sum[:]),
		json:   string(b),
		at:     time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO events(time,type,actor_id,run_id,token,reason,kind,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertCollision, _ := s.db.Prepare(`INSERT INTO collisions(time,actor_a,actor_b,token_a,token_b,distance) VALUES(?,?,?,?,?,?)`)
	upsertConfig, _ := s.db.Prepare(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	defer func() {
		if upsertConfig != nil {
			_ = upsertConfig.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertCollision != nil {
			_ = insertCollision.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	write := func(r req) error {
		if r.config != nil && upsertConfig != nil {
			c := r.config
			if _, err := tx.Stmt(upsertConfig).Exec(c.name, c.digest, c.json, c.at); err != nil {
				return err
			}
			opCount++
		}
		if r.ev == nil {
			return nil
		}
		ev := r.ev
		ts := ev.Time.UTC().Format(time.RFC3339Nano)
		raw, _ := json.Marshal(ev)
		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(ts, ev.Type, ev.ActorID, ev.RunID, int64(ev.Token), ev.Reason, ev.Kind, string(raw)); err != nil {
				return err
			}
			opCount++
		}
		if ev.Type == stage.EventCollisionSwap && insertCollision != nil {
			if _, err := tx.Stmt(insertCollision).Exec(ts, ev.ActorID, ev.PeerID, int64(ev.Token), int64(ev.PeerToken), ev.Distance); err != nil {
				return err
			}
			opCount++
		}
		return nil
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.drops.Add(1)
				continue
			}
			if err := write(r); err != nil {
				rollback()
				continue
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			// Idle streams still land on disk.
			commit()
		}
	}
}
