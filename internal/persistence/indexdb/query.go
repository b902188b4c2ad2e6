package indexdb

import (
	"context"
	"database/sql"
	"strings"
)

// Reader queries an index written by SQLiteIndex.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type EventRow struct {
	Seq     int64  `json:"seq"`
	Time    string `json:"time"`
	Type    string `json:"type"`
	ActorID string `json:"actor_id"`
	RunID   string `json:"run_id,omitempty"`
	Token   int64  `json:"token"`
	Reason  string `json:"reason,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type EventQuery struct {
	ActorID string
	Type    string
	Limit   int
}

// Events returns the newest matching events first.
func (r *Reader) Events(ctx context.Context, q EventQuery) ([]EventRow, error) {
	var (
		where []string
		args  []any
	)
	if q.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, q.ActorID)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	query := `SELECT seq,time,type,actor_id,COALESCE(run_id,''),token,COALESCE(reason,''),COALESCE(kind,'') FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Seq, &e.Time, &e.Type, &e.ActorID, &e.RunID, &e.Token, &e.Reason, &e.Kind); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type CollisionRow struct {
	Seq      int64   `json:"seq"`
	Time     string  `json:"time"`
	ActorA   string  `json:"actor_a"`
	ActorB   string  `json:"actor_b"`
	TokenA   int64   `json:"token_a"`
	TokenB   int64   `json:"token_b"`
	Distance float64 `json:"distance"`
}

func (r *Reader) Collisions(ctx context.Context, n int) ([]CollisionRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT seq,time,actor_a,actor_b,token_a,token_b,distance FROM collisions ORDER BY seq DESC LIMIT ?`, limit(n))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CollisionRow
	for rows.Next() {
		var c CollisionRow
		if err := rows.Scan(&c.Seq, &c.Time, &c.ActorA, &c.ActorB, &c.TokenA, &c.TokenB, &c.Distance); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TuningDigest returns the digest of the last recorded tuning, if any.
func (r *Reader) TuningDigest(ctx context.Context) (string, error) {
	var d string
	err := r.db.QueryRowContext(ctx, `SELECT digest FROM configs WHERE name='tuning'`).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

func limit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 10000 {
		return 10000
	}
	return n
}
