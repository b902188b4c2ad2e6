package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"blockstage.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	stageID := fs.String("stage", "stage_1", "stage id")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	actorID := fs.String("actor", "", "actor_id filter (events)")
	evType := fs.String("type", "", "event type filter (events)")
	_ = fs.Parse(args)

	q := "events"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "stages", *stageID, "index", "stage.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "events":
		rows, err := r.Events(ctx, indexdb.EventQuery{ActorID: *actorID, Type: *evType, Limit: *limit})
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			_ = enc.Encode(row)
		}
	case "collisions":
		rows, err := r.Collisions(ctx, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			_ = enc.Encode(row)
		}
	case "tuning":
		d, err := r.TuningDigest(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		fmt.Println(d)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want events|collisions|tuning)")
		os.Exit(2)
	}
}
