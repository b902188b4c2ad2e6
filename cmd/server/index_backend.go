package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blockstage.ai/internal/persistence/indexdb"
	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	stage.EventSink
	Close() error
	RecordTuning(t tuning.Tuning) error
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir, stageID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "stage.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("BS_INDEX_D1_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("BS_INDEX_D1_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("BS_INDEX_BACKEND=d1 but BS_INDEX_D1_INGEST_URL is empty")
		}
		flushMS := envInt("BS_INDEX_D1_FLUSH_MS", 500)
		batchSize := envInt("BS_INDEX_D1_BATCH_SIZE", 128)
		return indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         token,
			StageID:       stageID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported BS_INDEX_BACKEND: %s", backend)
	}
}
