package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"blockstage.ai/internal/persistence/r2s3"
)

// mirrorRotateLayout cuts event segments every minute while a mirror is on.
const mirrorRotateLayout = "2006-01-02-15-04"

// openMirror returns nil when BS_R2_MIRROR is off.
func openMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	env, ok, err := r2s3.FromEnv(os.Getenv)
	if err != nil || !ok {
		return nil, err
	}
	logger.Printf("r2 mirror: bucket=%s prefix=%q workers=%d", env.Bucket, env.Prefix, env.Workers)
	return env.Open(dataDir, logger)
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
