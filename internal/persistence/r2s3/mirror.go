package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	EnqueuedTotal       uint64 `json:"enqueued_total"`
	QueueSaturatedTotal uint64 `json:"queue_saturated_total"`
	DroppedTotal        uint64 `json:"dropped_total"`
	UploadSuccessTotal  uint64 `json:"upload_success_total"`
	UploadFailTotal     uint64 `json:"upload_fail_total"`
	SkippedTotal        uint64 `json:"skipped_total"`
	LastSuccessUnix     int64  `json:"last_success_unix"`
	LastErrorUnix       int64  `json:"last_error_unix"`
}

type MirrorConfig struct {
	// DataDir is the local root; object keys are paths relative to it.
	DataDir       string
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	// Backoff is the base retry delay; attempt n waits n*n*Backoff.
	Backoff time.Duration
	// SkipExisting issues a HEAD first and skips segments already in the
	// bucket with the same size.
	SkipExisting bool
	Logger       *log.Logger
}

// Mirror uploads finished event log segments in the background.
type Mirror struct {
	client  *Client
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs        chan string
	enqueueWait time.Duration
	backoff     time.Duration
	skipExist   bool
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	skippedTotal        atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(client *Client, cfg MirrorConfig) *Mirror {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	m := &Mirror{
		client:      client,
		dataDir:     cfg.DataDir,
		prefix:      strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		logger:      cfg.Logger,
		jobs:        make(chan string, cfg.QueueCapacity),
		enqueueWait: cfg.EnqueueWait,
		backoff:     cfg.Backoff,
		skipExist:   cfg.SkipExisting,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	// Enqueue runs under the event log lock; wait only briefly.
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("r2 mirror drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", localPath, m.enqueueWait.Milliseconds(), dropped)
	}
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		SkippedTotal:        m.skippedTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.printf("r2 mirror skip local=%s err=%v", localPath, err)
		return
	}

	if m.skipExist && m.alreadyMirrored(key, localPath) {
		m.skippedTotal.Add(1)
		return
	}
	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("r2 mirror upload failed key=%s local=%s err=%v", key, localPath, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.printf("r2 mirror uploaded key=%s local=%s", key, localPath)
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

func (m *Mirror) alreadyMirrored(key, localPath string) bool {
	st, err := os.Stat(localPath)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ok, err := m.client.Exists(ctx, key, st.Size())
	if err != nil {
		m.printf("r2 mirror head failed key=%s err=%v", key, err)
		return false
	}
	return ok
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}

	key := rel
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
