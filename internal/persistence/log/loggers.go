package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"blockstage.ai/internal/sim/stage"
)

const defaultRotateLayout = "2006-01-02-15"

type LoggerOptions struct {
	// RotateLayout is a time layout; a new file starts whenever the formatted
	// time changes. Default is hourly.
	RotateLayout string
	// OnClose receives the path of every finished segment.
	OnClose func(path string)
}

// JSONLZstdWriter appends JSON lines to rotating zstd files
// <baseDir>/<prefix>-<layout>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string
	onClose func(path string)
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	layout := opts.RotateLayout
	if layout == "" {
		layout = defaultRotateLayout
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		layout:  layout,
		onClose: opts.OnClose,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(w.layout)
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Emit a zstd block so a live file can be tailed.
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.curPath = w.pathForHour(hour)
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	closed := ""
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		closed = w.curPath
	}
	w.w = nil
	w.curHour = ""
	w.curPath = ""
	if closed != "" && w.onClose != nil {
		w.onClose(closed)
	}
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger writes stage events as compressed JSONL under <dataDir>/events.
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return NewEventLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewEventLoggerWithOptions(dataDir string, opts LoggerOptions) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "events"), "events", opts)}
}

func (l *EventLogger) WriteEvent(ev stage.Event) error { return l.w.Write(ev) }
func (l *EventLogger) Close() error                    { return l.w.Close() }
