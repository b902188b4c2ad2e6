package tuning

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes every valid result to
// fn, on the watcher goroutine. Invalid files are logged and skipped. The
// parent directory is watched so editors that replace the file by rename
// keep working. Call stop to end the watch.
func Watch(path string, logger *log.Logger, fn func(Tuning)) (stop func() error, err error) {
	if logger == nil {
		logger = log.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tuning watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("tuning watch %s: %w", path, err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var debounce <-chan time.Time
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(reloadDebounce)
			case <-debounce:
				debounce = nil
				raw, err := os.ReadFile(abs)
				if err != nil {
					logger.Printf("tuning: reload %s: %v", path, err)
					continue
				}
				t, err := parse(raw)
				if err != nil {
					logger.Printf("tuning: reload %s: %v; keeping previous values", path, err)
					continue
				}
				logger.Printf("tuning: reloaded %s", path)
				fn(t)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("tuning: watch error: %v", err)
			}
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			close(done)
			err = w.Close()
			wg.Wait()
		})
		return err
	}, nil
}
