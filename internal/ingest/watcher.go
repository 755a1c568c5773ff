package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // coalesce rapid create/write bursts per file
}

// StartWatcher emits the path of every accepted image created or rewritten
// under the roots. Both channels close when ctx ends.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && AllowedPath(path) && !IsHidden(path) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	go func() {
		var mu sync.Mutex
		pending := map[string]*time.Timer{}
		var timers sync.WaitGroup

		emit := func(path string) {
			select {
			case evCh <- path:
			case <-ctx.Done():
			}
		}
		defer func() {
			mu.Lock()
			for p, t := range pending {
				if t.Stop() {
					timers.Done()
				}
				delete(pending, p)
			}
			mu.Unlock()
			timers.Wait()
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
			close(evCh)
			close(errCh)
		}()

		for _, p := range initial {
			emit(p)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() && !IsHidden(e.Name) {
						if err := w.Add(e.Name); err != nil {
							logger.Warn("failed to add new directory to watcher", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if !AllowedPath(e.Name) || IsHidden(e.Name) || !(e.Has(fsnotify.Create) || e.Has(fsnotify.Write)) {
					continue
				}
				if cfg.Debounce <= 0 {
					emit(e.Name)
					continue
				}
				path := e.Name
				mu.Lock()
				if t, ok := pending[path]; ok && t.Stop() {
					timers.Done()
				}
				timers.Add(1)
				var t *time.Timer
				t = time.AfterFunc(cfg.Debounce, func() {
					defer timers.Done()
					mu.Lock()
					if pending[path] == t {
						delete(pending, path)
					}
					mu.Unlock()
					emit(path)
				})
				pending[path] = t
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
