// Package watch re-runs the pipeline when seed CSV files change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Trigger is called once per quiet period after seed files changed.
type Trigger func(ctx context.Context, changed []string) error

// Watcher watches a seeds directory for created or written .csv files.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  Trigger
	logger   *zap.Logger
}

// New creates a Watcher. debounce is the quiet period before triggering.
func New(dir string, debounce time.Duration, trigger Trigger, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, debounce: debounce, trigger: trigger, logger: logger}
}

// Run blocks until ctx is cancelled. Triggers run synchronously on the
// watching goroutine, so they never overlap; changes seen while a trigger
// runs are collected into the next one.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create seeds dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching seeds", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			pending[filepath.Base(ev.Name)] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := sortedKeys(pending)
			pending = map[string]struct{}{}

			w.logger.Info("seeds changed", zap.Strings("files", changed))
			if err := w.trigger(ctx, changed); err != nil {
				w.logger.Warn("triggered run failed", zap.Error(err))
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".csv")
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
