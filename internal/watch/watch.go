// Package watch triggers pipeline runs when their source files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leapflow/internal/engine"
	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Runner runs a DAG to completion.
type Runner interface {
	Run(ctx context.Context, dagID string, trigger core.RunTrigger) (*pipeline.RunResult, error)
}

// Watcher runs a DAG whenever one of its paths changes. Changes arriving
// within Debounce of each other trigger a single run, and changes made
// while a run is in progress queue at most one follow-up run.
type Watcher struct {
	Runner   Runner
	DAGID    string
	Paths    []string
	Debounce time.Duration
	Logger   *slog.Logger
	// OnRun is called after each triggered run. Optional.
	OnRun func(result *pipeline.RunResult, err error)

	files map[string]bool // watched files, by absolute path
	dirs  []string        // watched directory roots
	ready func()
}

// Watch blocks until ctx is cancelled. It returns an error only when the
// watcher cannot be set up.
func (w *Watcher) Watch(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := w.add(watcher); err != nil {
		return err
	}
	logger.Info("watching for changes", "dag", w.DAGID, "paths", w.Paths, "debounce", w.Debounce)
	if w.ready != nil {
		w.ready()
	}

	trigger := make(chan string, 1)
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		w.runLoop(egctx, trigger, logger)
		return nil
	})
	eg.Go(func() error {
		w.eventLoop(egctx, watcher, trigger, logger)
		return nil
	})
	return eg.Wait()
}

// add registers the paths. Files are watched through their parent
// directory so editors that replace files on save are still seen.
func (w *Watcher) add(watcher *fsnotify.Watcher) error {
	if len(w.Paths) == 0 {
		return errors.New("no paths to watch")
	}
	w.files = make(map[string]bool)
	w.dirs = nil
	for _, p := range w.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("cannot watch %s: %w", p, err)
		}
		if info.IsDir() {
			if err := watchDirRecursive(watcher, abs); err != nil {
				return fmt.Errorf("cannot watch %s: %w", p, err)
			}
			w.dirs = append(w.dirs, abs)
			continue
		}
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("cannot watch %s: %w", p, err)
		}
		w.files[abs] = true
	}
	return nil
}

// relevant reports whether a change to name concerns the watched paths.
func (w *Watcher) relevant(name string) bool {
	if w.files[name] {
		return true
	}
	for _, dir := range w.dirs {
		rel, err := filepath.Rel(dir, name)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return !ignored(rel)
	}
	return false
}

func (w *Watcher) eventLoop(ctx context.Context, watcher *fsnotify.Watcher, trigger chan<- string, logger *slog.Logger) {
	var (
		mu            sync.Mutex
		debounceTimer *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchDirRecursive(watcher, event.Name); err != nil {
						logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
				}
			}

			// Debounce
			name := event.Name
			mu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.Debounce, func() {
				select {
				case trigger <- name:
				default:
					// A run is already queued
				}
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) runLoop(ctx context.Context, trigger <-chan string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-trigger:
			logger.Info("change detected, running dag", "dag", w.DAGID, "file", name)
			result, err := w.Runner.Run(ctx, w.DAGID, core.TriggerWatch)
			var busy *engine.RunInProgressError
			switch {
			case errors.As(err, &busy):
				logger.Warn("run skipped", "dag", w.DAGID, "reason", err)
			case err != nil:
				logger.Error("run failed", "dag", w.DAGID, "error", err)
			default:
				logger.Info("run finished", "dag", w.DAGID, "run_id", result.Run.ID, "status", result.Run.Status)
			}
			if w.OnRun != nil {
				w.OnRun(result, err)
			}
		}
	}
}

// ignored skips state, build output and hidden directories.
func ignored(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "target" || part == "logs" || (strings.HasPrefix(part, ".") && part != ".") {
			return true
		}
	}
	return false
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir {
			if rel, _ := filepath.Rel(dir, path); ignored(rel) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(path)
	})
}
