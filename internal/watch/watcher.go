// Package watch re-runs the matrix when the configuration or any input file
// changes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Trigger is invoked after a debounced batch of filesystem changes.
type Trigger func(ctx context.Context)

// Watcher monitors the config file and input file directories and fires the
// trigger after changes settle.
//
// fsnotify watches directories, not globs, so the watcher registers the
// directory of every resolved input path plus the config file's directory.
// Rapid event bursts (editor save storms, formatter rewrites) are folded
// into one trigger by a debounce window.
type Watcher struct {
	fsw      *fsnotify.Watcher
	trigger  Trigger
	debounce time.Duration
	log      *zap.Logger

	relevant map[string]struct{} // exact file paths that matter
	watched  map[string]struct{} // directories already registered with fsnotify
}

// New creates a watcher over the given paths.
//
// configPath is always watched. inputPaths are resolved input files; their
// parent directories are registered and events are filtered back down to
// the named files.
func New(configPath string, inputPaths []string, trigger Trigger, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Watcher{
		fsw:      fsw,
		trigger:  trigger,
		debounce: 500 * time.Millisecond,
		log:      log,
		watched:  make(map[string]struct{}),
	}
	if err := w.Update(configPath, inputPaths); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// SetTrigger installs the trigger. Must be called before Run; callers whose
// trigger closes over the Watcher itself pass nil to New and install it here.
func (w *Watcher) SetTrigger(t Trigger) { w.trigger = t }

// Update replaces the relevant path set and registers any newly referenced
// directories. Input globs can match files that did not exist when the
// watcher was built, so the caller re-resolves and calls Update after each
// run cycle. Directories that stop being referenced stay registered; their
// events are filtered out by the relevant set.
//
// Update is not safe for concurrent use with Run; call it from the trigger,
// which runs on the watcher goroutine.
func (w *Watcher) Update(configPath string, inputPaths []string) error {
	relevant := make(map[string]struct{}, len(inputPaths)+1)
	dirs := make(map[string]struct{})
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		relevant[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	add(configPath)
	for _, p := range inputPaths {
		add(p)
	}
	w.relevant = relevant

	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		if _, seen := w.watched[d]; !seen {
			sorted = append(sorted, d)
		}
	}
	sort.Strings(sorted)
	for _, d := range sorted {
		if _, err := os.Stat(d); err != nil {
			continue // directory may appear later; skip rather than fail
		}
		if err := w.fsw.Add(d); err != nil {
			return err
		}
		w.watched[d] = struct{}{}
	}
	return nil
}

// Run watches until the context is cancelled. The trigger fires once per
// debounced change batch; it runs on the watcher goroutine, so a slow
// trigger naturally coalesces further events.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.isRelevant(ev) {
				continue
			}
			w.log.Debug("change detected",
				zap.String("path", ev.Name),
				zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil
			if w.trigger != nil {
				w.trigger(ctx)
			}
		}
	}
}

func (w *Watcher) isRelevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}
	_, ok := w.relevant[abs]
	return ok
}
