// Package watch accelerates detection by requesting an immediate
// monitoring cycle when a monitored resource changes on disk. It is an
// optimization only: the polling loop detects everything by itself, just
// later.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rstanik/sentineld/internal/model"
)

// debounceDefault collapses bursts of file events into one kick.
const debounceDefault = 200 * time.Millisecond

// ChangeWatcher watches the parent directories of monitored resources
// with fsnotify and signals the kick channel when any of them changes.
type ChangeWatcher struct {
	paths    map[string]bool // monitored absolute paths
	dirs     []string        // parent directories to watch
	kick     chan<- struct{}
	debounce time.Duration
}

// New builds a ChangeWatcher over the given resources. The kick channel
// should be buffered; sends are non-blocking (a pending kick is enough).
func New(resources []model.MonitoredResource, kick chan<- struct{}) *ChangeWatcher {
	paths := make(map[string]bool, len(resources))
	seen := make(map[string]bool)
	var dirs []string
	for _, res := range resources {
		abs, err := filepath.Abs(res.Path)
		if err != nil {
			abs = res.Path
		}
		paths[abs] = true
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return &ChangeWatcher{
		paths:    paths,
		dirs:     dirs,
		kick:     kick,
		debounce: debounceDefault,
	}
}

// Run watches until ctx is cancelled. Returns an error only if fsnotify
// cannot be set up at all; callers fall back to PollWatcher in that case.
func (w *ChangeWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range w.dirs {
		// A missing directory is not fatal: the resource read will fail
		// in the cycle and be reported there.
		_ = watcher.Add(dir)
	}

	// Single debounce timer, reset on each relevant event.
	// Initialized as stopped; first event starts it.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			select {
			case w.kick <- struct{}{}:
			default:
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watch errors degrade to pure polling; nothing to do here.
		}
	}
}

// relevant reports whether the event touches a monitored path.
func (w *ChangeWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return w.paths[abs]
}

// PollWatcher is the fallback when fsnotify is unavailable: it stats
// monitored paths on an interval and kicks on any mtime or size change.
type PollWatcher struct {
	paths    []string
	kick     chan<- struct{}
	interval time.Duration
}

// NewPollWatcher builds a PollWatcher over the given resources.
func NewPollWatcher(resources []model.MonitoredResource, kick chan<- struct{}, interval time.Duration) *PollWatcher {
	paths := make([]string, 0, len(resources))
	for _, res := range resources {
		paths = append(paths, res.Path)
	}
	return &PollWatcher{paths: paths, kick: kick, interval: interval}
}

// Run polls until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	type stamp struct {
		mtime time.Time
		size  int64
	}
	last := make(map[string]stamp, len(w.paths))
	for _, p := range w.paths {
		if info, err := os.Stat(p); err == nil {
			last[p] = stamp{info.ModTime(), info.Size()}
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changed := false
			for _, p := range w.paths {
				info, err := os.Stat(p)
				if err != nil {
					// Deletion counts as a change once.
					if _, had := last[p]; had {
						delete(last, p)
						changed = true
					}
					continue
				}
				cur := stamp{info.ModTime(), info.Size()}
				if prev, had := last[p]; !had || prev != cur {
					last[p] = cur
					changed = true
				}
			}
			if changed {
				select {
				case w.kick <- struct{}{}:
				default:
				}
			}
		}
	}
}
