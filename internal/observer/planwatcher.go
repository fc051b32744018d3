package observer

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PlanChangeCallback receives the paths of plan files changed on disk,
// debounced so an editor's save burst arrives as one call.
type PlanChangeCallback func(changedFiles []string)

// PlanWatcher monitors the plans directory for edits. Reviewers may touch
// up a generated plan in place before approving it; those edits are
// surfaced through the callback so they land in the task's event history.
type PlanWatcher struct {
	watcher  *fsnotify.Watcher
	callback PlanChangeCallback

	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]struct{}
	timer    *time.Timer

	cancel context.CancelFunc
}

// NewPlanWatcher creates a watcher over the given plans directory.
func NewPlanWatcher(plansDir string, callback PlanChangeCallback) (*PlanWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(plansDir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &PlanWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching. Stop releases the watcher.
func (pw *PlanWatcher) Start(ctx context.Context) {
	ctx, pw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-pw.watcher.Events:
				if !ok {
					return
				}
				pw.handleEvent(event)
			case err, ok := <-pw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("planwatcher: %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes.
func (pw *PlanWatcher) Stop() {
	if pw.cancel != nil {
		pw.cancel()
	}
	pw.watcher.Close()
}

// SetDebounce adjusts the batching window.
func (pw *PlanWatcher) SetDebounce(d time.Duration) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.debounce = d
}

func (pw *PlanWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.pending[event.Name] = struct{}{}
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pw.debounce, pw.flush)
}

func (pw *PlanWatcher) flush() {
	pw.mu.Lock()
	pending := pw.pending
	pw.pending = make(map[string]struct{})
	pw.mu.Unlock()

	if pw.callback == nil || len(pending) == 0 {
		return
	}

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	pw.callback(files)
}

// TaskIDFromPlanPath extracts the task ID from a generated plan filename
// (plan_<taskID>_<timestamp>.md). Returns "" for paths that do not match.
func TaskIDFromPlanPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".md")
	parts := strings.Split(base, "_")
	// plan, taskID, date, time
	if len(parts) < 4 || parts[0] != "plan" {
		return ""
	}
	return strings.Join(parts[1:len(parts)-2], "_")
}
