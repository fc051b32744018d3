// Package schedule creates recurring tasks on cron schedules. Each
// configured schedule spawns a fresh task (and its execute job) whenever
// its cron expression fires; the tasks then flow through the normal
// pipeline, approval gate included.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

// ErrPreviousRunActive means the schedule's last task has not reached a
// terminal state yet, so this firing is skipped.
var ErrPreviousRunActive = errors.New("previous run still active")

// Enqueuer is satisfied by the queue pool.
type Enqueuer interface {
	Enqueue(kind, taskID, payload string) (int64, error)
}

// Scheduler fires configured schedules and creates their tasks.
type Scheduler struct {
	store   *taskstore.Store
	queue   Enqueuer
	configs map[string]config.ScheduleConfig
	parser  cron.Parser

	mu       sync.RWMutex
	lastRun  map[string]time.Time
	lastTask map[string]string
}

// New validates the schedules and builds a Scheduler.
func New(store *taskstore.Store, queue Enqueuer, schedules []config.ScheduleConfig) (*Scheduler, error) {
	s := &Scheduler{
		store:    store,
		queue:    queue,
		configs:  make(map[string]config.ScheduleConfig),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:  make(map[string]time.Time),
		lastTask: make(map[string]string),
	}

	for _, sc := range schedules {
		if err := validate(s.parser, sc); err != nil {
			return nil, err
		}
		s.configs[sc.Name] = sc
	}
	return s, nil
}

func validate(parser cron.Parser, sc config.ScheduleConfig) error {
	if sc.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if sc.ProjectID == "" {
		return fmt.Errorf("schedule %s: project_id is required", sc.Name)
	}
	if sc.Description == "" {
		return fmt.Errorf("schedule %s: description is required", sc.Name)
	}
	if _, err := parser.Parse(sc.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", sc.Name, err)
	}
	if sc.Priority != "" && !domain.ValidPriority(domain.Priority(sc.Priority)) {
		return fmt.Errorf("schedule %s: invalid priority %q", sc.Name, sc.Priority)
	}
	return nil
}

// NextRun returns the next fire time for a schedule, or the zero time for
// an unknown name.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.configs[name]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(sc.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun reports whether a schedule is due.
func (s *Scheduler) ShouldRun(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.configs[name]
	if !ok {
		return false
	}
	sched, err := s.parser.Parse(sc.Cron)
	if err != nil {
		return false
	}

	last := s.lastRun[name]
	if last.IsZero() {
		// A fresh process fires only on schedule, not on startup.
		s.lastRun[name] = now
		return false
	}
	return now.After(sched.Next(last))
}

// Fire creates the schedule's task and enqueues its execution. A firing
// is skipped with ErrPreviousRunActive while the schedule's previous task
// is still moving through the pipeline.
func (s *Scheduler) Fire(name string, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	sc, ok := s.configs[name]
	if ok {
		s.lastRun[name] = now
	}
	prevID := s.lastTask[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown schedule %q", name)
	}

	if prevID != "" {
		prev, err := s.store.GetTask(prevID)
		if err == nil && !domain.IsTerminal(prev.Status) {
			return nil, fmt.Errorf("schedule %s: task %s: %w", name, prevID, ErrPreviousRunActive)
		}
	}

	task := &domain.Task{
		ProjectID:   sc.ProjectID,
		Description: sc.Description,
		Priority:    domain.Priority(sc.Priority),
	}
	if err := s.store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("schedule %s: creating task: %w", name, err)
	}
	if _, err := s.queue.Enqueue(taskstore.JobExecute, task.ID, ""); err != nil {
		return nil, fmt.Errorf("schedule %s: enqueuing task: %w", name, err)
	}

	s.mu.Lock()
	s.lastTask[name] = task.ID
	s.mu.Unlock()
	return task, nil
}

// Run blocks, checking schedules once a minute until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.configs) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for name := range s.configs {
				if !s.ShouldRun(name, now) {
					continue
				}
				task, err := s.Fire(name, now)
				if errors.Is(err, ErrPreviousRunActive) {
					continue
				}
				if err != nil {
					log.Printf("schedule: %v", err)
					continue
				}
				log.Printf("schedule: %s created task %s", name, task.ID)
			}
		}
	}
}
