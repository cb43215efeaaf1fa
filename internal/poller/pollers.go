package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/solarbox"
)

type SchedulerOptions struct {
	// FailureAlertThreshold is the consecutive failure count that raises a task_failing event; 0 disables it.
	FailureAlertThreshold int
	Events                solarbox.EventPublisher
	Now                   func() time.Time
}

// Scheduler runs a fixed set of tasks, each on its own goroutine. A failing or panicking task never
// affects the others.
type Scheduler struct {
	pollers []*TaskPoller

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(tasks []Task, opts SchedulerOptions) (*Scheduler, error) {
	s := &Scheduler{}
	seen := make(map[string]bool)
	for _, t := range tasks {
		switch {
		case t.Name == "":
			return nil, errors.New("task without name")
		case seen[t.Name]:
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		case t.Interval <= 0:
			return nil, fmt.Errorf("task %q: interval must be > 0", t.Name)
		case t.Run == nil:
			return nil, fmt.Errorf("task %q: no job", t.Name)
		case t.Window != nil && (t.Window.StartHour < 0 || t.Window.EndHour > 23 || t.Window.StartHour > t.Window.EndHour):
			return nil, fmt.Errorf("task %q: invalid window %d-%d", t.Name, t.Window.StartHour, t.Window.EndHour)
		}
		seen[t.Name] = true
		s.pollers = append(s.pollers, newTaskPoller(t, opts))
	}
	return s, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, p := range s.pollers {
		s.wg.Add(1)
		go func(p *TaskPoller) {
			defer s.wg.Done()
			p.StartPoller(ctx)
		}(p)
	}
	logging.Info("Scheduler started", "tasks", len(s.pollers))
}

// Stop cancels every task and waits for running cycles to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logging.Info("Scheduler stopped")
}

// Trigger fires the named task now, subject to the same window and single-flight rules as a tick.
func (s *Scheduler) Trigger(name string) bool {
	for _, p := range s.pollers {
		if p.Name == name {
			return p.Trigger()
		}
	}
	return false
}

func (s *Scheduler) Status() []TaskStatus {
	out := make([]TaskStatus, 0, len(s.pollers))
	for _, p := range s.pollers {
		out = append(out, p.Status())
	}
	return out
}
