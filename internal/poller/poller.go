package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/solarbox"
)

// Task is a periodic job. A nil Window means the task fires around the clock.
type Task struct {
	Name     string
	Interval time.Duration
	Window   *DailyWindow
	Run      Job
}

type TaskStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Runs      int64     `json:"runs"`
	Skipped   int64     `json:"skipped"`
	Failures  int       `json:"consecutiveFailures"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

// TaskPoller runs one task single-flight. The ticker offers a signal on an unbuffered channel, so a
// fire only lands while the worker is idle; a fire during a run is dropped, never queued.
type TaskPoller struct {
	Task

	now            func() time.Time
	events         solarbox.EventPublisher
	alertThreshold int

	fireCh  chan ZeroSignal
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu       sync.Mutex
	failures int
	alerted  bool
	lastRun  time.Time
	lastErr  error
}

func newTaskPoller(task Task, opts SchedulerOptions) *TaskPoller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TaskPoller{
		Task:           task,
		now:            now,
		events:         opts.Events,
		alertThreshold: opts.FailureAlertThreshold,
		fireCh:         make(chan ZeroSignal),
	}
}

// StartPoller blocks until ctx is done.
func (p *TaskPoller) StartPoller(ctx context.Context) {
	go func() {
		t := time.NewTicker(p.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.Trigger()
			}
		}
	}()
	logging.Info("Task started", "task", p.Name, "interval", p.Interval.String(), "window", p.windowString())
	p.poller(ctx)
	logging.Info("Task stopped", "task", p.Name)
}

// Trigger offers one fire to the worker and reports whether it was accepted. Only a fire refused
// because a run is in progress counts as skipped; one arriving while the worker is not receiving
// (not started yet, or stopped) is dropped with a debug line.
func (p *TaskPoller) Trigger() bool {
	if !p.Window.Contains(p.now()) {
		logging.Debug("Outside daily window, skipping", "task", p.Name, "window", p.windowString())
		return false
	}
	select {
	case p.fireCh <- Zero:
		return true
	default:
		if !p.running.Load() {
			logging.Debug("Worker not receiving, fire dropped", "task", p.Name)
			return false
		}
		p.skipped.Add(1)
		logging.Warn("Previous run still active, skipping", "task", p.Name)
		return false
	}
}

func (p *TaskPoller) poller(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.fireCh:
			p.runOnce(ctx)
		}
	}
}

func (p *TaskPoller) runOnce(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	start := p.now()
	err := p.safeRun(ctx)
	p.runs.Add(1)
	p.record(ctx, start, err)
}

func (p *TaskPoller) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return p.Run(ctx)
}

func (p *TaskPoller) record(ctx context.Context, start time.Time, err error) {
	p.mu.Lock()
	p.lastRun = start
	if err == nil {
		recovered := p.alerted
		failures := p.failures
		p.failures = 0
		p.alerted = false
		p.lastErr = nil
		p.mu.Unlock()

		if recovered {
			logging.Info("Task recovered", "task", p.Name, "failures", failures)
			p.emit(ctx, solarbox.Event{Type: solarbox.EventTaskRecovered, Task: p.Name, Failures: failures})
		}
		return
	}

	p.failures++
	p.lastErr = err
	failures := p.failures
	alert := p.alertThreshold > 0 && failures >= p.alertThreshold && !p.alerted
	if alert {
		p.alerted = true
	}
	p.mu.Unlock()

	if alert {
		logging.Error("Task failing repeatedly", "task", p.Name, "failures", failures, "error", err)
		p.emit(ctx, solarbox.Event{Type: solarbox.EventTaskFailing, Task: p.Name, Failures: failures, Error: err.Error()})
		return
	}
	logging.Warn("Task cycle failed, waiting for next tick", "task", p.Name, "failures", failures, "error", err)
}

func (p *TaskPoller) emit(ctx context.Context, ev solarbox.Event) {
	if p.events == nil {
		return
	}
	ev.Timestamp = p.now()
	if err := p.events.PublishEvent(ctx, ev); err != nil {
		logging.Warn("Failed to publish event", "task", p.Name, "event", ev.Type, "error", err)
	}
}

func (p *TaskPoller) Status() TaskStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := TaskStatus{
		Name:     p.Name,
		Running:  p.running.Load(),
		Runs:     p.runs.Load(),
		Skipped:  p.skipped.Load(),
		Failures: p.failures,
		LastRun:  p.lastRun,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *TaskPoller) windowString() string {
	if p.Window == nil {
		return "always"
	}
	return fmt.Sprintf("%02d-%02d", p.Window.StartHour, p.Window.EndHour)
}
