package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fisaks/solarbox/internal/solarbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	mu     sync.Mutex
	events []solarbox.Event
}

func (f *fakeEvents) PublishEvent(ctx context.Context, ev solarbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestDailyWindow_Contains(t *testing.T) {
	w := &DailyWindow{StartHour: 7, EndHour: 20}
	day := func(h, m int) time.Time { return time.Date(2026, 6, 1, h, m, 0, 0, time.Local) }

	assert.False(t, w.Contains(day(6, 59)))
	assert.True(t, w.Contains(day(7, 0)))
	assert.True(t, w.Contains(day(20, 45)))
	assert.False(t, w.Contains(day(21, 0)))

	var always *DailyWindow
	assert.True(t, always.Contains(day(3, 0)))
}

func TestTaskPoller_TriggerOutsideWindowIsSkipped(t *testing.T) {
	p := newTaskPoller(Task{
		Name:     "solar",
		Interval: time.Hour,
		Window:   &DailyWindow{StartHour: 7, EndHour: 20},
		Run:      func(context.Context) error { return nil },
	}, SchedulerOptions{Now: func() time.Time { return time.Date(2026, 6, 1, 3, 0, 0, 0, time.Local) }})

	assert.False(t, p.Trigger())
	assert.Zero(t, p.Status().Skipped, "a window miss is not a busy skip")
}

func TestTaskPoller_TriggerBeforeStartIsNotABusySkip(t *testing.T) {
	p := newTaskPoller(Task{
		Name:     "temperature",
		Interval: time.Hour,
		Run:      func(context.Context) error { return nil },
	}, SchedulerOptions{})

	assert.False(t, p.Trigger())
	assert.False(t, p.Trigger())
	assert.Zero(t, p.Status().Skipped)
	assert.False(t, p.Status().Running)
}

func TestTaskPoller_SkipsWhileRunning(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32

	p := newTaskPoller(Task{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
	}, SchedulerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.StartPoller(ctx)
		close(done)
	}()

	require.Eventually(t, p.Trigger, time.Second, time.Millisecond)
	<-started

	skippedBefore := p.Status().Skipped
	assert.False(t, p.Trigger(), "fire while the previous run is active must be skipped")
	assert.False(t, p.Trigger())
	assert.Equal(t, skippedBefore+2, p.Status().Skipped)
	assert.True(t, p.Status().Running)

	release <- struct{}{}
	require.Eventually(t, p.Trigger, time.Second, time.Millisecond)
	<-started
	release <- struct{}{}

	cancel()
	<-done
	assert.Equal(t, int32(2), runs.Load(), "skipped fires are dropped, not queued")
}

func TestTaskPoller_FailureAlertAndRecovery(t *testing.T) {
	events := &fakeEvents{}
	var fail atomic.Bool
	fail.Store(true)

	p := newTaskPoller(Task{
		Name:     "temperature",
		Interval: time.Hour,
		Run: func(context.Context) error {
			if fail.Load() {
				return errors.New("unavailable: no suitable serial port found")
			}
			return nil
		},
	}, SchedulerOptions{FailureAlertThreshold: 3, Events: events})
	ctx := context.Background()

	p.runOnce(ctx)
	p.runOnce(ctx)
	assert.Empty(t, events.types())
	assert.Equal(t, 2, p.Status().Failures)

	p.runOnce(ctx)
	p.runOnce(ctx)
	assert.Equal(t, []string{solarbox.EventTaskFailing}, events.types(), "alert is raised once per failure streak")
	assert.Equal(t, 4, p.Status().Failures)
	assert.Contains(t, p.Status().LastError, "no suitable serial port")

	fail.Store(false)
	p.runOnce(ctx)
	assert.Equal(t, []string{solarbox.EventTaskFailing, solarbox.EventTaskRecovered}, events.types())
	st := p.Status()
	assert.Zero(t, st.Failures)
	assert.Empty(t, st.LastError)
	assert.Equal(t, int64(5), st.Runs)

	events.mu.Lock()
	assert.Equal(t, 3, events.events[0].Failures)
	assert.Equal(t, 4, events.events[1].Failures)
	events.mu.Unlock()
}

func TestTaskPoller_NoAlertWhenThresholdDisabled(t *testing.T) {
	events := &fakeEvents{}
	p := newTaskPoller(Task{
		Name:     "prune",
		Interval: time.Hour,
		Run:      func(context.Context) error { return errors.New("disk I/O error") },
	}, SchedulerOptions{Events: events})

	for i := 0; i < 10; i++ {
		p.runOnce(context.Background())
	}
	assert.Empty(t, events.types())
	assert.Equal(t, 10, p.Status().Failures)
}

func TestTaskPoller_PanicIsContained(t *testing.T) {
	p := newTaskPoller(Task{
		Name:     "boom",
		Interval: time.Hour,
		Run:      func(context.Context) error { panic("nil map write") },
	}, SchedulerOptions{})

	assert.NotPanics(t, func() { p.runOnce(context.Background()) })
	assert.Contains(t, p.Status().LastError, "nil map write")
	assert.False(t, p.Status().Running)
}

func TestScheduler_IsolatesTasks(t *testing.T) {
	var healthy, broken atomic.Int32
	s, err := NewScheduler([]Task{
		{Name: "broken", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			broken.Add(1)
			panic("sensor bus exploded")
		}},
		{Name: "healthy", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			healthy.Add(1)
			return nil
		}},
	}, SchedulerOptions{})
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return healthy.Load() >= 3 && broken.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	after := healthy.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, healthy.Load(), "no runs after Stop")

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "broken", status[0].Name)
	assert.Greater(t, status[0].Failures, 0)
	assert.Zero(t, status[1].Failures)
}

func TestScheduler_TriggerByName(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, err := NewScheduler([]Task{
		{Name: "prune", Interval: time.Hour, Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		}},
	}, SchedulerOptions{})
	require.NoError(t, err)
	assert.False(t, s.Trigger("missing"))

	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Trigger("prune") }, time.Second, time.Millisecond)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("triggered task did not run")
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	job := func(context.Context) error { return nil }
	tests := []struct {
		name  string
		tasks []Task
	}{
		{"no name", []Task{{Interval: time.Second, Run: job}}},
		{"duplicate", []Task{{Name: "a", Interval: time.Second, Run: job}, {Name: "a", Interval: time.Second, Run: job}}},
		{"zero interval", []Task{{Name: "a", Run: job}}},
		{"no job", []Task{{Name: "a", Interval: time.Second}}},
		{"bad window", []Task{{Name: "a", Interval: time.Second, Run: job, Window: &DailyWindow{StartHour: 21, EndHour: 7}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.tasks, SchedulerOptions{})
			assert.Error(t, err)
		})
	}
}
