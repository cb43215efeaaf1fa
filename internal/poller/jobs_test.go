package poller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fisaks/solarbox/internal/config"
	"github.com/fisaks/solarbox/internal/solarbox"
	"github.com/fisaks/solarbox/internal/storage"
	"github.com/fisaks/solarbox/internal/storage/sqlite"
	"github.com/fisaks/solarbox/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExchanger struct {
	mu       sync.Mutex
	replies  map[string]transport.Reply
	err      error
	commands []string
}

func (s *scriptedExchanger) Exchange(ctx context.Context, command string) (transport.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.replies[command]
	if !ok {
		return nil, fmt.Errorf("%w: command %q", transport.ErrTimeout, command)
	}
	return r, nil
}

type fakeReadings struct {
	mu       sync.Mutex
	readings []storage.Reading
}

func (f *fakeReadings) PublishReading(ctx context.Context, r storage.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
	return nil
}

func openStore(t *testing.T) *sqlite.SQLiteStorage {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "sensor_data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobs_PollTemperatureStoresReading(t *testing.T) {
	store := openStore(t)
	readings := &fakeReadings{}
	ex := &scriptedExchanger{replies: map[string]transport.Reply{
		"t": {"i_temp": 21.5, "o_temp": 9.0},
	}}
	jobs := &Jobs{Exchanger: ex, Store: store, Readings: readings, Retention: 48 * time.Hour}
	ctx := context.Background()

	require.NoError(t, jobs.PollTemperature(ctx))

	got, err := store.QueryRecent(ctx, storage.Temperature, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0].(storage.TemperatureReading)
	assert.Equal(t, 21.5, r.IndoorC)
	assert.Equal(t, 9.0, r.OutdoorC)
	assert.WithinDuration(t, time.Now(), r.Timestamp, 2*time.Second)
	assert.Equal(t, r.Timestamp, r.Timestamp.Truncate(time.Second))

	require.Len(t, readings.readings, 1)
	assert.Equal(t, storage.Temperature, readings.readings[0].Series())
	assert.Equal(t, []string{"t"}, ex.commands)
}

func TestJobs_SamePollSecondReplacesReading(t *testing.T) {
	store := openStore(t)
	now := time.Date(2026, 6, 1, 10, 15, 0, 400_000_000, time.UTC)
	ex := &scriptedExchanger{replies: map[string]transport.Reply{"t": {"i_temp": 21.5, "o_temp": 9.0}}}
	jobs := &Jobs{Exchanger: ex, Store: store, Now: func() time.Time { return now }}
	ctx := context.Background()

	require.NoError(t, jobs.PollTemperature(ctx))
	ex.replies["t"] = transport.Reply{"i_temp": 22.0, "o_temp": 9.5}
	now = now.Add(300 * time.Millisecond)
	require.NoError(t, jobs.PollTemperature(ctx))

	got, err := store.QuerySince(ctx, storage.Temperature, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 22.0, got[0].(storage.TemperatureReading).IndoorC)
}

func TestJobs_PollTemperatureRejectsIncompleteReplies(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, reply := range []transport.Reply{
		{"i_temp": 21.5},
		{"i_temp": "error", "o_temp": 9.0},
		{"sensor": "o_temp", "value": 9.0},
	} {
		ex := &scriptedExchanger{replies: map[string]transport.Reply{"t": reply}}
		jobs := &Jobs{Exchanger: ex, Store: store}
		err := jobs.PollTemperature(ctx)
		assert.ErrorIs(t, err, transport.ErrMalformedReply, "%v", reply)
	}

	got, err := store.QueryRecent(ctx, storage.Temperature, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJobs_PollSolar(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	ex := &scriptedExchanger{replies: map[string]transport.Reply{
		"s": {"sensor": "solar_pwr", "voltage_V": 12.84, "current_mA": 310.2, "power_mW": 3982.0},
	}}
	jobs := &Jobs{Exchanger: ex, Store: store}

	require.NoError(t, jobs.PollSolar(ctx))
	got, err := store.QueryRecent(ctx, storage.Solar, time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, storage.SolarReading{
		Timestamp: got[0].Time(), VoltageV: 12.84, CurrentMA: 310.2, PowerMW: 3982.0,
	}, got[0])

	// INA219 missing: the firmware answers with a status only
	ex.replies["s"] = transport.Reply{"sensor": "solar_pwr", "status": "error"}
	assert.ErrorIs(t, jobs.PollSolar(ctx), transport.ErrMalformedReply)
}

func TestJobs_TransportFailureSkipsCycle(t *testing.T) {
	store := openStore(t)
	readings := &fakeReadings{}
	ex := &scriptedExchanger{err: fmt.Errorf("%w: no suitable serial port found", transport.ErrUnavailable)}
	jobs := &Jobs{Exchanger: ex, Store: store, Readings: readings}

	assert.ErrorIs(t, jobs.PollSolar(context.Background()), transport.ErrUnavailable)
	assert.ErrorIs(t, jobs.PollTemperature(context.Background()), transport.ErrUnavailable)
	assert.Empty(t, readings.readings)
}

func TestJobs_Prune(t *testing.T) {
	store := openStore(t)
	events := &fakeEvents{}
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	jobs := &Jobs{Store: store, Events: events, Retention: 48 * time.Hour, Now: func() time.Time { return now }}
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, storage.TemperatureReading{Timestamp: now.Add(-72 * time.Hour), IndoorC: 20}))
	require.NoError(t, store.Upsert(ctx, storage.TemperatureReading{Timestamp: now.Add(-time.Hour), IndoorC: 22}))
	require.NoError(t, store.Upsert(ctx, storage.SolarReading{Timestamp: now.Add(-72 * time.Hour), VoltageV: 12}))

	require.NoError(t, jobs.Prune(ctx))

	temps, err := store.QuerySince(ctx, storage.Temperature, time.Time{})
	require.NoError(t, err)
	require.Len(t, temps, 1)
	assert.True(t, now.Add(-time.Hour).Equal(temps[0].Time()))

	require.Equal(t, []string{solarbox.EventPruned}, events.types())
	assert.Equal(t, int64(1), events.events[0].Data["temperature"])
	assert.Equal(t, int64(1), events.events[0].Data["solar"])
}

func TestJobs_Tasks(t *testing.T) {
	jobs := &Jobs{}
	tasks := jobs.Tasks(config.ScheduleConfig{
		TemperatureIntervalMin: 15,
		SolarIntervalMin:       15,
		SolarStartHour:         7,
		SolarEndHour:           20,
		PruneIntervalHours:     24,
	})
	require.Len(t, tasks, 3)

	assert.Equal(t, TaskTemperature, tasks[0].Name)
	assert.Equal(t, 15*time.Minute, tasks[0].Interval)
	assert.Nil(t, tasks[0].Window)

	assert.Equal(t, TaskSolar, tasks[1].Name)
	assert.Equal(t, &DailyWindow{StartHour: 7, EndHour: 20}, tasks[1].Window)

	assert.Equal(t, TaskPrune, tasks[2].Name)
	assert.Equal(t, 24*time.Hour, tasks[2].Interval)

	_, err := NewScheduler(tasks, SchedulerOptions{})
	assert.NoError(t, err)
}
