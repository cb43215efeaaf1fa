package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fisaks/solarbox/internal/config"
	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/solarbox"
	"github.com/fisaks/solarbox/internal/storage"
	"github.com/fisaks/solarbox/internal/transport"
	"github.com/fisaks/solarbox/internal/util"
)

const (
	TaskTemperature = "temperature"
	TaskSolar       = "solar"
	TaskPrune       = "prune"
)

// Jobs are the acquisition and retention task bodies. Readings and Events are optional.
type Jobs struct {
	Exchanger Exchanger
	Store     ReadingStore
	Readings  solarbox.ReadingPublisher
	Events    solarbox.EventPublisher
	Retention time.Duration
	Now       func() time.Time
}

// Tasks builds the three scheduled tasks from the schedule config.
func (j *Jobs) Tasks(sc config.ScheduleConfig) []Task {
	return []Task{
		{Name: TaskTemperature, Interval: sc.TemperatureInterval(), Run: j.PollTemperature},
		{Name: TaskSolar, Interval: sc.SolarInterval(), Run: j.PollSolar,
			Window: &DailyWindow{StartHour: sc.SolarStartHour, EndHour: sc.SolarEndHour}},
		{Name: TaskPrune, Interval: sc.PruneInterval(), Run: j.Prune},
	}
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// stamp is the archive key for a reading taken now, truncated to the second.
func (j *Jobs) stamp() time.Time {
	return j.now().UTC().Truncate(time.Second)
}

func (j *Jobs) PollTemperature(ctx context.Context) error {
	reply, err := j.Exchanger.Exchange(ctx, "t")
	if err != nil {
		return fmt.Errorf("fetch temperature data: %w", err)
	}
	indoor, err1 := number(reply, "i_temp")
	outdoor, err2 := number(reply, "o_temp")
	if err := errors.Join(err1, err2); err != nil {
		return err
	}
	return j.store(ctx, storage.TemperatureReading{Timestamp: j.stamp(), IndoorC: indoor, OutdoorC: outdoor})
}

func (j *Jobs) PollSolar(ctx context.Context) error {
	reply, err := j.Exchanger.Exchange(ctx, "s")
	if err != nil {
		return fmt.Errorf("fetch solar data: %w", err)
	}
	voltage, err1 := number(reply, "voltage_V")
	current, err2 := number(reply, "current_mA")
	power, err3 := number(reply, "power_mW")
	if err := errors.Join(err1, err2, err3); err != nil {
		return err
	}
	return j.store(ctx, storage.SolarReading{Timestamp: j.stamp(), VoltageV: voltage, CurrentMA: current, PowerMW: power})
}

func (j *Jobs) Prune(ctx context.Context) error {
	cutoff := j.now().Add(-j.Retention)
	res, err := j.Store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune old data: %w", err)
	}
	logging.Info("Pruned old readings", "cutoff", storage.FormatTimestamp(cutoff), "temperature", res.Temperature, "solar", res.Solar)
	if j.Events != nil {
		ev := solarbox.Event{
			Timestamp: j.now(),
			Type:      solarbox.EventPruned,
			Task:      TaskPrune,
			Data:      map[string]any{"temperature": res.Temperature, "solar": res.Solar, "cutoff": storage.FormatTimestamp(cutoff)},
		}
		if err := j.Events.PublishEvent(ctx, ev); err != nil {
			logging.Warn("Failed to publish prune event", "error", err)
		}
	}
	return nil
}

func (j *Jobs) store(ctx context.Context, r storage.Reading) error {
	if err := j.Store.Upsert(ctx, r); err != nil {
		return fmt.Errorf("store %s reading: %w", r.Series(), err)
	}
	logging.Info("Stored reading", "series", r.Series(), "timestamp", storage.FormatTimestamp(r.Time()))
	if j.Readings != nil {
		if err := j.Readings.PublishReading(ctx, r); err != nil {
			logging.Warn("Failed to publish reading", "series", r.Series(), "error", err)
		}
	}
	return nil
}

// number extracts a numeric reply field. The firmware reports a disconnected sensor as "error".
func number(reply transport.Reply, key string) (float64, error) {
	v, ok := reply[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", transport.ErrMalformedReply, key)
	}
	f, ok := util.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q is %v", transport.ErrMalformedReply, key, v)
	}
	return f, nil
}
