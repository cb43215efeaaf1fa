package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Series string

const (
	Temperature Series = "temperature"
	Solar       Series = "solar"
)

func (s Series) Valid() bool { return s == Temperature || s == Solar }

// AllSeries lists every series the store keeps.
var AllSeries = []Series{Temperature, Solar}

var (
	ErrUnknownSeries = errors.New("unknown series")
	ErrNilReading    = errors.New("nil reading")
)

// TimestampLayout is the fixed-width UTC form used as primary key; lexical order equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

func FormatTimestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Reading is one archived sample, keyed by its timestamp within its series.
type Reading interface {
	Series() Series
	Time() time.Time
}

type TemperatureReading struct {
	Timestamp time.Time `json:"timestamp"`
	IndoorC   float64   `json:"indoor_temp_C"`
	OutdoorC  float64   `json:"outdoor_temp_C"`
}

func (TemperatureReading) Series() Series    { return Temperature }
func (r TemperatureReading) Time() time.Time { return r.Timestamp }

type SolarReading struct {
	Timestamp time.Time `json:"timestamp"`
	VoltageV  float64   `json:"voltage_V"`
	CurrentMA float64   `json:"current_mA"`
	PowerMW   float64   `json:"power_mW"`
}

func (SolarReading) Series() Series    { return Solar }
func (r SolarReading) Time() time.Time { return r.Timestamp }

// PruneResult counts deleted rows per series.
type PruneResult struct {
	Temperature int64 `json:"temperature"`
	Solar       int64 `json:"solar"`
}

func (p PruneResult) Total() int64 { return p.Temperature + p.Solar }

// Store is the retention store. Implementations serialize their own writes.
type Store interface {
	// Upsert inserts r or replaces the record with the same timestamp.
	Upsert(ctx context.Context, r Reading) error
	// QueryRecent returns readings with timestamp >= now-since, oldest first.
	QueryRecent(ctx context.Context, series Series, since time.Duration) ([]Reading, error)
	// QuerySince returns readings with timestamp >= from, oldest first.
	QuerySince(ctx context.Context, series Series, from time.Time) ([]Reading, error)
	// PruneOlderThan deletes readings of every series with timestamp < cutoff.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (PruneResult, error)
	Close() error
}
