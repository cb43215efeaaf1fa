package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fisaks/solarbox/internal/storage"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements storage.Store using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	mu  sync.Mutex // serializes writes
	now func() time.Time
}

var _ storage.Store = (*SQLiteStorage)(nil)

// New opens (and if needed creates) the database at dbPath
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite allows a single writer and the scheduler and HTTP callers share the store
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// dsn adds the busy timeout, keeping any options already present on path
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000"
}

func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS temperature_readings (
			timestamp TEXT PRIMARY KEY,
			indoor_temp_C REAL,
			outdoor_temp_C REAL
		);

		CREATE TABLE IF NOT EXISTS solar_readings (
			timestamp TEXT PRIMARY KEY,
			voltage_V REAL,
			current_mA REAL,
			power_mW REAL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts a reading or replaces the one with the same timestamp
func (s *SQLiteStorage) Upsert(ctx context.Context, r storage.Reading) error {
	switch v := r.(type) {
	case *storage.TemperatureReading:
		if v == nil {
			return fmt.Errorf("%w: %T", storage.ErrNilReading, v)
		}
		r = *v
	case *storage.SolarReading:
		if v == nil {
			return fmt.Errorf("%w: %T", storage.ErrNilReading, v)
		}
		r = *v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch v := r.(type) {
	case storage.TemperatureReading:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO temperature_readings (timestamp, indoor_temp_C, outdoor_temp_C)
			VALUES (?, ?, ?)
			ON CONFLICT(timestamp) DO UPDATE SET
				indoor_temp_C = excluded.indoor_temp_C,
				outdoor_temp_C = excluded.outdoor_temp_C
		`, storage.FormatTimestamp(v.Timestamp), v.IndoorC, v.OutdoorC)
	case storage.SolarReading:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO solar_readings (timestamp, voltage_V, current_mA, power_mW)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(timestamp) DO UPDATE SET
				voltage_V = excluded.voltage_V,
				current_mA = excluded.current_mA,
				power_mW = excluded.power_mW
		`, storage.FormatTimestamp(v.Timestamp), v.VoltageV, v.CurrentMA, v.PowerMW)
	default:
		return fmt.Errorf("%w: %T", storage.ErrUnknownSeries, r)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s reading: %w", r.Series(), err)
	}
	return nil
}

// QueryRecent returns readings no older than since, oldest first
func (s *SQLiteStorage) QueryRecent(ctx context.Context, series storage.Series, since time.Duration) ([]storage.Reading, error) {
	return s.QuerySince(ctx, series, s.now().Add(-since))
}

// QuerySince returns readings with timestamp >= from, oldest first
func (s *SQLiteStorage) QuerySince(ctx context.Context, series storage.Series, from time.Time) ([]storage.Reading, error) {
	cutoff := storage.FormatTimestamp(from)

	switch series {
	case storage.Temperature:
		rows, err := s.db.QueryContext(ctx, `
			SELECT timestamp, indoor_temp_C, outdoor_temp_C
			FROM temperature_readings
			WHERE timestamp >= ?
			ORDER BY timestamp ASC
		`, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to query temperature readings: %w", err)
		}
		defer rows.Close()

		readings := make([]storage.Reading, 0)
		for rows.Next() {
			var r storage.TemperatureReading
			var ts string
			if err := rows.Scan(&ts, &r.IndoorC, &r.OutdoorC); err != nil {
				return nil, fmt.Errorf("failed to scan temperature reading: %w", err)
			}
			if r.Timestamp, err = storage.ParseTimestamp(ts); err != nil {
				return nil, err
			}
			readings = append(readings, r)
		}
		return readings, rows.Err()

	case storage.Solar:
		rows, err := s.db.QueryContext(ctx, `
			SELECT timestamp, voltage_V, current_mA, power_mW
			FROM solar_readings
			WHERE timestamp >= ?
			ORDER BY timestamp ASC
		`, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to query solar readings: %w", err)
		}
		defer rows.Close()

		readings := make([]storage.Reading, 0)
		for rows.Next() {
			var r storage.SolarReading
			var ts string
			if err := rows.Scan(&ts, &r.VoltageV, &r.CurrentMA, &r.PowerMW); err != nil {
				return nil, fmt.Errorf("failed to scan solar reading: %w", err)
			}
			if r.Timestamp, err = storage.ParseTimestamp(ts); err != nil {
				return nil, err
			}
			readings = append(readings, r)
		}
		return readings, rows.Err()
	}
	return nil, fmt.Errorf("%w: %q", storage.ErrUnknownSeries, series)
}

// PruneOlderThan deletes readings of both series older than cutoff in one transaction
func (s *SQLiteStorage) PruneOlderThan(ctx context.Context, cutoff time.Time) (storage.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res storage.PruneResult
	ts := storage.FormatTimestamp(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `DELETE FROM temperature_readings WHERE timestamp < ?`, ts)
	if err != nil {
		return res, fmt.Errorf("failed to prune temperature readings: %w", err)
	}
	if res.Temperature, err = r.RowsAffected(); err != nil {
		return res, err
	}

	r, err = tx.ExecContext(ctx, `DELETE FROM solar_readings WHERE timestamp < ?`, ts)
	if err != nil {
		return res, fmt.Errorf("failed to prune solar readings: %w", err)
	}
	if res.Solar, err = r.RowsAffected(); err != nil {
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return storage.PruneResult{}, fmt.Errorf("failed to commit prune: %w", err)
	}
	return res, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
