package state

import (
	"sync"
	"time"

	"github.com/fisaks/solarbox/internal/storage"
)

// ReadingStateStore remembers the last published reading per series.
type ReadingStateStore interface {
	GetLast(series storage.Series) (storage.Reading, time.Time, bool)
	Update(series storage.Series, r storage.Reading)
	HasChanged(series storage.Series, r storage.Reading) bool
	// ShouldPublish is true when r differs from the last published reading or heartbeat has elapsed
	// since it was sent. A heartbeat of 0 disables republishing unchanged readings.
	ShouldPublish(series storage.Series, r storage.Reading, heartbeat time.Duration) bool
	Clear()
}

type readingStateStore struct {
	store     map[storage.Series]storage.Reading
	heartbeat map[storage.Series]time.Time
	mu        sync.RWMutex
	now       func() time.Time
}

func NewReadingStateStore() ReadingStateStore {
	return newReadingStateStore(time.Now)
}

func newReadingStateStore(now func() time.Time) *readingStateStore {
	return &readingStateStore{
		store:     make(map[storage.Series]storage.Reading),
		heartbeat: make(map[storage.Series]time.Time),
		now:       now,
	}
}

func (s *readingStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = make(map[storage.Series]storage.Reading)
	s.heartbeat = make(map[storage.Series]time.Time)
}

func (s *readingStateStore) GetLast(series storage.Series) (storage.Reading, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.store[series]
	heartbeat, ok2 := s.heartbeat[series]
	return r, heartbeat, ok && ok2
}

func (s *readingStateStore) Update(series storage.Series, r storage.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[series] = r
	s.heartbeat[series] = s.now()
}

func (s *readingStateStore) HasChanged(series storage.Series, r storage.Reading) bool {
	last, _, ok := s.GetLast(series)
	if !ok {
		return true
	}
	return !readingValuesEqual(last, r)
}

func (s *readingStateStore) ShouldPublish(series storage.Series, r storage.Reading, heartbeat time.Duration) bool {
	if s.HasChanged(series, r) {
		return true
	}
	if heartbeat <= 0 {
		return false
	}
	_, lastSent, ok := s.GetLast(series)
	return !ok || s.now().Sub(lastSent) > heartbeat
}

// readingValuesEqual compares measured values only; the timestamp of every poll differs.
func readingValuesEqual(a, b storage.Reading) bool {
	switch x := a.(type) {
	case storage.TemperatureReading:
		y, ok := b.(storage.TemperatureReading)
		return ok && x.IndoorC == y.IndoorC && x.OutdoorC == y.OutdoorC
	case storage.SolarReading:
		y, ok := b.(storage.SolarReading)
		return ok && x.VoltageV == y.VoltageV && x.CurrentMA == y.CurrentMA && x.PowerMW == y.PowerMW
	}
	return false
}
