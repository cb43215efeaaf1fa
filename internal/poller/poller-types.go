package poller

import (
	"context"
	"time"

	"github.com/fisaks/solarbox/internal/storage"
	"github.com/fisaks/solarbox/internal/transport"
)

type ZeroSignal struct{}

// Zero is the canonical value to send on signal channels.
var Zero ZeroSignal

// Exchanger is the part of the transport the jobs drive.
type Exchanger interface {
	Exchange(ctx context.Context, command string) (transport.Reply, error)
}

// ReadingStore is the part of the retention store the jobs write to.
type ReadingStore interface {
	Upsert(ctx context.Context, r storage.Reading) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (storage.PruneResult, error)
}

// Job is one task body. A returned error or a panic counts as a failed cycle.
type Job func(ctx context.Context) error

// DailyWindow is an inclusive range of local wall-clock hours.
type DailyWindow struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the window. A nil window always matches.
func (w *DailyWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	h := t.Hour()
	return h >= w.StartHour && h <= w.EndHour
}
