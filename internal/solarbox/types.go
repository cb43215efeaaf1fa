package solarbox

import (
	"context"
	"time"

	"github.com/fisaks/solarbox/internal/facade"
	"github.com/fisaks/solarbox/internal/storage"
)

const (
	EventTaskFailing   = "task_failing"
	EventTaskRecovered = "task_recovered"
	EventPruned        = "pruned"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Task      string         `json:"task,omitempty"`
	Failures  int            `json:"failures,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type IncomingCommand struct {
	ID        string `json:"id,omitempty"`
	Operation string `json:"operation,omitempty"` // overridden by topic
	Value     any    `json:"value,omitempty"`     // accept number or string
}

type CommandResult struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Result    facade.Result `json:"result"`
}

type ReadingPublisher interface {
	PublishReading(ctx context.Context, r storage.Reading) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

type GatewayPublisher interface {
	ReadingPublisher
	EventPublisher
}

type CommandSubscriber interface {
	OnCommand(ctx context.Context, cmd IncomingCommand) facade.Result
}
