package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fisaks/solarbox/internal/facade"
	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/solarbox"
	"github.com/fisaks/solarbox/internal/state"
	"github.com/fisaks/solarbox/internal/storage"
	"github.com/fisaks/solarbox/internal/util"
	"github.com/google/uuid"
)

type GatewayBroker interface {
	Broker
	solarbox.GatewayPublisher
	StartCommandSubscriber(ctx context.Context, subscriber solarbox.CommandSubscriber) error
}

type gatewayBroker struct {
	Broker
	subscriber        solarbox.CommandSubscriber
	readingState      state.ReadingStateStore
	heartbeatInterval time.Duration
}

func NewGatewayBroker(cfg BrokerConfig, catalog OnConnectPublisher, heartbeatInterval time.Duration) GatewayBroker {
	return newGatewayBroker(NewMsgBroker(cfg), catalog, heartbeatInterval)
}

func newGatewayBroker(broker Broker, catalog OnConnectPublisher, heartbeatInterval time.Duration) *gatewayBroker {
	gb := &gatewayBroker{
		Broker:            broker,
		readingState:      state.NewReadingStateStore(),
		heartbeatInterval: heartbeatInterval,
	}
	if catalog != nil {
		gb.AddOnConnectPublisher("catalog", catalog)
	}
	return gb
}

// StartCommandSubscriber routes <prefix>/cmd/<operation> messages to subscriber.
func (b *gatewayBroker) StartCommandSubscriber(ctx context.Context, subscriber solarbox.CommandSubscriber) error {
	b.subscriber = subscriber
	_, err := b.Subscribe(ctx, b.Topic("cmd", "+"), AtLeastOnce, b.onCommandMessage)
	return err
}

// PublishReading sends r retained when it changed or the heartbeat interval elapsed.
func (b *gatewayBroker) PublishReading(ctx context.Context, r storage.Reading) error {
	series := r.Series()
	if !b.readingState.ShouldPublish(series, r, b.heartbeatInterval) {
		logging.Debug("Reading unchanged, not publishing", "series", series)
		return nil
	}
	err := b.PublishJSON(ctx, b.Topic("readings", string(series)), AtMostOnce, true, r)
	if err == nil {
		b.readingState.Update(series, r)
	}
	return err
}

func (b *gatewayBroker) PublishEvent(ctx context.Context, ev solarbox.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	logging.Debug("Publishing event", "event", ev.Type, "task", ev.Task)
	return b.PublishJSON(ctx, b.Topic("events"), AtLeastOnce, false, ev)
}

func (b *gatewayBroker) onCommandMessage(ctx context.Context, topic string, payload []byte) {
	logging.Debug("Received cmd message", "topic", topic)
	// <prefix>/cmd/<operation>
	rest, ok := strings.CutPrefix(topic, b.Topic("cmd")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		logging.Warn("cmd topic malformed", "topic", topic)
		return
	}

	var in solarbox.IncomingCommand
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &in); err != nil {
			logging.Warn("cmd json", "topic", topic, "error", err)
			return
		}
	}
	in.Operation = rest
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if b.subscriber == nil {
		logging.Warn("No command subscriber, dropping", "operation", in.Operation, "id", in.ID)
		return
	}

	result := b.subscriber.OnCommand(ctx, in)
	out := solarbox.CommandResult{ID: in.ID, Operation: in.Operation, Result: result}
	if err := b.PublishJSON(ctx, b.Topic("cmd", in.Operation, "result"), AtLeastOnce, false, out); err != nil {
		logging.Warn("Failed to publish command result", "operation", in.Operation, "id", in.ID, "error", err)
	}
}

// Invoker is satisfied by *facade.Facade.
type Invoker interface {
	Invoke(ctx context.Context, operation, value string) facade.Result
}

// FacadeSubscriber adapts a facade to incoming MQTT commands.
type FacadeSubscriber struct {
	Invoker Invoker
}

func (s FacadeSubscriber) OnCommand(ctx context.Context, cmd solarbox.IncomingCommand) facade.Result {
	res := s.Invoker.Invoke(ctx, cmd.Operation, util.ValueString(cmd.Value))
	logging.Info("Command handled", "operation", cmd.Operation, "id", cmd.ID, "success", res.Success)
	return res
}
