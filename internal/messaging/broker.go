package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/solarbox/internal/logging"
)

var errNoClient = errors.New("mqtt client not initialized, call Connect first")

type BrokerConfig struct {
	BrokerURL        string
	ClientName       string
	TopicPrefix      string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

func (c BrokerConfig) publishTimeout() time.Duration   { return orDefault(c.PublishTimeout, 5*time.Second) }
func (c BrokerConfig) subscribeTimeout() time.Duration { return orDefault(c.SubscribeTimeout, 5*time.Second) }

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// PublishRequest is what an OnConnectPublisher wants sent; Payload is marshalled as JSON.
type PublishRequest struct {
	Topic   string
	Qos     QoS
	Retain  bool
	Payload any
}

// OnConnectPublisher is called after every (re)connect, e.g. to refresh a retained message.
type OnConnectPublisher func() (PublishRequest, error)

type subscriptionEntry struct {
	qos     QoS
	handler mqtt.MessageHandler
}

// MsgBroker wraps one paho client. Subscriptions and on-connect publishers are remembered and
// replayed on every reconnect.
type MsgBroker struct {
	config BrokerConfig
	client mqtt.Client

	mu        sync.RWMutex
	subs      map[string]subscriptionEntry
	onConnect map[string]OnConnectPublisher
}

var _ Broker = (*MsgBroker)(nil)

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	return &MsgBroker{
		config:    cfg,
		subs:      make(map[string]subscriptionEntry),
		onConnect: make(map[string]OnConnectPublisher),
	}
}

// waitToken waits for a paho token, bounded by timeout and ctx.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, what string) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-expired:
		return fmt.Errorf("%s: timed out after %v", what, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
}

// Connect waits for the first connection until ctx is done. paho keeps retrying in the background
// after that, so a broker that comes up later is still picked up.
func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client == nil {
		b.client = mqtt.NewClient(b.clientOptions())
	}
	if b.client.IsConnected() {
		return nil
	}
	return waitToken(ctx, b.client.Connect(), 0, "connect "+b.config.BrokerURL)
}

func (b *MsgBroker) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(b.config.BrokerURL)
	opts.SetClientID("solarbox-" + b.config.ClientName)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	if b.config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(b.config.ConnectTimeout)
	}
	opts.OnConnect = func(c mqtt.Client) {
		logging.Info("MQTT connected", "broker", b.config.BrokerURL, "clientName", b.config.ClientName)
		b.resubscribe(c)
		b.runOnConnect()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", "broker", b.config.BrokerURL, "error", err)
	}
	return opts
}

// Topic joins parts under the configured prefix.
func (b *MsgBroker) Topic(parts ...string) string {
	return JoinTopic(b.config.TopicPrefix, parts...)
}

func JoinTopic(prefix string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		all = append(all, p)
	}
	all = append(all, parts...)
	return strings.Join(all, "/")
}

func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect[id] = fn
}

// runOnConnect publishes on separate goroutines: OnConnect runs on paho's goroutine and waiting
// for a token there stalls the client.
func (b *MsgBroker) runOnConnect() {
	b.mu.RLock()
	fns := maps.Clone(b.onConnect)
	b.mu.RUnlock()

	for id, fn := range fns {
		id, fn := id, fn
		go func() {
			req, err := fn()
			if err == nil {
				err = b.PublishJSON(context.Background(), req.Topic, req.Qos, req.Retain, req.Payload)
			}
			if err != nil {
				logging.Error("On-connect publish failed", "id", id, "topic", req.Topic, "error", err)
			}
		}()
	}
}

func (b *MsgBroker) resubscribe(c mqtt.Client) {
	b.mu.RLock()
	subs := maps.Clone(b.subs)
	b.mu.RUnlock()

	for topic, s := range subs {
		c.Subscribe(topic, byte(s.qos), s.handler)
		logging.Debug("MQTT resubscribed", "topic", topic)
	}
}

func (b *MsgBroker) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Close disconnects with a 250 ms quiesce, or gives up when ctx is done.
func (b *MsgBroker) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		b.client.Disconnect(250)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if b.client == nil {
		return errNoClient
	}
	if qos > ExactlyOnce {
		return fmt.Errorf("publish %s: invalid qos %d", topic, qos)
	}
	token := b.client.Publish(topic, byte(qos), retain, payload)
	return waitToken(ctx, token, b.config.publishTimeout(), "publish "+topic)
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe registers handler and waits for the SUBACK. The registration is kept even when the
// SUBACK fails, so the subscription is restored on the next (re)connect.
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler MessageHandler) (Subscription, error) {
	if b.client == nil {
		return nil, errNoClient
	}
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("MQTT handler panic", "topic", msg.Topic(), "panic", r)
				}
			}()
			handler(ctx, msg.Topic(), msg.Payload())
		}()
	}
	b.mu.Lock()
	b.subs[topic] = subscriptionEntry{qos: qos, handler: onMessage}
	b.mu.Unlock()

	token := b.client.Subscribe(topic, byte(qos), onMessage)
	if err := waitToken(ctx, token, b.config.subscribeTimeout(), "subscribe "+topic); err != nil {
		return nil, err
	}
	return &msgSubscription{broker: b, topic: topic}, nil
}

type msgSubscription struct {
	broker *MsgBroker
	topic  string
}

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	b := s.broker
	b.mu.Lock()
	delete(b.subs, s.topic)
	b.mu.Unlock()
	return waitToken(ctx, b.client.Unsubscribe(s.topic), b.config.subscribeTimeout(), "unsubscribe "+s.topic)
}
