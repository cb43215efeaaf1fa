package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// PublishJSON marshals v and waits for the broker to accept it.
func PublishJSON(client MQTT.Client, topic string, qos byte, retain bool, v any, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	token := client.Publish(topic, qos, retain, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

// Request subscribes to topic, runs send and returns the first payload accepted by match, or an error
// after timeout. The subscription is removed before returning.
func Request(client MQTT.Client, topic string, timeout time.Duration, send func() error, match func([]byte) bool) ([]byte, error) {
	got := make(chan []byte, 1)
	tok := client.Subscribe(topic, 1, func(_ MQTT.Client, m MQTT.Message) {
		if match != nil && !match(m.Payload()) {
			return
		}
		select {
		case got <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer client.Unsubscribe(topic)

	if err := send(); err != nil {
		return nil, err
	}
	select {
	case p := <-got:
		return p, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no message on %s within %s", topic, timeout)
	}
}
