package mqtt

// cSpell:ignore mqtt
import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/solarbox/internal/logging"
)

// Connect opens a short-lived client for the command line tools. The gateway itself uses
// messaging.MsgBroker, which keeps retrying; tools should fail fast instead.
func Connect(brokerURL, clientPrefix string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%d", clientPrefix, time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", brokerURL, timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}
	logging.Debug("MQTT connected", "broker", brokerURL)
	return c, nil
}
