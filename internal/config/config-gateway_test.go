package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayConfig_Defaults(t *testing.T) {
	cfg, err := LoadGatewayConfigFromReader(strings.NewReader(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.ReadTimeout())
	assert.Equal(t, 2*time.Second, cfg.Serial.Settle())
	assert.Equal(t, []string{"USB", "ACM"}, cfg.Serial.DiscoverPatterns)
	assert.Equal(t, 5*time.Second, cfg.Transport.ExchangeTimeout())
	assert.Equal(t, time.Second, cfg.Transport.BackoffMin())
	assert.Equal(t, time.Minute, cfg.Transport.BackoffMax())
	assert.Equal(t, "sensor_data.db", cfg.Storage.Path)
	assert.Equal(t, 48*time.Hour, cfg.Storage.Retention())
	assert.Equal(t, 15*time.Minute, cfg.Schedule.TemperatureInterval())
	assert.Equal(t, 15*time.Minute, cfg.Schedule.SolarInterval())
	assert.Equal(t, 24*time.Hour, cfg.Schedule.PruneInterval())
	assert.Equal(t, 7, cfg.Schedule.SolarStartHour)
	assert.Equal(t, 20, cfg.Schedule.SolarEndHour)
	assert.False(t, cfg.MQTT.Enabled())
	assert.Equal(t, ":5000", cfg.HTTP.ListenAddr)
}

func TestLoadGatewayConfig_SolarWindow(t *testing.T) {
	cases := []struct {
		raw        string
		start, end int
	}{
		{`{"schedule": {"solarStartHour": 0, "solarEndHour": 0}}`, 7, 20},
		{`{"schedule": {"solarStartHour": 0, "solarEndHour": 6}}`, 0, 6},
		{`{"schedule": {"solarStartHour": 9, "solarEndHour": 9}}`, 9, 9},
	}
	for _, c := range cases {
		cfg, err := LoadGatewayConfigFromReader(strings.NewReader(c.raw))
		require.NoError(t, err, c.raw)
		assert.Equal(t, c.start, cfg.Schedule.SolarStartHour, c.raw)
		assert.Equal(t, c.end, cfg.Schedule.SolarEndHour, c.raw)
	}
}

func TestLoadGatewayConfig_CommentsAndMQTTDefaults(t *testing.T) {
	raw := `{
		// broker on the same box
		"mqtt": { "brokerUrl": "tcp://localhost:1883", "clientName": "shed" },
		/* board on the first ACM port */
		"serial": { "port": "/dev/ttyACM0" }
	}`
	cfg, err := LoadGatewayConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)

	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "solarbox/shed", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
}

func TestLoadGatewayConfig_UnknownField(t *testing.T) {
	_, err := LoadGatewayConfigFromReader(strings.NewReader(`{"serail": {}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestLoadGatewayConfig_ValidationCollectsAllErrors(t *testing.T) {
	raw := `{
		"transport": { "backoffMinMs": 5000, "backoffMaxMs": 1000 },
		"schedule": { "solarStartHour": 21, "solarEndHour": 6 },
		"mqtt": { "brokerUrl": "localhost:1883" }
	}`
	_, err := LoadGatewayConfigFromReader(strings.NewReader(raw))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "backoffMaxMs")
	assert.Contains(t, msg, "solarStartHour")
	assert.Contains(t, msg, "must include a scheme")
}

func TestLoadGatewayConfig_ExchangeTimeoutBelowReadTimeout(t *testing.T) {
	raw := `{"serial": {"readTimeoutMs": 500}, "transport": {"exchangeTimeoutMs": 200}}`
	_, err := LoadGatewayConfigFromReader(strings.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchangeTimeoutMs")
}

func TestLoadGatewayConfig_FileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"path": "/var/lib/a.db"}}`), 0o600))

	t.Setenv("DB_PATH", "/tmp/override.db")
	t.Setenv("SERIAL_PORT", "/dev/ttyUSB3")
	t.Setenv("MQTT_URL", "tcp://broker:1883")

	cfg, err := LoadGatewayConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "solarbox/gateway", cfg.MQTT.TopicPrefix)
}

func TestLoadGatewayConfig_MissingFile(t *testing.T) {
	_, err := LoadGatewayConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
