// internal/config/config-gateway.go
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fisaks/solarbox/internal/logging"
)

/* =========================
   Types
   ========================= */

type GatewayConfig struct {
	Serial    SerialConfig    `json:"serial"`
	Transport TransportConfig `json:"transport"`
	Storage   StorageConfig   `json:"storage"`
	Schedule  ScheduleConfig  `json:"schedule"`
	MQTT      MQTTConfig      `json:"mqtt"`
	HTTP      HTTPConfig      `json:"http"`
}

type SerialConfig struct {
	Port             string   `json:"port"` // empty = discover
	Baud             int      `json:"baud"`
	ReadTimeoutMs    int      `json:"readTimeoutMs"` // byte-level
	SettleMs         int      `json:"settleMs"`      // board resets on open
	DiscoverPatterns []string `json:"discoverPatterns"`
}

type TransportConfig struct {
	ExchangeTimeoutMs int `json:"exchangeTimeoutMs"`
	BackoffMinMs      int `json:"backoffMinMs"`
	BackoffMaxMs      int `json:"backoffMaxMs"`
}

type StorageConfig struct {
	Path           string `json:"path"`
	RetentionHours int    `json:"retentionHours"`
}

type ScheduleConfig struct {
	TemperatureIntervalMin int `json:"temperatureIntervalMin"`
	SolarIntervalMin       int `json:"solarIntervalMin"`
	SolarStartHour         int `json:"solarStartHour"`
	SolarEndHour           int `json:"solarEndHour"`
	PruneIntervalHours     int `json:"pruneIntervalHours"`
	FailureAlertThreshold  int `json:"failureAlertThreshold"` // 0 = never alert
}

type MQTTConfig struct {
	BrokerURL         string `json:"brokerUrl"` // empty = MQTT disabled
	ClientName        string `json:"clientName"`
	TopicPrefix       string `json:"topicPrefix"`
	HeartbeatInterval int    `json:"heartbeatInterval"` // seconds
}

type HTTPConfig struct {
	ListenAddr string `json:"listenAddr"`
}

/* =========================
   Helpers
   ========================= */

func (s SerialConfig) ReadTimeout() time.Duration { return ms(s.ReadTimeoutMs) }
func (s SerialConfig) Settle() time.Duration      { return ms(s.SettleMs) }

func (t TransportConfig) ExchangeTimeout() time.Duration { return ms(t.ExchangeTimeoutMs) }
func (t TransportConfig) BackoffMin() time.Duration      { return ms(t.BackoffMinMs) }
func (t TransportConfig) BackoffMax() time.Duration      { return ms(t.BackoffMaxMs) }

func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

func (s ScheduleConfig) TemperatureInterval() time.Duration {
	return time.Duration(s.TemperatureIntervalMin) * time.Minute
}
func (s ScheduleConfig) SolarInterval() time.Duration {
	return time.Duration(s.SolarIntervalMin) * time.Minute
}
func (s ScheduleConfig) PruneInterval() time.Duration {
	return time.Duration(s.PruneIntervalHours) * time.Hour
}

func (m MQTTConfig) Enabled() bool { return strings.TrimSpace(m.BrokerURL) != "" }
func (m MQTTConfig) Heartbeat() time.Duration {
	return time.Duration(m.HeartbeatInterval) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

/* =========================
   Strict load + validate
   ========================= */

func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	return decodeGatewayConfig(f, os.Getenv)
}

// LoadGatewayConfigFromReader decodes and validates without environment overrides.
func LoadGatewayConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	return decodeGatewayConfig(r, nil)
}

func decodeGatewayConfig(r io.Reader, getenv func(string) string) (*GatewayConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	clean := stripJSONComments(raw)

	dec := json.NewDecoder(strings.NewReader(string(clean)))
	dec.DisallowUnknownFields()

	var cfg GatewayConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if getenv != nil {
		cfg.ApplyEnv(getenv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with SERIAL_PORT, DB_PATH, MQTT_URL and HTTP_ADDR when set.
func (c *GatewayConfig) ApplyEnv(getenv func(string) string) {
	if v := getenv("SERIAL_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := getenv("DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := getenv("MQTT_URL"); v != "" {
		c.MQTT.BrokerURL = v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
}

// Validate fills defaults for zero values and reports everything that is still wrong.
func (c *GatewayConfig) Validate() error {
	var errs multiErr

	/* Serial */
	s := &c.Serial
	if s.Baud == 0 {
		s.Baud = 115200
	}
	if s.Baud < 0 {
		errs.add("serial.baud must be > 0")
	}
	if s.ReadTimeoutMs <= 0 {
		s.ReadTimeoutMs = 100
	}
	if s.SettleMs < 0 {
		errs.add("serial.settleMs cannot be negative")
	}
	if s.SettleMs == 0 {
		s.SettleMs = 2000
	}
	if len(s.DiscoverPatterns) == 0 {
		s.DiscoverPatterns = []string{"USB", "ACM"}
	}
	if strings.TrimSpace(s.Port) == "" {
		logging.Debug("serial.port empty, port will be discovered", "patterns", s.DiscoverPatterns)
	}

	/* Transport */
	t := &c.Transport
	if t.ExchangeTimeoutMs == 0 {
		t.ExchangeTimeoutMs = 5000
	}
	if t.BackoffMinMs == 0 {
		t.BackoffMinMs = 1000
	}
	if t.BackoffMaxMs == 0 {
		t.BackoffMaxMs = 60000
	}
	if t.ExchangeTimeoutMs < 0 || t.BackoffMinMs < 0 || t.BackoffMaxMs < 0 {
		errs.add("transport timings cannot be negative")
	}
	if t.BackoffMaxMs < t.BackoffMinMs {
		errs.addf("transport.backoffMaxMs (%d) must be >= backoffMinMs (%d)", t.BackoffMaxMs, t.BackoffMinMs)
	}
	if t.ExchangeTimeoutMs > 0 && t.ExchangeTimeoutMs <= s.ReadTimeoutMs {
		errs.add("transport.exchangeTimeoutMs must be greater than serial.readTimeoutMs")
	}

	/* Storage */
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "sensor_data.db"
	}
	if c.Storage.RetentionHours == 0 {
		c.Storage.RetentionHours = 48
	}
	if c.Storage.RetentionHours < 0 {
		errs.add("storage.retentionHours must be > 0")
	}

	/* Schedule */
	sc := &c.Schedule
	if sc.TemperatureIntervalMin == 0 {
		sc.TemperatureIntervalMin = 15
	}
	if sc.SolarIntervalMin == 0 {
		sc.SolarIntervalMin = 15
	}
	if sc.PruneIntervalHours == 0 {
		sc.PruneIntervalHours = 24
	}
	// 0/0 reads as unset; a midnight-only solar window is not a supported schedule
	if sc.SolarStartHour == 0 && sc.SolarEndHour == 0 {
		sc.SolarStartHour, sc.SolarEndHour = 7, 20
	}
	if sc.TemperatureIntervalMin < 0 || sc.SolarIntervalMin < 0 || sc.PruneIntervalHours < 0 {
		errs.add("schedule intervals must be > 0")
	}
	if sc.SolarStartHour < 0 || sc.SolarStartHour > 23 || sc.SolarEndHour < 0 || sc.SolarEndHour > 23 {
		errs.add("schedule solar hours must be 0..23")
	} else if sc.SolarStartHour > sc.SolarEndHour {
		errs.addf("schedule.solarStartHour (%d) must be <= solarEndHour (%d)", sc.SolarStartHour, sc.SolarEndHour)
	}
	if sc.FailureAlertThreshold < 0 {
		errs.add("schedule.failureAlertThreshold cannot be negative")
	}

	/* MQTT */
	m := &c.MQTT
	if m.Enabled() {
		if !strings.Contains(m.BrokerURL, "://") {
			errs.addf("mqtt.brokerUrl %q must include a scheme (tcp://, ssl://, ws://)", m.BrokerURL)
		}
		if m.ClientName == "" {
			m.ClientName = "gateway"
		}
		if m.TopicPrefix == "" {
			m.TopicPrefix = "solarbox/" + m.ClientName
		}
		m.TopicPrefix = strings.TrimSuffix(m.TopicPrefix, "/")
		if strings.ContainsAny(m.TopicPrefix, "+#") {
			errs.add("mqtt.topicPrefix cannot contain wildcards")
		}
	}
	if m.HeartbeatInterval < 0 {
		m.HeartbeatInterval = 900
	}
	if m.HeartbeatInterval == 0 && m.Enabled() {
		logging.Warn("mqtt.heartbeatInterval=0 configured, unchanged readings are never republished")
	}

	/* HTTP */
	if strings.TrimSpace(c.HTTP.ListenAddr) == "" {
		c.HTTP.ListenAddr = ":5000"
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

/* =========================
   Comment stripping + utils
   ========================= */

var (
	lineComments  = regexp.MustCompile(`(?m)^\s*//[^\n\r]*`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// stripJSONComments drops block comments and whole-line // comments. Trailing // comments are left
// alone so URLs such as tcp://host survive.
func stripJSONComments(in []byte) []byte {
	text := string(in)
	text = blockComments.ReplaceAllString(text, "")
	text = lineComments.ReplaceAllString(text, "")
	return []byte(text)
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
