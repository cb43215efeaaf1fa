package catalog

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fisaks/solarbox/internal/config"
	"github.com/fisaks/solarbox/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_OnConnectPublish(t *testing.T) {
	cfg, err := config.LoadGatewayConfigFromReader(strings.NewReader(`{
		"mqtt": { "brokerUrl": "tcp://localhost:1883", "clientName": "shed" }
	}`))
	require.NoError(t, err)

	req, err := NewGatewayCatalog(cfg).OnConnectPublish()
	require.NoError(t, err)
	assert.Equal(t, "solarbox/shed/catalog", req.Topic)
	assert.True(t, req.Retain)
	assert.Equal(t, messaging.AtLeastOnce, req.Qos)

	data, err := json.Marshal(req.Payload)
	require.NoError(t, err)

	var msg struct {
		Gateway    string `json:"gateway"`
		Operations []struct {
			Name       string `json:"name"`
			Command    string `json:"command"`
			TakesValue bool   `json:"takesValue"`
		} `json:"operations"`
		Series []struct {
			Name           string   `json:"name"`
			Fields         []string `json:"fields"`
			RetentionHours int      `json:"retentionHours"`
		} `json:"series"`
		Tasks []struct {
			Name        string `json:"name"`
			IntervalSec int    `json:"intervalSec"`
			Window      string `json:"window"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))

	assert.Equal(t, "shed", msg.Gateway)
	require.Len(t, msg.Operations, 12)
	assert.Equal(t, "read-indoor", msg.Operations[0].Name)
	assert.Equal(t, "i", msg.Operations[0].Command)

	require.Len(t, msg.Series, 2)
	assert.Equal(t, "temperature", msg.Series[0].Name)
	assert.Equal(t, []string{"voltage_V", "current_mA", "power_mW"}, msg.Series[1].Fields)
	assert.Equal(t, 48, msg.Series[1].RetentionHours)

	require.Len(t, msg.Tasks, 3)
	assert.Equal(t, 900, msg.Tasks[0].IntervalSec)
	assert.Equal(t, "07-20", msg.Tasks[1].Window)
	assert.Equal(t, 86400, msg.Tasks[2].IntervalSec)
}
