package catalog

import (
	"fmt"

	"github.com/fisaks/solarbox/internal/config"
	"github.com/fisaks/solarbox/internal/facade"
	"github.com/fisaks/solarbox/internal/messaging"
	"github.com/fisaks/solarbox/internal/poller"
	"github.com/fisaks/solarbox/internal/storage"
)

type GatewayCatalogMessage struct {
	Gateway    string             `json:"gateway"`
	Operations []facade.Operation `json:"operations"`
	Series     []SeriesSummary    `json:"series"`
	Tasks      []TaskSummary      `json:"tasks"`
}

type SeriesSummary struct {
	Name           storage.Series `json:"name"`
	Fields         []string       `json:"fields"`
	RetentionHours int            `json:"retentionHours"`
}

type TaskSummary struct {
	Name        string `json:"name"`
	IntervalSec int    `json:"intervalSec"`
	Window      string `json:"window,omitempty"`
}

var seriesFields = map[storage.Series][]string{
	storage.Temperature: {"indoor_temp_C", "outdoor_temp_C"},
	storage.Solar:       {"voltage_V", "current_mA", "power_mW"},
}

type Catalog struct {
	cfg *config.GatewayConfig
}

func NewGatewayCatalog(cfg *config.GatewayConfig) *Catalog {
	return &Catalog{cfg: cfg}
}

func (c *Catalog) Build() *GatewayCatalogMessage {
	msg := &GatewayCatalogMessage{
		Gateway:    c.cfg.MQTT.ClientName,
		Operations: facade.Operations(),
	}
	for _, s := range storage.AllSeries {
		msg.Series = append(msg.Series, SeriesSummary{
			Name:           s,
			Fields:         seriesFields[s],
			RetentionHours: c.cfg.Storage.RetentionHours,
		})
	}
	sc := c.cfg.Schedule
	msg.Tasks = []TaskSummary{
		{Name: poller.TaskTemperature, IntervalSec: int(sc.TemperatureInterval().Seconds())},
		{Name: poller.TaskSolar, IntervalSec: int(sc.SolarInterval().Seconds()), Window: fmt.Sprintf("%02d-%02d", sc.SolarStartHour, sc.SolarEndHour)},
		{Name: poller.TaskPrune, IntervalSec: int(sc.PruneInterval().Seconds())},
	}
	return msg
}

// OnConnectPublish is registered with the broker so the retained catalog is refreshed on every connect.
func (c *Catalog) OnConnectPublish() (messaging.PublishRequest, error) {
	return messaging.PublishRequest{
		Topic:   messaging.JoinTopic(c.cfg.MQTT.TopicPrefix, "catalog"),
		Qos:     messaging.AtLeastOnce,
		Retain:  true,
		Payload: c.Build(),
	}, nil
}
