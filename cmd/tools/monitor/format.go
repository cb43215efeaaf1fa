package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fisaks/solarbox/internal/catalog"
	"github.com/fisaks/solarbox/internal/solarbox"
)

// formatMessage renders one gateway message as a single line. Unknown topics print the payload as-is.
func formatMessage(topic string, payload []byte) string {
	parts := strings.Split(topic, "/")
	last := parts[len(parts)-1]

	switch {
	case last == "catalog":
		var cat catalog.GatewayCatalogMessage
		if err := json.Unmarshal(payload, &cat); err != nil {
			return fmt.Sprintf("%s %s (error: %v)", topic, payload, err)
		}
		names := make([]string, 0, len(cat.Operations))
		for _, op := range cat.Operations {
			names = append(names, op.Name)
		}
		tasks := make([]string, 0, len(cat.Tasks))
		for _, t := range cat.Tasks {
			s := fmt.Sprintf("%s every %ds", t.Name, t.IntervalSec)
			if t.Window != "" {
				s += " (" + t.Window + "h)"
			}
			tasks = append(tasks, s)
		}
		return fmt.Sprintf("%s gateway=%s ops=[%s] tasks=[%s]", topic, cat.Gateway,
			strings.Join(names, " "), strings.Join(tasks, ", "))

	case last == "events":
		var ev solarbox.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Sprintf("%s %s (error: %v)", topic, payload, err)
		}
		line := fmt.Sprintf("%s %s %s", topic, ev.Timestamp.Format("15:04:05"), ev.Type)
		if ev.Task != "" {
			line += " task=" + ev.Task
		}
		if ev.Failures > 0 {
			line += fmt.Sprintf(" failures=%d", ev.Failures)
		}
		if ev.Error != "" {
			line += fmt.Sprintf(" error=%q", ev.Error)
		}
		for _, k := range []string{"temperature", "solar"} {
			if v, ok := ev.Data[k]; ok {
				line += fmt.Sprintf(" %s=%v", k, v)
			}
		}
		return line

	case len(parts) >= 2 && parts[len(parts)-2] == "readings",
		last == "result":
		// compact one-line JSON
		var obj map[string]any
		if err := json.Unmarshal(payload, &obj); err != nil {
			return fmt.Sprintf("%s %s", topic, payload)
		}
		out, _ := json.Marshal(obj)
		return fmt.Sprintf("%s %s", topic, out)
	}
	return fmt.Sprintf("%s %s", topic, payload)
}
