package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// Board mimics the ESP32 firmware: one JSON object line per command, plain text for anything else.
type Board struct {
	mu sync.Mutex

	IndoorC   float64
	OutdoorC  float64
	VoltageV  float64
	CurrentMA float64

	Relay bool
	Auto  bool
	OnV   float64
	OffV  float64

	// Missing sensors answer the way the firmware does when a sensor is unplugged.
	IndoorMissing  bool
	OutdoorMissing bool
	INA219Missing  bool
}

func NewBoard() *Board {
	return &Board{
		IndoorC:   21.5,
		OutdoorC:  9.0,
		VoltageV:  12.8,
		CurrentMA: 310,
		OnV:       13.2,
		OffV:      12.1,
	}
}

// Handle answers one command line. The returned lines are written as-is, each followed by a newline.
func (b *Board) Handle(line string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "o":
		return []string{sensorLine("o_temp", b.OutdoorC, b.OutdoorMissing)}
	case "i":
		return []string{sensorLine("i_temp", b.IndoorC, b.IndoorMissing)}
	case "t":
		return []string{fmt.Sprintf(`{ "i_temp": %s, "o_temp": %s }`,
			temp(b.IndoorC, b.IndoorMissing), temp(b.OutdoorC, b.OutdoorMissing))}
	case "s":
		if b.INA219Missing {
			return []string{`{ "sensor": "solar_pwr", "status": "error" }`}
		}
		return []string{fmt.Sprintf(`{ "sensor": "solar_pwr", "voltage_V": %.2f, "current_mA": %.2f, "power_mW": %.2f }`,
			b.VoltageV, b.CurrentMA, b.VoltageV*b.CurrentMA)}
	case "r":
		return []string{relayLine(b.Relay)}
	case "r1", "r0":
		if b.Auto {
			// the relay belongs to the thresholds in auto mode; report the unchanged state
			return []string{relayLine(b.Relay)}
		}
		b.Relay = cmd == "r1"
		return []string{relayLine(b.Relay)}
	case "get_settings":
		mode := "manual"
		if b.Auto {
			mode = "auto"
		}
		return []string{fmt.Sprintf(`{ "relay_settings": { "mode": "%s", "on_voltage": %.2f, "off_voltage": %.2f } }`,
			mode, b.OnV, b.OffV)}
	case "auto":
		b.Auto = true
		b.follow()
		return []string{`{ "status": "ok", "mode": "auto" }`}
	case "manual":
		b.Auto = false
		return []string{`{ "status": "ok", "mode": "manual" }`}
	case "set_on_V", "set_off_V":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return []string{"Invalid value for " + cmd}
		}
		if cmd == "set_on_V" {
			b.OnV = v
		} else {
			b.OffV = v
		}
		b.follow()
		return []string{fmt.Sprintf(`{ "command": "%s", "value": %.2f }`, cmd, v)}
	case "":
		return nil
	default:
		return []string{"Invalid command. Use 'o', 'i', or 's'."}
	}
}

// Drift nudges the readings by a small random walk and re-applies the thresholds.
func (b *Board) Drift(r *rand.Rand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.IndoorC += (r.Float64() - 0.5) * 0.2
	b.OutdoorC += (r.Float64() - 0.5) * 0.5
	b.VoltageV += (r.Float64() - 0.5) * 0.1
	b.CurrentMA = max(0, b.CurrentMA+(r.Float64()-0.5)*20)
	b.follow()
}

// follow applies the hysteresis thresholds when in auto mode.
func (b *Board) follow() {
	if !b.Auto {
		return
	}
	switch {
	case b.VoltageV >= b.OnV:
		b.Relay = true
	case b.VoltageV <= b.OffV:
		b.Relay = false
	}
}

func temp(v float64, missing bool) string {
	if missing {
		return `"error"`
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func sensorLine(name string, v float64, missing bool) string {
	return fmt.Sprintf(`{ "sensor": "%s", "value": %s }`, name, temp(v, missing))
}

func relayLine(on bool) string {
	if on {
		return `{ "value": "ON" }`
	}
	return `{ "value": "OFF" }`
}
