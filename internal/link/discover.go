package link

import (
	"context"
	"strings"

	"github.com/fisaks/solarbox/internal/logging"
	bugst "go.bug.st/serial"
)

var listPorts = bugst.GetPortsList

// Discover returns the first serial device whose name contains one of patterns
// (e.g. "USB" for /dev/ttyUSB0, "ACM" for /dev/ttyACM0). It is a naming heuristic, nothing more.
func Discover(patterns []string) (string, bool) {
	ports, err := listPorts()
	if err != nil {
		logging.Warn("Serial port enumeration failed", "error", err)
		return "", false
	}
	path, ok := matchPort(ports, patterns)
	if ok {
		logging.Info("Found potential serial port", "port", path)
	} else {
		logging.Warn("No suitable serial port found", "candidates", ports, "patterns", patterns)
	}
	return path, ok
}

func matchPort(ports, patterns []string) (string, bool) {
	for _, port := range ports {
		for _, pattern := range patterns {
			if pattern != "" && strings.Contains(port, pattern) {
				return port, true
			}
		}
	}
	return "", false
}

// Dialer resolves the device path (configured or discovered) and opens it.
type Dialer struct {
	Config   Config
	Patterns []string
}

func (d *Dialer) Dial(ctx context.Context) (*Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := d.Config
	if cfg.Path == "" {
		path, ok := Discover(d.Patterns)
		if !ok {
			return nil, ErrNoDevice
		}
		cfg.Path = path
	}
	return Open(cfg)
}
