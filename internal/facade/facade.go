package facade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/transport"
	"github.com/fisaks/solarbox/internal/util"
)

const (
	ReadIndoor              = "read-indoor"
	ReadOutdoor             = "read-outdoor"
	ReadRelay               = "read-relay"
	SetRelayOn              = "set-relay-on"
	SetRelayOff             = "set-relay-off"
	ReadSolar               = "read-solar"
	ReadCombinedTemperature = "read-combined-temperature"
	GetSettings             = "get-settings"
	SetAutoMode             = "set-auto-mode"
	SetManualMode           = "set-manual-mode"
	SetOnThreshold          = "set-on-threshold"
	SetOffThreshold         = "set-off-threshold"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingValue     = errors.New("missing 'value' parameter")
	ErrInvalidValue     = errors.New("value is not a decimal number")
	// ErrRejected means the device answered but the reply did not confirm the operation.
	ErrRejected = errors.New("device did not confirm the operation")
)

// IsInputError reports whether err was caused by the caller rather than the device.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMissingValue) || errors.Is(err, ErrInvalidValue)
}

// Exchanger sends one command and returns the device reply.
type Exchanger interface {
	Exchange(ctx context.Context, command string) (transport.Reply, error)
}

// Operation maps an external operation name to a device command and how its reply is judged.
type Operation struct {
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	TakesValue  bool     `json:"takesValue,omitempty"`
	Required    []string `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`

	accept  func(transport.Reply) bool
	payload func(transport.Reply) any
	failure string
}

type Result struct {
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func field(name string) func(transport.Reply) any {
	return func(r transport.Reply) any { return map[string]any{name: r["value"]} }
}

func message(msg string) func(transport.Reply) any {
	return func(transport.Reply) any { return map[string]any{"message": msg} }
}

func valueEquals(want string) func(transport.Reply) bool {
	return func(r transport.Reply) bool { return r["value"] == want }
}

func echoes(name string) func(transport.Reply) bool {
	return func(r transport.Reply) bool { return r["command"] == name }
}

var operations = []Operation{
	{Name: ReadIndoor, Command: "i", Required: []string{"value"}, Description: "indoor temperature",
		payload: field("indoor"), failure: "Failed to fetch data"},
	{Name: ReadOutdoor, Command: "o", Required: []string{"value"}, Description: "outdoor temperature",
		payload: field("outdoor"), failure: "Failed to fetch data"},
	{Name: ReadRelay, Command: "r", Required: []string{"value"}, Description: "relay status",
		payload: field("relay_status"), failure: "Failed to fetch data"},
	{Name: SetRelayOn, Command: "r1", Required: []string{"value"}, Description: "switch the relay on",
		accept: valueEquals("ON"), payload: message("Relay turned ON"), failure: "Failed to turn relay ON"},
	{Name: SetRelayOff, Command: "r0", Required: []string{"value"}, Description: "switch the relay off",
		accept: valueEquals("OFF"), payload: message("Relay turned OFF"), failure: "Failed to turn relay OFF"},
	{Name: ReadSolar, Command: "s", Description: "solar voltage, current and power",
		payload: func(r transport.Reply) any {
			return map[string]any{
				"voltage_V":  util.ValueOr(r, "voltage_V", "N/A"),
				"current_mA": util.ValueOr(r, "current_mA", "N/A"),
				"power_mW":   util.ValueOr(r, "power_mW", "N/A"),
			}
		}, failure: "Failed to fetch data"},
	{Name: ReadCombinedTemperature, Command: "t", Required: []string{"i_temp", "o_temp"}, Description: "both temperatures",
		payload: func(r transport.Reply) any {
			return map[string]any{"indoor_temp_C": r["i_temp"], "outdoor_temp_C": r["o_temp"]}
		}, failure: "Failed to fetch one or more temperature readings"},
	{Name: GetSettings, Command: "get_settings", Required: []string{"relay_settings"}, Description: "relay control settings",
		payload: func(r transport.Reply) any { return r["relay_settings"] }, failure: "Failed to fetch settings"},
	{Name: SetAutoMode, Command: "auto", Description: "relay follows the voltage thresholds",
		payload: message("Automatic mode enabled"), failure: "Failed to enable automatic mode"},
	{Name: SetManualMode, Command: "manual", Description: "relay follows explicit commands",
		payload: message("Manual mode enabled"), failure: "Failed to enable manual mode"},
	{Name: SetOnThreshold, Command: "set_on_V", TakesValue: true, Required: []string{"command"}, Description: "turn-on voltage threshold",
		accept: echoes("set_on_V"), payload: newValue, failure: "Failed to set threshold"},
	{Name: SetOffThreshold, Command: "set_off_V", TakesValue: true, Required: []string{"command"}, Description: "turn-off voltage threshold",
		accept: echoes("set_off_V"), payload: newValue, failure: "Failed to set threshold"},
}

func newValue(r transport.Reply) any { return map[string]any{"new_value": r["value"]} }

// Operations lists the vocabulary in a stable order.
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

func Lookup(name string) (Operation, bool) {
	for _, op := range operations {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// thresholdOps resolves the device-side threshold names.
var thresholdOps = map[string]string{
	"set_on_V":  SetOnThreshold,
	"set_off_V": SetOffThreshold,
}

type Facade struct {
	ex Exchanger
}

func New(ex Exchanger) *Facade {
	return &Facade{ex: ex}
}

// Invoke runs one operation. value is only used by operations that take one; empty means absent.
// Every failure is reported in the Result, never as a panic or a separate error.
func (f *Facade) Invoke(ctx context.Context, name, value string) Result {
	op, ok := Lookup(name)
	if !ok {
		return fail(fmt.Errorf("%w: %q", ErrUnknownOperation, name), "Unknown operation")
	}

	command := op.Command
	if op.TakesValue {
		value = strings.TrimSpace(value)
		if value == "" {
			return fail(ErrMissingValue, "Missing 'value' parameter")
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fail(fmt.Errorf("%w: %q", ErrInvalidValue, value), "Invalid 'value' parameter")
		}
		command += " " + value
	}

	reply, err := f.ex.Exchange(ctx, command)
	if err != nil {
		logging.Warn("Operation failed", "operation", op.Name, "command", command, "error", err)
		return fail(err, op.failure)
	}
	for _, key := range op.Required {
		if !reply.Has(key) {
			err := fmt.Errorf("%w: reply to %q lacks %q", transport.ErrMalformedReply, command, key)
			logging.Warn("Operation failed", "operation", op.Name, "command", command, "error", err)
			return fail(err, op.failure)
		}
	}
	if op.accept != nil && !op.accept(reply) {
		err := fmt.Errorf("%w: %s got %v", ErrRejected, command, map[string]any(reply))
		logging.Warn("Operation failed", "operation", op.Name, "command", command, "error", err)
		return fail(err, op.failure)
	}
	return Result{Success: true, Payload: op.payload(reply)}
}

// SetThreshold sets a relay threshold by its device name (set_on_V or set_off_V).
func (f *Facade) SetThreshold(ctx context.Context, name, value string) Result {
	op, ok := thresholdOps[name]
	if !ok {
		return fail(fmt.Errorf("%w: threshold %q", ErrUnknownOperation, name), "Unknown threshold")
	}
	return f.Invoke(ctx, op, value)
}

func fail(err error, msg string) Result {
	return Result{Error: msg, Err: err}
}
