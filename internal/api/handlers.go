package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fisaks/solarbox/internal/facade"
	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/poller"
	"github.com/fisaks/solarbox/internal/storage"
	"github.com/fisaks/solarbox/internal/transport"
	"github.com/go-chi/chi/v5"
)

// Commands is satisfied by *facade.Facade.
type Commands interface {
	Invoke(ctx context.Context, operation, value string) facade.Result
	SetThreshold(ctx context.Context, name, value string) facade.Result
}

type ReadingHistory interface {
	QueryRecent(ctx context.Context, series storage.Series, since time.Duration) ([]storage.Reading, error)
}

type TransportStatus interface {
	State() transport.State
	LastConnectError() error
}

type SchedulerStatus interface {
	Status() []poller.TaskStatus
}

// Handler serves the gateway HTTP API. Transport and Tasks are optional and only feed /health.
type Handler struct {
	Commands  Commands
	Readings  ReadingHistory
	Transport TransportStatus
	Tasks     SchedulerStatus
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("Failed to write response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{"error": message})
}

func statusFor(err error) int {
	switch {
	case facade.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, facade.ErrUnknownOperation):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// read answers with the operation payload itself, or {"error": ...}.
func (h *Handler) read(w http.ResponseWriter, r *http.Request, op string) {
	res := h.Commands.Invoke(r.Context(), op, "")
	if !res.Success {
		errorResponse(w, statusFor(res.Err), res.Error)
		return
	}
	jsonResponse(w, http.StatusOK, res.Payload)
}

// command answers with {"status": "success"|"error", ...}.
func command(w http.ResponseWriter, res facade.Result) {
	if !res.Success {
		jsonResponse(w, statusFor(res.Err), map[string]interface{}{"status": "error", "message": res.Error})
		return
	}
	body := map[string]interface{}{"status": "success"}
	if p, ok := res.Payload.(map[string]any); ok {
		for k, v := range p {
			body[k] = v
		}
	}
	jsonResponse(w, http.StatusOK, body)
}

func (h *Handler) RelayOn(w http.ResponseWriter, r *http.Request) {
	command(w, h.Commands.Invoke(r.Context(), facade.SetRelayOn, ""))
}

func (h *Handler) RelayOff(w http.ResponseWriter, r *http.Request) {
	command(w, h.Commands.Invoke(r.Context(), facade.SetRelayOff, ""))
}

func (h *Handler) RelayLatest(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, facade.ReadRelay)
}

func (h *Handler) OutdoorLatest(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, facade.ReadOutdoor)
}

func (h *Handler) IndoorLatest(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, facade.ReadIndoor)
}

func (h *Handler) SolarLatest(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, facade.ReadSolar)
}

func (h *Handler) TemperatureLatest(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, facade.ReadCombinedTemperature)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, facade.GetSettings)
}

func (h *Handler) SetAutoMode(w http.ResponseWriter, r *http.Request) {
	command(w, h.Commands.Invoke(r.Context(), facade.SetAutoMode, ""))
}

func (h *Handler) SetManualMode(w http.ResponseWriter, r *http.Request) {
	command(w, h.Commands.Invoke(r.Context(), facade.SetManualMode, ""))
}

func (h *Handler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "threshold")
	command(w, h.Commands.SetThreshold(r.Context(), name, r.URL.Query().Get("value")))
}

func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{"operations": facade.Operations()})
}

// InvokeOperation runs any operation of the vocabulary and returns the raw Result.
func (h *Handler) InvokeOperation(w http.ResponseWriter, r *http.Request) {
	res := h.Commands.Invoke(r.Context(), chi.URLParam(r, "operation"), r.URL.Query().Get("value"))
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Err)
	}
	jsonResponse(w, status, res)
}

// History serves /{o|i|t|s}/{24|48}: archived rows, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(chi.URLParam(r, "hours"))
	if err != nil || (hours != 24 && hours != 48) {
		errorResponse(w, http.StatusNotFound, "unknown range, use 24 or 48")
		return
	}
	kind := chi.URLParam(r, "kind")
	series := storage.Temperature
	if kind == "s" {
		series = storage.Solar
	}

	readings, err := h.Readings.QueryRecent(r.Context(), series, time.Duration(hours)*time.Hour)
	if err != nil {
		logging.Error("History query failed", "series", series, "hours", hours, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to query readings")
		return
	}

	rows := make([]map[string]any, 0, len(readings))
	for _, rd := range readings {
		rows = append(rows, historyRow(kind, rd))
	}
	jsonResponse(w, http.StatusOK, rows)
}

func historyRow(kind string, rd storage.Reading) map[string]any {
	row := map[string]any{"timestamp": storage.FormatTimestamp(rd.Time())}
	switch v := rd.(type) {
	case storage.TemperatureReading:
		switch kind {
		case "o":
			row["outdoor_temp_C"] = v.OutdoorC
		case "i":
			row["indoor_temp_C"] = v.IndoorC
		default:
			row["indoor_temp_C"] = v.IndoorC
			row["outdoor_temp_C"] = v.OutdoorC
		}
	case storage.SolarReading:
		row["voltage_V"] = v.VoltageV
		row["current_mA"] = v.CurrentMA
		row["power_mW"] = v.PowerMW
	}
	return row
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if h.Transport != nil {
		body["transport"] = h.Transport.State().String()
		if err := h.Transport.LastConnectError(); err != nil {
			body["lastConnectError"] = err.Error()
		}
	}
	if h.Tasks != nil {
		body["tasks"] = h.Tasks.Status()
	}
	jsonResponse(w, http.StatusOK, body)
}
