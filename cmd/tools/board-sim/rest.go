package main

import (
	"encoding/json"
	"net/http"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/go-chi/chi/v5"
)

type BoardState struct {
	IndoorC        float64 `json:"indoorC"`
	OutdoorC       float64 `json:"outdoorC"`
	VoltageV       float64 `json:"voltageV"`
	CurrentMA      float64 `json:"currentMA"`
	Relay          bool    `json:"relay"`
	Auto           bool    `json:"auto"`
	OnV            float64 `json:"onV"`
	OffV           float64 `json:"offV"`
	IndoorMissing  bool    `json:"indoorMissing"`
	OutdoorMissing bool    `json:"outdoorMissing"`
	INA219Missing  bool    `json:"ina219Missing"`
}

// BoardPatch sets the fields that are present.
type BoardPatch struct {
	IndoorC        *float64 `json:"indoorC,omitempty"`
	OutdoorC       *float64 `json:"outdoorC,omitempty"`
	VoltageV       *float64 `json:"voltageV,omitempty"`
	CurrentMA      *float64 `json:"currentMA,omitempty"`
	Relay          *bool    `json:"relay,omitempty"`
	IndoorMissing  *bool    `json:"indoorMissing,omitempty"`
	OutdoorMissing *bool    `json:"outdoorMissing,omitempty"`
	INA219Missing  *bool    `json:"ina219Missing,omitempty"`
}

func (b *Board) State() BoardState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BoardState{
		IndoorC: b.IndoorC, OutdoorC: b.OutdoorC, VoltageV: b.VoltageV, CurrentMA: b.CurrentMA,
		Relay: b.Relay, Auto: b.Auto, OnV: b.OnV, OffV: b.OffV,
		IndoorMissing: b.IndoorMissing, OutdoorMissing: b.OutdoorMissing, INA219Missing: b.INA219Missing,
	}
}

func (b *Board) Apply(p BoardPatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	flag := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&b.IndoorC, p.IndoorC)
	set(&b.OutdoorC, p.OutdoorC)
	set(&b.VoltageV, p.VoltageV)
	set(&b.CurrentMA, p.CurrentMA)
	flag(&b.Relay, p.Relay)
	flag(&b.IndoorMissing, p.IndoorMissing)
	flag(&b.OutdoorMissing, p.OutdoorMissing)
	flag(&b.INA219Missing, p.INA219Missing)
	b.follow()
}

func newRestRouter(board *Board) http.Handler {
	r := chi.NewRouter()
	r.Get("/board", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, board.State())
	})
	r.Patch("/board", func(w http.ResponseWriter, r *http.Request) {
		var p BoardPatch
		if err := readJSON(r, &p); err != nil {
			fail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		board.Apply(p)
		writeJSON(w, http.StatusOK, board.State())
	})
	return r
}

// StartRestAPI serves the control API used to steer readings and sensor faults while the gateway runs.
func StartRestAPI(addr string, board *Board) error {
	logging.Info("Board simulator control API listening", "addr", addr)
	return http.ListenAndServe(addr, newRestRouter(board))
}

/* ------------------------ helpers: json & errors ------------------------ */

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
