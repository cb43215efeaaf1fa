package api

import (
	"net/http"
	"time"

	"github.com/fisaks/solarbox/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route of the gateway onto h.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	SetupRoutes(r, h)
	return r
}

func SetupRoutes(r chi.Router, h *Handler) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.Health)
	r.Get("/operations", h.ListOperations)
	r.Post("/ops/{operation}", h.InvokeOperation)

	// Relay
	r.Post("/r/on", h.RelayOn)
	r.Post("/r/off", h.RelayOff)
	r.Get("/r/latest", h.RelayLatest)

	// Live readings
	r.Get("/o/latest", h.OutdoorLatest)
	r.Get("/i/latest", h.IndoorLatest)
	r.Get("/s/latest", h.SolarLatest)
	r.Get("/t/latest", h.TemperatureLatest)

	// Archived readings
	r.Get("/{kind:[oits]}/{hours}", h.History)

	// Relay control settings
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Post("/auto", h.SetAutoMode)
		r.Post("/manual", h.SetManualMode)
		r.Post("/{threshold}", h.SetThreshold)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}
