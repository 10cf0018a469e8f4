package server

import (
	"encoding/json"
	"net/http"

	"github.com/desertthunder/ambi/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reporter is the part of a session the status endpoints read.
type Reporter interface {
	Status() session.Status
	Sounds() []session.SoundView
}

// StatusHandler serves JSON snapshots of a running session.
type StatusHandler struct {
	reporter Reporter
}

func NewStatusHandler(r Reporter) *StatusHandler {
	return &StatusHandler{reporter: r}
}

func (h *StatusHandler) Routes() []string {
	return []string{"/status", "/status/sounds"}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/status":
		writeJSON(w, http.StatusOK, h.reporter.Status())
	case "/status/sounds":
		writeJSON(w, http.StatusOK, h.reporter.Sounds())
	default:
		http.NotFound(w, r)
	}
}

// MetricsHandler exposes the default Prometheus registry.
type MetricsHandler struct {
	http.Handler
}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{Handler: promhttp.Handler()}
}

func (h *MetricsHandler) Routes() []string {
	return []string{"/metrics"}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
