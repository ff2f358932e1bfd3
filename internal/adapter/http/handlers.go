package http

import (
	"net/http"

	"github.com/signaldesk/signaldesk/internal/adapter/ws"
	"github.com/signaldesk/signaldesk/internal/adapter/otel"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
	"github.com/signaldesk/signaldesk/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Ingest        *service.IngestService
	Queue         *service.QueueService
	Negotiations  *service.NegotiationService
	Governor      *service.GovernorService
	Predictions   *service.PredictionService
	Opportunities *service.FreshnessService
	Digest        *service.DigestService

	// Bus reports broker connectivity for /health. Optional.
	Bus messagequeue.Queue
	// Hub serves /ws when set.
	Hub *ws.Hub
	// Metrics is optional; nil disables instrument updates.
	Metrics *otel.Metrics
}

// Version handles GET /api/v1/
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	type healthStatus struct {
		Status string `json:"status"`
		NATS   string `json:"nats"`
	}

	status := healthStatus{Status: "ok", NATS: "not configured"}
	if h.Bus != nil {
		if h.Bus.IsConnected() {
			status.NATS = "connected"
		} else {
			status.NATS = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, status)
}
