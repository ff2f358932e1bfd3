package http

import (
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// --- Prediction Ledger Endpoints ---

// ListPredictions handles GET /api/v1/predictions
func (h *Handlers) ListPredictions(w http.ResponseWriter, r *http.Request) {
	before, err := queryDate(r, "target_before", time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	after, err := queryDate(r, "target_after", time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.PredictionFilter{
		Status:       prediction.Status(r.URL.Query().Get("status")),
		TargetBefore: before,
		TargetAfter:  after,
		Limit:        queryInt(r, "limit", 50),
		Offset:       queryInt(r, "offset", 0),
	}
	predictions, err := h.Predictions.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if predictions == nil {
		predictions = []prediction.Prediction{}
	}
	writeJSON(w, http.StatusOK, predictions)
}

// ListStalePredictions handles GET /api/v1/predictions/stale
//
// Everything returned here blocks digest publication until resolved.
func (h *Handlers) ListStalePredictions(w http.ResponseWriter, r *http.Request) {
	stale, err := h.Predictions.Stale(r.Context(), time.Now())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if stale == nil {
		stale = []prediction.Prediction{}
	}
	writeJSON(w, http.StatusOK, stale)
}

// ListPublishablePredictions handles GET /api/v1/predictions/publishable
func (h *Handlers) ListPublishablePredictions(w http.ResponseWriter, r *http.Request) {
	publishable, err := h.Predictions.Publishable(r.Context(), time.Now())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if publishable == nil {
		publishable = []prediction.Prediction{}
	}
	writeJSON(w, http.StatusOK, publishable)
}

// TrackPrediction handles POST /api/v1/predictions/{id}/track
func (h *Handlers) TrackPrediction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[prediction.TrackRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Predictions.Track(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "prediction not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type resolvePredictionRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes,omitempty"`
}

// ResolvePrediction handles POST /api/v1/predictions/{id}/resolve
func (h *Handlers) ResolvePrediction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[resolvePredictionRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Predictions.Resolve(r.Context(), id, prediction.Status(req.Outcome), req.Notes)
	if err != nil {
		writeDomainError(w, err, "prediction not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PredictionHistory handles GET /api/v1/predictions/{id}/history
func (h *Handlers) PredictionHistory(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	entries, err := h.Predictions.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "prediction not found")
		return
	}
	if entries == nil {
		entries = []prediction.TrackingEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
