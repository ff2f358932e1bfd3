package http

import (
	"net/http"

	"github.com/signaldesk/signaldesk/internal/domain/item"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// --- Source Ingest Endpoints ---

// UpsertItem handles POST /api/v1/items
//
// Scrapers re-deliver freely; the (source, source_id) key makes this
// safe to replay, so the response is 200 for both insert and refresh.
func (h *Handlers) UpsertItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[item.UpsertRequest](w, r)
	if !ok {
		return
	}
	it, err := h.Ingest.Upsert(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// ListItems handles GET /api/v1/items
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	filter := database.ItemFilter{
		Source:      r.URL.Query().Get("source"),
		Unprocessed: r.URL.Query().Get("unprocessed") == "true",
		Limit:       queryInt(r, "limit", 50),
		Offset:      queryInt(r, "offset", 0),
	}
	items, err := h.Ingest.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []item.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

type dispatchItemsRequest struct {
	BatchSize int `json:"batch_size"`
}

// DispatchItems handles POST /api/v1/items/dispatch
//
// Batches unprocessed items into one extract_problems task and marks
// them processed, so a crashed processor never strands a half-read
// batch.
func (h *Handlers) DispatchItems(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[dispatchItemsRequest](w, r)
	if !ok {
		return
	}

	t, count, err := h.Ingest.DispatchUnprocessed(r.Context(), req.BatchSize)
	if err != nil {
		writeDomainError(w, err, "dispatch failed")
		return
	}
	if count == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"items": 0})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": count, "task": t})
}
