package http

import (
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/opportunity"
)

// --- Opportunity Endpoints ---

// FeaturingPreview handles GET /api/v1/opportunities/featuring-preview
//
// Dry run of the digest's featuring pick: freshness-ranked, capped,
// nothing marked. The newsletter agent and operators see the same list
// the next assembled issue would use.
func (h *Handlers) FeaturingPreview(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "date", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	picks, err := h.Opportunities.SelectForIssue(r.Context(), asOf)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if picks == nil {
		picks = []opportunity.Opportunity{}
	}
	writeJSON(w, http.StatusOK, picks)
}

// ReviewOpportunity handles POST /api/v1/opportunities/{id}/review
func (h *Handlers) ReviewOpportunity(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Opportunities.MarkReviewed(r.Context(), id); err != nil {
		writeDomainError(w, err, "opportunity not found")
		return
	}
	op, err := h.Opportunities.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "opportunity not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

type reassessRequest struct {
	Confidence float64 `json:"confidence"`
	Thesis     string  `json:"thesis,omitempty"`
}

// ReassessOpportunity handles POST /api/v1/opportunities/{id}/reassess
//
// Re-scoring resets the freshness clock; the analyst only calls this
// after genuinely revisiting the thesis.
func (h *Handlers) ReassessOpportunity(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[reassessRequest](w, r)
	if !ok {
		return
	}
	if err := h.Opportunities.Reassess(r.Context(), id, req.Confidence, req.Thesis); err != nil {
		writeDomainError(w, err, "opportunity not found")
		return
	}
	op, err := h.Opportunities.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "opportunity not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}
