package http

import (
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/adapter/ws"
)

// --- Digest Endpoints ---

type assembleDigestRequest struct {
	IssueDate string `json:"issue_date,omitempty"` // YYYY-MM-DD, default today
}

// AssembleDigest handles POST /api/v1/digest/issues
func (h *Handlers) AssembleDigest(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[assembleDigestRequest](w, r)
	if !ok {
		return
	}
	issueDate := time.Now()
	if req.IssueDate != "" {
		parsed, err := time.Parse("2006-01-02", req.IssueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "issue_date must be YYYY-MM-DD")
			return
		}
		issueDate = parsed
	}

	issue, err := h.Digest.Assemble(r.Context(), issueDate)
	if err != nil {
		writeDomainError(w, err, "digest assembly failed")
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// GetDigestByDate handles GET /api/v1/digest/issues
func (h *Handlers) GetDigestByDate(w http.ResponseWriter, r *http.Request) {
	day, err := queryDate(r, "date", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issue, err := h.Digest.GetByDate(r.Context(), day)
	if err != nil {
		writeDomainError(w, err, "no issue for that date")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// PublishDigest handles POST /api/v1/digest/issues/{id}/publish
//
// Fails when the draft references a prediction that has since gone
// stale; resolve or drop those first.
func (h *Handlers) PublishDigest(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	issue, err := h.Digest.Publish(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "digest issue not found")
		return
	}

	if h.Hub != nil {
		h.Hub.BroadcastEvent(r.Context(), ws.EventDigestPublished, ws.DigestEvent{
			IssueID:   issue.ID,
			IssueDate: issue.IssueDate.Format("2006-01-02"),
			Status:    string(issue.Status),
		})
	}
	writeJSON(w, http.StatusOK, issue)
}
