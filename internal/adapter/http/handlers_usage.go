package http

import (
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/budget"
)

// --- Daily Usage Endpoints ---

// DailyUsage handles GET /api/v1/usage
//
// The ledger observes, it never gates: these numbers feed dashboards
// and alert thresholds, not admission control.
func (h *Handlers) DailyUsage(w http.ResponseWriter, r *http.Request) {
	day, err := queryDate(r, "date", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	usage, err := h.Governor.UsageOn(r.Context(), day)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if usage == nil {
		usage = []budget.DailyUsage{}
	}
	writeJSON(w, http.StatusOK, usage)
}

// AgentDailyUsage handles GET /api/v1/usage/{agent}
func (h *Handlers) AgentDailyUsage(w http.ResponseWriter, r *http.Request) {
	agent := urlParam(r, "agent")
	day, err := queryDate(r, "date", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	usage, err := h.Governor.UsageFor(r.Context(), agent, day)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
