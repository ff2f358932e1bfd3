package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/budget"
)

// Fan-out caps enforced on every task output. A single execution may ask
// for bounded help only; anything past the cap is dropped, which keeps
// one bad reasoning result from flooding the queue.
const (
	MaxNegotiationRequests = 2
	MaxDataRequests        = 3
)

// Input is the envelope stored in a task's input_data column. The budget
// always travels with the task; the payload varies by task type and is
// decoded with DecodePayload.
type Input struct {
	Budget      budget.Limits     `json:"budget"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Negotiation *NegotiationBrief `json:"negotiation_request,omitempty"`
}

// NegotiationBrief is the context handed to the responding worker inside
// the response task's input. It carries everything the responder needs to
// answer without loading the negotiation row first.
type NegotiationBrief struct {
	NegotiationID   string    `json:"negotiation_id"`
	RequestingAgent string    `json:"requesting_agent"`
	RequestSummary  string    `json:"request_summary"`
	QualityCriteria string    `json:"quality_criteria"`
	NeededBy        time.Time `json:"needed_by"`
	Round           int       `json:"round"`
}

// NegotiationAsk is one negotiation request emitted in a task's output.
type NegotiationAsk struct {
	TargetAgent Role            `json:"target_agent"`
	Request     string          `json:"request"`
	MinQuality  string          `json:"min_quality"`
	NeededBy    time.Time       `json:"needed_by"`
	TaskType    Type            `json:"task_type"`
	InputData   json.RawMessage `json:"input_data,omitempty"`
}

// DataRequest is an autonomous enrichment ask fulfilled asynchronously by
// the research role, never within the emitting task's run.
type DataRequest struct {
	Type    string            `json:"type"`
	Source  string            `json:"source,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	Reason  string            `json:"reason"`
}

// Self-rating bands. A result scoring MinShipScore or better ships
// as-is. Scores in [MinRetryScore, MinShipScore) retry with a changed
// strategy while retry budget remains, else ship with caveats. Anything
// below MinRetryScore retries if possible and otherwise ships flagged
// low confidence.
const (
	MinShipScore  = 8
	MinRetryScore = 5
)

// AttemptNote records one self-rated attempt within an execution. Retries
// must name what changed; a bare re-run with the same strategy is not a
// permitted retry.
type AttemptNote struct {
	Attempt      int    `json:"attempt"`
	QualityScore int    `json:"quality_score"`
	RetryReason  string `json:"retry_reason,omitempty"`
	Adjustment   string `json:"adjustment,omitempty"`
}

// Output is the envelope stored in a task's output_data column. It is
// emitted even when the budget ran out mid-work: partial output always
// beats no output.
type Output struct {
	Success                    bool             `json:"success"`
	TaskID                     string           `json:"task_id"`
	Result                     json.RawMessage  `json:"result,omitempty"`
	BudgetUsage                budget.Usage     `json:"budget_usage"`
	DataRequests               []DataRequest    `json:"data_requests,omitempty"`
	QualityScore               int              `json:"quality_score,omitempty"`
	NegotiationRequests        []NegotiationAsk `json:"negotiation_requests,omitempty"`
	NegotiationCriteriaMet     *bool            `json:"negotiation_criteria_met,omitempty"`
	NegotiationResponseSummary string           `json:"negotiation_response_summary,omitempty"`
	Alert                      bool             `json:"alert,omitempty"`
	AlertMessage               string           `json:"alert_message,omitempty"`
	Caveats                    []string         `json:"caveats,omitempty"`
	LowConfidence              bool             `json:"low_confidence,omitempty"`
	Attempts                   []AttemptNote    `json:"attempts,omitempty"`
}

// ClampFanOut truncates negotiation and data requests to their caps,
// returning how many of each were dropped so the caller can log the
// violation.
func (o *Output) ClampFanOut() (droppedNegotiations, droppedDataRequests int) {
	if n := len(o.NegotiationRequests); n > MaxNegotiationRequests {
		droppedNegotiations = n - MaxNegotiationRequests
		o.NegotiationRequests = o.NegotiationRequests[:MaxNegotiationRequests]
	}
	if n := len(o.DataRequests); n > MaxDataRequests {
		droppedDataRequests = n - MaxDataRequests
		o.DataRequests = o.DataRequests[:MaxDataRequests]
	}
	return droppedNegotiations, droppedDataRequests
}

// ExtractProblemsPayload references unprocessed ingest rows to mine for
// problem statements.
type ExtractProblemsPayload struct {
	ItemIDs []string `json:"item_ids"`
}

// ClusterOpportunitiesPayload bounds the clustering window.
type ClusterOpportunitiesPayload struct {
	WindowDays     int `json:"window_days,omitempty"`
	MinClusterSize int `json:"min_cluster_size,omitempty"`
}

// AnalyzeOpportunityPayload names the opportunity to deep-dive.
type AnalyzeOpportunityPayload struct {
	OpportunityID string `json:"opportunity_id"`
}

// TrackPredictionsPayload selects predictions to re-evaluate. Empty means
// every prediction currently due for tracking.
type TrackPredictionsPayload struct {
	PredictionIDs []string `json:"prediction_ids,omitempty"`
}

// ResearchRequestPayload is a targeted enrichment fetch, typically born
// from another task's data_requests.
type ResearchRequestPayload struct {
	Type    string            `json:"type"`
	Source  string            `json:"source,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	Reason  string            `json:"reason"`
}

// WriteDigestPayload names the issue date to assemble.
type WriteDigestPayload struct {
	IssueDate string `json:"issue_date"`
}

// DecodePayload unmarshals raw into the payload struct for the given task
// type. The switch is exhaustive over the closed Type set so a new task
// type cannot silently ship without a payload shape.
func DecodePayload(t Type, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var (
		out any
		err error
	)
	switch t {
	case TypeExtractProblems:
		p := &ExtractProblemsPayload{}
		err = json.Unmarshal(raw, p)
		out = p
	case TypeClusterOpportunities:
		p := &ClusterOpportunitiesPayload{}
		err = json.Unmarshal(raw, p)
		out = p
	case TypeAnalyzeOpportunity:
		p := &AnalyzeOpportunityPayload{}
		err = json.Unmarshal(raw, p)
		out = p
	case TypeTrackPredictions:
		p := &TrackPredictionsPayload{}
		err = json.Unmarshal(raw, p)
		out = p
	case TypeResearchRequest:
		p := &ResearchRequestPayload{}
		err = json.Unmarshal(raw, p)
		out = p
	case TypeWriteDigest:
		p := &WriteDigestPayload{}
		err = json.Unmarshal(raw, p)
		out = p
	default:
		return nil, fmt.Errorf("no payload shape for task type %q: %w", t, domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return out, nil
}
