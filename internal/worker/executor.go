package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/signaldesk/signaldesk/internal/adapter/otel"
	"github.com/signaldesk/signaldesk/internal/adapter/ws"
	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/budget"
	"github.com/signaldesk/signaldesk/internal/domain/negotiation"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/broadcast"
	"github.com/signaldesk/signaldesk/internal/port/reasoner"
	"github.com/signaldesk/signaldesk/internal/service"
)

// reasonRequest is the envelope serialized for every reasoning call.
type reasonRequest struct {
	TaskID        string                 `json:"task_id"`
	TaskType      string                 `json:"task_type"`
	Role          string                 `json:"role"`
	Payload       any                    `json:"payload"`
	Negotiation   *task.NegotiationBrief `json:"negotiation,omitempty"`
	Answered      []answeredNegotiation  `json:"answered_negotiations,omitempty"`
	PriorAttempts []priorAttempt         `json:"prior_attempts,omitempty"`
}

// answeredNegotiation summarizes an answered or expired negotiation the
// executing agent has not folded into a run yet.
type answeredNegotiation struct {
	NegotiationID   string `json:"negotiation_id"`
	RespondingAgent string `json:"responding_agent"`
	Status          string `json:"status"`
	CriteriaMet     *bool  `json:"criteria_met,omitempty"`
	ResponseSummary string `json:"response_summary,omitempty"`
}

// priorAttempt feeds an earlier attempt's self-rating back into a retry
// so the reasoner can change strategy instead of re-running the same one.
type priorAttempt struct {
	Attempt      int             `json:"attempt"`
	QualityScore int             `json:"quality_score"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Executor runs one claimed task end to end: it charges every unit of
// work against the task's budget ceilings, drives the self-rating retry
// protocol, spends subtask budget on the fan-out the result asks for,
// and writes the outcome back through the queue service. Exhausting a
// ceiling is never an abort; whatever output exists ships with caveats.
type Executor struct {
	queue        *service.QueueService
	negotiations *service.NegotiationService
	governor     *service.GovernorService
	reasoner     reasoner.Reasoner
	cache        reasoner.CacheChecker
	pool         *Pool

	alerts  *service.AlertService
	metrics *otel.Metrics
	events  broadcast.Broadcaster
}

// NewExecutor creates an Executor. The pool bounds concurrent reasoning
// calls and may be shared across executors.
func NewExecutor(queue *service.QueueService, negotiations *service.NegotiationService, governor *service.GovernorService, r reasoner.Reasoner, pool *Pool) *Executor {
	e := &Executor{
		queue:        queue,
		negotiations: negotiations,
		governor:     governor,
		reasoner:     r,
		pool:         pool,
	}
	if cc, ok := r.(reasoner.CacheChecker); ok {
		e.cache = cc
	}
	return e
}

// SetAlerts wires operator alert delivery. Optional.
func (e *Executor) SetAlerts(a *service.AlertService) { e.alerts = a }

// SetMetrics wires metric instruments. Optional.
func (e *Executor) SetMetrics(m *otel.Metrics) { e.metrics = m }

// SetEvents wires dashboard event broadcasting. Optional.
func (e *Executor) SetEvents(b broadcast.Broadcaster) { e.events = b }

// Execute runs a claimed task to a terminal status. It never returns an
// error: every outcome is recorded on the task itself, and a task left
// in_progress (process death, shutdown mid-call) is the reclaim sweep's
// problem, not the caller's.
func (e *Executor) Execute(ctx context.Context, t *task.Task) {
	agent := string(t.AssignedTo)
	log := slog.With("task_id", t.ID, "task_type", t.Type, "agent", agent)
	start := time.Now()

	limits := e.governor.EffectiveLimits(t.Input.Budget)
	tracker := budget.NewTracker(limits)

	e.broadcastTask(ctx, ws.EventTaskClaimed, t, agent)

	payload, err := task.DecodePayload(t.Type, t.Input.Payload)
	if err != nil {
		e.fail(ctx, t, tracker, agent, fmt.Sprintf("bad input payload: %v", err), log)
		return
	}

	req := reasonRequest{
		TaskID:      t.ID,
		TaskType:    string(t.Type),
		Role:        agent,
		Payload:     payload,
		Negotiation: t.Input.Negotiation,
	}

	// Fold in negotiation outcomes that arrived since this agent last
	// ran. Consumption is non-blocking: a listing failure means the
	// outcomes surface on the next run instead.
	folded := e.foldAnswered(ctx, agent, &req, log)

	result, notes, caveats, lowConfidence, stopReason := e.attemptLoop(ctx, t, tracker, &req, log)
	if result == nil {
		if ctx.Err() != nil {
			// Shutdown or cancellation mid-call: leave the task
			// in_progress for the reclaim sweep.
			log.Info("execution abandoned", "reason", ctx.Err())
			return
		}
		if stopReason == "" {
			// attemptLoop already failed the task.
			return
		}
		// Ceiling hit before the first call produced anything. Partial
		// output beats no output, but there is none; complete with an
		// empty unsuccessful envelope rather than burning an attempt.
		result = &task.Output{}
		caveats = append(caveats, "budget exhausted before any reasoning call completed")
	}

	droppedNeg, droppedData := result.ClampFanOut()
	if droppedNeg > 0 || droppedData > 0 {
		log.Warn("fan-out over cap, dropped",
			"negotiation_requests", droppedNeg,
			"data_requests", droppedData)
		caveats = append(caveats, fmt.Sprintf("fan-out clamped: dropped %d negotiation and %d data requests over cap", droppedNeg, droppedData))
	}

	if t.Input.Negotiation != nil {
		e.respondNegotiation(ctx, t, result, log)
	}

	caveats = append(caveats, e.fanOut(ctx, t, tracker, result, agent, log)...)

	// Success means an attempt reached a usable result. Output that ships
	// flagged low confidence is not an unqualified success downstream.
	success := len(notes) > 0 && !lowConfidence
	result.TaskID = t.ID
	result.Success = success
	result.BudgetUsage = tracker.Usage()
	result.Attempts = notes
	result.Caveats = append(result.Caveats, caveats...)
	result.LowConfidence = result.LowConfidence || lowConfidence

	alertCount := 0
	if result.Alert {
		alertCount = 1
	}
	if err := e.governor.RecordUsage(ctx, agent, tracker.Usage(), alertCount); err != nil {
		log.Warn("daily usage not recorded", "error", err)
	}

	if err := e.queue.Complete(ctx, t.ID, result); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The reclaim sweep took the task back while we worked.
			// Another worker owns it now; our result is void.
			log.Warn("task no longer in progress, result dropped", "error", err)
			return
		}
		log.Error("task result not persisted", "error", err)
		return
	}

	if stopReason != "" {
		e.recordBudgetStop(ctx, t, tracker, agent, stopReason)
	}
	if result.Alert {
		e.alerts.TaskAlert(ctx, agent, t.ID, result.AlertMessage)
	}

	e.broadcastTask(ctx, ws.EventTaskCompleted, t, agent)
	if e.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("task.type", string(t.Type)),
			attribute.String("agent", agent),
		)
		e.metrics.TasksCompleted.Add(ctx, 1, attrs)
		e.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		e.metrics.TaskCost.Record(ctx, e.governor.CostEstimate(tracker.Usage()), attrs)
	}

	log.Info("task completed",
		"quality_score", result.QualityScore,
		"attempts", len(notes),
		"llm_calls", result.BudgetUsage.LLMCallsUsed,
		"low_confidence", result.LowConfidence,
		"folded_negotiations", len(folded),
	)

	if len(folded) > 0 {
		if _, err := e.negotiations.MarkConsumed(ctx, folded); err != nil {
			log.Warn("negotiation outcomes not marked consumed", "error", err)
		}
	}
}

// attemptLoop drives the self-rating retry protocol. It returns the
// best result produced (nil if none), the attempt notes, caveats,
// whether the result must ship flagged low confidence, and the budget
// stop reason if a ceiling ended the loop early. A nil result with an
// empty stop reason means the task was already failed on a hard error.
func (e *Executor) attemptLoop(ctx context.Context, t *task.Task, tracker *budget.Tracker, req *reasonRequest, log *slog.Logger) (best *task.Output, notes []task.AttemptNote, caveats []string, lowConfidence bool, stopReason string) {
	bestScore := -1

	for attempt := 1; ; attempt++ {
		body, err := json.Marshal(req)
		if err != nil {
			e.fail(ctx, t, tracker, string(t.AssignedTo), fmt.Sprintf("marshal reasoning request: %v", err), log)
			return nil, nil, nil, false, ""
		}

		// An answer the reasoner already holds for this exact payload is
		// free: only a live call charges the llm_call ceiling.
		raw, hit := e.cachedAnswer(ctx, string(t.Type), body)
		if !hit {
			if err := tracker.Spend(budget.KindLLMCall); err != nil {
				stopReason = err.Error()
				break
			}

			raw, err = e.callReasoner(ctx, t, body)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, nil, false, ""
				}
				e.fail(ctx, t, tracker, string(t.AssignedTo), fmt.Sprintf("reasoning call failed: %v", err), log)
				return nil, nil, nil, false, ""
			}
		}

		out := &task.Output{}
		if err := json.Unmarshal(raw, out); err != nil {
			e.fail(ctx, t, tracker, string(t.AssignedTo), fmt.Sprintf("unparseable reasoning result: %v", err), log)
			return nil, nil, nil, false, ""
		}

		score := out.QualityScore
		note := task.AttemptNote{Attempt: attempt, QualityScore: score}

		if score > bestScore {
			best, bestScore = out, score
		}

		if score >= task.MinShipScore {
			notes = append(notes, note)
			return best, notes, caveats, false, stopReason
		}

		if !tracker.CanSpend(budget.KindRetry) || !tracker.CanSpend(budget.KindLLMCall) {
			notes = append(notes, note)
			if bestScore >= task.MinRetryScore {
				caveats = append(caveats, fmt.Sprintf("self-rated %d/10 with no retry budget left", bestScore))
			} else {
				lowConfidence = true
				caveats = append(caveats, fmt.Sprintf("self-rated %d/10, below usable threshold, shipping low confidence", bestScore))
			}
			return best, notes, caveats, lowConfidence, stopReason
		}

		// Retry with a changed strategy: the next call carries this
		// attempt's critique so the reasoner cannot just re-run it.
		_ = tracker.Spend(budget.KindRetry)
		note.RetryReason = fmt.Sprintf("self-rated %d, below ship threshold %d", score, task.MinShipScore)
		note.Adjustment = "reasoning with prior attempt critique attached"
		notes = append(notes, note)
		req.PriorAttempts = append(req.PriorAttempts, priorAttempt{
			Attempt:      attempt,
			QualityScore: score,
			Result:       out.Result,
		})
		if e.metrics != nil {
			e.metrics.TaskRetries.Add(ctx, 1, metric.WithAttributes(
				attribute.String("task.type", string(t.Type)),
			))
		}
		log.Info("retrying below ship threshold", "attempt", attempt, "quality_score", score)
	}

	return best, notes, caveats, lowConfidence, stopReason
}

// cachedAnswer probes the reasoner's response cache when it exposes one.
func (e *Executor) cachedAnswer(ctx context.Context, taskType string, body []byte) (json.RawMessage, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.Cached(ctx, taskType, body)
}

// callReasoner makes one bounded live reasoning call.
func (e *Executor) callReasoner(ctx context.Context, t *task.Task, body []byte) (json.RawMessage, error) {
	if e.metrics != nil {
		e.metrics.ReasoningCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task.type", string(t.Type)),
		))
	}

	var raw json.RawMessage
	err := e.pool.Run(ctx, func() error {
		var callErr error
		raw, callErr = e.reasoner.Reason(ctx, string(t.Type), body)
		return callErr
	})
	return raw, err
}

// foldAnswered attaches pending negotiation outcomes to the request and
// returns their IDs so they can be marked consumed after a successful run.
func (e *Executor) foldAnswered(ctx context.Context, agent string, req *reasonRequest, log *slog.Logger) []string {
	pending, err := e.negotiations.PendingFor(ctx, agent)
	if err != nil {
		log.Warn("answered negotiations not listed", "error", err)
		return nil
	}

	ids := make([]string, 0, len(pending))
	for _, n := range pending {
		req.Answered = append(req.Answered, answeredNegotiation{
			NegotiationID:   n.ID,
			RespondingAgent: n.RespondingAgent,
			Status:          string(n.Status),
			CriteriaMet:     n.CriteriaMet,
			ResponseSummary: n.ResponseSummary,
		})
		ids = append(ids, n.ID)
	}
	return ids
}

// respondNegotiation records this task's answer on the negotiation that
// spawned it. A refusal (timed out or already closed while we worked) is
// logged and swallowed: the result still completes normally.
func (e *Executor) respondNegotiation(ctx context.Context, t *task.Task, result *task.Output, log *slog.Logger) {
	brief := t.Input.Negotiation
	criteriaMet := false
	if result.NegotiationCriteriaMet != nil {
		criteriaMet = *result.NegotiationCriteriaMet
	}

	n, err := e.negotiations.Respond(ctx, brief.NegotiationID, criteriaMet, result.NegotiationResponseSummary)
	if err != nil {
		log.Warn("negotiation response not recorded",
			"negotiation_id", brief.NegotiationID,
			"round", brief.Round,
			"error", err)
		return
	}

	if e.events != nil {
		e.events.BroadcastEvent(ctx, ws.EventNegotiationClosed, ws.NegotiationEvent{
			NegotiationID:   n.ID,
			Round:           n.Round,
			Status:          string(n.Status),
			RequestingAgent: n.RequestingAgent,
			RespondingAgent: n.RespondingAgent,
		})
	}
}

// fanOut spends subtask budget on the negotiations and data requests the
// result asked for. Ceiling exhaustion drops the remainder with a caveat
// rather than blocking completion.
func (e *Executor) fanOut(ctx context.Context, t *task.Task, tracker *budget.Tracker, result *task.Output, agent string, log *slog.Logger) []string {
	var caveats []string

	for _, ask := range result.NegotiationRequests {
		if err := tracker.Spend(budget.KindSubtask); err != nil {
			caveats = append(caveats, "subtask budget exhausted, dropped remaining fan-out")
			return caveats
		}

		n, _, err := e.negotiations.Open(ctx, negotiation.OpenRequest{
			RequestingAgent: agent,
			RespondingAgent: string(ask.TargetAgent),
			RequestTaskID:   t.ID,
			RequestSummary:  ask.Request,
			QualityCriteria: ask.MinQuality,
			NeededBy:        ask.NeededBy,
		}, task.EnqueueRequest{
			Type:      ask.TaskType,
			CreatedBy: agent,
			Input:     task.Input{Payload: ask.InputData},
		})
		if err != nil {
			// Cap violations and bad asks refuse individually; the
			// rest of the fan-out still goes out.
			log.Warn("negotiation not opened", "target_agent", ask.TargetAgent, "error", err)
			caveats = append(caveats, fmt.Sprintf("negotiation with %s refused: %v", ask.TargetAgent, err))
			continue
		}

		if e.metrics != nil {
			e.metrics.NegotiationRounds.Add(ctx, 1, metric.WithAttributes(
				attribute.String("requesting_agent", agent),
				attribute.String("responding_agent", string(ask.TargetAgent)),
			))
		}
		if e.events != nil {
			e.events.BroadcastEvent(ctx, ws.EventNegotiationRound, ws.NegotiationEvent{
				NegotiationID:   n.ID,
				Round:           n.Round,
				Status:          string(n.Status),
				RequestingAgent: n.RequestingAgent,
				RespondingAgent: n.RespondingAgent,
			})
		}
	}

	for _, dr := range result.DataRequests {
		if err := tracker.Spend(budget.KindSubtask); err != nil {
			caveats = append(caveats, "subtask budget exhausted, dropped remaining data requests")
			return caveats
		}

		payload, err := json.Marshal(task.ResearchRequestPayload{
			Type:    dr.Type,
			Source:  dr.Source,
			Filters: dr.Filters,
			Reason:  dr.Reason,
		})
		if err != nil {
			log.Error("data request not marshaled", "error", err)
			continue
		}

		if _, err := e.queue.Enqueue(ctx, task.EnqueueRequest{
			Type:       task.TypeResearchRequest,
			AssignedTo: task.RoleResearch,
			CreatedBy:  agent,
			Input:      task.Input{Payload: payload},
		}); err != nil {
			log.Warn("data request not enqueued", "type", dr.Type, "error", err)
			caveats = append(caveats, fmt.Sprintf("data request %q refused: %v", dr.Type, err))
		}
	}

	return caveats
}

// fail moves the task to failed and records whatever budget was burned
// getting there. The ledger observes actual consumption, including on
// failures.
func (e *Executor) fail(ctx context.Context, t *task.Task, tracker *budget.Tracker, agent, msg string, log *slog.Logger) {
	if err := e.queue.Fail(ctx, t.ID, msg); err != nil {
		log.Error("task not marked failed", "error", err)
	}
	if err := e.governor.RecordUsage(ctx, agent, tracker.Usage(), 0); err != nil {
		log.Warn("daily usage not recorded", "error", err)
	}

	e.broadcastTask(ctx, ws.EventTaskFailed, t, agent)
	if e.metrics != nil {
		e.metrics.TasksFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task.type", string(t.Type)),
			attribute.String("agent", agent),
		))
	}
	log.Error("task failed", "reason", msg)
}

func (e *Executor) recordBudgetStop(ctx context.Context, t *task.Task, tracker *budget.Tracker, agent, reason string) {
	if e.metrics != nil {
		e.metrics.BudgetStops.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task.type", string(t.Type)),
			attribute.String("agent", agent),
		))
	}
	if e.events != nil {
		u := tracker.Usage()
		e.events.BroadcastEvent(ctx, ws.EventTaskBudgetStop, ws.BudgetStopEvent{
			TaskID:         t.ID,
			Reason:         reason,
			LLMCallsUsed:   u.LLMCallsUsed,
			ElapsedSeconds: float64(u.ElapsedSeconds),
		})
	}
	e.alerts.BudgetStop(ctx, agent, t.ID, reason)
}

func (e *Executor) broadcastTask(ctx context.Context, eventType string, t *task.Task, agent string) {
	if e.events == nil {
		return
	}
	status := task.StatusInProgress
	switch eventType {
	case ws.EventTaskCompleted:
		status = task.StatusCompleted
	case ws.EventTaskFailed:
		status = task.StatusFailed
	}
	e.events.BroadcastEvent(ctx, eventType, ws.TaskEvent{
		TaskID:    t.ID,
		Type:      string(t.Type),
		Role:      string(t.AssignedTo),
		Status:    string(status),
		AgentName: agent,
	})
}
