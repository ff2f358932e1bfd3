//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/signaldesk/signaldesk/internal/adapter/postgres"
	"github.com/signaldesk/signaldesk/internal/domain/task"
)

func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(testServer.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestTaskLifecycle(t *testing.T) {
	cleanDB(testPool)
	store := postgres.NewStore(testPool)
	ctx := context.Background()

	// 1. Enqueue a task — defaults applied
	resp := postJSON(t, "/api/v1/tasks", map[string]any{
		"task_type":   "analyze_opportunity",
		"assigned_to": "analyst",
		"created_by":  "scheduler",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue: expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody[task.Task](t, resp)
	if created.Status != task.StatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}
	if created.Input.Budget.MaxLLMCalls == 0 {
		t.Fatal("expected default budget on enqueued task")
	}

	// 2. Listing pending analyst work shows it
	listResp, err := http.Get(testServer.URL + "/api/v1/tasks?status=pending&assigned_to=analyst")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	pending := decodeBody[[]task.Task](t, listResp)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(pending))
	}

	// 3. Claim moves it to in_progress exactly once
	claimed, err := store.ClaimTasks(ctx, task.RoleAnalyst, 5)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != created.ID {
		t.Fatalf("expected to claim %s, got %+v", created.ID, claimed)
	}
	again, err := store.ClaimTasks(ctx, task.RoleAnalyst, 5)
	if err != nil {
		t.Fatalf("second ClaimTasks: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("task claimed twice: %+v", again)
	}

	// 4. Complete through the API
	resp = postJSON(t, "/api/v1/tasks/"+created.ID+"/complete", map[string]any{
		"success":       true,
		"task_id":       created.ID,
		"quality_score": 9,
		"budget_usage":  map[string]any{"llm_calls_used": 3, "elapsed_seconds": 41},
	})
	done := decodeBody[task.Task](t, resp)
	if done.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	// 5. A finished task refuses a second transition
	resp = postJSON(t, "/api/v1/tasks/"+created.ID+"/complete", map[string]any{
		"success": true, "task_id": created.ID,
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double complete: expected 409, got %d", resp.StatusCode)
	}
}

func TestIngestToDispatch(t *testing.T) {
	cleanDB(testPool)

	// 1. Two scraped items land, one of them twice
	for _, sid := range []string{"hn-100", "hn-101", "hn-100"} {
		resp := postJSON(t, "/api/v1/items", map[string]any{
			"source":    "hackernews",
			"source_id": sid,
			"title":     "thread " + sid,
			"score":     87,
		})
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upsert %s: expected 200, got %d", sid, resp.StatusCode)
		}
	}

	listResp, err := http.Get(testServer.URL + "/api/v1/items?source=hackernews&unprocessed=true")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	items := decodeBody[[]map[string]any](t, listResp)
	if len(items) != 2 {
		t.Fatalf("redelivery must not duplicate: expected 2 items, got %d", len(items))
	}

	// 2. Dispatch bundles the batch into one processor task
	resp := postJSON(t, "/api/v1/items/dispatch", map[string]any{"batch_size": 10})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("dispatch: expected 201, got %d", resp.StatusCode)
	}
	dispatched := decodeBody[struct {
		Items int       `json:"items"`
		Task  task.Task `json:"task"`
	}](t, resp)
	if dispatched.Items != 2 {
		t.Fatalf("expected 2 items dispatched, got %d", dispatched.Items)
	}
	if dispatched.Task.Type != task.TypeExtractProblems {
		t.Fatalf("expected extract_problems task, got %s", dispatched.Task.Type)
	}

	// 3. Nothing left to dispatch
	resp = postJSON(t, "/api/v1/items/dispatch", map[string]any{"batch_size": 10})
	empty := decodeBody[struct {
		Items int `json:"items"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK || empty.Items != 0 {
		t.Fatalf("second dispatch: expected 200 with 0 items, got %d with %d", resp.StatusCode, empty.Items)
	}
}

func TestNegotiationLifecycle(t *testing.T) {
	cleanDB(testPool)
	store := postgres.NewStore(testPool)
	ctx := context.Background()

	// Seed an in-progress analyst task to negotiate from
	resp := postJSON(t, "/api/v1/tasks", map[string]any{
		"task_type":   "analyze_opportunity",
		"assigned_to": "analyst",
		"created_by":  "scheduler",
	})
	origin := decodeBody[task.Task](t, resp)
	if _, err := store.ClaimTasks(ctx, task.RoleAnalyst, 1); err != nil {
		t.Fatalf("claim origin: %v", err)
	}

	// 1. Open a negotiation — response task materializes for the counterparty
	resp = postJSON(t, "/api/v1/negotiations", map[string]any{
		"requesting_agent": "analyst",
		"responding_agent": "research",
		"request_task_id":  origin.ID,
		"request_summary":  "need adoption numbers for the memory-pooling thesis",
		"quality_criteria": "at least two independent sources",
		"needed_by":        time.Now().Add(4 * time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d", resp.StatusCode)
	}
	neg := decodeBody[struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		Round          int    `json:"round"`
		ResponseTaskID string `json:"response_task_id"`
	}](t, resp)
	if neg.Status != "open" || neg.Round != 1 {
		t.Fatalf("expected open round 1, got %s round %d", neg.Status, neg.Round)
	}

	taskResp, err := http.Get(testServer.URL + "/api/v1/tasks?type=research_request&assigned_to=research")
	if err != nil {
		t.Fatalf("list research tasks: %v", err)
	}
	researchTasks := decodeBody[[]task.Task](t, taskResp)
	if len(researchTasks) != 1 {
		t.Fatalf("expected 1 research_request task, got %d", len(researchTasks))
	}

	// 2. Responder meets the criteria — negotiation closes
	resp = postJSON(t, "/api/v1/negotiations/"+neg.ID+"/respond", map[string]any{
		"criteria_met":     true,
		"response_summary": "usage stats from two vendor reports attached",
	})
	closed := decodeBody[struct {
		Status string `json:"status"`
	}](t, resp)
	if closed.Status != "closed" {
		t.Fatalf("expected closed, got %s", closed.Status)
	}

	// 3. A closed negotiation takes no more rounds
	resp = postJSON(t, "/api/v1/negotiations/"+neg.ID+"/follow-up", map[string]any{})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("follow-up after close: expected 409, got %d", resp.StatusCode)
	}
}

func TestPredictionStaleness(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	// 1. Record a prediction and feed it one tracking observation
	resp := postJSON(t, "/api/v1/predictions", map[string]any{
		"prediction_text":    "vector database consolidation within two quarters",
		"initial_confidence": 0.7,
		"target_date":        time.Now().AddDate(0, 0, 30).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	pred := decodeBody[struct {
		ID         string  `json:"id"`
		Confidence float64 `json:"current_score"`
	}](t, resp)

	resp = postJSON(t, "/api/v1/predictions/"+pred.ID+"/track", map[string]any{
		"observed_signal": "two acquisitions announced this week",
		"score":           0.9,
	})
	tracked := decodeBody[struct {
		Confidence float64 `json:"current_score"`
	}](t, resp)
	if tracked.Confidence <= pred.Confidence {
		t.Fatalf("supporting signal must raise confidence: %f -> %f", pred.Confidence, tracked.Confidence)
	}

	// 2. Push the target date into the past — the prediction goes stale
	if _, err := testPool.Exec(ctx,
		"UPDATE predictions SET target_date = CURRENT_DATE - INTERVAL '2 days' WHERE id = $1", pred.ID); err != nil {
		t.Fatalf("backdate target: %v", err)
	}
	staleResp, err := http.Get(testServer.URL + "/api/v1/predictions/stale")
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	stale := decodeBody[[]map[string]any](t, staleResp)
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale prediction, got %d", len(stale))
	}

	// 3. Resolving clears it from the stale list
	resp = postJSON(t, "/api/v1/predictions/"+pred.ID+"/resolve", map[string]any{"outcome": "confirmed"})
	resolved := decodeBody[struct {
		Status string `json:"status"`
	}](t, resp)
	if resolved.Status != "confirmed" {
		t.Fatalf("expected confirmed, got %s", resolved.Status)
	}

	staleResp, err = http.Get(testServer.URL + "/api/v1/predictions/stale")
	if err != nil {
		t.Fatalf("list stale after resolve: %v", err)
	}
	stale = decodeBody[[]map[string]any](t, staleResp)
	if len(stale) != 0 {
		t.Fatalf("resolved prediction still listed stale: %d", len(stale))
	}
}

func TestDigestAssembleAndPublish(t *testing.T) {
	cleanDB(testPool)

	// Default config wants at least two entries per section.
	var oppIDs []string
	for i, conf := range []float64{0.9, 0.8} {
		resp := postJSON(t, "/api/v1/opportunities", map[string]any{
			"title":      fmt.Sprintf("opportunity %d", i+1),
			"confidence": conf,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("record opportunity: expected 201, got %d", resp.StatusCode)
		}
		opp := decodeBody[struct {
			ID string `json:"id"`
		}](t, resp)
		oppIDs = append(oppIDs, opp.ID)
	}
	for i := range 2 {
		resp := postJSON(t, "/api/v1/predictions", map[string]any{
			"prediction_text":    fmt.Sprintf("watch item %d", i+1),
			"initial_confidence": 0.6,
			"target_date":        time.Now().AddDate(0, 0, 45).Format(time.RFC3339),
		})
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("record prediction: expected 201, got %d", resp.StatusCode)
		}
	}

	// 1. Assemble a draft issue
	resp := postJSON(t, "/api/v1/digest/issues", map[string]any{"issue_date": "2026-09-01"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assemble: expected 201, got %d", resp.StatusCode)
	}
	issue := decodeBody[struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Content struct {
			Sections []struct {
				Name string `json:"name"`
			} `json:"sections"`
		} `json:"content"`
	}](t, resp)
	if issue.Status != "draft" {
		t.Fatalf("expected draft, got %s", issue.Status)
	}
	if len(issue.Content.Sections) == 0 {
		t.Fatal("expected at least one section in the issue")
	}

	// 2. Publish — featured opportunities get their counters bumped
	resp = postJSON(t, "/api/v1/digest/issues/"+issue.ID+"/publish", nil)
	published := decodeBody[struct {
		Status string `json:"status"`
	}](t, resp)
	if published.Status != "published" {
		t.Fatalf("expected published, got %s", published.Status)
	}

	oppResp, err := http.Get(testServer.URL + "/api/v1/opportunities/" + oppIDs[0])
	if err != nil {
		t.Fatalf("get opportunity: %v", err)
	}
	featured := decodeBody[struct {
		NewsletterAppearances int `json:"newsletter_appearances"`
	}](t, oppResp)
	if featured.NewsletterAppearances != 1 {
		t.Fatalf("expected 1 newsletter appearance, got %d", featured.NewsletterAppearances)
	}

	// 3. Publishing twice is rejected
	resp = postJSON(t, "/api/v1/digest/issues/"+issue.ID+"/publish", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double publish: expected 409, got %d", resp.StatusCode)
	}
}
