package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/signaldesk/signaldesk/internal/adapter/ws"
	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain/negotiation"
	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/notifier"
	"github.com/signaldesk/signaldesk/internal/service"
)

func newSweepRig(t *testing.T) (*testRig, *Sweeper) {
	t.Helper()
	rig := newTestRig()
	predictions := service.NewPredictionService(rig.store, rig.bus, prediction.DefaultScorer)
	sw := NewSweeper(rig.queue, rig.negotiations, predictions, config.Sweep{
		Interval:       time.Hour,
		StuckTaskAfter: 10 * time.Minute,
	})
	sw.SetAlerts(service.NewAlertService([]notifier.Notifier{rig.notif}, nil))
	sw.SetEvents(rig.events)
	return rig, sw
}

// backdate moves a claimed task's start time into the past and
// optionally burns its remaining attempts.
func backdate(rig *testRig, id string, started time.Duration, exhaustAttempts bool) {
	rig.store.mu.Lock()
	defer rig.store.mu.Unlock()
	for i := range rig.store.tasks {
		if rig.store.tasks[i].ID != id {
			continue
		}
		old := time.Now().Add(-started)
		rig.store.tasks[i].StartedAt = &old
		if exhaustAttempts {
			rig.store.tasks[i].Attempts = rig.store.tasks[i].MaxAttempts
		}
	}
}

func TestSweepReclaimsStuckTasks(t *testing.T) {
	rig, sw := newSweepRig(t)
	ctx := context.Background()

	// Two tasks stuck for an hour: one with attempts left, one without.
	first := rig.enqueueAndClaim(t, task.EnqueueRequest{
		Type:       task.TypeExtractProblems,
		AssignedTo: task.RoleProcessor,
		CreatedBy:  "ingest",
	})
	second := rig.enqueueAndClaim(t, task.EnqueueRequest{
		Type:       task.TypeExtractProblems,
		AssignedTo: task.RoleProcessor,
		CreatedBy:  "ingest",
	})
	backdate(rig, first.ID, time.Hour, false)
	backdate(rig, second.ID, time.Hour, true)

	sw.Sweep(ctx)

	if got := rig.store.taskStatus(first.ID); got != task.StatusPending {
		t.Fatalf("expected the first task requeued, got %q", got)
	}
	if got := rig.store.taskStatus(second.ID); got != task.StatusFailed {
		t.Fatalf("expected the exhausted task failed, got %q", got)
	}

	alert := rig.notif.lastSent(t)
	if alert.Source != service.AlertSourceTaskStuck {
		t.Fatalf("expected a stuck-task alert, got source %q", alert.Source)
	}
	if !strings.Contains(alert.Message, "1 requeued") || !strings.Contains(alert.Message, "1 failed") {
		t.Fatalf("unexpected alert message %q", alert.Message)
	}
}

func TestSweepLeavesFreshTasksAlone(t *testing.T) {
	rig, sw := newSweepRig(t)
	ctx := context.Background()

	tk := rig.enqueueAndClaim(t, task.EnqueueRequest{
		Type:       task.TypeAnalyzeOpportunity,
		AssignedTo: task.RoleAnalyst,
		CreatedBy:  "scheduler",
	})
	sw.Sweep(ctx)

	if got := rig.store.taskStatus(tk.ID); got != task.StatusInProgress {
		t.Fatalf("a freshly claimed task must not be reclaimed, got %q", got)
	}
	if rig.notif.sentCount() != 0 {
		t.Fatal("no alert expected for a clean pass")
	}
}

func TestSweepTimesOutExpiredNegotiations(t *testing.T) {
	rig, sw := newSweepRig(t)
	ctx := context.Background()

	requestTask := rig.enqueueAndClaim(t, task.EnqueueRequest{
		Type:       task.TypeAnalyzeOpportunity,
		AssignedTo: task.RoleAnalyst,
		CreatedBy:  "scheduler",
	})
	n, _, err := rig.negotiations.Open(ctx, negotiation.OpenRequest{
		RequestingAgent: "analyst",
		RespondingAgent: "research",
		RequestTaskID:   requestTask.ID,
		RequestSummary:  "sizing",
		QualityCriteria: "cited",
		NeededBy:        time.Now().Add(time.Hour),
	}, task.EnqueueRequest{Type: task.TypeResearchRequest})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// The deadline passes without a response.
	rig.store.mu.Lock()
	for i := range rig.store.negotiations {
		if rig.store.negotiations[i].ID == n.ID {
			rig.store.negotiations[i].NeededBy = time.Now().Add(-time.Minute)
		}
	}
	rig.store.mu.Unlock()

	sw.Sweep(ctx)

	after := rig.store.negotiationByID(n.ID)
	if after.Status != negotiation.StatusTimedOut {
		t.Fatalf("expected timed_out, got %q", after.Status)
	}

	// The requester still picks the timeout up on its next run.
	awaiting, err := rig.negotiations.PendingFor(ctx, "analyst")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].ID != n.ID {
		t.Fatalf("expected the timed-out negotiation awaiting consumption, got %+v", awaiting)
	}
}

func TestSweepFlagsOverduePredictions(t *testing.T) {
	rig, sw := newSweepRig(t)
	ctx := context.Background()

	overdue, err := rig.store.CreatePrediction(ctx, prediction.CreateRequest{
		PredictionText:    "acme ships the feature by June",
		InitialConfidence: 0.7,
		TargetDate:        time.Now().AddDate(0, 0, -2),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	current, err := rig.store.CreatePrediction(ctx, prediction.CreateRequest{
		PredictionText:    "the merger closes this quarter",
		InitialConfidence: 0.6,
		TargetDate:        time.Now().AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sw.Sweep(ctx)

	if got := rig.store.predictionStatus(overdue.ID); got != prediction.StatusFlagged {
		t.Fatalf("expected the overdue prediction flagged, got %q", got)
	}
	if got := rig.store.predictionStatus(current.ID); got != prediction.StatusActive {
		t.Fatalf("a future-dated prediction must stay active, got %q", got)
	}
	if rig.events.count(ws.EventPredictionFlagged) != 1 {
		t.Fatalf("expected 1 flagged event, got %d", rig.events.count(ws.EventPredictionFlagged))
	}

	// A second pass finds nothing new to flag.
	sw.Sweep(ctx)
	if rig.events.count(ws.EventPredictionFlagged) != 1 {
		t.Fatal("flagging must not repeat for already-flagged predictions")
	}
}

func TestSweeperLoopStartStop(t *testing.T) {
	rig := newTestRig()
	predictions := service.NewPredictionService(rig.store, rig.bus, prediction.DefaultScorer)
	sw := NewSweeper(rig.queue, rig.negotiations, predictions, config.Sweep{
		Interval:       5 * time.Millisecond,
		StuckTaskAfter: 10 * time.Minute,
	})

	tk := rig.enqueueAndClaim(t, task.EnqueueRequest{
		Type:       task.TypeExtractProblems,
		AssignedTo: task.RoleProcessor,
		CreatedBy:  "ingest",
	})
	backdate(rig, tk.ID, time.Hour, false)

	sw.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		return rig.store.taskStatus(tk.ID) == task.StatusPending
	})

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
