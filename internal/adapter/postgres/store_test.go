package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signaldesk/signaldesk/internal/adapter/postgres"
	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/budget"
	"github.com/signaldesk/signaldesk/internal/domain/item"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	// Run goose migrations first (uses embedded SQL files).
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

// drainPending claims everything pending for a role so a test starts from
// an empty queue. Shared dev databases accumulate tasks across runs.
func drainPending(t *testing.T, store *postgres.Store, role task.Role) {
	t.Helper()
	for {
		claimed, err := store.ClaimTasks(context.Background(), role, 100)
		if err != nil {
			t.Fatalf("drain pending for %s: %v", role, err)
		}
		if len(claimed) == 0 {
			return
		}
		for _, c := range claimed {
			_ = store.FailTask(context.Background(), c.ID, "drained by test setup")
		}
	}
}

func enqueueTest(t *testing.T, store *postgres.Store, req task.EnqueueRequest) *task.Task {
	t.Helper()
	if req.Input.Budget == (budget.Limits{}) {
		req.Input.Budget = budget.Defaults()
	}
	created, err := store.EnqueueTask(context.Background(), req)
	if err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	return created
}

// --------------------------------------------------------------------------
// TestStore_ItemUpsert
// --------------------------------------------------------------------------

func TestStore_ItemUpsert(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	source := "testfeed"
	sourceID := "item-" + uuid.New().String()[:8]

	first, err := store.UpsertItem(ctx, item.UpsertRequest{
		Source:   source,
		SourceID: sourceID,
		Title:    "original title",
		Body:     "original body",
		Score:    10,
		Tags:     []string{"saas"},
		Metadata: map[string]string{"thread": "t1"},
	})
	if err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if first.ID == "" {
		t.Fatal("UpsertItem returned empty ID")
	}
	if first.Processed {
		t.Fatal("new item should not be processed")
	}

	// Same natural key again refreshes, never duplicates.
	t.Run("Refresh", func(t *testing.T) {
		second, err := store.UpsertItem(ctx, item.UpsertRequest{
			Source:   source,
			SourceID: sourceID,
			Title:    "updated title",
			Body:     "updated body",
			Score:    42,
		})
		if err != nil {
			t.Fatalf("UpsertItem (refresh): %v", err)
		}
		if second.ID != first.ID {
			t.Fatalf("expected same row %s, got %s", first.ID, second.ID)
		}
		if second.Title != "updated title" {
			t.Fatalf("expected refreshed title, got %q", second.Title)
		}
		if second.Score != 42 {
			t.Fatalf("expected refreshed score 42, got %d", second.Score)
		}
	})

	// Concurrent upserts of the same key all land on one row.
	t.Run("ConcurrentSameKey", func(t *testing.T) {
		concurrentID := "item-" + uuid.New().String()[:8]
		const writers = 8

		ids := make(chan string, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				it, err := store.UpsertItem(ctx, item.UpsertRequest{
					Source:   source,
					SourceID: concurrentID,
					Title:    "concurrent",
					Score:    n,
				})
				if err != nil {
					t.Errorf("concurrent UpsertItem: %v", err)
					return
				}
				ids <- it.ID
			}(i)
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{}
		for id := range ids {
			seen[id] = true
		}
		if len(seen) != 1 {
			t.Fatalf("expected all writers to hit one row, got %d distinct ids", len(seen))
		}
	})

	t.Run("MarkProcessed", func(t *testing.T) {
		n, err := store.MarkItemsProcessed(ctx, []string{first.ID})
		if err != nil {
			t.Fatalf("MarkItemsProcessed: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 row marked, got %d", n)
		}

		// Second pass is a no-op, not an error.
		n, err = store.MarkItemsProcessed(ctx, []string{first.ID})
		if err != nil {
			t.Fatalf("MarkItemsProcessed (repeat): %v", err)
		}
		if n != 0 {
			t.Fatalf("expected 0 rows on repeat, got %d", n)
		}
	})

	t.Run("ListUnprocessed", func(t *testing.T) {
		fresh, err := store.UpsertItem(ctx, item.UpsertRequest{
			Source:   source,
			SourceID: "item-" + uuid.New().String()[:8],
			Title:    "still unprocessed",
		})
		if err != nil {
			t.Fatalf("UpsertItem: %v", err)
		}

		items, err := store.ListItems(ctx, database.ItemFilter{Source: source, Unprocessed: true})
		if err != nil {
			t.Fatalf("ListItems: %v", err)
		}
		var foundFresh, foundProcessed bool
		for _, it := range items {
			if it.ID == fresh.ID {
				foundFresh = true
			}
			if it.ID == first.ID {
				foundProcessed = true
			}
		}
		if !foundFresh {
			t.Fatal("unprocessed item missing from list")
		}
		if foundProcessed {
			t.Fatal("processed item leaked into unprocessed list")
		}
	})
}

// --------------------------------------------------------------------------
// TestStore_TaskClaim
// --------------------------------------------------------------------------

func TestStore_TaskClaim(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	creator := "test-" + uuid.New().String()[:8]

	drainPending(t, store, task.RoleProcessor)

	// Enqueue in scrambled priority order; claims must come back
	// priority-first, FIFO within a priority band.
	low := enqueueTest(t, store, task.EnqueueRequest{
		Type: task.TypeExtractProblems, AssignedTo: task.RoleProcessor,
		CreatedBy: creator, Priority: 8,
	})
	urgentFirst := enqueueTest(t, store, task.EnqueueRequest{
		Type: task.TypeExtractProblems, AssignedTo: task.RoleProcessor,
		CreatedBy: creator, Priority: 2,
	})
	urgentSecond := enqueueTest(t, store, task.EnqueueRequest{
		Type: task.TypeExtractProblems, AssignedTo: task.RoleProcessor,
		CreatedBy: creator, Priority: 2,
	})

	claimed, err := store.ClaimTasks(ctx, task.RoleProcessor, 10)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed tasks, got %d", len(claimed))
	}
	if claimed[0].ID != urgentFirst.ID || claimed[1].ID != urgentSecond.ID || claimed[2].ID != low.ID {
		t.Fatalf("wrong claim order: got %s, %s, %s", claimed[0].ID, claimed[1].ID, claimed[2].ID)
	}
	for _, c := range claimed {
		if c.Status != task.StatusInProgress {
			t.Fatalf("claimed task %s has status %s", c.ID, c.Status)
		}
		if c.Attempts != 1 {
			t.Fatalf("claimed task %s has attempts %d, expected 1", c.ID, c.Attempts)
		}
		if c.StartedAt == nil {
			t.Fatalf("claimed task %s has no started_at", c.ID)
		}
	}

	// Empty queue yields an empty slice, not an error.
	t.Run("EmptyQueue", func(t *testing.T) {
		again, err := store.ClaimTasks(ctx, task.RoleProcessor, 10)
		if err != nil {
			t.Fatalf("ClaimTasks on empty queue: %v", err)
		}
		if len(again) != 0 {
			t.Fatalf("expected no tasks, got %d", len(again))
		}
	})

	// Input round-trips through the jsonb column.
	t.Run("InputRoundTrip", func(t *testing.T) {
		if claimed[0].Input.Budget.MaxLLMCalls != budget.Defaults().MaxLLMCalls {
			t.Fatalf("expected default budget in claimed input, got %+v", claimed[0].Input.Budget)
		}
	})
}

// --------------------------------------------------------------------------
// TestStore_TaskClaim_Concurrent
// --------------------------------------------------------------------------

func TestStore_TaskClaim_Concurrent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	creator := "test-" + uuid.New().String()[:8]

	drainPending(t, store, task.RoleAnalyst)

	const total = 20
	own := make(map[string]bool, total)
	for range total {
		created := enqueueTest(t, store, task.EnqueueRequest{
			Type: task.TypeClusterOpportunities, AssignedTo: task.RoleAnalyst,
			CreatedBy: creator,
		})
		own[created.ID] = true
	}

	// Four workers race over the same queue in small batches. SKIP LOCKED
	// has to partition the pending set with no overlaps.
	const workers = 4
	claimedIDs := make(chan string, total*2)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := store.ClaimTasks(ctx, task.RoleAnalyst, 3)
				if err != nil {
					t.Errorf("concurrent ClaimTasks: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				for _, c := range batch {
					claimedIDs <- c.ID
				}
			}
		}()
	}
	wg.Wait()
	close(claimedIDs)

	seen := map[string]int{}
	for id := range claimedIDs {
		seen[id]++
	}
	for id, count := range seen {
		if count > 1 {
			t.Fatalf("task %s claimed %d times", id, count)
		}
	}
	for id := range own {
		if seen[id] != 1 {
			t.Fatalf("task %s claimed %d times, expected exactly once", id, seen[id])
		}
	}
}

// --------------------------------------------------------------------------
// TestStore_TaskLifecycle
// --------------------------------------------------------------------------

func TestStore_TaskLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	creator := "test-" + uuid.New().String()[:8]

	drainPending(t, store, task.RoleResearch)

	created := enqueueTest(t, store, task.EnqueueRequest{
		Type: task.TypeResearchRequest, AssignedTo: task.RoleResearch,
		CreatedBy: creator,
	})

	// Completing a pending task is a lifecycle violation: only claimed
	// work can complete.
	t.Run("CompletePending", func(t *testing.T) {
		err := store.CompleteTask(ctx, created.ID, &task.Output{Success: true, TaskID: created.ID})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	claimed, err := store.ClaimTasks(ctx, task.RoleResearch, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: %v (%d claimed)", err, len(claimed))
	}

	output := &task.Output{
		Success:     true,
		TaskID:      created.ID,
		BudgetUsage: budget.Usage{LLMCallsUsed: 3, ElapsedSeconds: 12},
	}
	if err := store.CompleteTask(ctx, created.ID, output); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	// The first completion's output must survive later attempts.
	t.Run("DoubleComplete", func(t *testing.T) {
		err := store.CompleteTask(ctx, created.ID, &task.Output{Success: false, TaskID: created.ID})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition on double complete, got %v", err)
		}

		got, err := store.GetTask(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.Output == nil || !got.Output.Success {
			t.Fatal("first completion's output was overwritten")
		}
		if got.Output.BudgetUsage.LLMCallsUsed != 3 {
			t.Fatalf("expected recorded usage 3 llm calls, got %d", got.Output.BudgetUsage.LLMCallsUsed)
		}
	})

	t.Run("FailCompleted", func(t *testing.T) {
		err := store.FailTask(ctx, created.ID, "too late")
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("CompleteMissing", func(t *testing.T) {
		err := store.CompleteTask(ctx, uuid.New().String(), &task.Output{Success: true})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// --------------------------------------------------------------------------
// TestStore_ReclaimStuckTasks
// --------------------------------------------------------------------------

func TestStore_ReclaimStuckTasks(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	creator := "test-" + uuid.New().String()[:8]

	drainPending(t, store, task.RoleNewsletter)

	created := enqueueTest(t, store, task.EnqueueRequest{
		Type: task.TypeWriteDigest, AssignedTo: task.RoleNewsletter,
		CreatedBy: creator,
	})

	// Claim and reclaim repeatedly. With max_attempts=3, two reclaims put
	// the task back in the queue; after the third claim it fails instead.
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := store.ClaimTasks(ctx, task.RoleNewsletter, 10)
		if err != nil {
			t.Fatalf("ClaimTasks (attempt %d): %v", attempt, err)
		}
		if !containsTask(claimed, created.ID) {
			t.Fatalf("attempt %d: task not claimed", attempt)
		}

		// olderThan=0 makes anything started before this call stuck.
		time.Sleep(10 * time.Millisecond)
		requeued, _, err := store.ReclaimStuckTasks(ctx, 0)
		if err != nil {
			t.Fatalf("ReclaimStuckTasks: %v", err)
		}
		if requeued < 1 {
			t.Fatalf("expected at least 1 requeued, got %d", requeued)
		}

		got, err := store.GetTask(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.Status != task.StatusPending {
			t.Fatalf("after reclaim %d expected pending, got %s", attempt, got.Status)
		}
		if got.StartedAt != nil {
			t.Fatal("reclaimed task kept its started_at")
		}
		if got.Attempts != attempt {
			t.Fatalf("expected attempts %d, got %d", attempt, got.Attempts)
		}
	}

	// Third claim exhausts max_attempts; the watchdog fails it.
	claimed, err := store.ClaimTasks(ctx, task.RoleNewsletter, 10)
	if err != nil || !containsTask(claimed, created.ID) {
		t.Fatalf("final ClaimTasks: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	_, failed, err := store.ReclaimStuckTasks(ctx, 0)
	if err != nil {
		t.Fatalf("ReclaimStuckTasks (final): %v", err)
	}
	if failed < 1 {
		t.Fatalf("expected at least 1 failed, got %d", failed)
	}

	got, err := store.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Fatalf("expected failed after exhausting attempts, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected a watchdog error message")
	}
}

func containsTask(tasks []task.Task, id string) bool {
	for _, c := range tasks {
		if c.ID == id {
			return true
		}
	}
	return false
}
