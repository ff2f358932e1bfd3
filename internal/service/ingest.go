package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signaldesk/signaldesk/internal/domain/item"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// IngestService handles scraped item intake and hands unprocessed items
// off to the processor role.
type IngestService struct {
	store database.Store
	tasks *QueueService
}

// NewIngestService creates a new IngestService.
func NewIngestService(store database.Store, tasks *QueueService) *IngestService {
	return &IngestService{store: store, tasks: tasks}
}

// Upsert stores or refreshes a scraped item by its natural key. Repeat
// pushes of the same (source, source_id) never create duplicates.
func (s *IngestService) Upsert(ctx context.Context, req item.UpsertRequest) (*item.Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.store.UpsertItem(ctx, req)
}

// Get returns an item by ID.
func (s *IngestService) Get(ctx context.Context, id string) (*item.Item, error) {
	return s.store.GetItem(ctx, id)
}

// List returns items matching the filter.
func (s *IngestService) List(ctx context.Context, filter database.ItemFilter) ([]item.Item, error) {
	return s.store.ListItems(ctx, filter)
}

// DispatchUnprocessed bundles up to batchSize unprocessed items into one
// extraction task and marks them processed. Returns the enqueued task
// and how many items it covers; (nil, 0) when nothing is waiting.
//
// The task is enqueued before the items are marked, so a crash between
// the two re-extracts the same batch next time instead of losing it.
// Clustering downstream absorbs the duplicates.
func (s *IngestService) DispatchUnprocessed(ctx context.Context, batchSize int) (*task.Task, int, error) {
	items, err := s.store.ListItems(ctx, database.ItemFilter{Unprocessed: true, Limit: batchSize})
	if err != nil {
		return nil, 0, err
	}
	if len(items) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	raw, err := json.Marshal(task.ExtractProblemsPayload{ItemIDs: ids})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal extraction payload: %w", err)
	}

	t, err := s.tasks.Enqueue(ctx, task.EnqueueRequest{
		Type:       task.TypeExtractProblems,
		AssignedTo: task.RoleProcessor,
		CreatedBy:  "ingest",
		Input:      task.Input{Payload: raw},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("enqueue extraction task: %w", err)
	}

	marked, err := s.store.MarkItemsProcessed(ctx, ids)
	if err != nil {
		return t, 0, fmt.Errorf("mark items processed: %w", err)
	}
	return t, marked, nil
}
