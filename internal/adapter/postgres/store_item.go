package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/signaldesk/signaldesk/internal/domain/item"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

const itemColumns = `id, source, source_id, source_tier, title, body, author, score,
	tags, metadata, processed, scraped_at, created_at, updated_at`

func scanItem(row scannable) (item.Item, error) {
	var (
		it           item.Item
		metadataJSON []byte
	)
	err := row.Scan(&it.ID, &it.Source, &it.SourceID, &it.SourceTier, &it.Title,
		&it.Body, &it.Author, &it.Score, &it.Tags, &metadataJSON,
		&it.Processed, &it.ScrapedAt, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return item.Item{}, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &it.Metadata); err != nil {
			return item.Item{}, fmt.Errorf("unmarshal item metadata: %w", err)
		}
	}
	return it, nil
}

// UpsertItem inserts a scraped record or refreshes the existing row with
// the same (source, source_id). A single atomic statement, so concurrent
// scrapers pushing the same record race harmlessly.
func (s *Store) UpsertItem(ctx context.Context, req item.UpsertRequest) (*item.Item, error) {
	metadataJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal item metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO ingested_items (source, source_id, source_tier, title, body, author, score, tags, metadata, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
		 ON CONFLICT (source, source_id) DO UPDATE SET
		     source_tier = EXCLUDED.source_tier,
		     title       = EXCLUDED.title,
		     body        = EXCLUDED.body,
		     author      = EXCLUDED.author,
		     score       = EXCLUDED.score,
		     tags        = EXCLUDED.tags,
		     metadata    = EXCLUDED.metadata,
		     scraped_at  = EXCLUDED.scraped_at,
		     updated_at  = now()
		 RETURNING `+itemColumns,
		req.Source, req.SourceID, req.SourceTier, req.Title, req.Body, req.Author,
		req.Score, pgTextArray(req.Tags), metadataJSON, nullTime(req.ScrapedAt))

	it, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("upsert item %s/%s: %w", req.Source, req.SourceID, err)
	}
	return &it, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*item.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM ingested_items WHERE id = $1`, id)

	it, err := scanItem(row)
	if err != nil {
		return nil, notFoundWrap(err, "get item %s", id)
	}
	return &it, nil
}

// ListItems returns items matching the filter, newest scraped first.
func (s *Store) ListItems(ctx context.Context, filter database.ItemFilter) ([]item.Item, error) {
	q := s.sb.Select(itemColumns).
		From("ingested_items").
		OrderBy("scraped_at DESC")

	if filter.Source != "" {
		q = q.Where(squirrel.Eq{"source": filter.Source})
	}
	if filter.Unprocessed {
		q = q.Where(squirrel.Eq{"processed": false})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list items query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkItemsProcessed flips processed on the given ids, returning how many
// rows actually changed. Already-processed ids are counted out, not
// errors: the processor may legitimately re-submit a batch after a retry.
func (s *Store) MarkItemsProcessed(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingested_items SET processed = TRUE, updated_at = now()
		 WHERE id = ANY($1) AND NOT processed`, ids)
	if err != nil {
		return 0, fmt.Errorf("mark items processed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
