package postgres

import (
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signaldesk/signaldesk/internal/port/database"
)

// Store implements database.Store using PostgreSQL. Every coordination
// guarantee (exactly-once claims, idempotent ingest, append-only
// tracking) lives in the SQL here; callers never add locking on top.
type Store struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}
