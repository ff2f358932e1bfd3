package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// nullTime maps a zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// timePtr normalizes a nullable scan target back to the domain's
// *time.Time, treating both NULL and the zero time as absent.
func timePtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

// pgTextArray keeps text[] columns NULL-free: nil slices go in as {}.
func pgTextArray(s []string) []string {
	if s != nil {
		return s
	}
	return []string{}
}

// dateOnly truncates a timestamp to its UTC calendar date for DATE columns.
// Every date-keyed row (usage ledger, digest issues, prediction targets)
// goes through this so day boundaries are consistent regardless of the
// caller's zone.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// notFoundWrap wraps a query error with the given message, translating
// pgx.ErrNoRows into domain.ErrNotFound on the way.
func notFoundWrap(err error, format string, args ...any) error {
	cause := err
	if errors.Is(err, pgx.ErrNoRows) {
		cause = domain.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, cause)...)
}

// execExpectOne treats an Exec that touched zero rows as a missing
// record, wrapped like notFoundWrap.
func execExpectOne(tag pgconn.CommandTag, err error, format string, args ...any) error {
	switch {
	case err != nil:
		return fmt.Errorf(format+": %w", append(args, err)...)
	case tag.RowsAffected() == 0:
		return fmt.Errorf(format+": %w", append(args, error(domain.ErrNotFound))...)
	}
	return nil
}
