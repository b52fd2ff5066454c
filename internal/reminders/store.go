package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads and stamps reminder state on the sessions table.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		panic("reminders: db required")
	}
	return &Store{db: db}
}

// ListDue returns scheduled sessions starting in (from, until] that have not
// been reminded yet, soonest first.
func (s *Store) ListDue(ctx context.Context, from, until time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id FROM sessions
		WHERE status = 'scheduled'
		  AND reminder_sent_at IS NULL
		  AND scheduled_at > $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3`, from, until, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list due: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("reminders: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: rows: %w", err)
	}
	return ids, nil
}

// Claim stamps reminder_sent_at. It returns false when another worker got
// there first or the session left the scheduled state.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET reminder_sent_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL AND status = 'scheduled'`, id, at)
	if err != nil {
		return false, fmt.Errorf("reminders: claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release clears a claim so the session is picked up again on the next pass.
func (s *Store) Release(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `UPDATE sessions SET reminder_sent_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("reminders: release: %w", err)
	}
	return nil
}
