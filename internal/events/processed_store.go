package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errEmptyProcessedKey = errors.New("events: consumer and event id required")

type processedDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore is the ledger behind Idempotent: one processed_events row per
// consumer and outbox event that was handled successfully.
type ProcessedStore struct {
	db processedDB
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithDB(db processedDB) *ProcessedStore {
	if db == nil {
		panic("events: processed db required")
	}
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	if consumer == "" || eventID == "" {
		return false, errEmptyProcessedKey
	}
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2)`,
		consumer, eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("events: lookup %s/%s: %w", consumer, eventID, err)
	}
	return seen, nil
}

// MarkProcessed reports false when another delivery already recorded the pair.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	if consumer == "" || eventID == "" {
		return false, errEmptyProcessedKey
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_events (consumer, event_id) VALUES ($1, $2) ON CONFLICT (consumer, event_id) DO NOTHING`,
		consumer, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("events: record %s/%s: %w", consumer, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
