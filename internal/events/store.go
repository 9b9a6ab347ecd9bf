package events

import (
	"context"
	"fmt"

	"github.com/noah-isme/backend-vape/internal/db"
)

const insertEventSQL = `INSERT INTO domain_events (id, topic, aggregate_id, payload, created_at)
	VALUES ($1, $2, NULLIF($3, ''), $4, $5)`

// Store writes events to the domain_events table.
type Store struct {
	db db.DBTX
}

// NewStore returns a Store over the given connection.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Insert implements EventStore.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if _, err := s.db.Exec(ctx, insertEventSQL, rec.ID, rec.Topic, rec.AggregateID, []byte(rec.Payload), rec.OccurredAt); err != nil {
		return fmt.Errorf("insert domain event: %w", err)
	}
	return nil
}
