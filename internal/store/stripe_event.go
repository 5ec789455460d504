package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StripeEventStore remembers which webhook deliveries were already handled.
// Stripe retries deliveries, so handlers must be idempotent per event ID.
type StripeEventStore struct {
	db *sql.DB
}

func NewStripeEventStore(db *sql.DB) *StripeEventStore {
	return &StripeEventStore{db: db}
}

// Claim records the event and reports whether this call was the first to see
// it. A false result means the event was processed before.
func (s *StripeEventStore) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stripe_events (event_id, event_type) VALUES (?, ?) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("claim stripe event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Release forgets an event so a retried delivery is processed again.
func (s *StripeEventStore) Release(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stripe_events WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("release stripe event: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes bookkeeping for events past Stripe's retry horizon.
func (s *StripeEventStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format("2006-01-02 15:04:05")
	res, err := s.db.ExecContext(ctx, `DELETE FROM stripe_events WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old stripe events: %w", err)
	}
	return res.RowsAffected()
}
