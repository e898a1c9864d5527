package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/stayvista/internal/domain"
)

// ReserveKey claims an idempotency key for the caller. It returns a non-nil
// record when the key already completed (replay), ErrIdempotencyMismatch when
// the key was used for a different payload and ErrIdempotencyConflict when
// another attempt holds it. In-progress claims older than staleAfter are taken over.
func (s *Store) ReserveKey(ctx context.Context, key, requestHash string, staleAfter time.Duration) (*domain.IdempotencyRecord, error) {
	tag, err := s.Db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress') ON CONFLICT (key) DO NOTHING",
		key, requestHash,
	)
	if err != nil {
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	rec := domain.IdempotencyRecord{Key: key}
	var status *int
	var body []byte
	err = s.Db.QueryRow(ctx,
		"SELECT request_hash, status, response_status, response_body, locked_at FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&rec.RequestHash, &rec.Status, &status, &body, &rec.LockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// released between our insert and select
			return nil, ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	if rec.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	if rec.Status == domain.IdempotencyCompleted {
		if status != nil {
			rec.ResponseStatus = *status
		}
		rec.ResponseBody = json.RawMessage(body)
		return &rec, nil
	}

	tag, err = s.Db.Exec(ctx,
		"UPDATE idempotency_keys SET locked_at = now() WHERE key = $1 AND status = 'in_progress' AND locked_at < $2",
		key, time.Now().Add(-staleAfter),
	)
	if err != nil {
		return nil, fmt.Errorf("key takeover failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}
	return nil, ErrIdempotencyConflict
}

// CompleteKey stores the response to replay for later submissions of key.
func (s *Store) CompleteKey(ctx context.Context, key string, responseStatus int, responseBody []byte) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE idempotency_keys SET status = 'completed', response_status = $2, response_body = $3 WHERE key = $1",
		key, responseStatus, responseBody,
	)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

// ReleaseKey drops an in-progress claim so the request can be resubmitted.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.Db.Exec(ctx, "DELETE FROM idempotency_keys WHERE key = $1 AND status = 'in_progress'", key)
	if err != nil {
		return fmt.Errorf("key release failed: %w", err)
	}
	return nil
}
