package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/stayvista/internal/domain"
)

const bookingColumns = `id, guest_email, host_email, room_id, amount, currency, status, payment_ref,
	idempotency_key, compensates, created_at`

func scanBooking(row pgx.Row) (domain.BookingRecord, error) {
	var b domain.BookingRecord
	err := row.Scan(&b.ID, &b.GuestEmail, &b.HostEmail, &b.RoomID, &b.Amount, &b.Currency,
		&b.Status, &b.PaymentRef, &b.IdempotencyKey, &b.Compensates, &b.CreatedAt)
	return b, err
}

// Append is the only write to the ledger. A confirmed record whose
// idempotency key is already recorded returns the existing id instead, so
// appending the same record twice is safe.
func (s *Store) Append(ctx context.Context, rec domain.BookingRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var id string
	err := s.Db.QueryRow(ctx, `
		INSERT INTO bookings (id, guest_email, host_email, room_id, amount, currency, status,
			payment_ref, idempotency_key, compensates)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		rec.ID, rec.GuestEmail, rec.HostEmail, rec.RoomID, rec.Amount, rec.Currency, rec.Status,
		rec.PaymentRef, rec.IdempotencyKey, rec.Compensates,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ledger append failed: %w", err)
	}

	// A unique index swallowed the insert.
	if rec.Status == domain.StatusConfirmed && rec.IdempotencyKey != "" {
		existing, err := s.FindByIdempotencyKey(ctx, rec.IdempotencyKey)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrConflict
}

// FindByIdempotencyKey returns the confirmed record written for key, unless a
// later record has compensated it.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (domain.BookingRecord, error) {
	b, err := scanBooking(s.Db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings b
		WHERE b.idempotency_key = $1 AND b.status = 'confirmed'
		  AND NOT EXISTS (SELECT 1 FROM bookings c WHERE c.compensates = b.id)`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BookingRecord{}, ErrNotFound
		}
		return domain.BookingRecord{}, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return b, nil
}

// ActiveForRoom returns the confirmed record for a room that no cancellation
// has compensated yet.
func (s *Store) ActiveForRoom(ctx context.Context, roomID string) (domain.BookingRecord, error) {
	b, err := scanBooking(s.Db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings b
		WHERE b.room_id = $1 AND b.status = 'confirmed'
		  AND NOT EXISTS (SELECT 1 FROM bookings c WHERE c.compensates = b.id)
		ORDER BY b.created_at DESC, b.seq DESC
		LIMIT 1`, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BookingRecord{}, ErrNotFound
		}
		return domain.BookingRecord{}, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return b, nil
}

// QueryByGuest streams a guest's records oldest first. Ranging again re-runs the query.
func (s *Store) QueryByGuest(ctx context.Context, email string) iter.Seq2[domain.BookingRecord, error] {
	return s.queryBookings(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE guest_email = $1 ORDER BY created_at ASC, seq ASC", email)
}

// QueryByHost streams the records for a host's rooms oldest first.
func (s *Store) QueryByHost(ctx context.Context, email string) iter.Seq2[domain.BookingRecord, error] {
	return s.queryBookings(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE host_email = $1 ORDER BY created_at ASC, seq ASC", email)
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) iter.Seq2[domain.BookingRecord, error] {
	return func(yield func(domain.BookingRecord, error) bool) {
		rows, err := s.Db.Query(ctx, query, args...)
		if err != nil {
			yield(domain.BookingRecord{}, fmt.Errorf("ledger query failed: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				yield(domain.BookingRecord{}, fmt.Errorf("ledger scan failed: %w", err))
				return
			}
			if !yield(b, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.BookingRecord{}, fmt.Errorf("ledger query failed: %w", err))
		}
	}
}
