package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/stayvista/internal/domain"
)

const roomColumns = `id, host_name, host_email, host_image, price::float8, booked, title, location,
	category, description, image, date_from, date_to, guests, bedrooms, bathrooms, created_at`

func scanRoom(row pgx.Row) (domain.Room, error) {
	var r domain.Room
	var from, to *time.Time
	err := row.Scan(&r.ID, &r.Host.Name, &r.Host.Email, &r.Host.Image, &r.Price, &r.Booked,
		&r.Title, &r.Location, &r.Category, &r.Description, &r.Image, &from, &to,
		&r.Guests, &r.Bedrooms, &r.Bathrooms, &r.CreatedAt)
	if err != nil {
		return domain.Room{}, err
	}
	if from != nil {
		r.From = *from
	}
	if to != nil {
		r.To = *to
	}
	return r, nil
}

// GetRoom retrieves a single room by ID.
func (s *Store) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	r, err := scanRoom(s.Db.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Room{}, ErrNotFound
		}
		return domain.Room{}, fmt.Errorf("room query failed: %w", err)
	}
	return r, nil
}

// TrySetBooked flips the booked flag only if it currently equals expected.
func (s *Store) TrySetBooked(ctx context.Context, id string, expected, booked bool) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE rooms SET booked = $3 WHERE id = $1 AND booked = $2",
		id, expected, booked,
	)
	if err != nil {
		return fmt.Errorf("room transition failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the room is gone or somebody else won the swap.
	var exists bool
	err = s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("room existence check failed: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// CreateRoom inserts a listing. New rooms always start available.
func (s *Store) CreateRoom(ctx context.Context, r domain.Room) (domain.Room, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Booked = false

	err := s.Db.QueryRow(ctx, `
		INSERT INTO rooms (id, host_name, host_email, host_image, price, title, location, category,
			description, image, date_from, date_to, guests, bedrooms, bathrooms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`,
		r.ID, r.Host.Name, r.Host.Email, r.Host.Image, r.Price, r.Title, r.Location, r.Category,
		r.Description, r.Image, nullTime(r.From), nullTime(r.To), r.Guests, r.Bedrooms, r.Bathrooms,
	).Scan(&r.CreatedAt)
	if err != nil {
		return domain.Room{}, fmt.Errorf("room insert failed: %w", err)
	}
	return r, nil
}

// ListRooms returns every room, optionally filtered by category.
func (s *Store) ListRooms(ctx context.Context, category string) ([]domain.Room, error) {
	if category == "" {
		return s.listRooms(ctx, "SELECT "+roomColumns+" FROM rooms ORDER BY created_at DESC")
	}
	return s.listRooms(ctx, "SELECT "+roomColumns+" FROM rooms WHERE category = $1 ORDER BY created_at DESC", category)
}

// ListRoomsByHost returns the listings owned by a host.
func (s *Store) ListRoomsByHost(ctx context.Context, email string) ([]domain.Room, error) {
	return s.listRooms(ctx, "SELECT "+roomColumns+" FROM rooms WHERE host_email = $1 ORDER BY created_at DESC", email)
}

func (s *Store) listRooms(ctx context.Context, query string, args ...any) ([]domain.Room, error) {
	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("room list failed: %w", err)
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("room scan failed: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
