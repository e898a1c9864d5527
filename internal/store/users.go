package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/stayvista/internal/domain"
)

const userColumns = "email, name, image, role, status, updated_at"

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.Email, &u.Name, &u.Image, &u.Role, &u.Status, &u.Timestamp)
	return u, err
}

// GetUser retrieves a user by email.
func (s *Store) GetUser(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(s.Db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("user query failed: %w", err)
	}
	return u, nil
}

// SaveUserIfAbsent inserts u unless the email is known; the stored user is returned either way.
func (s *Store) SaveUserIfAbsent(ctx context.Context, u domain.User) (domain.User, bool, error) {
	tag, err := s.Db.Exec(ctx,
		"INSERT INTO users (email, name, image, role, status) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (email) DO NOTHING",
		u.Email, u.Name, u.Image, u.Role, u.Status,
	)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("user insert failed: %w", err)
	}
	stored, err := s.GetUser(ctx, u.Email)
	if err != nil {
		return domain.User{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// UpdateUser upserts role and status for a user.
func (s *Store) UpdateUser(ctx context.Context, u domain.User) (domain.User, error) {
	updated, err := scanUser(s.Db.QueryRow(ctx, `
		INSERT INTO users (email, name, image, role, status) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role, status = EXCLUDED.status, updated_at = now()
		RETURNING `+userColumns,
		u.Email, u.Name, u.Image, u.Role, u.Status,
	))
	if err != nil {
		return domain.User{}, fmt.Errorf("user update failed: %w", err)
	}
	return updated, nil
}

// ListUsers returns the whole directory.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("user list failed: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("user scan failed: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
