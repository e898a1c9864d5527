package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/domain"
	"github.com/punchamoorthee/stayvista/internal/store"
)

// CatalogService serves room listings and the user directory. It never
// writes the booked flag.
type CatalogService struct {
	rooms RoomCatalog
	users UserDirectory
	log   *logrus.Logger
}

func NewCatalogService(rooms RoomCatalog, users UserDirectory, log *logrus.Logger) *CatalogService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CatalogService{rooms: rooms, users: users, log: log}
}

func (c *CatalogService) Room(ctx context.Context, id string) (domain.Room, error) {
	room, err := c.rooms.GetRoom(ctx, id)
	if err != nil {
		return domain.Room{}, c.translate(err, ErrRoomNotFound, "room does not exist")
	}
	return room, nil
}

func (c *CatalogService) Rooms(ctx context.Context, category string) ([]domain.Room, error) {
	rooms, err := c.rooms.ListRooms(ctx, strings.TrimSpace(category))
	if err != nil {
		return nil, c.translate(err, ErrNotFound, "")
	}
	return rooms, nil
}

func (c *CatalogService) HostRooms(ctx context.Context, email string) ([]domain.Room, error) {
	rooms, err := c.rooms.ListRoomsByHost(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return nil, c.translate(err, ErrNotFound, "")
	}
	return rooms, nil
}

// AddRoom lists a new room for the session owner. New rooms start available.
func (c *CatalogService) AddRoom(ctx context.Context, claim auth.Claim, r domain.Room) (domain.Room, error) {
	r.Host.Email = auth.NormalizeEmail(r.Host.Email)
	if r.Host.Email == "" {
		r.Host.Email = claim.Subject
	}
	if r.Host.Email != claim.Subject {
		return domain.Room{}, newError(ErrForbidden, "rooms can only be listed by their host")
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return domain.Room{}, newError(ErrInvalidInput, "title is required")
	}
	if r.Price <= 0 || math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
		return domain.Room{}, newError(ErrInvalidAmount, "price must be a positive amount")
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return domain.Room{}, newError(ErrInvalidInput, "availability ends before it starts")
	}
	r.Booked = false

	created, err := c.rooms.CreateRoom(ctx, r)
	if err != nil {
		return domain.Room{}, c.translate(err, ErrNotFound, "")
	}
	c.log.WithFields(logrus.Fields{"room_id": created.ID, "host": claim.Subject}).Info("room listed")
	return created, nil
}

// SaveUser registers email on first sign-in and returns the stored entry
// unchanged on later calls.
func (c *CatalogService) SaveUser(ctx context.Context, claim auth.Claim, email string, u domain.User) (domain.User, bool, error) {
	email = auth.NormalizeEmail(email)
	if email != claim.Subject {
		return domain.User{}, false, newError(ErrForbidden, "users can only register themselves")
	}
	u.Email = email
	u.Role = domain.RoleGuest
	saved, created, err := c.users.SaveUserIfAbsent(ctx, u)
	if err != nil {
		return domain.User{}, false, c.translate(err, ErrNotFound, "")
	}
	if created {
		c.log.WithField("email", email).Info("user registered")
	}
	return saved, created, nil
}

func (c *CatalogService) User(ctx context.Context, email string) (domain.User, error) {
	u, err := c.users.GetUser(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return domain.User{}, c.translate(err, ErrNotFound, "user does not exist")
	}
	return u, nil
}

func (c *CatalogService) Users(ctx context.Context, claim auth.Claim) ([]domain.User, error) {
	if err := c.requireAdmin(ctx, claim); err != nil {
		return nil, err
	}
	users, err := c.users.ListUsers(ctx)
	if err != nil {
		return nil, c.translate(err, ErrNotFound, "")
	}
	return users, nil
}

// UpdateRole changes a user's role or status. Admins may change anyone; a
// user may only file a request to become host on their own entry.
func (c *CatalogService) UpdateRole(ctx context.Context, claim auth.Claim, email string, u domain.User) (domain.User, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return domain.User{}, newError(ErrInvalidInput, "email is required")
	}
	switch u.Role {
	case domain.RoleGuest, domain.RoleHost, domain.RoleAdmin:
	default:
		return domain.User{}, newError(ErrInvalidInput, "unknown role")
	}

	if err := c.requireAdmin(ctx, claim); err != nil {
		if email != claim.Subject || u.Role != domain.RoleGuest || u.Status != domain.UserStatusRequested {
			return domain.User{}, err
		}
	}

	u.Email = email
	updated, err := c.users.UpdateUser(ctx, u)
	if err != nil {
		return domain.User{}, c.translate(err, ErrNotFound, "")
	}
	c.log.WithFields(logrus.Fields{"email": email, "role": updated.Role, "by": claim.Subject}).Info("user updated")
	return updated, nil
}

func (c *CatalogService) requireAdmin(ctx context.Context, claim auth.Claim) error {
	caller, err := c.users.GetUser(ctx, claim.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrForbidden, "admin role required")
		}
		return c.translate(err, ErrNotFound, "")
	}
	if caller.Role != domain.RoleAdmin {
		return newError(ErrForbidden, "admin role required")
	}
	return nil
}

func (c *CatalogService) translate(err error, notFound error, reason string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(notFound, reason)
	}
	c.log.WithError(err).Error("catalog storage failed")
	return newError(ErrServiceUnavailable, "catalog storage unavailable")
}
