package service

import (
	"context"
	"iter"
	"time"

	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/domain"
	"github.com/punchamoorthee/stayvista/internal/payment"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Claim, error)
}

type Gateway interface {
	Authorize(ctx context.Context, c payment.Charge) (payment.Handle, error)
	Void(ctx context.Context, h payment.Handle) error
}

// AvailabilityStore guards the booked flag. TrySetBooked is the only way the
// flag changes.
type AvailabilityStore interface {
	GetRoom(ctx context.Context, id string) (domain.Room, error)
	TrySetBooked(ctx context.Context, id string, expected, booked bool) error
}

type RoomCatalog interface {
	AvailabilityStore
	CreateRoom(ctx context.Context, r domain.Room) (domain.Room, error)
	ListRooms(ctx context.Context, category string) ([]domain.Room, error)
	ListRoomsByHost(ctx context.Context, email string) ([]domain.Room, error)
}

type Ledger interface {
	Append(ctx context.Context, rec domain.BookingRecord) (string, error)
	FindByIdempotencyKey(ctx context.Context, key string) (domain.BookingRecord, error)
	ActiveForRoom(ctx context.Context, roomID string) (domain.BookingRecord, error)
	QueryByGuest(ctx context.Context, email string) iter.Seq2[domain.BookingRecord, error]
	QueryByHost(ctx context.Context, email string) iter.Seq2[domain.BookingRecord, error]
}

type IdempotencyStore interface {
	ReserveKey(ctx context.Context, key, requestHash string, staleAfter time.Duration) (*domain.IdempotencyRecord, error)
	CompleteKey(ctx context.Context, key string, responseStatus int, responseBody []byte) error
	ReleaseKey(ctx context.Context, key string) error
}

type UserDirectory interface {
	GetUser(ctx context.Context, email string) (domain.User, error)
	SaveUserIfAbsent(ctx context.Context, u domain.User) (domain.User, bool, error)
	UpdateUser(ctx context.Context, u domain.User) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}
