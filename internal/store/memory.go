package store

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/stayvista/internal/domain"
)

// Memory is a process-local Store used by tests and the seeder-less dev mode.
// Its mutex stands in for the row-level atomicity Postgres gives the SQL store.
type Memory struct {
	mu       sync.Mutex
	rooms    map[string]domain.Room
	bookings []domain.BookingRecord
	keys     map[string]domain.IdempotencyRecord
	users    map[string]domain.User
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]domain.Room),
		keys:  make(map[string]domain.IdempotencyRecord),
		users: make(map[string]domain.User),
		now:   time.Now,
	}
}

func (m *Memory) GetRoom(_ context.Context, id string) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) TrySetBooked(_ context.Context, id string, expected, booked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	if r.Booked != expected {
		return ErrConflict
	}
	r.Booked = booked
	m.rooms[id] = r
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, r domain.Room) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Booked = false
	r.CreatedAt = m.now().UTC()
	m.rooms[r.ID] = r
	return r, nil
}

func (m *Memory) ListRooms(_ context.Context, category string) ([]domain.Room, error) {
	return m.filterRooms(func(r domain.Room) bool { return category == "" || r.Category == category }), nil
}

func (m *Memory) ListRoomsByHost(_ context.Context, email string) ([]domain.Room, error) {
	return m.filterRooms(func(r domain.Room) bool { return r.Host.Email == email }), nil
}

func (m *Memory) filterRooms(keep func(domain.Room) bool) []domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms := []domain.Room{}
	for _, r := range m.rooms {
		if keep(r) {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms
}

func (m *Memory) Append(_ context.Context, rec domain.BookingRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	compensated := m.compensatedLocked()
	for _, b := range m.bookings {
		if rec.Status == domain.StatusConfirmed && rec.IdempotencyKey != "" &&
			b.Status == domain.StatusConfirmed && b.IdempotencyKey == rec.IdempotencyKey {
			if compensated[b.ID] {
				return "", ErrConflict
			}
			return b.ID, nil
		}
		if rec.Compensates != "" && b.Compensates == rec.Compensates {
			return "", ErrConflict
		}
		if rec.ID != "" && b.ID == rec.ID {
			return "", ErrConflict
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = m.now().UTC()
	m.bookings = append(m.bookings, rec)
	return rec.ID, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (domain.BookingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	compensated := m.compensatedLocked()
	for _, b := range m.bookings {
		if b.Status == domain.StatusConfirmed && b.IdempotencyKey == key && !compensated[b.ID] {
			return b, nil
		}
	}
	return domain.BookingRecord{}, ErrNotFound
}

// compensatedLocked returns the ids reversed by a later record. m.mu must be held.
func (m *Memory) compensatedLocked() map[string]bool {
	compensated := make(map[string]bool)
	for _, b := range m.bookings {
		if b.Compensates != "" {
			compensated[b.Compensates] = true
		}
	}
	return compensated
}

func (m *Memory) ActiveForRoom(_ context.Context, roomID string) (domain.BookingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	compensated := m.compensatedLocked()
	for i := len(m.bookings) - 1; i >= 0; i-- {
		b := m.bookings[i]
		if b.RoomID == roomID && b.Status == domain.StatusConfirmed && !compensated[b.ID] {
			return b, nil
		}
	}
	return domain.BookingRecord{}, ErrNotFound
}

func (m *Memory) QueryByGuest(_ context.Context, email string) iter.Seq2[domain.BookingRecord, error] {
	return m.queryBookings(func(b domain.BookingRecord) bool { return b.GuestEmail == email })
}

func (m *Memory) QueryByHost(_ context.Context, email string) iter.Seq2[domain.BookingRecord, error] {
	return m.queryBookings(func(b domain.BookingRecord) bool { return b.HostEmail == email })
}

// queryBookings snapshots matching records each time the sequence is ranged.
func (m *Memory) queryBookings(match func(domain.BookingRecord) bool) iter.Seq2[domain.BookingRecord, error] {
	return func(yield func(domain.BookingRecord, error) bool) {
		m.mu.Lock()
		var matched []domain.BookingRecord
		for _, b := range m.bookings {
			if match(b) {
				matched = append(matched, b)
			}
		}
		m.mu.Unlock()

		// insertion order already breaks timestamp ties
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
		for _, b := range matched {
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (m *Memory) ReserveKey(_ context.Context, key, requestHash string, staleAfter time.Duration) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.keys[key]
	if !ok {
		m.keys[key] = domain.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyInProgress,
			LockedAt:    now,
		}
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	if rec.Status == domain.IdempotencyCompleted {
		out := rec
		return &out, nil
	}
	if now.Sub(rec.LockedAt) > staleAfter {
		rec.LockedAt = now
		m.keys[key] = rec
		return nil, nil
	}
	return nil, ErrIdempotencyConflict
}

func (m *Memory) CompleteKey(_ context.Context, key string, responseStatus int, responseBody []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.keys[key]
	rec.Key = key
	rec.Status = domain.IdempotencyCompleted
	rec.ResponseStatus = responseStatus
	rec.ResponseBody = append([]byte(nil), responseBody...)
	m.keys[key] = rec
	return nil
}

func (m *Memory) ReleaseKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.keys[key]; ok && rec.Status == domain.IdempotencyInProgress {
		delete(m.keys, key)
	}
	return nil
}

func (m *Memory) GetUser(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[email]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) SaveUserIfAbsent(_ context.Context, u domain.User) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.users[u.Email]; ok {
		return existing, false, nil
	}
	u.Timestamp = m.now().UTC()
	m.users[u.Email] = u
	return u, true, nil
}

func (m *Memory) UpdateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.Email]
	if ok {
		existing.Role = u.Role
		existing.Status = u.Status
		u = existing
	}
	u.Timestamp = m.now().UTC()
	m.users[u.Email] = u
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
