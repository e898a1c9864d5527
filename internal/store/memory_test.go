package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/stayvista/internal/domain"
)

func TestMemoryTrySetBooked(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	room, err := m.CreateRoom(ctx, domain.Room{ID: "r1", Price: 100, Booked: true, Host: domain.Host{Email: "h@x.com"}})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Booked {
		t.Fatal("new rooms must start available")
	}

	if err := m.TrySetBooked(ctx, "r1", true, false); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := m.TrySetBooked(ctx, "r1", false, true); err != nil {
		t.Fatalf("TrySetBooked: %v", err)
	}
	if err := m.TrySetBooked(ctx, "r1", false, true); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second swap, got %v", err)
	}
	if err := m.TrySetBooked(ctx, "missing", false, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := m.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if !got.Booked {
		t.Fatal("expected room to be booked")
	}
}

func TestMemoryTrySetBookedSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.CreateRoom(ctx, domain.Room{ID: "r1"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := m.TrySetBooked(ctx, "r1", false, true); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 49 {
		t.Fatalf("expected 1 winner and 49 conflicts, got %d/%d", wins.Load(), conflicts.Load())
	}
}

func TestMemoryLedgerQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	m.now = func() time.Time { return tick }

	appendAt := func(at time.Time, rec domain.BookingRecord) string {
		t.Helper()
		tick = at
		id, err := m.Append(ctx, rec)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		return id
	}

	first := appendAt(base, domain.BookingRecord{GuestEmail: "g@x.com", HostEmail: "h@x.com", RoomID: "r1", Status: domain.StatusConfirmed})
	second := appendAt(base, domain.BookingRecord{GuestEmail: "g@x.com", HostEmail: "h@x.com", RoomID: "r2", Status: domain.StatusConfirmed})
	appendAt(base.Add(time.Hour), domain.BookingRecord{GuestEmail: "other@x.com", HostEmail: "h@x.com", RoomID: "r3", Status: domain.StatusConfirmed})

	seq := m.QueryByGuest(ctx, "g@x.com")
	for pass := 0; pass < 2; pass++ {
		var ids []string
		for rec, err := range seq {
			if err != nil {
				t.Fatalf("QueryByGuest: %v", err)
			}
			ids = append(ids, rec.ID)
		}
		if len(ids) != 2 || ids[0] != first || ids[1] != second {
			t.Fatalf("pass %d: expected [%s %s], got %v", pass, first, second, ids)
		}
	}

	var hostCount int
	for _, err := range m.QueryByHost(ctx, "h@x.com") {
		if err != nil {
			t.Fatalf("QueryByHost: %v", err)
		}
		hostCount++
	}
	if hostCount != 3 {
		t.Fatalf("expected 3 host records, got %d", hostCount)
	}
}

func TestMemoryAppendDeduplicatesConfirmedKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := domain.BookingRecord{RoomID: "r1", Status: domain.StatusConfirmed, IdempotencyKey: "k1"}

	id1, err := m.Append(ctx, rec)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	id2, err := m.Append(ctx, rec)
	if err != nil {
		t.Fatalf("Append again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id for same key, got %s and %s", id1, id2)
	}

	active, err := m.ActiveForRoom(ctx, "r1")
	if err != nil || active.ID != id1 {
		t.Fatalf("ActiveForRoom = %+v, %v", active, err)
	}

	cancel := domain.BookingRecord{RoomID: "r1", Status: domain.StatusCancelled, Compensates: id1}
	if _, err := m.Append(ctx, cancel); err != nil {
		t.Fatalf("Append cancellation: %v", err)
	}
	if _, err := m.Append(ctx, cancel); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for double cancellation, got %v", err)
	}
	if _, err := m.ActiveForRoom(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active booking after cancellation, got %v", err)
	}
	if _, err := m.FindByIdempotencyKey(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("a compensated record must not answer its key, got %v", err)
	}
	if _, err := m.Append(ctx, rec); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict re-confirming a compensated key, got %v", err)
	}
}

func TestMemoryIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if rec, err := m.ReserveKey(ctx, "k", "h1", time.Minute); err != nil || rec != nil {
		t.Fatalf("first reserve: rec=%v err=%v", rec, err)
	}
	if _, err := m.ReserveKey(ctx, "k", "h1", time.Minute); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected in-progress conflict, got %v", err)
	}
	if _, err := m.ReserveKey(ctx, "k", "h2", time.Minute); !errors.Is(err, ErrIdempotencyMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if rec, err := m.ReserveKey(ctx, "k", "h1", time.Minute); err != nil || rec != nil {
		t.Fatalf("stale takeover: rec=%v err=%v", rec, err)
	}

	if err := m.CompleteKey(ctx, "k", 201, []byte(`{"booking_id":"b1"}`)); err != nil {
		t.Fatalf("CompleteKey: %v", err)
	}
	rec, err := m.ReserveKey(ctx, "k", "h1", time.Minute)
	if err != nil || rec == nil {
		t.Fatalf("expected completed record, got rec=%v err=%v", rec, err)
	}
	if rec.ResponseStatus != 201 || string(rec.ResponseBody) != `{"booking_id":"b1"}` {
		t.Fatalf("unexpected replay record: %+v", rec)
	}

	if err := m.ReleaseKey(ctx, "k"); err != nil {
		t.Fatalf("ReleaseKey: %v", err)
	}
	if rec, _ := m.ReserveKey(ctx, "k", "h1", time.Minute); rec == nil {
		t.Fatal("completed keys must survive ReleaseKey")
	}
}
