package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/domain"
	"github.com/punchamoorthee/stayvista/internal/store"
)

func newCatalog(t *testing.T) (*CatalogService, *store.Memory) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	mem := store.NewMemory()
	return NewCatalogService(mem, mem, log), mem
}

func TestAddRoomBelongsToCaller(t *testing.T) {
	c, _ := newCatalog(t)
	ctx := context.Background()
	host := auth.Claim{Subject: "host@x.com"}

	room, err := c.AddRoom(ctx, host, domain.Room{Title: "Cabin", Price: 80, Category: "Lake", Booked: true})
	if err != nil {
		t.Fatalf("AddRoom: %v", err)
	}
	if room.ID == "" || room.Booked || room.Host.Email != "host@x.com" {
		t.Fatalf("unexpected room: %+v", room)
	}

	if _, err := c.AddRoom(ctx, host, domain.Room{Title: "Cabin", Price: 80, Host: domain.Host{Email: "other@x.com"}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := c.AddRoom(ctx, host, domain.Room{Title: "Cabin", Price: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := c.AddRoom(ctx, host, domain.Room{Price: 10}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	lake, err := c.Rooms(ctx, "Lake")
	if err != nil || len(lake) != 1 {
		t.Fatalf("Rooms(Lake) = %v, %v", lake, err)
	}
	mine, err := c.HostRooms(ctx, "HOST@x.com")
	if err != nil || len(mine) != 1 {
		t.Fatalf("HostRooms = %v, %v", mine, err)
	}
	if _, err := c.Room(ctx, "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSaveUserKeepsExistingEntry(t *testing.T) {
	c, _ := newCatalog(t)
	ctx := context.Background()
	claim := auth.Claim{Subject: "g@x.com"}

	u, created, err := c.SaveUser(ctx, claim, "g@x.com", domain.User{Name: "G", Role: domain.RoleAdmin})
	if err != nil || !created {
		t.Fatalf("SaveUser: %v (created %v)", err, created)
	}
	if u.Role != domain.RoleGuest {
		t.Fatalf("self registration must not pick a role, got %q", u.Role)
	}
	if _, created, err = c.SaveUser(ctx, claim, "g@x.com", domain.User{Name: "Changed"}); err != nil || created {
		t.Fatalf("second SaveUser: %v (created %v)", err, created)
	}
	if _, _, err := c.SaveUser(ctx, claim, "other@x.com", domain.User{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateRoleRequiresAdmin(t *testing.T) {
	c, mem := newCatalog(t)
	ctx := context.Background()
	guest := auth.Claim{Subject: "g@x.com"}
	admin := auth.Claim{Subject: "admin@x.com"}
	if _, err := mem.UpdateUser(ctx, domain.User{Email: "admin@x.com", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if _, _, err := c.SaveUser(ctx, guest, "g@x.com", domain.User{}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	if _, err := c.UpdateRole(ctx, guest, "g@x.com", domain.User{Role: domain.RoleHost}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self promotion: expected ErrForbidden, got %v", err)
	}
	u, err := c.UpdateRole(ctx, guest, "g@x.com", domain.User{Role: domain.RoleGuest, Status: domain.UserStatusRequested})
	if err != nil || u.Status != domain.UserStatusRequested {
		t.Fatalf("host request: %+v, %v", u, err)
	}
	u, err = c.UpdateRole(ctx, admin, "g@x.com", domain.User{Role: domain.RoleHost, Status: "verified"})
	if err != nil || u.Role != domain.RoleHost {
		t.Fatalf("admin update: %+v, %v", u, err)
	}
	if _, err := c.UpdateRole(ctx, admin, "g@x.com", domain.User{Role: "owner"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := c.Users(ctx, guest); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	users, err := c.Users(ctx, admin)
	if err != nil || len(users) != 2 {
		t.Fatalf("Users = %v, %v", users, err)
	}
}
