package domain

import (
	"encoding/json"
	"time"
)

// Booking record statuses. Records are append-only; a cancellation is a new
// record whose Compensates field points at the confirmed record it reverses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// User roles.
const (
	RoleGuest = "guest"
	RoleHost  = "host"
	RoleAdmin = "admin"
)

// UserStatusRequested marks a guest who asked to become a host.
const UserStatusRequested = "requested"

// Host is the listing owner as embedded in a room document.
type Host struct {
	Name  string `json:"name" bson:"name"`
	Email string `json:"email" bson:"email"`
	Image string `json:"image,omitempty" bson:"image,omitempty"`
}

// Room is a listing. Booked is only ever changed through a compare-and-swap on
// the availability store.
type Room struct {
	ID          string    `json:"id"`
	Host        Host      `json:"host"`
	Price       float64   `json:"price"`
	Booked      bool      `json:"booked"`
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Guests      int       `json:"guests"`
	Bedrooms    int       `json:"bedrooms"`
	Bathrooms   int       `json:"bathrooms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Guest identifies the booking party.
type Guest struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Image string `json:"image,omitempty"`
}

// BookingRequest is the DTO for incoming booking submissions.
type BookingRequest struct {
	Guest         Guest   `json:"guest"`
	HostEmail     string  `json:"host"`
	RoomID        string  `json:"room_id"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
}

// BookingRecord is one immutable ledger entry.
type BookingRecord struct {
	ID             string    `json:"id"`
	GuestEmail     string    `json:"guest_email"`
	HostEmail      string    `json:"host_email"`
	RoomID         string    `json:"room_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	PaymentRef     string    `json:"payment_ref,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Compensates    string    `json:"compensates,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BookingResponse is the canonical response structure for 201/200 OK.
type BookingResponse struct {
	BookingID    string `json:"booking_id"`
	State        string `json:"state"`
	RoomID       string `json:"room_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// RoomStatusRequest toggles availability for a room.
type RoomStatusRequest struct {
	Status bool `json:"status"`
}

// PaymentIntentRequest asks for a standalone payment authorization.
type PaymentIntentRequest struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
}

// User is an entry of the user directory, keyed by email.
type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"image,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string          `json:"key"`
	RequestHash    string          `json:"request_hash"`
	Status         string          `json:"status"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	ResponseStatus int             `json:"response_status,omitempty"`
	LockedAt       time.Time       `json:"locked_at"`
}

// Idempotency key statuses.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)
