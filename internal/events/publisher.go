package events

import (
	"context"
	"time"
)

// Routing keys for booking outcomes.
const (
	BookingConfirmed = "booking.confirmed"
	BookingFailed    = "booking.failed"
	BookingReleased  = "booking.released"
)

// BookingEvent is the payload published for every terminal booking outcome.
type BookingEvent struct {
	Attempt    string    `json:"attempt"`
	BookingID  string    `json:"booking_id,omitempty"`
	RoomID     string    `json:"room_id"`
	GuestEmail string    `json:"guest_email,omitempty"`
	HostEmail  string    `json:"host_email,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishJSON(context.Context, string, any) error { return nil }

func (Noop) Close() error { return nil }
