package service

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/domain"
	"github.com/punchamoorthee/stayvista/internal/events"
	"github.com/punchamoorthee/stayvista/internal/payment"
	"github.com/punchamoorthee/stayvista/internal/store"
)

// Terminal states of a booking attempt, as logged and counted.
const (
	stateConfirmed           = "confirmed"
	stateUnauthorized        = "unauthorized"
	stateInvalid             = "invalid_input"
	stateAuthFailed          = "auth_failed"
	stateUnavailable         = "service_unavailable"
	stateReservationConflict = "reservation_conflict"
	stateRoomNotFound        = "room_not_found"
	stateRecordingFailed     = "recording_failed"
)

type Config struct {
	Currency               string
	RetryAttempts          int
	RetryBackoff           time.Duration
	AuthorizeTimeout       time.Duration
	ReserveTimeout         time.Duration
	RecordTimeout          time.Duration
	IdempotencyLockTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Currency:               "usd",
		RetryAttempts:          3,
		RetryBackoff:           200 * time.Millisecond,
		AuthorizeTimeout:       10 * time.Second,
		ReserveTimeout:         5 * time.Second,
		RecordTimeout:          5 * time.Second,
		IdempotencyLockTimeout: time.Minute,
	}
}

// withDefaults fills every unset field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.AuthorizeTimeout <= 0 {
		c.AuthorizeTimeout = d.AuthorizeTimeout
	}
	if c.ReserveTimeout <= 0 {
		c.ReserveTimeout = d.ReserveTimeout
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = d.RecordTimeout
	}
	if c.IdempotencyLockTimeout <= 0 {
		c.IdempotencyLockTimeout = d.IdempotencyLockTimeout
	}
	return c
}

// BookingService runs the authorize, reserve, record sequence and compensates
// whatever already happened when a later step fails.
type BookingService struct {
	auth    Authenticator
	gateway Gateway
	rooms   AvailabilityStore
	ledger  Ledger
	keys    IdempotencyStore

	events Publisher
	log    *logrus.Logger
	tracer trace.Tracer
	cfg    Config
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

type Option func(*BookingService)

func WithConfig(cfg Config) Option {
	return func(s *BookingService) { s.cfg = cfg.withDefaults() }
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *BookingService) { s.log = l }
}

func WithPublisher(p Publisher) Option {
	return func(s *BookingService) { s.events = p }
}

func NewBookingService(a Authenticator, g Gateway, rooms AvailabilityStore, ledger Ledger, keys IdempotencyStore, opts ...Option) *BookingService {
	s := &BookingService{
		auth:    a,
		gateway: g,
		rooms:   rooms,
		ledger:  ledger,
		keys:    keys,
		events:  events.Noop{},
		log:     logrus.StandardLogger(),
		tracer:  otel.Tracer("github.com/punchamoorthee/stayvista/internal/service"),
		cfg:     DefaultConfig(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book runs one booking attempt keyed by idempotencyKey. A completed key with
// the same request hash returns the stored response as replay instead.
func (s *BookingService) Book(ctx context.Context, token string, req domain.BookingRequest, idempotencyKey, reqHash string) (*domain.BookingResponse, *domain.IdempotencyRecord, error) {
	claim, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		bookingOutcomes.WithLabelValues(stateUnauthorized).Inc()
		return nil, nil, newError(ErrUnauthorized, "invalid or expired session")
	}
	if err := validateBooking(claim, &req); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			bookingOutcomes.WithLabelValues(stateUnauthorized).Inc()
		} else {
			bookingOutcomes.WithLabelValues(stateInvalid).Inc()
		}
		return nil, nil, err
	}
	if idempotencyKey == "" {
		bookingOutcomes.WithLabelValues(stateInvalid).Inc()
		return nil, nil, newError(ErrInvalidInput, "idempotency key is required")
	}

	log := s.log.WithFields(logrus.Fields{"room_id": req.RoomID, "guest": claim.Subject, "idempotency_key": idempotencyKey})

	existing, err := s.keys.ReserveKey(ctx, idempotencyKey, reqHash, s.cfg.IdempotencyLockTimeout)
	switch {
	case errors.Is(err, store.ErrIdempotencyMismatch):
		return nil, nil, newError(ErrIdempotencyMismatch, "idempotency key was used with a different request")
	case errors.Is(err, store.ErrIdempotencyConflict):
		return nil, nil, newError(ErrIdempotencyConflict, "a request with this idempotency key is in progress")
	case err != nil:
		log.WithError(err).Error("idempotency key reservation failed")
		return nil, nil, newError(ErrServiceUnavailable, "booking storage unavailable")
	case existing != nil:
		log.Info("replaying stored booking response")
		return nil, existing, nil
	}

	// A key taken over from a stale lock may already have a confirmed record.
	rec, err := s.ledger.FindByIdempotencyKey(ctx, idempotencyKey)
	switch {
	case err == nil:
		resp := &domain.BookingResponse{BookingID: rec.ID, State: rec.Status, RoomID: rec.RoomID, Amount: rec.Amount, Currency: rec.Currency}
		s.completeKey(ctx, log, idempotencyKey, resp)
		return resp, nil, nil
	case !errors.Is(err, store.ErrNotFound):
		log.WithError(err).Error("ledger lookup failed")
		s.releaseKey(ctx, log, idempotencyKey)
		return nil, nil, newError(ErrServiceUnavailable, "booking storage unavailable")
	}

	resp, err := s.run(ctx, log, claim, req, idempotencyKey)
	if err != nil {
		s.releaseKey(ctx, log, idempotencyKey)
		return nil, nil, err
	}
	s.completeKey(ctx, log, idempotencyKey, resp)
	return resp, nil, nil
}

func validateBooking(claim auth.Claim, req *domain.BookingRequest) error {
	req.Guest.Email = auth.NormalizeEmail(req.Guest.Email)
	req.HostEmail = auth.NormalizeEmail(req.HostEmail)
	req.RoomID = strings.TrimSpace(req.RoomID)

	if req.Guest.Email != claim.Subject {
		return newError(ErrUnauthorized, "session does not belong to the guest")
	}
	if req.RoomID == "" {
		return newError(ErrInvalidInput, "room_id is required")
	}
	if req.HostEmail == "" {
		return newError(ErrInvalidInput, "host is required")
	}
	if req.HostEmail == req.Guest.Email {
		return newError(ErrInvalidInput, "hosts cannot book their own room")
	}
	return nil
}

// run is a single pass of the state machine. Every failure after the
// authorization leaves the room and the payment as they were before, unless
// a confirmed record may have been written; then the room stays held.
func (s *BookingService) run(ctx context.Context, log *logrus.Entry, claim auth.Claim, req domain.BookingRequest, key string) (*domain.BookingResponse, error) {
	attempt := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "booking.attempt", trace.WithAttributes(
		attribute.String("booking.attempt", attempt),
		attribute.String("booking.room_id", req.RoomID),
	))
	defer span.End()

	log = log.WithField("attempt", attempt)
	ev := events.BookingEvent{
		Attempt:    attempt,
		RoomID:     req.RoomID,
		GuestEmail: claim.Subject,
		HostEmail:  req.HostEmail,
	}

	cur := req.Currency
	if cur == "" {
		cur = s.cfg.Currency
	}

	// The charge and the ledger entry come from the listing, never from the request.
	var room domain.Room
	err := s.stage(ctx, "lookup", s.cfg.ReserveTimeout, func(ctx context.Context) error {
		var err error
		room, err = s.rooms.GetRoom(ctx, req.RoomID)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, s.fail(ctx, log, span, stateRoomNotFound, ev, newError(ErrRoomNotFound, "room does not exist"))
	case err != nil:
		log.WithError(err).Error("room lookup failed")
		return nil, s.fail(ctx, log, span, stateUnavailable, ev, newError(ErrServiceUnavailable, "room catalog unavailable"))
	}
	if err := matchRoom(log, claim, room, req, cur); err != nil {
		state := stateInvalid
		if errors.Is(err, ErrInvalidAmount) {
			state = stateAuthFailed
		}
		return nil, s.fail(ctx, log, span, state, ev, err)
	}
	host := auth.NormalizeEmail(room.Host.Email)
	ev.HostEmail = host

	log.WithField("state", "authorizing").Debug("booking attempt started")
	handle, err := s.authorize(ctx, log, payment.Charge{
		Amount:        room.Price,
		Currency:      cur,
		Reference:     attempt,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		state := stateAuthFailed
		if errors.Is(err, ErrServiceUnavailable) {
			state = stateUnavailable
		}
		return nil, s.fail(ctx, log, span, state, ev, err)
	}
	ev.Amount, ev.Currency = handle.Amount, handle.Currency

	// From here on the caller's cancellation must not strand a reservation.
	detached := context.WithoutCancel(ctx)

	log.WithField("state", "reserving").Debug("payment authorized")
	err = s.stage(detached, "reserve", s.cfg.ReserveTimeout, func(ctx context.Context) error {
		return s.rooms.TrySetBooked(ctx, req.RoomID, false, true)
	})
	if err != nil {
		s.void(detached, log, handle)
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, s.fail(ctx, log, span, stateReservationConflict, ev,
				newError(ErrRoomUnavailable, "room is no longer available"))
		case errors.Is(err, store.ErrNotFound):
			return nil, s.fail(ctx, log, span, stateRoomNotFound, ev,
				newError(ErrRoomNotFound, "room does not exist"))
		default:
			log.WithError(err).Error("room reservation failed")
			return nil, s.fail(ctx, log, span, stateUnavailable, ev,
				newError(ErrServiceUnavailable, "room availability could not be updated"))
		}
	}

	if ctx.Err() != nil {
		s.compensate(detached, log, req.RoomID, handle)
		return nil, s.fail(ctx, log, span, stateRecordingFailed, ev,
			newError(ErrRecordingFailed, "request was cancelled before the booking was recorded"))
	}

	log.WithField("state", "recording").Debug("room reserved")
	rec := domain.BookingRecord{
		ID:             uuid.NewString(),
		GuestEmail:     claim.Subject,
		HostEmail:      host,
		RoomID:         req.RoomID,
		Amount:         handle.Amount,
		Currency:       handle.Currency,
		Status:         domain.StatusConfirmed,
		PaymentRef:     handle.ProviderRef,
		IdempotencyKey: key,
	}
	id, err := s.record(detached, log, rec)
	if err != nil {
		log.WithError(err).Error("ledger append failed")
		// Any of the failed appends may have committed. Only a cancellation
		// pointing at rec.ID makes freeing the room safe.
		if !s.cancelRecord(detached, log, rec) {
			compensations.WithLabelValues("hold", "error").Inc()
			return nil, s.fail(ctx, log, span, stateRecordingFailed, ev,
				newError(ErrRecordingFailed, "booking could not be recorded; the room stays held until its host releases it"))
		}
		s.compensate(detached, log, req.RoomID, handle)
		return nil, s.fail(ctx, log, span, stateRecordingFailed, ev,
			newError(ErrRecordingFailed, "booking could not be recorded; the room was released and the payment voided"))
	}

	ev.BookingID = id
	resp := &domain.BookingResponse{
		BookingID:    id,
		State:        domain.StatusConfirmed,
		RoomID:       req.RoomID,
		Amount:       handle.Amount,
		Currency:     handle.Currency,
		ClientSecret: handle.ClientSecret,
	}
	bookingOutcomes.WithLabelValues(stateConfirmed).Inc()
	span.SetAttributes(attribute.String("booking.id", id))
	log.WithFields(logrus.Fields{"state": stateConfirmed, "booking_id": id}).Info("booking confirmed")
	s.publish(detached, log, events.BookingConfirmed, ev, stateConfirmed, "")
	return resp, nil
}

// matchRoom checks the request against the listing it names.
func matchRoom(log *logrus.Entry, claim auth.Claim, room domain.Room, req domain.BookingRequest, cur string) error {
	host := auth.NormalizeEmail(room.Host.Email)
	if host == claim.Subject {
		return newError(ErrInvalidInput, "hosts cannot book their own room")
	}
	if req.HostEmail != host {
		return newError(ErrInvalidInput, "host does not match the room")
	}
	got, err := payment.ToMinorUnits(req.Price, cur)
	if err != nil {
		return translatePaymentError(log, err)
	}
	want, err := payment.ToMinorUnits(room.Price, cur)
	if err != nil {
		return translatePaymentError(log, err)
	}
	if got != want {
		return newError(ErrInvalidInput, "price does not match the room")
	}
	return nil
}

// record appends rec, retrying failures with the same record. Append returns
// the stored id for a confirmed key that is already recorded, so a retry
// after an ambiguous failure cannot write a second booking.
func (s *BookingService) record(ctx context.Context, log *logrus.Entry, rec domain.BookingRecord) (string, error) {
	backoff := s.cfg.RetryBackoff
	var id string
	var err error
	for try := 1; try <= s.cfg.RetryAttempts; try++ {
		if try > 1 {
			log.WithError(err).WithField("try", try).Warn("ledger append failed, retrying")
			if serr := s.sleep(ctx, backoff); serr != nil {
				break
			}
			backoff *= 2
		}
		err = s.stage(ctx, "record", s.cfg.RecordTimeout, func(ctx context.Context) error {
			var aerr error
			id, aerr = s.ledger.Append(ctx, rec)
			return aerr
		})
		if err == nil {
			return id, nil
		}
	}
	return "", err
}

// cancelRecord appends a cancellation of rec.ID, so a confirmed record left
// behind by a failed append is never active. It reports whether the room can
// be released.
func (s *BookingService) cancelRecord(ctx context.Context, log *logrus.Entry, rec domain.BookingRecord) bool {
	cancelled := rec
	cancelled.ID = uuid.NewString()
	cancelled.Status = domain.StatusCancelled
	cancelled.IdempotencyKey = ""
	cancelled.Compensates = rec.ID
	err := s.stage(ctx, "record_cancel", s.cfg.RecordTimeout, func(ctx context.Context) error {
		_, err := s.ledger.Append(ctx, cancelled)
		return err
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		log.WithError(err).WithField("booking_id", rec.ID).Error("could not cancel unconfirmed booking record")
		return false
	}
	return true
}

// authorize calls the gateway, retrying only provider outages with a
// doubling backoff.
func (s *BookingService) authorize(ctx context.Context, log *logrus.Entry, c payment.Charge) (payment.Handle, error) {
	backoff := s.cfg.RetryBackoff
	var lastErr error
	for try := 1; try <= s.cfg.RetryAttempts; try++ {
		var h payment.Handle
		err := s.stage(ctx, "authorize", s.cfg.AuthorizeTimeout, func(ctx context.Context) error {
			var err error
			h, err = s.gateway.Authorize(ctx, c)
			return err
		})
		if err == nil {
			return h, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			// The provider may have created the authorization before the caller left.
			log.WithError(err).WithField("payment_reference", c.Reference).
				Warn("caller cancelled during authorization; void any authorization under this reference")
			return payment.Handle{}, newError(ErrServiceUnavailable, "request cancelled during payment authorization")
		}
		if !payment.Retryable(err) || try == s.cfg.RetryAttempts {
			break
		}
		log.WithError(err).WithField("try", try).Warn("payment provider unavailable, retrying")
		if err := s.sleep(ctx, backoff); err != nil {
			return payment.Handle{}, newError(ErrServiceUnavailable, "request cancelled while waiting to retry the payment")
		}
		backoff *= 2
	}
	return payment.Handle{}, translatePaymentError(log, lastErr)
}

func translatePaymentError(log *logrus.Entry, err error) error {
	reason := "payment provider unavailable"
	var perr *payment.Error
	if errors.As(err, &perr) && perr.Reason != "" {
		reason = perr.Reason
	}
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		return newError(ErrInvalidAmount, reason)
	case errors.Is(err, payment.ErrRejected):
		return newError(ErrRejected, reason)
	default:
		log.WithError(err).Error("payment authorization failed")
		return newError(ErrServiceUnavailable, "payment provider unavailable")
	}
}

// compensate reverts the reservation and voids the authorization.
func (s *BookingService) compensate(ctx context.Context, log *logrus.Entry, roomID string, h payment.Handle) {
	err := s.stage(ctx, "revert", s.cfg.ReserveTimeout, func(ctx context.Context) error {
		return s.rooms.TrySetBooked(ctx, roomID, true, false)
	})
	if err != nil {
		compensations.WithLabelValues("revert", "error").Inc()
		log.WithError(err).Error("could not revert room reservation")
	} else {
		compensations.WithLabelValues("revert", "ok").Inc()
	}
	s.void(ctx, log, h)
}

func (s *BookingService) void(ctx context.Context, log *logrus.Entry, h payment.Handle) {
	err := s.stage(ctx, "void", s.cfg.AuthorizeTimeout, func(ctx context.Context) error {
		return s.gateway.Void(ctx, h)
	})
	if err != nil {
		compensations.WithLabelValues("void", "error").Inc()
		log.WithError(err).WithField("payment_ref", h.ProviderRef).Error("could not void authorization")
		return
	}
	compensations.WithLabelValues("void", "ok").Inc()
}

// stage runs fn under its own timeout, span and latency observation.
func (s *BookingService) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "booking."+name)
	defer span.End()
	timer := prometheus.NewTimer(stageDuration.WithLabelValues(name))
	defer timer.ObserveDuration()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func (s *BookingService) fail(ctx context.Context, log *logrus.Entry, span trace.Span, state string, ev events.BookingEvent, err error) error {
	bookingOutcomes.WithLabelValues(state).Inc()
	span.SetStatus(codes.Error, state)
	log.WithFields(logrus.Fields{"state": state, "reason": Reason(err)}).Warn("booking attempt failed")
	s.publish(context.WithoutCancel(ctx), log, events.BookingFailed, ev, state, Reason(err))
	return err
}

func (s *BookingService) publish(ctx context.Context, log *logrus.Entry, key string, ev events.BookingEvent, state, reason string) {
	ev.State = state
	ev.Reason = reason
	ev.OccurredAt = s.now().UTC()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()
	if err := s.events.PublishJSON(ctx, key, ev); err != nil {
		log.WithError(err).WithField("event", key).Warn("event publish failed")
	}
}

func (s *BookingService) completeKey(ctx context.Context, log *logrus.Entry, key string, resp *domain.BookingResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("encode booking response")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	defer cancel()
	if err := s.keys.CompleteKey(ctx, key, http.StatusCreated, body); err != nil {
		log.WithError(err).Error("idempotency key completion failed")
	}
}

func (s *BookingService) releaseKey(ctx context.Context, log *logrus.Entry, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	defer cancel()
	if err := s.keys.ReleaseKey(ctx, key); err != nil {
		log.WithError(err).Error("idempotency key release failed")
	}
}

// Release ends the active booking of a room on behalf of its host: the room
// goes back to available and a cancelled record compensating the confirmed one
// is appended.
func (s *BookingService) Release(ctx context.Context, token, roomID string) (domain.Room, error) {
	claim, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return domain.Room{}, newError(ErrUnauthorized, "invalid or expired session")
	}
	log := s.log.WithFields(logrus.Fields{"room_id": roomID, "host": claim.Subject})

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Room{}, newError(ErrRoomNotFound, "room does not exist")
		}
		log.WithError(err).Error("room lookup failed")
		return domain.Room{}, newError(ErrServiceUnavailable, "room catalog unavailable")
	}
	if auth.NormalizeEmail(room.Host.Email) != claim.Subject {
		return domain.Room{}, newError(ErrForbidden, "only the host can release this room")
	}
	if !room.Booked {
		return domain.Room{}, newError(ErrRoomUnavailable, "room is not booked")
	}

	active, err := s.ledger.ActiveForRoom(ctx, roomID)
	hasRecord := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Error("ledger lookup failed")
		return domain.Room{}, newError(ErrServiceUnavailable, "booking storage unavailable")
	}
	if !hasRecord {
		log.Warn("releasing a booked room without a confirmed record")
	}

	detached := context.WithoutCancel(ctx)
	err = s.stage(detached, "release", s.cfg.ReserveTimeout, func(ctx context.Context) error {
		return s.rooms.TrySetBooked(ctx, roomID, true, false)
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		return domain.Room{}, newError(ErrRoomUnavailable, "room is not booked")
	case errors.Is(err, store.ErrNotFound):
		return domain.Room{}, newError(ErrRoomNotFound, "room does not exist")
	case err != nil:
		log.WithError(err).Error("room release failed")
		return domain.Room{}, newError(ErrServiceUnavailable, "room availability could not be updated")
	}

	ev := events.BookingEvent{Attempt: uuid.NewString(), RoomID: roomID, HostEmail: claim.Subject}
	if hasRecord {
		cancelled := domain.BookingRecord{
			ID:          uuid.NewString(),
			GuestEmail:  active.GuestEmail,
			HostEmail:   active.HostEmail,
			RoomID:      roomID,
			Amount:      active.Amount,
			Currency:    active.Currency,
			Status:      domain.StatusCancelled,
			PaymentRef:  active.PaymentRef,
			Compensates: active.ID,
		}
		err = s.stage(detached, "record", s.cfg.RecordTimeout, func(ctx context.Context) error {
			_, err := s.ledger.Append(ctx, cancelled)
			return err
		})
		if err != nil {
			log.WithError(err).Error("cancellation append failed")
			rerr := s.stage(detached, "revert", s.cfg.ReserveTimeout, func(ctx context.Context) error {
				return s.rooms.TrySetBooked(ctx, roomID, false, true)
			})
			if rerr != nil {
				compensations.WithLabelValues("rebook", "error").Inc()
				log.WithError(rerr).Error("could not restore room after failed release")
			} else {
				compensations.WithLabelValues("rebook", "ok").Inc()
			}
			return domain.Room{}, newError(ErrRecordingFailed, "release could not be recorded; the room stays booked")
		}
		ev.BookingID = active.ID
		ev.GuestEmail = active.GuestEmail
		ev.Amount, ev.Currency = active.Amount, active.Currency
	}

	log.Info("room released")
	s.publish(detached, log, events.BookingReleased, ev, domain.StatusCancelled, "")
	room.Booked = false
	return room, nil
}

// CreatePaymentIntent authorizes a standalone payment for the session owner
// and returns the handle whose client secret the browser confirms.
func (s *BookingService) CreatePaymentIntent(ctx context.Context, token string, req domain.PaymentIntentRequest) (payment.Handle, error) {
	claim, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return payment.Handle{}, newError(ErrUnauthorized, "invalid or expired session")
	}
	cur := req.Currency
	if cur == "" {
		cur = s.cfg.Currency
	}
	ref := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{"guest": claim.Subject, "attempt": ref})
	return s.authorize(ctx, log, payment.Charge{Amount: req.Price, Currency: cur, Reference: ref})
}

// MyBookings streams the ledger records of the session owner as guest.
func (s *BookingService) MyBookings(ctx context.Context, token, email string) (iter.Seq2[domain.BookingRecord, error], error) {
	if err := s.owner(ctx, token, email); err != nil {
		return nil, err
	}
	return translated(s.ledger.QueryByGuest(ctx, auth.NormalizeEmail(email))), nil
}

// HostBookings streams the ledger records of rooms hosted by the session owner.
func (s *BookingService) HostBookings(ctx context.Context, token, email string) (iter.Seq2[domain.BookingRecord, error], error) {
	if err := s.owner(ctx, token, email); err != nil {
		return nil, err
	}
	return translated(s.ledger.QueryByHost(ctx, auth.NormalizeEmail(email))), nil
}

func (s *BookingService) owner(ctx context.Context, token, email string) error {
	claim, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return newError(ErrUnauthorized, "invalid or expired session")
	}
	if auth.NormalizeEmail(email) != claim.Subject {
		return newError(ErrForbidden, "bookings of another user")
	}
	return nil
}

func translated(seq iter.Seq2[domain.BookingRecord, error]) iter.Seq2[domain.BookingRecord, error] {
	return func(yield func(domain.BookingRecord, error) bool) {
		for rec, err := range seq {
			if err != nil {
				logrus.WithError(err).Error("ledger query failed")
				yield(domain.BookingRecord{}, newError(ErrServiceUnavailable, "booking history unavailable"))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
