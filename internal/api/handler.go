package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/service"
)

const (
	tokenCookie  = "token"
	maxBodyBytes = 1 << 20
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	bookings *service.BookingService
	catalog  *service.CatalogService
	authn    *auth.Authenticator
	health   Pinger
	log      *logrus.Logger

	production bool
}

func NewHandler(bookings *service.BookingService, catalog *service.CatalogService, authn *auth.Authenticator, health Pinger, log *logrus.Logger, production bool) *Handler {
	return &Handler{
		bookings:   bookings,
		catalog:    catalog,
		authn:      authn,
		health:     health,
		log:        log,
		production: production,
	}
}

// Routes builds the router with metrics, access logging and CORS applied.
func (h *Handler) Routes(corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	r.HandleFunc("/jwt", h.IssueTokenHandler).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.LogoutHandler).Methods(http.MethodGet)

	r.HandleFunc("/create-payment-intent", h.CreatePaymentIntentHandler).Methods(http.MethodPost)
	r.HandleFunc("/bookings", h.CreateBookingHandler).Methods(http.MethodPost)
	r.HandleFunc("/room-status/{id}", h.RoomStatusHandler).Methods(http.MethodPatch)
	r.HandleFunc("/my-bookings/{email}", h.MyBookingsHandler).Methods(http.MethodGet)
	r.HandleFunc("/manage-bookings/{email}", h.HostBookingsHandler).Methods(http.MethodGet)

	r.HandleFunc("/rooms", h.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms", h.requireSession(h.CreateRoomHandler)).Methods(http.MethodPost)
	r.HandleFunc("/room/{id}", h.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{email}", h.HostRoomsHandler).Methods(http.MethodGet)

	r.HandleFunc("/users", h.requireSession(h.ListUsersHandler)).Methods(http.MethodGet)
	r.HandleFunc("/users/{email}", h.requireSession(h.SaveUserHandler)).Methods(http.MethodPut)
	r.HandleFunc("/users/{email}/role", h.requireSession(h.UpdateRoleHandler)).Methods(http.MethodPut)
	r.HandleFunc("/user/{email}", h.GetUserHandler).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Idempotency-Key"}),
		handlers.AllowCredentials(),
	)
	return handlers.CustomLoggingHandler(io.Discard, cors(r), h.accessLog)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check failed")
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type claimKey struct{}

// requireSession rejects requests without a valid session and hands the
// verified claim to next.
func (h *Handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim, err := h.authn.Authenticate(r.Context(), sessionToken(r))
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "unauthorized access")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimKey{}, claim)))
	}
}

func claimFrom(ctx context.Context) auth.Claim {
	claim, _ := ctx.Value(claimKey{}).(auth.Claim)
	return claim
}

// sessionToken reads the token cookie, falling back to a bearer header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     tokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if h.production {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// respondWithServiceError maps a service error kind to its HTTP status.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: service.Reason(err), Retryable: service.Retryable(err)}
	var serr *service.Error
	if errors.As(err, &serr) {
		body.Kind = serr.Kind.Error()
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("unclassified service error")
		body.Error = "Internal Server Error"
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	respondWithJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrRoomUnavailable), errors.Is(err, service.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrServiceUnavailable), errors.Is(err, service.ErrRecordingFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorBody{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
