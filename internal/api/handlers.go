package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/stayvista/internal/domain"
)

type tokenRequest struct {
	Email string `json:"email"`
}

// IssueTokenHandler signs a session for email and sets it as an http-only cookie.
func (h *Handler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	token, claim, err := h.authn.Issue(req.Email)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}
	http.SetCookie(w, h.sessionCookie(token, int(h.authn.TTL().Seconds())))
	h.log.WithField("email", claim.Subject).Info("session issued")
	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if claim, err := h.authn.Authenticate(r.Context(), sessionToken(r)); err == nil {
		if err := h.authn.Revoke(r.Context(), claim); err != nil {
			h.log.WithError(err).Warn("session revocation failed")
		}
	}
	http.SetCookie(w, h.sessionCookie("", -1))
	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) CreatePaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	handle, err := h.bookings.CreatePaymentIntent(r.Context(), sessionToken(r), req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"clientSecret": handle.ClientSecret})
}

func (h *Handler) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	// 1. Book authenticates before it rejects a missing key
	idempotencyKey := r.Header.Get("Idempotency-Key")

	// 2. Read and Hash Body
	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	hash := sha256.Sum256(bodyBytes)
	reqHash := hex.EncodeToString(hash[:])

	var req domain.BookingRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	// 3. Call Service
	resp, existing, err := h.bookings.Book(r.Context(), sessionToken(r), req, idempotencyKey, reqHash)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	// Idempotent replay
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.ResponseStatus)
		w.Write(existing.ResponseBody)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/bookings/%s", resp.BookingID))
	respondWithJSON(w, http.StatusCreated, resp)
}

// RoomStatusHandler only accepts releases; bookings go through /bookings.
func (h *Handler) RoomStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RoomStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Status {
		respondWithError(w, http.StatusUnprocessableEntity, "rooms are booked through POST /bookings")
		return
	}
	room, err := h.bookings.Release(r.Context(), sessionToken(r), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, room)
}

func (h *Handler) MyBookingsHandler(w http.ResponseWriter, r *http.Request) {
	seq, err := h.bookings.MyBookings(r.Context(), sessionToken(r), mux.Vars(r)["email"])
	h.respondWithBookings(w, seq, err)
}

func (h *Handler) HostBookingsHandler(w http.ResponseWriter, r *http.Request) {
	seq, err := h.bookings.HostBookings(r.Context(), sessionToken(r), mux.Vars(r)["email"])
	h.respondWithBookings(w, seq, err)
}

func (h *Handler) respondWithBookings(w http.ResponseWriter, seq iter.Seq2[domain.BookingRecord, error], err error) {
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	records := []domain.BookingRecord{}
	for rec, err := range seq {
		if err != nil {
			h.respondWithServiceError(w, err)
			return
		}
		records = append(records, rec)
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (h *Handler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.catalog.Rooms(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rooms)
}

func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := h.catalog.Room(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, room)
}

func (h *Handler) HostRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.catalog.HostRooms(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rooms)
}

func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var room domain.Room
	if err := decodeJSON(w, r, &room); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	created, err := h.catalog.AddRoom(r.Context(), claimFrom(r.Context()), room)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/room/%s", created.ID))
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *Handler) SaveUserHandler(w http.ResponseWriter, r *http.Request) {
	var u domain.User
	if err := decodeJSON(w, r, &u); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	saved, created, err := h.catalog.SaveUser(r.Context(), claimFrom(r.Context()), mux.Vars(r)["email"], u)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondWithJSON(w, status, saved)
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := h.catalog.User(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

func (h *Handler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.catalog.Users(r.Context(), claimFrom(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (h *Handler) UpdateRoleHandler(w http.ResponseWriter, r *http.Request) {
	var u domain.User
	if err := decodeJSON(w, r, &u); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	updated, err := h.catalog.UpdateRole(r.Context(), claimFrom(r.Context()), mux.Vars(r)["email"], u)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}
