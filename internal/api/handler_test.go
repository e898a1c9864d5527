package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayvista/internal/auth"
	"github.com/punchamoorthee/stayvista/internal/domain"
	"github.com/punchamoorthee/stayvista/internal/payment"
	"github.com/punchamoorthee/stayvista/internal/service"
	"github.com/punchamoorthee/stayvista/internal/store"
)

type stubProvider struct {
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) CreateAuthorization(_ context.Context, req payment.AuthorizationRequest) (payment.Handle, error) {
	p.calls++
	return payment.Handle{ProviderRef: "pi_" + req.Reference, ClientSecret: "cs_" + req.Reference}, nil
}

func (p *stubProvider) CancelAuthorization(context.Context, string) error { return nil }

type testServer struct {
	handler  http.Handler
	authn    *auth.Authenticator
	mem      *store.Memory
	provider *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	authn, err := auth.NewAuthenticator("test-secret", time.Hour, auth.WithRevocationStore(auth.NewMemoryRevocationStore()))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	mem := store.NewMemory()
	provider := &stubProvider{}
	bookings := service.NewBookingService(authn, payment.NewGateway(provider), mem, mem, mem, service.WithLogger(log))
	catalog := service.NewCatalogService(mem, mem, log)
	h := NewHandler(bookings, catalog, authn, mem, log, false)

	if _, err := mem.CreateRoom(context.Background(), domain.Room{ID: "r1", Title: "Loft", Price: 100, Host: domain.Host{Email: "host@x.com"}}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return &testServer{handler: h.Routes([]string{"http://localhost:5173"}), authn: authn, mem: mem, provider: provider}
}

func (s *testServer) token(t *testing.T, email string) string {
	t.Helper()
	tok, _, err := s.authn.Issue(email)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: tokenCookie, Value: token})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

const bookingBody = `{"guest":{"email":"g@x.com"},"host":"host@x.com","room_id":"r1","price":100}`

func TestIssueTokenSetsCookie(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodPost, "/jwt", "", `{"email":"G@x.com"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.Value == "" {
		t.Fatalf("expected an http-only session cookie, got %+v", cookie)
	}
	claim, err := s.authn.Authenticate(context.Background(), cookie.Value)
	if err != nil || claim.Subject != "g@x.com" {
		t.Fatalf("cookie token: %+v, %v", claim, err)
	}

	rr = s.do(http.MethodGet, "/logout", cookie.Value, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	if _, err := s.authn.Authenticate(context.Background(), cookie.Value); err == nil {
		t.Fatal("token should be revoked after logout")
	}
}

func TestCreateBookingAndReplay(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "g@x.com")
	key := map[string]string{"Idempotency-Key": "k-1"}

	rr := s.do(http.MethodPost, "/bookings", tok, bookingBody, key)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created domain.BookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.BookingID == "" || created.Amount != 10000 || rr.Header().Get("Location") != "/bookings/"+created.BookingID {
		t.Fatalf("unexpected response: %+v (Location %q)", created, rr.Header().Get("Location"))
	}

	rr = s.do(http.MethodPost, "/bookings", tok, bookingBody, key)
	if rr.Code != http.StatusCreated || rr.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var replayed domain.BookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &replayed); err != nil || replayed.BookingID != created.BookingID {
		t.Fatalf("replay mismatch: %+v, %v", replayed, err)
	}
	if s.provider.calls != 1 {
		t.Fatalf("replay must not authorize again, got %d calls", s.provider.calls)
	}

	rr = s.do(http.MethodPost, "/bookings", tok, strings.Replace(bookingBody, "100", "120", 1), key)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mismatched body: expected 422, got %d", rr.Code)
	}

	other := strings.Replace(bookingBody, "g@x.com", "o@x.com", 1)
	rr = s.do(http.MethodPost, "/bookings", s.token(t, "o@x.com"), other, map[string]string{"Idempotency-Key": "k-2"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("booked room: expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateBookingRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "g@x.com")

	if rr := s.do(http.MethodPost, "/bookings", tok, bookingBody, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing key: expected 400, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/bookings", "", bookingBody, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no session and no key: expected 401, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/bookings", tok, "{", map[string]string{"Idempotency-Key": "k"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/bookings", "", bookingBody, map[string]string{"Idempotency-Key": "k"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no session: expected 401, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/bookings", "", bookingBody, map[string]string{"Idempotency-Key": "k", "Authorization": "Bearer " + tok}); rr.Code != http.StatusCreated {
		t.Fatalf("bearer session: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if s.provider.calls != 1 {
		t.Fatalf("expected only the authenticated booking to reach the provider, got %d", s.provider.calls)
	}
}

func TestRoomStatusOnlyReleases(t *testing.T) {
	s := newTestServer(t)
	if rr := s.do(http.MethodPost, "/bookings", s.token(t, "g@x.com"), bookingBody, map[string]string{"Idempotency-Key": "k"}); rr.Code != http.StatusCreated {
		t.Fatalf("booking: %d %s", rr.Code, rr.Body.String())
	}
	host := s.token(t, "host@x.com")

	if rr := s.do(http.MethodPatch, "/room-status/r1", host, `{"status":true}`, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status true: expected 422, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPatch, "/room-status/r1", s.token(t, "g@x.com"), `{"status":false}`, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("guest release: expected 403, got %d", rr.Code)
	}
	rr := s.do(http.MethodPatch, "/room-status/r1", host, `{"status":false}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	room, _ := s.mem.GetRoom(context.Background(), "r1")
	if room.Booked {
		t.Fatal("room should be available")
	}
	if rr := s.do(http.MethodPatch, "/room-status/missing", host, `{"status":false}`, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing room: expected 404, got %d", rr.Code)
	}
}

func TestBookingHistoryEndpoints(t *testing.T) {
	s := newTestServer(t)
	guest := s.token(t, "g@x.com")
	if rr := s.do(http.MethodPost, "/bookings", guest, bookingBody, map[string]string{"Idempotency-Key": "k"}); rr.Code != http.StatusCreated {
		t.Fatalf("booking: %d", rr.Code)
	}

	rr := s.do(http.MethodGet, "/my-bookings/g@x.com", guest, "", nil)
	var records []domain.BookingRecord
	if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &records) != nil || len(records) != 1 {
		t.Fatalf("my-bookings: %d %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(http.MethodGet, "/manage-bookings/host@x.com", guest, "", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign history: expected 403, got %d", rr.Code)
	}
	rr = s.do(http.MethodGet, "/manage-bookings/host@x.com", s.token(t, "host@x.com"), "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"room_id":"r1"`) {
		t.Fatalf("manage-bookings: %d %s", rr.Code, rr.Body.String())
	}
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)
	host := s.token(t, "host@x.com")

	if rr := s.do(http.MethodPost, "/rooms", "", `{"title":"Cabin","price":80}`, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous listing: expected 401, got %d", rr.Code)
	}
	rr := s.do(http.MethodPost, "/rooms", host, `{"title":"Cabin","price":80,"category":"Lake"}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create room: %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(http.MethodGet, "/rooms?category=Lake", "", "", nil)
	var rooms []domain.Room
	if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &rooms) != nil || len(rooms) != 1 {
		t.Fatalf("list rooms: %d %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(http.MethodGet, "/room/nope", "", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing room: expected 404, got %d", rr.Code)
	}

	if rr := s.do(http.MethodPut, "/users/host@x.com", host, `{"name":"Host"}`, nil); rr.Code != http.StatusCreated {
		t.Fatalf("save user: %d %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(http.MethodPut, "/users/host@x.com", host, `{}`, nil); rr.Code != http.StatusOK {
		t.Fatalf("save existing user: expected 200, got %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/user/host@x.com", "", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("get user: %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/users", host, "", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin user list: expected 403, got %d", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	if rr := s.do(http.MethodGet, "/health", "", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	s.do(http.MethodGet, "/rooms", "", "", nil)
	rr := s.do(http.MethodGet, "/metrics", "", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "stayvista_http_requests_total") {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestStatusForErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrUnauthorized, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{service.ErrRejected, http.StatusPaymentRequired},
		{service.ErrRoomUnavailable, http.StatusConflict},
		{service.ErrIdempotencyConflict, http.StatusConflict},
		{service.ErrRoomNotFound, http.StatusNotFound},
		{service.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{service.ErrRecordingFailed, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		wrapped := &service.Error{Kind: c.err, Reason: "x"}
		if got := statusFor(wrapped); got != c.want {
			t.Errorf("%v: expected %d, got %d", c.err, c.want, got)
		}
	}
}

func TestRetryableErrorsCarryRetryAfter(t *testing.T) {
	h := &Handler{log: logrus.New()}
	rr := httptest.NewRecorder()
	h.respondWithServiceError(rr, &service.Error{Kind: service.ErrRecordingFailed, Reason: "ledger down"})

	if rr.Code != http.StatusServiceUnavailable || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 503 with Retry-After, got %d %v", rr.Code, rr.Header())
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || !body.Retryable || body.Error != "ledger down" {
		t.Fatalf("unexpected body: %+v, %v", body, err)
	}
}
