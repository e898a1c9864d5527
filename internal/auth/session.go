package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is the only error callers see from Authenticate. Parser
// detail stays out of it so nothing about the secret or token leaks.
var ErrUnauthorized = errors.New("unauthorized")

// Claim is the verified identity carried by a session token.
type Claim struct {
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationStore remembers signed-out token ids until they expire.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 session tokens.
type Authenticator struct {
	secret  []byte
	ttl     time.Duration
	revoked RevocationStore
	now     func() time.Time
}

type Option func(*Authenticator)

// WithRevocationStore enables sign-out; without one, Revoke is a no-op.
func WithRevocationStore(store RevocationStore) Option {
	return func(a *Authenticator) {
		a.revoked = store
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

func NewAuthenticator(secret string, ttl time.Duration, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token lifetime must be positive")
	}
	a := &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue signs a token bound to email, valid for the configured lifetime.
func (a *Authenticator) Issue(email string) (string, Claim, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", Claim{}, errors.New("email is required")
	}

	now := a.now().UTC().Truncate(time.Second)
	claim := Claim{
		ID:        uuid.NewString(),
		Subject:   email,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claim.ID,
			Subject:   claim.Subject,
			IssuedAt:  jwt.NewNumericDate(claim.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claim.ExpiresAt),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", Claim{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claim, nil
}

// Authenticate verifies signature, algorithm, expiry and revocation.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Claim, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claim{}, ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claim{}, ErrUnauthorized
	}
	sc, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || sc.Subject == "" {
		return Claim{}, ErrUnauthorized
	}

	claim := Claim{
		ID:        sc.ID,
		Subject:   NormalizeEmail(sc.Subject),
		ExpiresAt: sc.ExpiresAt.Time.UTC(),
	}
	if sc.IssuedAt != nil {
		claim.IssuedAt = sc.IssuedAt.Time.UTC()
	}

	if a.revoked != nil && claim.ID != "" {
		revoked, err := a.revoked.IsRevoked(ctx, claim.ID)
		if err != nil || revoked {
			return Claim{}, ErrUnauthorized
		}
	}
	return claim, nil
}

// Revoke invalidates a token before its natural expiry.
func (a *Authenticator) Revoke(ctx context.Context, claim Claim) error {
	if a.revoked == nil || claim.ID == "" {
		return nil
	}
	return a.revoked.MarkRevoked(ctx, claim.ID, claim.ExpiresAt)
}

// TTL is the configured token lifetime.
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
