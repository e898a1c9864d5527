package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Error kinds. Only ErrProviderUnavailable is worth retrying.
var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrRejected            = errors.New("payment rejected")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Error is the only error type the Gateway returns.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func Unavailable(reason string, err error) *Error {
	return &Error{Kind: ErrProviderUnavailable, Reason: reason, Err: err}
}

func Rejected(reason string, err error) *Error {
	return &Error{Kind: ErrRejected, Reason: reason, Err: err}
}

func invalidAmount(reason string) *Error {
	return &Error{Kind: ErrInvalidAmount, Reason: reason}
}

// Retryable reports whether err is a transient provider failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// Handle is a pending, uncaptured authorization.
type Handle struct {
	ProviderRef  string
	ClientSecret string
	Amount       int64
	Currency     string
}

// AuthorizationRequest is what a Provider receives: amounts already in minor units.
type AuthorizationRequest struct {
	Amount        int64
	Currency      string
	Reference     string
	PaymentMethod string
}

// Provider is an external payment processor. Implementations classify their
// failures into *Error.
type Provider interface {
	Name() string
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Handle, error)
	CancelAuthorization(ctx context.Context, providerRef string) error
}

// Charge is a request in major currency units.
type Charge struct {
	Amount        float64
	Currency      string
	Reference     string
	PaymentMethod string
}

// Gateway converts prices and delegates to a Provider exactly once per call.
type Gateway struct {
	provider Provider
}

func NewGateway(p Provider) *Gateway {
	return &Gateway{provider: p}
}

func (g *Gateway) Provider() string {
	return g.provider.Name()
}

// Authorize requests a redeemable authorization for c. It does not retry.
func (g *Gateway) Authorize(ctx context.Context, c Charge) (Handle, error) {
	cur := strings.ToLower(strings.TrimSpace(c.Currency))
	minor, err := ToMinorUnits(c.Amount, cur)
	if err != nil {
		return Handle{}, err
	}

	h, err := g.provider.CreateAuthorization(ctx, AuthorizationRequest{
		Amount:        minor,
		Currency:      cur,
		Reference:     c.Reference,
		PaymentMethod: c.PaymentMethod,
	})
	if err != nil {
		return Handle{}, classify(ctx, err)
	}
	h.Amount = minor
	h.Currency = cur
	return h, nil
}

// Void releases a pending authorization that will never be captured.
func (g *Gateway) Void(ctx context.Context, h Handle) error {
	if h.ProviderRef == "" {
		return nil
	}
	if err := g.provider.CancelAuthorization(ctx, h.ProviderRef); err != nil {
		return classify(ctx, err)
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if ctx.Err() != nil {
		return Unavailable("request cancelled", err)
	}
	return Unavailable("unexpected provider error", err)
}

const maxMinorUnits = 99_999_999

// ToMinorUnits converts a major-unit price to the currency's smallest unit,
// rounding half away from zero at the currency's standard exponent.
func ToMinorUnits(amount float64, cur string) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, invalidAmount("amount must be finite")
	}
	if amount <= 0 {
		return 0, invalidAmount("amount must be positive")
	}
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(cur)))
	if err != nil {
		return 0, invalidAmount(fmt.Sprintf("unknown currency %q", cur))
	}
	scale, _ := currency.Standard.Rounding(unit)

	minor := decimal.NewFromFloat(amount).Round(int32(scale)).Shift(int32(scale))
	if !minor.IsPositive() {
		return 0, invalidAmount("amount is below the smallest currency unit")
	}
	if minor.GreaterThan(decimal.NewFromInt(maxMinorUnits)) {
		return 0, invalidAmount("amount exceeds the maximum chargeable amount")
	}
	return minor.IntPart(), nil
}
