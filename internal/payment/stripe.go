package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProvider creates manual-capture PaymentIntents; the client secret is
// returned to the browser to confirm the card.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, nil)}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Handle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if req.Reference != "" {
		params.SetIdempotencyKey(req.Reference)
		params.AddMetadata("attempt", req.Reference)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Handle{}, classifyStripe(err)
	}
	return Handle{ProviderRef: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProvider) CancelAuthorization(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if _, err := p.api.PaymentIntents.Cancel(ref, params); err != nil {
		return classifyStripe(err)
	}
	return nil
}

func classifyStripe(err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		// transport level: DNS, TLS, timeouts
		return Unavailable("stripe unreachable", err)
	}
	if serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500 || serr.Type == stripe.ErrorTypeAPI {
		return Unavailable(serr.Msg, err)
	}
	// card_error, invalid_request_error, idempotency_error
	return Rejected(serr.Msg, err)
}
