package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// OmiseProvider authorizes a card token with an uncaptured charge. Omise has
// no client secret; the 3-D Secure authorize URI is handed back instead.
type OmiseProvider struct {
	client *omise.Client
}

func NewOmiseProvider(publicKey, secretKey string) (*OmiseProvider, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return &OmiseProvider{client: c}, nil
}

func (p *OmiseProvider) Name() string { return "omise" }

func (p *OmiseProvider) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Handle, error) {
	if req.PaymentMethod == "" {
		return Handle{}, Rejected("omise requires a card token as payment_method", nil)
	}
	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Card:        req.PaymentMethod,
		DontCapture: true,
		Metadata:    map[string]any{"attempt": req.Reference},
	}
	if err := bounded(ctx, func() error { return p.client.Do(ch, op) }); err != nil {
		return Handle{}, classifyOmise(err)
	}

	if string(ch.Status) == "failed" {
		reason := "charge failed"
		if ch.FailureMessage != nil {
			reason = *ch.FailureMessage
		}
		return Handle{}, Rejected(reason, nil)
	}
	return Handle{ProviderRef: ch.ID, ClientSecret: ch.AuthorizeURI}, nil
}

func (p *OmiseProvider) CancelAuthorization(ctx context.Context, ref string) error {
	ch := &omise.Charge{}
	op := &operations.ReverseCharge{ChargeID: ref}
	if err := bounded(ctx, func() error { return p.client.Do(ch, op) }); err != nil {
		return classifyOmise(err)
	}
	return nil
}

// bounded gives up waiting on call once ctx is done; omise-go takes no context.
func bounded(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return Unavailable("omise call timed out", ctx.Err())
	}
}

func classifyOmise(err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	var oerr *omise.Error
	if !errors.As(err, &oerr) {
		return Unavailable("omise unreachable", err)
	}
	if oerr.StatusCode == http.StatusTooManyRequests || oerr.StatusCode >= 500 {
		return Unavailable(oerr.Message, err)
	}
	return Rejected(oerr.Message, err)
}
