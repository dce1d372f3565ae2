package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)


type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Backends   *stripe.Backends
	Logger     Logger
	Clock      func() time.Time

	sessions stripeSessionAPI
}

// StripeProvider charges bookings through Stripe Checkout with the Pix payment method.
type StripeProvider struct {
	sessions   stripeSessionAPI
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     Logger
}

var hundred = decimal.NewFromInt(100)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sessions := cfg.sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &StripeProvider{
		sessions:   sessions,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// CreateCharge opens a Checkout session for the booking amount.
func (p *StripeProvider) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if p == nil {
		return Charge{}, errors.New("stripe: provider is nil")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "brl"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(p.successURL),
		CancelURL:          stripe.String(p.cancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		ClientReferenceID:  stripe.String(req.BookingID),
		Metadata: map[string]string{
			"txid":      req.TxID,
			"bookingId": req.BookingID,
			"aceid":     req.Aceid,
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount.Mul(hundred).Round(0).IntPart()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Booking %s", req.Aceid)),
				},
			},
		}},
	}
	if req.ExpiresIn > 0 {
		params.ExpiresAt = stripe.Int64(p.clock().Add(req.ExpiresIn).Unix())
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.TxID)

	session, err := p.sessions.New(params)
	if err != nil {
		return Charge{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"bookingId": req.BookingID,
	})
	return Charge{
		Reference:  session.ID,
		PaymentURL: session.URL,
		Raw: map[string]any{
			"id":             session.ID,
			"status":         string(session.Status),
			"payment_status": string(session.PaymentStatus),
		},
	}, nil
}

// Review reports the session as succeeded once Stripe marks it paid.
func (p *StripeProvider) Review(ctx context.Context, req ReviewRequest) (Review, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sessions.Get(req.Reference, params)
	if err != nil {
		return Review{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	review := Review{
		Status:     StatusPending,
		PaidAmount: decimal.NewFromInt(session.AmountTotal).Div(hundred),
		Raw: map[string]any{
			"id":             session.ID,
			"status":         string(session.Status),
			"payment_status": string(session.PaymentStatus),
			"amount_total":   session.AmountTotal,
		},
	}
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		review.Status = StatusSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		review.Status = StatusFailed
	}
	return review, nil
}
