// Package payments adapts payment service providers behind a provider-neutral contract.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payer has not completed the payment yet.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the charge as settled.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a terminal failure.
	StatusFailed Status = "failed"
)

// Logger records provider events with structured fields.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ChargeRequest describes a pay-to-book charge.
type ChargeRequest struct {
	TxID        string
	BookingID   string
	Aceid       string
	Amount      decimal.Decimal
	Currency    string
	PayerName   string
	PayerTaxID  string
	Description string
	ExpiresIn   time.Duration
}

// Charge is the provider's answer to a ChargeRequest.
type Charge struct {
	Provider   string
	Reference  string
	QRCode     string
	PaymentURL string
	Raw        map[string]any
}

// ReviewRequest asks the provider for the current state of a charge.
type ReviewRequest struct {
	Reference string
}

// Review is the normalised state of a charge.
type Review struct {
	Status     Status
	PaidAmount decimal.Decimal
	Raw        map[string]any
}

// Provider defines the contract for payment adapters.
type Provider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	Review(ctx context.Context, req ReviewRequest) (Review, error)
}

// ProviderError records a non-success answer from a provider. Body holds the decoded response
// when available so it can be stored on the transaction.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       map[string]any
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payments: %s returned status %d", e.Provider, e.StatusCode)
}

// Manager coordinates provider selection.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when the caller expresses no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if key := strings.TrimSpace(strings.ToLower(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCharge delegates to the preferred provider, or the default one when preferred is empty.
func (m *Manager) CreateCharge(ctx context.Context, preferred string, req ChargeRequest) (Charge, error) {
	key, provider, err := m.resolveProvider(preferred)
	if err != nil {
		return Charge{}, err
	}
	charge, err := provider.CreateCharge(ctx, req)
	if err != nil {
		return Charge{}, err
	}
	charge.Provider = key
	return charge, nil
}

// Review delegates to the provider that created the charge.
func (m *Manager) Review(ctx context.Context, provider string, req ReviewRequest) (Review, error) {
	_, p, err := m.resolveProvider(provider)
	if err != nil {
		return Review{}, err
	}
	return p.Review(ctx, req)
}
