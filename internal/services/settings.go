package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const defaultSettingsTTL = time.Minute

// ErrSettingsUnavailable indicates the settings could not be loaded and no cached copy exists.
var ErrSettingsUnavailable = errors.New("settings: unavailable")

// SettingsProviderDeps bundles collaborators for the settings provider.
type SettingsProviderDeps struct {
	Settings               repositories.SettingsRepository
	Catalog                repositories.CatalogRepository
	TTL                    time.Duration
	DefaultMainCountryCode string
	Clock                  func() time.Time
	Logger                 Logger
}

type settingsSnapshot struct {
	platform     PlatformSettings
	globalFees   []domain.Fee
	mainCountry  string
	mainCurrency string
	loadedAt     time.Time
}

type settingsProvider struct {
	settings    repositories.SettingsRepository
	catalog     repositories.CatalogRepository
	ttl         time.Duration
	mainCountry string
	clock       func() time.Time
	logger      Logger

	mu       sync.Mutex
	snapshot *settingsSnapshot
}

var _ SettingsProvider = (*settingsProvider)(nil)

// NewSettingsProvider constructs a TTL-cached settings provider.
func NewSettingsProvider(deps SettingsProviderDeps) (SettingsProvider, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings provider: settings repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("settings provider: catalog repository is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSettingsTTL
	}
	mainCountry := strings.ToUpper(strings.TrimSpace(deps.DefaultMainCountryCode))
	if mainCountry == "" {
		mainCountry = domain.DefaultMainCountryCode
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &settingsProvider{
		settings:    deps.Settings,
		catalog:     deps.Catalog,
		ttl:         ttl,
		mainCountry: mainCountry,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

func (p *settingsProvider) Platform(ctx context.Context) (PlatformSettings, error) {
	snap, err := p.load(ctx)
	if err != nil {
		return PlatformSettings{}, err
	}
	return snap.platform, nil
}

// Fees resolves the booking and service fee for a client company. A company's local fee
// overrides the platform fee of the same type and shipping mode; inactive fees never apply.
func (p *settingsProvider) Fees(ctx context.Context, companyID, shippingModeID string) (AppliedFees, error) {
	snap, err := p.load(ctx)
	if err != nil {
		return AppliedFees{}, err
	}
	var local []domain.Fee
	if strings.TrimSpace(companyID) != "" {
		local, err = p.settings.LocalFees(ctx, companyID)
		if err != nil && !isRepositoryNotFound(err) {
			return AppliedFees{}, fmt.Errorf("settings: load local fees: %w", err)
		}
	}

	var fees AppliedFees
	if snap.platform.EnableBookingFeePayment {
		fees.Booking = resolveFee(domain.FeeBooking, shippingModeID, local, snap.globalFees)
	}
	fees.Service = resolveFee(domain.FeeService, shippingModeID, local, snap.globalFees)
	return fees, nil
}

func (p *settingsProvider) MainCountryCode(ctx context.Context) string {
	snap, err := p.load(ctx)
	if err != nil || snap.mainCountry == "" {
		return p.mainCountry
	}
	return snap.mainCountry
}

func (p *settingsProvider) MainCurrency(ctx context.Context) (string, error) {
	snap, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	if snap.mainCurrency == "" {
		return "", fmt.Errorf("%w: no main currency", ErrSettingsUnavailable)
	}
	return snap.mainCurrency, nil
}

func (p *settingsProvider) Invalidate() {
	p.mu.Lock()
	p.snapshot = nil
	p.mu.Unlock()
}

// load refreshes the snapshot once the TTL elapsed. A failed refresh keeps serving the stale copy.
func (p *settingsProvider) load(ctx context.Context) (*settingsSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if p.snapshot != nil && now.Sub(p.snapshot.loadedAt) < p.ttl {
		return p.snapshot, nil
	}
	snap, err := p.fetch(ctx, now)
	if err != nil {
		if p.snapshot != nil {
			p.logger(ctx, "settings.reload.failed", map[string]any{"error": err.Error()})
			return p.snapshot, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}
	p.snapshot = snap
	return snap, nil
}

func (p *settingsProvider) fetch(ctx context.Context, now time.Time) (*settingsSnapshot, error) {
	platform, err := p.settings.PlatformSettings(ctx)
	switch {
	case err == nil:
	case isRepositoryNotFound(err):
		platform = domain.DefaultPlatformSettings()
	default:
		return nil, err
	}
	global, err := p.settings.GlobalFees(ctx)
	if err != nil && !isRepositoryNotFound(err) {
		return nil, err
	}

	snap := &settingsSnapshot{platform: platform, globalFees: global, mainCountry: p.mainCountry, loadedAt: now}
	if country, err := p.catalog.MainCountry(ctx); err == nil && country.Code != "" {
		snap.mainCountry = strings.ToUpper(country.Code)
	} else if err != nil && !isRepositoryNotFound(err) {
		return nil, err
	}
	currency, err := p.catalog.MainCurrency(ctx)
	switch {
	case err == nil:
		snap.mainCurrency = strings.ToUpper(currency.Code)
	case isRepositoryNotFound(err):
		p.logger(ctx, "settings.main_currency.missing", nil)
	default:
		return nil, err
	}
	return snap, nil
}

func resolveFee(feeType domain.FeeType, shippingModeID string, local, global []domain.Fee) *domain.Fee {
	for _, set := range [][]domain.Fee{local, global} {
		for _, fee := range set {
			if fee.Type != feeType || !fee.IsActive {
				continue
			}
			if fee.ShippingModeID != "" && fee.ShippingModeID != shippingModeID {
				continue
			}
			selected := fee
			return &selected
		}
	}
	return nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
