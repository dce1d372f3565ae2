package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	settingsCollection      = "settings"
	platformSettingsID      = "platform"
	feesCollection          = "fees"
	exchangeRatesCollection = "exchangeRates"
)

// SettingsRepository reads the platform settings document and fee tables.
type SettingsRepository struct {
	settings *pfirestore.Collection[platformSettingsDocument]
	fees     *pfirestore.Collection[feeDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		settings: pfirestore.NewCollection[platformSettingsDocument](provider, settingsCollection),
		fees:     pfirestore.NewCollection[feeDocument](provider, feesCollection),
	}, nil
}

// PlatformSettings falls back to defaults until the settings document exists.
func (r *SettingsRepository) PlatformSettings(ctx context.Context) (domain.PlatformSettings, error) {
	doc, err := r.settings.Get(ctx, platformSettingsID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.DefaultPlatformSettings(), nil
		}
		return domain.PlatformSettings{}, err
	}
	return doc.Data.toDomain(), nil
}

func (r *SettingsRepository) GlobalFees(ctx context.Context) ([]domain.Fee, error) {
	return r.listFees(ctx, "")
}

func (r *SettingsRepository) LocalFees(ctx context.Context, companyID string) ([]domain.Fee, error) {
	if companyID == "" {
		return nil, nil
	}
	return r.listFees(ctx, companyID)
}

func (r *SettingsRepository) listFees(ctx context.Context, companyID string) ([]domain.Fee, error) {
	docs, err := r.fees.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("companyId", "==", companyID).Where("isActive", "==", true)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Fee, 0, len(docs))
	for _, doc := range docs {
		fee, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, fee)
	}
	return out, nil
}

type platformSettingsDocument struct {
	NumberOfResults         int  `firestore:"numberOfResults"`
	HideCarrierName         bool `firestore:"hideCarrierName"`
	NumberOfBids            int  `firestore:"numberOfBids"`
	QuoteArchiveDays        int  `firestore:"quoteArchiveDays"`
	EnableBookingFeePayment bool `firestore:"enableBookingFeePayment"`
	UnpaidBookingDays       int  `firestore:"unpaidBookingDays"`
	ExportDeadlineDays      int  `firestore:"exportDeadlineDays"`
	ImportDeadlineDays      int  `firestore:"importDeadlineDays"`
}

func (d platformSettingsDocument) toDomain() domain.PlatformSettings {
	return domain.PlatformSettings{
		NumberOfResults:         d.NumberOfResults,
		HideCarrierName:         d.HideCarrierName,
		NumberOfBids:            d.NumberOfBids,
		QuoteArchiveDays:        d.QuoteArchiveDays,
		EnableBookingFeePayment: d.EnableBookingFeePayment,
		UnpaidBookingDays:       d.UnpaidBookingDays,
		ExportDeadlineDays:      d.ExportDeadlineDays,
		ImportDeadlineDays:      d.ImportDeadlineDays,
	}
}

type feeDocument struct {
	Type           string `firestore:"type"`
	ValueType      string `firestore:"valueType"`
	Value          string `firestore:"value"`
	IsActive       bool   `firestore:"isActive"`
	ShippingModeID string `firestore:"shippingModeId"`
	CompanyID      string `firestore:"companyId"`
}

func (d feeDocument) toDomain(id string) (domain.Fee, error) {
	value, err := parseDecimal("fee value", d.Value)
	if err != nil {
		return domain.Fee{}, err
	}
	return domain.Fee{
		ID:             id,
		Type:           domain.FeeType(d.Type),
		ValueType:      domain.FeeValueType(d.ValueType),
		Value:          value,
		IsActive:       d.IsActive,
		ShippingModeID: d.ShippingModeID,
		CompanyID:      d.CompanyID,
	}, nil
}

// ExchangeRateRepository reads conversion tables. Platform rates carry an empty company id.
type ExchangeRateRepository struct {
	rates *pfirestore.Collection[exchangeRateDocument]
}

var _ repositories.ExchangeRateRepository = (*ExchangeRateRepository)(nil)

// NewExchangeRateRepository constructs a Firestore-backed exchange rate repository.
func NewExchangeRateRepository(provider *pfirestore.Provider) (*ExchangeRateRepository, error) {
	if provider == nil {
		return nil, errors.New("exchange rate repository requires firestore provider")
	}
	return &ExchangeRateRepository{rates: pfirestore.NewCollection[exchangeRateDocument](provider, exchangeRatesCollection)}, nil
}

func (r *ExchangeRateRepository) PlatformRates(ctx context.Context) ([]domain.ExchangeRate, error) {
	return r.list(ctx, "")
}

func (r *ExchangeRateRepository) CompanyRates(ctx context.Context, companyID string) ([]domain.ExchangeRate, error) {
	if companyID == "" {
		return nil, nil
	}
	return r.list(ctx, companyID)
}

func (r *ExchangeRateRepository) list(ctx context.Context, companyID string) ([]domain.ExchangeRate, error) {
	docs, err := r.rates.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("companyId", "==", companyID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExchangeRate, 0, len(docs))
	for _, doc := range docs {
		rate, err := parseDecimal("exchange rate", doc.Data.Rate)
		if err != nil {
			return nil, err
		}
		spread, err := parseDecimal("exchange spread", doc.Data.Spread)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ExchangeRate{Currency: doc.Data.Currency, Rate: rate, Spread: spread, CompanyID: doc.Data.CompanyID})
	}
	return out, nil
}

type exchangeRateDocument struct {
	Currency  string `firestore:"currency"`
	Rate      string `firestore:"rate"`
	Spread    string `firestore:"spread"`
	CompanyID string `firestore:"companyId"`
}
