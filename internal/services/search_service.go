package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/validation"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

// DisclosedCarrierTitle replaces the carrier name when it must stay hidden from clients.
const DisclosedCarrierTitle = "disclosed"

var (
	// ErrSearchInvalidInput indicates the search request failed validation.
	ErrSearchInvalidInput = errors.New("search: invalid input")
	// ErrSearchNotFound indicates a referenced catalog entry does not exist.
	ErrSearchNotFound = errors.New("search: not found")
)

// SearchServiceDeps bundles collaborators for freight rate search.
type SearchServiceDeps struct {
	FreightRates repositories.FreightRateRepository
	Surcharges   repositories.SurchargeRepository
	Catalog      repositories.CatalogRepository
	Settings     SettingsProvider
	Pricing      PricingEngine
	Logger       Logger
}

type searchService struct {
	freightRates repositories.FreightRateRepository
	surcharges   repositories.SurchargeRepository
	catalog      repositories.CatalogRepository
	settings     SettingsProvider
	pricing      PricingEngine
	logger       Logger
}

var _ SearchService = (*searchService)(nil)

// NewSearchService constructs the search service.
func NewSearchService(deps SearchServiceDeps) (SearchService, error) {
	switch {
	case deps.FreightRates == nil:
		return nil, errors.New("search service: freight rate repository is required")
	case deps.Surcharges == nil:
		return nil, errors.New("search service: surcharge repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("search service: catalog repository is required")
	case deps.Settings == nil:
		return nil, errors.New("search service: settings provider is required")
	case deps.Pricing == nil:
		return nil, errors.New("search service: pricing engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &searchService{
		freightRates: deps.FreightRates,
		surcharges:   deps.Surcharges,
		catalog:      deps.Catalog,
		settings:     deps.Settings,
		pricing:      deps.Pricing,
		logger:       logger,
	}, nil
}

// searchContext is the resolved request shared by the eligibility checks.
type searchContext struct {
	cmd       SearchCommand
	mode      ShippingMode
	window    domain.Window
	location  string
	dangerous bool
	cold      bool
}

func (s *searchService) SearchFreightRates(ctx context.Context, cmd SearchCommand) ([]SearchResult, error) {
	if err := validation.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchInvalidInput, err)
	}
	sc, err := s.resolve(ctx, cmd)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Platform(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := s.freightRates.Search(ctx, repositories.FreightRateQuery{
		ShippingModeID: cmd.ShippingModeID,
		OriginID:       cmd.OriginID,
		DestinationID:  cmd.DestinationID,
		CarrierID:      cmd.CarrierID,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	slices.SortStableFunc(candidates, func(a, b FreightRate) int {
		if c := cmp.Compare(a.TransitTime, b.TransitTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var results []SearchResult
	for _, rate := range candidates {
		if settings.NumberOfResults > 0 && len(results) >= settings.NumberOfResults {
			break
		}
		surcharges, ok, err := s.eligible(ctx, sc, rate)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		title, err := s.carrierTitle(ctx, rate, settings.HideCarrierName)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{FreightRate: rate, Surcharges: surcharges, CarrierTitle: title})
	}
	return results, nil
}

func (s *searchService) QuoteSearch(ctx context.Context, cmd SearchCommand) ([]PricedSearchResult, error) {
	results, err := s.SearchFreightRates(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	mode, err := s.catalog.ShippingMode(ctx, cmd.ShippingModeID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	mainCurrency, err := s.settings.MainCurrency(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchInvalidInput, err)
	}
	var fees AppliedFees
	calculateFees := cmd.ClientCompanyID != ""
	if calculateFees {
		if fees, err = s.settings.Fees(ctx, cmd.ClientCompanyID, cmd.ShippingModeID); err != nil {
			return nil, err
		}
	}

	priced := make([]PricedSearchResult, 0, len(results))
	for _, result := range results {
		charges, err := s.pricing.PriceShipment(ctx, PriceShipmentCommand{
			FreightRate:       result.FreightRate,
			Surcharges:        result.Surcharges,
			CargoGroups:       cmd.CargoGroups,
			ShippingMode:      mode,
			MainCurrency:      mainCurrency,
			DateFrom:          cmd.DateFrom,
			DateTo:            cmd.DateTo,
			NumberOfDocuments: cmd.NumberOfDocuments,
			BookingFee:        fees.Booking,
			ServiceFee:        fees.Service,
			CalculateFees:     calculateFees,
		})
		if err != nil {
			s.logger(ctx, "search.price.failed", map[string]any{
				"freightRateId": result.FreightRate.ID,
				"error":         err.Error(),
			})
			continue
		}
		priced = append(priced, PricedSearchResult{SearchResult: result, Charges: charges})
	}
	return priced, nil
}

func (s *searchService) resolve(ctx context.Context, cmd SearchCommand) (searchContext, error) {
	mode, err := s.catalog.ShippingMode(ctx, cmd.ShippingModeID)
	if err != nil {
		return searchContext{}, s.mapRepositoryError(err)
	}
	origin, err := s.catalog.Port(ctx, cmd.OriginID)
	if err != nil {
		return searchContext{}, s.mapRepositoryError(err)
	}
	direction := domain.DirectionFor(origin.Code, s.settings.MainCountryCode(ctx))
	sc := searchContext{
		cmd:      cmd,
		mode:     mode,
		window:   domain.NewWindow(cmd.DateFrom, cmd.DateTo),
		location: domain.SurchargeLocation(direction, cmd.OriginID, cmd.DestinationID),
	}
	for _, cargo := range cmd.CargoGroups {
		sc.dangerous = sc.dangerous || cargo.Dangerous
		sc.cold = sc.cold || cargo.Refrigerated()
	}
	return sc, nil
}

// eligible applies the search predicate to one freight rate and returns the surcharges
// covering the requested dates.
func (s *searchService) eligible(ctx context.Context, sc searchContext, rate FreightRate) ([]Surcharge, bool, error) {
	if !rate.Live() {
		return nil, false, nil
	}
	rates, ok := matchingRates(sc, rate)
	if !ok {
		return nil, false, nil
	}

	var ids []string
	for _, r := range rates {
		for _, id := range r.SurchargeIDs {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	linked, err := s.surcharges.GetMany(ctx, ids)
	if err != nil {
		return nil, false, s.mapRepositoryError(err)
	}

	var covering []Surcharge
	for _, surcharge := range linked {
		if surcharge.Archived || !surcharge.Window().Covers(sc.window) {
			continue
		}
		if surcharge.LocationID != "" && surcharge.LocationID != sc.location {
			continue
		}
		covering = append(covering, surcharge)
	}
	if len(covering) == 0 {
		return nil, false, nil
	}

	additional := map[string]domain.AdditionalSurcharge{}
	if sc.dangerous || sc.cold {
		if additional, err = s.catalog.AdditionalSurcharges(ctx); err != nil {
			return nil, false, s.mapRepositoryError(err)
		}
	}
	for _, surcharge := range covering {
		if sc.mode.HasSurchargeContainers && !sc.mode.IsNeedVolume {
			for _, cargo := range sc.cmd.CargoGroups {
				fee, found := surcharge.UsageFeeFor(cargo.ContainerTypeID)
				if !found || fee.Charge == nil {
					return nil, false, nil
				}
			}
		}
		if sc.dangerous && !hasFlaggedCharge(surcharge, additional, func(a domain.AdditionalSurcharge) bool { return a.IsDangerous }) {
			return nil, false, nil
		}
		if sc.cold && !hasFlaggedCharge(surcharge, additional, func(a domain.AdditionalSurcharge) bool { return a.IsCold }) {
			return nil, false, nil
		}
	}
	return covering, true, nil
}

// matchingRates returns the rates that price the request and cover its dates.
func matchingRates(sc searchContext, rate FreightRate) ([]domain.Rate, bool) {
	covers := func(r domain.Rate) bool {
		window, ok := r.Window()
		return ok && r.Rate != nil && window.Covers(sc.window)
	}
	if sc.mode.IsNeedVolume || !sc.mode.HasFreightContainers {
		for _, r := range rate.Rates {
			if covers(r) {
				return []domain.Rate{r}, true
			}
		}
		return nil, false
	}
	var out []domain.Rate
	for _, cargo := range sc.cmd.CargoGroups {
		i := slices.IndexFunc(rate.Rates, func(r domain.Rate) bool {
			return r.ContainerTypeID == cargo.ContainerTypeID && covers(r)
		})
		if i < 0 {
			return nil, false
		}
		out = append(out, rate.Rates[i])
	}
	return out, true
}

func hasFlaggedCharge(surcharge Surcharge, additional map[string]domain.AdditionalSurcharge, flagged func(domain.AdditionalSurcharge) bool) bool {
	for _, charge := range surcharge.Charges {
		if definition, ok := additional[charge.AdditionalSurchargeID]; ok && flagged(definition) && charge.Charge != nil {
			return true
		}
	}
	return false
}

func (s *searchService) carrierTitle(ctx context.Context, rate FreightRate, hideCarrierName bool) (string, error) {
	if rate.CarrierDisclosure || hideCarrierName {
		return DisclosedCarrierTitle, nil
	}
	carrier, err := s.catalog.Carrier(ctx, rate.CarrierID)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return carrier.Title, nil
}

func (s *searchService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrSearchNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("search: repository unavailable: %w", err)
		}
	}
	return err
}
