package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

func timePtr(t time.Time) *time.Time { return &t }

func searchRate(id string, transit int, containers ...string) FreightRate {
	rate := FreightRate{
		ID:             id,
		CarrierID:      "msc",
		OriginID:       "p-ssz",
		DestinationID:  "p-nyc",
		ShippingModeID: "fcl",
		TransitTime:    transit,
		IsActive:       true,
	}
	for _, container := range containers {
		rate.Rates = append(rate.Rates, domain.Rate{
			ID:              id + "-" + container,
			ContainerTypeID: container,
			Currency:        "USD",
			Rate:            decPtr("1500"),
			StartDate:       timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			ExpirationDate:  timePtr(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)),
			SurchargeIDs:    []string{"sur-1"},
		})
	}
	return rate
}

type searchFixture struct {
	service  SearchService
	rates    *stubFreightRateRepo
	settings *stubSettings
}

func newSearchFixture(t *testing.T, platform PlatformSettings, rates ...FreightRate) searchFixture {
	t.Helper()
	catalog := pricingCatalog()
	catalog.modes = map[string]domain.ShippingMode{"fcl": fclMode()}
	catalog.ports = map[string]domain.Port{
		"p-ssz": {ID: "p-ssz", Code: "BRSSZ"},
		"p-nyc": {ID: "p-nyc", Code: "USNYC"},
	}
	catalog.carriers = map[string]domain.Carrier{"msc": {ID: "msc", Title: "MSC"}}

	surcharge := fclSurcharge()
	surcharge.LocationID = "p-ssz"
	surcharges := &stubSurchargeRepo{items: map[string]Surcharge{"sur-1": surcharge}}
	repo := &stubFreightRateRepo{
		searchFn: func(repositories.FreightRateQuery) ([]domain.FreightRate, error) { return rates, nil },
	}
	settings := &stubSettings{platform: platform, currency: "USD"}
	engine, err := NewPricingEngine(PricingEngineDeps{Surcharges: surcharges, Catalog: catalog, ExchangeRates: stubExchangeBook{}})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	service, err := NewSearchService(SearchServiceDeps{
		FreightRates: repo,
		Surcharges:   surcharges,
		Catalog:      catalog,
		Settings:     settings,
		Pricing:      engine,
	})
	if err != nil {
		t.Fatalf("NewSearchService: %v", err)
	}
	return searchFixture{service: service, rates: repo, settings: settings}
}

func searchCommand() SearchCommand {
	return SearchCommand{
		ShippingModeID:    "fcl",
		OriginID:          "p-ssz",
		DestinationID:     "p-nyc",
		DateFrom:          pricingFrom,
		DateTo:            pricingTo,
		CargoGroups:       []CargoGroup{{ContainerTypeID: "20dv", Volume: 1}},
		NumberOfDocuments: 1,
	}
}

func TestSearchFreightRates_FiltersAndOrders(t *testing.T) {
	slow := searchRate("fr-slow", 20, "20dv")
	fast := searchRate("fr-fast", 5, "20dv")
	fast.CarrierDisclosure = true
	archived := searchRate("fr-archived", 1, "20dv")
	archived.Archived = true
	temporary := searchRate("fr-temp", 1, "20dv")
	temporary.Temporary = true
	otherContainer := searchRate("fr-40hc", 2, "40hc")
	expired := searchRate("fr-expired", 3, "20dv")
	expired.Rates[0].ExpirationDate = timePtr(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	openEnded := searchRate("fr-open", 4, "20dv")
	openEnded.Rates[0].StartDate = nil

	fx := newSearchFixture(t, domain.DefaultPlatformSettings(), slow, archived, fast, temporary, otherContainer, expired, openEnded)

	results, err := fx.service.SearchFreightRates(context.Background(), searchCommand())
	if err != nil {
		t.Fatalf("SearchFreightRates: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].FreightRate.ID != "fr-fast" || results[1].FreightRate.ID != "fr-slow" {
		t.Fatalf("unexpected order: %s, %s", results[0].FreightRate.ID, results[1].FreightRate.ID)
	}
	if results[0].CarrierTitle != DisclosedCarrierTitle {
		t.Fatalf("expected disclosed carrier, got %q", results[0].CarrierTitle)
	}
	if results[1].CarrierTitle != "MSC" {
		t.Fatalf("expected carrier title MSC, got %q", results[1].CarrierTitle)
	}
	if len(results[1].Surcharges) != 1 || results[1].Surcharges[0].ID != "sur-1" {
		t.Fatalf("expected linked surcharge, got %+v", results[1].Surcharges)
	}
}

func TestSearchFreightRates_LimitAndHiddenCarrier(t *testing.T) {
	platform := domain.DefaultPlatformSettings()
	platform.NumberOfResults = 1
	platform.HideCarrierName = true
	fx := newSearchFixture(t, platform, searchRate("fr-a", 9, "20dv"), searchRate("fr-b", 3, "20dv"))

	results, err := fx.service.SearchFreightRates(context.Background(), searchCommand())
	if err != nil {
		t.Fatalf("SearchFreightRates: %v", err)
	}
	if len(results) != 1 || results[0].FreightRate.ID != "fr-b" {
		t.Fatalf("expected only fastest rate, got %+v", results)
	}
	if results[0].CarrierTitle != DisclosedCarrierTitle {
		t.Fatalf("expected hidden carrier, got %q", results[0].CarrierTitle)
	}
}

func TestSearchFreightRates_DangerousCargoNeedsCharge(t *testing.T) {
	fx := newSearchFixture(t, domain.DefaultPlatformSettings(), searchRate("fr-a", 9, "20dv"))

	cmd := searchCommand()
	cmd.CargoGroups[0].Dangerous = true
	results, err := fx.service.SearchFreightRates(context.Background(), cmd)
	if err != nil {
		t.Fatalf("SearchFreightRates: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("surcharge carries a dangerous charge, expected 1 result, got %d", len(results))
	}

	cmd.CargoGroups[0].Frozen = domain.TemperatureFrozen
	results, err = fx.service.SearchFreightRates(context.Background(), cmd)
	if err != nil {
		t.Fatalf("SearchFreightRates: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("surcharge lacks a cold charge, expected no results, got %d", len(results))
	}
}

func TestSearchFreightRates_InvalidInput(t *testing.T) {
	fx := newSearchFixture(t, domain.DefaultPlatformSettings())

	cmd := searchCommand()
	cmd.DestinationID = cmd.OriginID
	if _, err := fx.service.SearchFreightRates(context.Background(), cmd); !errors.Is(err, ErrSearchInvalidInput) {
		t.Fatalf("expected invalid input for same origin and destination, got %v", err)
	}

	cmd = searchCommand()
	cmd.DateFrom, cmd.DateTo = cmd.DateTo, cmd.DateFrom
	if _, err := fx.service.SearchFreightRates(context.Background(), cmd); !errors.Is(err, ErrSearchInvalidInput) {
		t.Fatalf("expected invalid input for reversed dates, got %v", err)
	}

	cmd = searchCommand()
	cmd.ShippingModeID = "unknown"
	if _, err := fx.service.SearchFreightRates(context.Background(), cmd); !errors.Is(err, ErrSearchNotFound) {
		t.Fatalf("expected not found for unknown mode, got %v", err)
	}
}

func TestQuoteSearch_PricesResults(t *testing.T) {
	fx := newSearchFixture(t, domain.DefaultPlatformSettings(), searchRate("fr-a", 9, "20dv"))

	results, err := fx.service.QuoteSearch(context.Background(), searchCommand())
	if err != nil {
		t.Fatalf("QuoteSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 priced result, got %d", len(results))
	}
	if got := results[0].Charges.Totals["USD"]; !got.Equal(dec("1725")) {
		t.Fatalf("expected totals 1725 USD, got %s", got)
	}
	if results[0].Charges.PayToBook != nil {
		t.Fatalf("anonymous quote search should not calculate fees")
	}
}

func TestQuoteSearch_PricesRateValidForDates(t *testing.T) {
	rate := searchRate("fr-seasonal", 9, "20dv", "20dv")
	rate.Rates[0].ID = "fr-seasonal-feb"
	rate.Rates[0].Rate = decPtr("900")
	rate.Rates[0].ExpirationDate = timePtr(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	rate.Rates[1].ID = "fr-seasonal-mar"
	rate.Rates[1].StartDate = timePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	fx := newSearchFixture(t, domain.DefaultPlatformSettings(), rate)

	results, err := fx.service.QuoteSearch(context.Background(), searchCommand())
	if err != nil {
		t.Fatalf("QuoteSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("an expired rate ahead of a valid one must not hide the lane, got %d results", len(results))
	}
	if got := results[0].Charges.CargoGroups[0].Freight.Cost; !got.Equal(dec("1500")) {
		t.Fatalf("expected the March rate to be priced, got %s", got)
	}
}
