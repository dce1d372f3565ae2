package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/i18n"
)

type quoteFixture struct {
	service  QuoteService
	quotes   *stubQuoteRepo
	notifier *recordingNotifier
}

func newQuoteFixture(t *testing.T, settings PlatformSettings, quote Quote, rates ...FreightRate) quoteFixture {
	t.Helper()
	catalog := pricingCatalog()
	catalog.modes = map[string]domain.ShippingMode{"fcl": fclMode()}
	catalog.ports = map[string]domain.Port{
		"p-ssz": {ID: "p-ssz", Code: "BRSSZ", Name: "Santos"},
		"p-sha": {ID: "p-sha", Code: "CNSHA", Name: "Shanghai"},
	}
	exchange := NewExchangeRates("BRL", []domain.ExchangeRate{{Currency: "USD", Rate: dec("5"), Spread: dec("0")}})
	pricing, err := NewPricingEngine(PricingEngineDeps{
		Surcharges:    &stubSurchargeRepo{items: map[string]domain.Surcharge{"sur-1": fclSurcharge()}},
		Catalog:       catalog,
		ExchangeRates: stubExchangeBook{rates: exchange},
	})
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}
	freightRates := map[string]domain.FreightRate{}
	for _, rate := range rates {
		freightRates[rate.ID] = rate
	}
	fx := quoteFixture{
		quotes:   &stubQuoteRepo{quotes: map[string]domain.Quote{quote.ID: quote}},
		notifier: &recordingNotifier{},
	}
	fx.service, err = NewQuoteService(QuoteServiceDeps{
		Quotes:       fx.quotes,
		FreightRates: &stubFreightRateRepo{items: freightRates},
		Catalog:      catalog,
		Users: &stubUserRepo{users: map[string]domain.User{
			"client-master":  {ID: "client-master", CompanyID: "client-co", Roles: []domain.Role{domain.RoleMaster}},
			"client-user":    {ID: "client-user", CompanyID: "client-co", Roles: []domain.Role{domain.RoleClient}},
			"client-billing": {ID: "client-billing", CompanyID: "client-co", Roles: []domain.Role{domain.RoleBilling}},
		}},
		Settings:      stubSettings{platform: settings},
		Pricing:       pricing,
		Notifications: fx.notifier,
		Clock:         fixedClock(bookingNow),
		IDGenerator:   sequenceIDs("id-"),
	})
	if err != nil {
		t.Fatalf("new quote service: %v", err)
	}
	return fx
}

func openQuote() Quote {
	return Quote{
		ID:             "q-1",
		CompanyID:      "client-co",
		OriginID:       "p-ssz",
		DestinationID:  "p-sha",
		ShippingModeID: "fcl",
		DateFrom:       pricingFrom,
		DateTo:         pricingTo,
		CargoGroups:    []CargoGroup{{ContainerTypeID: "20dv", Volume: 1}},
		IsActive:       true,
		CreatedAt:      bookingNow.Add(-24 * time.Hour),
	}
}

func TestSubmitOffer(t *testing.T) {
	settings := domain.DefaultPlatformSettings()
	fx := newQuoteFixture(t, settings, openQuote(), bookingFreightRate())

	offer, err := fx.service.SubmitOffer(context.Background(), SubmitOfferCommand{QuoteID: "q-1", AgentCompanyID: "agent-co", FreightRateID: "fr-1"})
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	if offer.ID != "qof_id-a" || offer.QuoteID != "q-1" || offer.FreightRateID != "fr-1" {
		t.Fatalf("unexpected offer %+v", offer)
	}
	if got := offer.Charges.TotalFreightRate["USD"]; !got.Equal(dec("1500")) {
		t.Fatalf("expected USD 1500 freight, got %s", got)
	}
	if len(fx.quotes.offers) != 1 {
		t.Fatalf("expected stored offer, got %d", len(fx.quotes.offers))
	}
	if len(fx.notifier.commands) != 1 {
		t.Fatalf("expected one notification, got %d", len(fx.notifier.commands))
	}
	cmd := fx.notifier.commands[0]
	if cmd.TemplateKey != i18n.KeyQuoteOfferReceived || cmd.ObjectID != "q-1" {
		t.Fatalf("unexpected notification %+v", cmd)
	}
	if got := cmd.UserIDs; len(got) != 2 || got[0] != "client-master" || got[1] != "client-user" {
		t.Fatalf("expected master and client recipients, got %v", got)
	}
	if cmd.Params["origin"] != "Santos" || cmd.Params["destination"] != "Shanghai" {
		t.Fatalf("unexpected params %v", cmd.Params)
	}
}

func TestSubmitOffer_BidLimit(t *testing.T) {
	settings := domain.DefaultPlatformSettings()
	settings.NumberOfBids = 1
	fx := newQuoteFixture(t, settings, openQuote(), bookingFreightRate())
	cmd := SubmitOfferCommand{QuoteID: "q-1", AgentCompanyID: "agent-co", FreightRateID: "fr-1"}

	if _, err := fx.service.SubmitOffer(context.Background(), cmd); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if _, err := fx.service.SubmitOffer(context.Background(), cmd); !errors.Is(err, ErrQuoteClosed) {
		t.Fatalf("expected closed error once the bid limit is reached, got %v", err)
	}
	if len(fx.quotes.offers) != 1 {
		t.Fatalf("expected single stored offer, got %d", len(fx.quotes.offers))
	}
}

func TestSubmitOffer_Rejections(t *testing.T) {
	foreign := bookingFreightRate()
	foreign.ID = "fr-foreign"
	foreign.CompanyID = "other-agent"

	otherRoute := bookingFreightRate()
	otherRoute.ID = "fr-route"
	otherRoute.DestinationID = "p-ssz"

	inactive := bookingFreightRate()
	inactive.ID = "fr-inactive"
	inactive.IsActive = false

	archived := openQuote()
	archived.IsArchived = true

	cases := []struct {
		name  string
		quote Quote
		rate  string
		want  error
	}{
		{name: "missing quote", quote: Quote{ID: "other"}, rate: "fr-1", want: ErrQuoteNotFound},
		{name: "archived quote", quote: archived, rate: "fr-1", want: ErrQuoteClosed},
		{name: "foreign rate", quote: openQuote(), rate: "fr-foreign", want: ErrQuoteInvalidInput},
		{name: "route mismatch", quote: openQuote(), rate: "fr-route", want: ErrQuoteInvalidInput},
		{name: "inactive rate", quote: openQuote(), rate: "fr-inactive", want: ErrQuoteInvalidInput},
		{name: "missing rate", quote: openQuote(), rate: "fr-missing", want: ErrQuoteNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newQuoteFixture(t, domain.DefaultPlatformSettings(), tc.quote, bookingFreightRate(), foreign, otherRoute, inactive)
			_, err := fx.service.SubmitOffer(context.Background(), SubmitOfferCommand{QuoteID: "q-1", AgentCompanyID: "agent-co", FreightRateID: tc.rate})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(fx.notifier.commands) != 0 {
				t.Fatalf("expected no notifications on rejection")
			}
		})
	}
}

func TestArchiveStaleQuotes(t *testing.T) {
	settings := domain.DefaultPlatformSettings()
	settings.QuoteArchiveDays = 10
	fx := newQuoteFixture(t, settings, openQuote())
	var gotCreated, gotDateTo time.Time
	fx.quotes.archiveFn = func(createdBefore, dateToBefore time.Time) (int, error) {
		gotCreated, gotDateTo = createdBefore, dateToBefore
		return 3, nil
	}

	archived, err := fx.service.ArchiveStale(context.Background())
	if err != nil {
		t.Fatalf("archive stale: %v", err)
	}
	if archived != 3 {
		t.Fatalf("expected 3 archived, got %d", archived)
	}
	if want := bookingNow.AddDate(0, 0, -10); !gotCreated.Equal(want) {
		t.Fatalf("expected created cutoff %s, got %s", want, gotCreated)
	}
	if want := bookingNow.AddDate(0, 0, -14); !gotDateTo.Equal(want) {
		t.Fatalf("expected date_to cutoff %s, got %s", want, gotDateTo)
	}
}
