package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

var tariffNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestTariffService(t *testing.T, surcharges *stubSurchargeRepo, rates *stubFreightRateRepo) TariffService {
	t.Helper()
	if surcharges == nil {
		surcharges = &stubSurchargeRepo{}
	}
	if rates == nil {
		rates = &stubFreightRateRepo{}
	}
	svc, err := NewTariffService(TariffServiceDeps{
		Surcharges:   surcharges,
		FreightRates: rates,
		Clock:        fixedClock(tariffNow),
		IDGenerator:  sequenceIDs("id-"),
	})
	if err != nil {
		t.Fatalf("NewTariffService: %v", err)
	}
	return svc
}

func surchargeCommand(start, end time.Time) CreateSurchargeCommand {
	return CreateSurchargeCommand{
		CompanyID:      "agent-co",
		CarrierID:      "msc",
		LocationID:     "p-ssz",
		Direction:      domain.DirectionExport,
		ShippingModeID: "fcl",
		StartDate:      start,
		ExpirationDate: end,
		UsageFees:      []domain.UsageFee{{ContainerTypeID: "20dv", Currency: "usd", Charge: decPtr("100")}},
		Charges:        []domain.Charge{{AdditionalSurchargeID: "doc", Currency: "usd", Charge: decPtr("75"), Conditions: domain.ConditionFixed}},
		ActorID:        "user-1",
	}
}

func TestTariffService_CreateSurchargeRejectsOverlap(t *testing.T) {
	existing := []domain.Surcharge{
		{ID: "live", StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ExpirationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{ID: "archived", Archived: true, StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), ExpirationDate: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)},
	}
	var gotKey repositories.SurchargeKey
	repo := &stubSurchargeRepo{listFn: func(key repositories.SurchargeKey) ([]domain.Surcharge, error) {
		gotKey = key
		return existing, nil
	}}
	svc := newTestTariffService(t, repo, nil)

	_, err := svc.CreateSurcharge(context.Background(), surchargeCommand(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)))
	if !errors.Is(err, ErrTariffInvalidInput) {
		t.Fatalf("expected overlap to be rejected, got %v", err)
	}
	if gotKey.LocationID != "p-ssz" || gotKey.Direction != domain.DirectionExport {
		t.Fatalf("unexpected overlap key %+v", gotKey)
	}

	created, err := svc.CreateSurcharge(context.Background(), surchargeCommand(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("archived surcharge must not block creation: %v", err)
	}
	if created.UsageFees[0].Currency != "USD" || created.UsageFees[0].ID == "" || created.UsageFees[0].UpdatedBy != "user-1" {
		t.Fatalf("unexpected usage fee %+v", created.UsageFees[0])
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one stored surcharge, got %d", len(repo.created))
	}

	cmd := surchargeCommand(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	cmd.Temporary = true
	if _, err := svc.CreateSurcharge(context.Background(), cmd); err != nil {
		t.Fatalf("temporary surcharges skip the overlap check: %v", err)
	}
}

func TestTariffService_CreateSurchargeValidation(t *testing.T) {
	svc := newTestTariffService(t, nil, nil)

	cmd := surchargeCommand(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if _, err := svc.CreateSurcharge(context.Background(), cmd); !errors.Is(err, ErrTariffInvalidInput) {
		t.Fatalf("expected reversed dates to fail, got %v", err)
	}

	cmd = surchargeCommand(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	cmd.Charges[0].Charge = decPtr("-1")
	if _, err := svc.CreateSurcharge(context.Background(), cmd); !errors.Is(err, ErrTariffInvalidInput) {
		t.Fatalf("expected negative charge to fail, got %v", err)
	}
}

func TestTariffService_CopySurcharge(t *testing.T) {
	original := domain.Surcharge{
		ID:        "10",
		UsageFees: []domain.UsageFee{{ID: "uf-1", ContainerTypeID: "20dv"}, {ID: "uf-2", ContainerTypeID: "40hc"}},
		Charges:   []domain.Charge{{ID: "ch-1", AdditionalSurchargeID: "doc"}},
	}
	repo := &stubSurchargeRepo{items: map[string]domain.Surcharge{"10": original}}
	svc := newTestTariffService(t, repo, nil)

	result, err := svc.CopySurcharge(context.Background(), "10")
	if err != nil {
		t.Fatalf("CopySurcharge: %v", err)
	}
	if result.Surcharge.ID == "10" || result.Surcharge.Archived {
		t.Fatalf("copy must be a new live surcharge, got %+v", result.Surcharge)
	}
	if result.Archived != "10" {
		t.Fatalf("expected original to be archived, got %q", result.Archived)
	}
	for _, id := range []string{"uf-1", "uf-2"} {
		if _, ok := result.UsageFees[id]; !ok {
			t.Fatalf("usage fee map missing %s", id)
		}
	}
	if _, ok := result.Charges["ch-1"]; !ok {
		t.Fatalf("charge map missing ch-1")
	}
	if !result.Surcharge.CreatedAt.Equal(tariffNow) {
		t.Fatalf("copy created at %s", result.Surcharge.CreatedAt)
	}

	original.Archived = true
	repo.items["10"] = original
	if _, err := svc.CopySurcharge(context.Background(), "10"); !errors.Is(err, ErrTariffConflict) {
		t.Fatalf("expected conflict for archived surcharge, got %v", err)
	}
	if _, err := svc.CopySurcharge(context.Background(), "missing"); !errors.Is(err, ErrTariffNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTariffService_CopySurchargeRelinksFreightRates(t *testing.T) {
	linked := fclFreightRate()
	unrelated := fclFreightRate()
	unrelated.ID = "fr-2"
	unrelated.Rates[0].SurchargeIDs = []string{"sur-other"}
	rates := &stubFreightRateRepo{items: map[string]domain.FreightRate{"fr-1": linked, "fr-2": unrelated}}
	surcharges := &stubSurchargeRepo{items: map[string]domain.Surcharge{"sur-1": fclSurcharge()}, rates: rates}
	svc := newTestTariffService(t, surcharges, rates)

	result, err := svc.CopySurcharge(context.Background(), "sur-1")
	if err != nil {
		t.Fatalf("CopySurcharge: %v", err)
	}
	if !slices.Equal(result.Relinked, []string{"fr-1"}) {
		t.Fatalf("expected fr-1 to be relinked, got %v", result.Relinked)
	}
	if got := rates.items["fr-1"].Rates[0].SurchargeIDs; !slices.Equal(got, []string{result.Surcharge.ID}) {
		t.Fatalf("fr-1 should link the copy, got %v", got)
	}
	if got := rates.items["fr-2"].Rates[0].SurchargeIDs; !slices.Equal(got, []string{"sur-other"}) {
		t.Fatalf("fr-2 links must not change, got %v", got)
	}

	engine := newTestPricingEngine(t, surcharges, ExchangeRates{})
	cmd := fclCommand(1)
	cmd.FreightRate = rates.items["fr-1"]
	cmd.Surcharges = nil
	charges, err := engine.PriceShipment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("linked rate must stay priceable after the copy: %v", err)
	}
	if got := charges.Totals["USD"]; !got.Equal(dec("1725")) {
		t.Fatalf("expected totals 1725 USD, got %s", got)
	}
}

func freightRateCommand() CreateFreightRateCommand {
	return CreateFreightRateCommand{
		CompanyID:      "agent-co",
		CarrierID:      "msc",
		OriginID:       "p-ssz",
		DestinationID:  "p-nyc",
		ShippingModeID: "fcl",
		TransitTime:    12,
		IsActive:       true,
		Rates: []domain.Rate{
			{
				ContainerTypeID: "20dv",
				Currency:        "usd",
				Rate:            decPtr("1500"),
				StartDate:       timePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
				ExpirationDate:  timePtr(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)),
				SurchargeIDs:    []string{"sur-1"},
			},
			{ContainerTypeID: "40hc", Currency: "usd", Rate: decPtr("2500")},
		},
	}
}

func TestTariffService_CreateFreightRateOpenEndedConflict(t *testing.T) {
	surcharges := &stubSurchargeRepo{items: map[string]domain.Surcharge{"sur-1": fclSurcharge()}}
	competing := []domain.FreightRate{
		{ID: "other", Rates: []domain.Rate{{ContainerTypeID: "40hc"}, {ContainerTypeID: "20dv"}, {ContainerTypeID: "45hc"}}},
		{ID: "archived", Archived: true, Rates: []domain.Rate{{ContainerTypeID: "20dv"}}},
	}
	var gotRoute repositories.RouteKey
	rates := &stubFreightRateRepo{routeFn: func(key repositories.RouteKey) ([]domain.FreightRate, error) {
		gotRoute = key
		return competing, nil
	}}
	svc := newTestTariffService(t, surcharges, rates)

	_, err := svc.CreateFreightRate(context.Background(), freightRateCommand())
	var validationErr *TariffValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected TariffValidationError, got %v", err)
	}
	if !errors.Is(err, ErrTariffInvalidInput) {
		t.Fatalf("validation error must match ErrTariffInvalidInput")
	}
	if !slices.Equal(validationErr.ContainerTypeIDs, []string{"20dv", "40hc"}) {
		t.Fatalf("unexpected offending containers %v", validationErr.ContainerTypeIDs)
	}
	if gotRoute.CarrierID != "msc" || gotRoute.OriginID != "p-ssz" || gotRoute.DestinationID != "p-nyc" {
		t.Fatalf("unexpected route key %+v", gotRoute)
	}
	if len(rates.created) != 0 {
		t.Fatalf("invalid freight rate must not be stored")
	}

	cmd := freightRateCommand()
	cmd.Temporary = true
	created, err := svc.CreateFreightRate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("temporary freight rates skip the open-ended rule: %v", err)
	}
	if created.Rates[0].Currency != "USD" || created.Rates[0].ID == "" {
		t.Fatalf("unexpected stored rate %+v", created.Rates[0])
	}
}

func TestTariffService_ValidateFreightRateWindowIntersection(t *testing.T) {
	surcharge := fclSurcharge()
	surcharge.StartDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	surcharge.ExpirationDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	svc := newTestTariffService(t, &stubSurchargeRepo{items: map[string]domain.Surcharge{"sur-1": surcharge}}, nil)

	_, err := svc.CreateFreightRate(context.Background(), freightRateCommand())
	if !errors.Is(err, ErrTariffInvalidInput) {
		t.Fatalf("expected disjoint windows to fail, got %v", err)
	}
	var validationErr *TariffValidationError
	if errors.As(err, &validationErr) {
		t.Fatalf("window failures are plain validation errors")
	}
}

func TestTariffService_CopyFreightRateKeepsSurchargeLinks(t *testing.T) {
	original := domain.FreightRate{
		ID: "fr-1",
		Rates: []domain.Rate{
			{ID: "r-1", ContainerTypeID: "20dv", SurchargeIDs: []string{"sur-1", "sur-2"}},
			{ID: "r-2", ContainerTypeID: "40hc", SurchargeIDs: []string{"sur-3"}},
		},
	}
	repo := &stubFreightRateRepo{items: map[string]domain.FreightRate{"fr-1": original}}
	svc := newTestTariffService(t, nil, repo)

	result, err := svc.CopyFreightRate(context.Background(), "fr-1")
	if err != nil {
		t.Fatalf("CopyFreightRate: %v", err)
	}
	if result.FreightRate.ID == "fr-1" || result.Archived != "fr-1" {
		t.Fatalf("unexpected copy %+v", result)
	}
	for _, old := range original.Rates {
		moved, ok := result.Rates[old.ID]
		if !ok {
			t.Fatalf("rate map missing %s", old.ID)
		}
		if !slices.Equal(moved.SurchargeIDs, old.SurchargeIDs) {
			t.Fatalf("rate %s surcharges changed: %v", old.ID, moved.SurchargeIDs)
		}
	}
	result.FreightRate.Rates[0].SurchargeIDs[0] = "mutated"
	if original.Rates[0].SurchargeIDs[0] != "sur-1" {
		t.Fatalf("copy must not share surcharge slices with the original")
	}
}

func TestTariffService_ExpiringSkipsArchived(t *testing.T) {
	surcharges := &stubSurchargeRepo{expiring: []domain.Surcharge{{ID: "a"}, {ID: "b", Archived: true}, {ID: "c", Temporary: true}}}
	rates := &stubFreightRateRepo{expiring: []domain.FreightRate{{ID: "x", Archived: true}, {ID: "y"}}}
	svc := newTestTariffService(t, surcharges, rates)

	gotSurcharges, err := svc.ExpiringSurcharges(context.Background(), tariffNow, tariffNow.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("ExpiringSurcharges: %v", err)
	}
	if len(gotSurcharges) != 1 || gotSurcharges[0].ID != "a" {
		t.Fatalf("unexpected surcharges %+v", gotSurcharges)
	}
	gotRates, err := svc.ExpiringFreightRates(context.Background(), tariffNow, tariffNow.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("ExpiringFreightRates: %v", err)
	}
	if len(gotRates) != 1 || gotRates[0].ID != "y" {
		t.Fatalf("unexpected freight rates %+v", gotRates)
	}
}
