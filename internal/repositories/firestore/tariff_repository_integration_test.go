//go:build integration

package firestore

import (
	"context"
	"slices"
	"testing"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore/firestoretest"
)

func TestSurchargeCopyRelinksFreightRatesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := firestoretest.NewProvider(t)
	surcharges, err := NewSurchargeRepository(provider)
	if err != nil {
		t.Fatalf("new surcharge repository: %v", err)
	}
	rates, err := NewFreightRateRepository(provider)
	if err != nil {
		t.Fatalf("new freight rate repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	original := domain.Surcharge{
		ID:             "sur_1",
		CompanyID:      "agent-co",
		StartDate:      now,
		ExpirationDate: now.AddDate(0, 1, 0),
		UsageFees:      []domain.UsageFee{{ID: "uf_1", ContainerTypeID: "20dv", Currency: "USD"}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := surcharges.Create(ctx, original); err != nil {
		t.Fatalf("create surcharge: %v", err)
	}
	for _, rate := range []domain.FreightRate{
		{ID: "frt_linked", Rates: []domain.Rate{{ID: "rt_1", ContainerTypeID: "20dv", SurchargeIDs: []string{"sur_1", "sur_x"}}}},
		{ID: "frt_other", Rates: []domain.Rate{{ID: "rt_2", ContainerTypeID: "20dv", SurchargeIDs: []string{"sur_x"}}}},
	} {
		if err := rates.Create(ctx, rate); err != nil {
			t.Fatalf("create freight rate %s: %v", rate.ID, err)
		}
	}

	copied, relinked, err := surcharges.Copy(ctx, "sur_1", func(s domain.Surcharge) (domain.Surcharge, error) {
		s.ID = "sur_2"
		s.CreatedAt = now.Add(time.Hour)
		return s, nil
	})
	if err != nil {
		t.Fatalf("copy surcharge: %v", err)
	}
	if copied.ID != "sur_2" || !slices.Equal(relinked, []string{"frt_linked"}) {
		t.Fatalf("unexpected copy %s relinked %v", copied.ID, relinked)
	}

	linked, err := rates.Get(ctx, "frt_linked")
	if err != nil {
		t.Fatalf("get linked rate: %v", err)
	}
	if got := linked.Rates[0].SurchargeIDs; !slices.Equal(got, []string{"sur_2", "sur_x"}) {
		t.Fatalf("linked rate should point at the copy, got %v", got)
	}
	other, err := rates.Get(ctx, "frt_other")
	if err != nil {
		t.Fatalf("get other rate: %v", err)
	}
	if got := other.Rates[0].SurchargeIDs; !slices.Equal(got, []string{"sur_x"}) {
		t.Fatalf("unrelated rate changed: %v", got)
	}
	archived, err := surcharges.Get(ctx, "sur_1")
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if !archived.Archived || len(archived.UsageFees) != 0 {
		t.Fatalf("original should be archived without children, got %+v", archived)
	}
}
