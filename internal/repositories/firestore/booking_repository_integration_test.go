//go:build integration

package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore/firestoretest"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

func TestBookingRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := firestoretest.NewProvider(t)
	repo, err := NewBookingRepository(provider)
	if err != nil {
		t.Fatalf("new booking repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	totalWM := decimal.RequireFromString("2.5")
	original := domain.Booking{
		ID:              "bkg_1",
		Aceid:           "SAN-000001",
		ClientCompanyID: "client",
		AgentCompanyID:  "agent",
		ShippingType:    domain.ShippingTypeSea,
		Direction:       domain.DirectionImport,
		Status:          domain.BookingStatusPending,
		CargoGroups: []domain.CargoGroup{{
			ID:      "cg_1",
			Volume:  2,
			Weight:  decimal.RequireFromString("1200.5"),
			TotalWM: &totalWM,
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := repo.Create(ctx, original); err != nil {
		t.Fatalf("create: %v", err)
	}

	duplicate := original
	duplicate.ID = "bkg_2"
	err = repo.Create(ctx, duplicate)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected aceid conflict, got %v", err)
	}

	got, err := repo.Get(ctx, original.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CargoGroups[0].Weight.Equal(decimal.RequireFromString("1200.5")) || got.CargoGroups[0].TotalWM == nil {
		t.Fatalf("unexpected cargo round trip: %+v", got.CargoGroups[0])
	}

	errAbort := errors.New("abort")
	if _, err := repo.Mutate(ctx, original.ID, func(b *domain.Booking) error { return errAbort }); !errors.Is(err, errAbort) {
		t.Fatalf("expected mutation error to surface, got %v", err)
	}

	child := original
	child.ID = "bkg_1_change"
	child.OriginalBookingID = original.ID
	child.Status = domain.BookingStatusReceived
	if _, err := repo.CreateChangeRequest(ctx, child, func(b *domain.Booking) error {
		b.ChangeRequestStatus = domain.ChangeRequestRequested
		return nil
	}); err != nil {
		t.Fatalf("create change request: %v", err)
	}
	parent, err := repo.Get(ctx, original.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parent.ChangeRequestStatus != domain.ChangeRequestRequested {
		t.Fatalf("expected parent flagged, got %q", parent.ChangeRequestStatus)
	}

	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		t.Fatalf("new notification repository: %v", err)
	}
	for _, n := range []domain.Notification{
		{ID: "ntf_ops", Section: domain.SectionOperationsImport, ObjectID: original.ID, RecipientIDs: []string{"u1"}, CreatedAt: created},
		{ID: "ntf_req", Section: domain.SectionRequests, ObjectID: original.ID, RecipientIDs: []string{"u1"}, CreatedAt: created},
	} {
		if err := notifications.Insert(ctx, n); err != nil {
			t.Fatalf("insert notification: %v", err)
		}
	}
	if _, err := repo.ConfirmChangeRequest(ctx, original.ID, child.ID, domain.OperationsSections(), func(b *domain.Booking) error {
		return errAbort
	}); !errors.Is(err, errAbort) {
		t.Fatalf("expected aborted confirm, got %v", err)
	}
	moved, err := repo.ConfirmChangeRequest(ctx, original.ID, child.ID, domain.OperationsSections(), func(b *domain.Booking) error {
		b.ChangeRequestStatus = domain.ChangeRequestConfirmed
		return nil
	})
	if err != nil {
		t.Fatalf("confirm change request: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != "ntf_ops" || moved[0].ObjectID != child.ID {
		t.Fatalf("expected the operations notification to move, got %+v", moved)
	}
	parent, err = repo.Get(ctx, original.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parent.ChangeRequestStatus != domain.ChangeRequestConfirmed {
		t.Fatalf("expected parent confirmed, got %q", parent.ChangeRequestStatus)
	}

	originals, err := repo.List(ctx, repositories.BookingFilter{OnlyOriginals: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(originals) != 1 || originals[0].ID != original.ID {
		t.Fatalf("expected only the original booking, got %+v", originals)
	}
	received, err := repo.List(ctx, repositories.BookingFilter{Statuses: []domain.BookingStatus{domain.BookingStatusReceived, domain.BookingStatusAccepted}})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(received) != 1 || received[0].ID != child.ID {
		t.Fatalf("expected change request by status, got %+v", received)
	}

	rolledBack := original
	rolledBack.ID = "bkg_3"
	rolledBack.Aceid = "SAN-000003"
	if err := repo.Create(ctx, rolledBack); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, rolledBack.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, rolledBack.ID); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected deleted booking to be gone, got %v", err)
	}
	reused := rolledBack
	reused.ID = "bkg_4"
	if err := repo.Create(ctx, reused); err != nil {
		t.Fatalf("expected released aceid to be reusable: %v", err)
	}
}
