//go:build integration

package firestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore/firestoretest"
)

func TestNotificationRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := firestoretest.NewProvider(t)
	repo, err := NewNotificationRepository(provider)
	if err != nil {
		t.Fatalf("new notification repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		n := domain.Notification{
			ID:           fmt.Sprintf("ntf_%d", i),
			Section:      domain.SectionRequests,
			ActionPath:   domain.ActionBooking,
			TemplateKey:  "booking.received",
			ObjectID:     "bkg_old",
			RecipientIDs: []string{"u1"},
			CreatedAt:    base.AddDate(0, 0, i),
		}
		if err := repo.Insert(ctx, n); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	first, err := repo.ListForUser(ctx, "u1", domain.Pagination{PageSize: 3})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Items) != 3 || first.Items[0].ID != "ntf_4" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := repo.ListForUser(ctx, "u1", domain.Pagination{PageSize: 3, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 2 || second.Items[0].ID != "ntf_1" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}

	if err := repo.MarkSeen(ctx, "u1", []string{"ntf_4", "ntf_3"}, base); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	seen, err := repo.SeenBy(ctx, "u1", []string{"ntf_4", "ntf_3", "ntf_2"})
	if err != nil {
		t.Fatalf("seen by: %v", err)
	}
	if !seen["ntf_4"] || !seen["ntf_3"] || seen["ntf_2"] {
		t.Fatalf("unexpected seen map: %+v", seen)
	}

	changed, err := repo.ReassignObject(ctx, "bkg_old", "bkg_new", []domain.NotificationSection{domain.SectionRequests})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(changed) != 5 || changed[0].ObjectID != "bkg_new" {
		t.Fatalf("expected five reassigned notifications, got %+v", changed)
	}

	deleted, err := repo.DeleteOlderThan(ctx, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected two deletions, got %d", deleted)
	}
}
