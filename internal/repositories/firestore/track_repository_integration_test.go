//go:build integration

package firestore

import (
	"context"
	"testing"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore/firestoretest"
)

func TestTrackRepositoryUpsertAutomatic(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := firestoretest.NewProvider(t)
	repo, err := NewTrackRepository(provider)
	if err != nil {
		t.Fatalf("new track repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	at := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	if err := repo.Create(ctx, domain.Track{ID: "trk_manual", BookingID: "bkg", Manual: true, StatusID: "departed", CreatedAt: at}); err != nil {
		t.Fatalf("create manual: %v", err)
	}
	for i, event := range []string{"CGI", "VDL"} {
		track := domain.Track{
			ID:        "trk_auto_" + event,
			BookingID: "bkg",
			Data:      map[string]any{"lastEvent": event},
			CreatedAt: at.Add(time.Duration(i+1) * time.Hour),
		}
		if err := repo.UpsertAutomatic(ctx, track); err != nil {
			t.Fatalf("upsert %s: %v", event, err)
		}
	}

	tracks, err := repo.ListByBooking(ctx, "bkg")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected manual and one vendor track, got %+v", tracks)
	}
	vendor := tracks[1]
	if vendor.Manual || vendor.ID != "trk_auto_CGI" || vendor.Data["lastEvent"] != "VDL" {
		t.Fatalf("expected vendor track replaced in place, got %+v", vendor)
	}
}
