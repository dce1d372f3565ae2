package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const tracksCollection = "tracks"

// TrackRepository persists manual and vendor tracks.
type TrackRepository struct {
	provider *pfirestore.Provider
	tracks   *pfirestore.Collection[trackDocument]
}

var _ repositories.TrackRepository = (*TrackRepository)(nil)

// NewTrackRepository constructs a Firestore-backed track repository.
func NewTrackRepository(provider *pfirestore.Provider) (*TrackRepository, error) {
	if provider == nil {
		return nil, errors.New("track repository requires firestore provider")
	}
	return &TrackRepository{
		provider: provider,
		tracks:   pfirestore.NewCollection[trackDocument](provider, tracksCollection),
	}, nil
}

func (r *TrackRepository) Create(ctx context.Context, track domain.Track) error {
	return r.tracks.Create(ctx, track.ID, newTrackDocument(track))
}

// UpsertAutomatic replaces the booking's vendor track, keeping the first document id it was
// stored under.
func (r *TrackRepository) UpsertAutomatic(ctx context.Context, track domain.Track) error {
	track.Manual = false
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		coll, err := r.tracks.Ref(ctx)
		if err != nil {
			return err
		}
		query := coll.Where("bookingId", "==", track.BookingID).Where("manual", "==", false).Limit(1)
		iter := tx.Documents(query)
		defer iter.Stop()
		snapshot, err := iter.Next()
		switch {
		case errors.Is(err, iterator.Done):
			ref, err := r.tracks.Doc(ctx, track.ID)
			if err != nil {
				return err
			}
			return tx.Create(ref, newTrackDocument(track))
		case err != nil:
			return pfirestore.WrapError(tracksCollection+".upsert_automatic", err)
		}
		return tx.Set(snapshot.Ref, newTrackDocument(track))
	})
}

func (r *TrackRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.Track, error) {
	docs, err := r.tracks.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("bookingId", "==", bookingID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Track, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type trackDocument struct {
	BookingID string         `firestore:"bookingId"`
	StatusID  string         `firestore:"statusId,omitempty"`
	Manual    bool           `firestore:"manual"`
	CreatedBy string         `firestore:"createdBy,omitempty"`
	Data      map[string]any `firestore:"data,omitempty"`
	Route     map[string]any `firestore:"route,omitempty"`
	Comment   string         `firestore:"comment,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func newTrackDocument(t domain.Track) trackDocument {
	return trackDocument{
		BookingID: t.BookingID,
		StatusID:  t.StatusID,
		Manual:    t.Manual,
		CreatedBy: t.CreatedBy,
		Data:      t.Data,
		Route:     t.Route,
		Comment:   t.Comment,
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func (d trackDocument) toDomain(id string) domain.Track {
	return domain.Track{
		ID:        id,
		BookingID: d.BookingID,
		StatusID:  d.StatusID,
		Manual:    d.Manual,
		CreatedBy: d.CreatedBy,
		Data:      d.Data,
		Route:     d.Route,
		Comment:   d.Comment,
		CreatedAt: d.CreatedAt.UTC(),
	}
}
