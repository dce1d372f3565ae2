package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	quotesCollection      = "quotes"
	quoteOffersCollection = "quoteOffers"
)

// QuoteRepository persists quotes. The quote document carries an offer counter that AddOffer
// increments in the same transaction that writes the offer.
type QuoteRepository struct {
	provider *pfirestore.Provider
	quotes   *pfirestore.Collection[quoteDocument]
	offers   *pfirestore.Collection[quoteOfferDocument]
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

// NewQuoteRepository constructs a Firestore-backed quote repository.
func NewQuoteRepository(provider *pfirestore.Provider) (*QuoteRepository, error) {
	if provider == nil {
		return nil, errors.New("quote repository requires firestore provider")
	}
	return &QuoteRepository{
		provider: provider,
		quotes:   pfirestore.NewCollection[quoteDocument](provider, quotesCollection),
		offers:   pfirestore.NewCollection[quoteOfferDocument](provider, quoteOffersCollection),
	}, nil
}

func (r *QuoteRepository) Get(ctx context.Context, id string) (domain.Quote, error) {
	doc, err := r.quotes.Get(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// Save upserts a quote, resetting its offer counter.
func (r *QuoteRepository) Save(ctx context.Context, quote domain.Quote) error {
	return r.quotes.Set(ctx, quote.ID, newQuoteDocument(quote))
}

func (r *QuoteRepository) AddOffer(ctx context.Context, offer domain.QuoteOffer, maxOffers int) error {
	charges, err := domain.EncodeCharges(offer.Charges)
	if err != nil {
		return fmt.Errorf("quote offer %s: encode charges: %w", offer.ID, err)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, quoteRef, err := r.quotes.GetTx(ctx, tx, offer.QuoteID)
		if err != nil {
			return err
		}
		if maxOffers > 0 && doc.Data.OfferCount >= maxOffers {
			return pfirestore.Conflict(quotesCollection+".add_offer", fmt.Sprintf("offer %d on quote %s", doc.Data.OfferCount+1, offer.QuoteID))
		}
		offerRef, err := r.offers.Doc(ctx, offer.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(offerRef, quoteOfferDocument{
			QuoteID:              offer.QuoteID,
			AgentCompanyID:       offer.AgentCompanyID,
			FreightRateID:        offer.FreightRateID,
			Charges:              string(charges),
			ChargesSchemaVersion: domain.ChargesSchemaVersion,
			CreatedAt:            offer.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		return tx.Update(quoteRef, []firestore.Update{
			{Path: "offerCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: offer.CreatedAt.UTC()},
		})
	})
}

// ArchiveStale archives quotes created before createdBefore or whose shipping window ended
// before dateToBefore.
func (r *QuoteRepository) ArchiveStale(ctx context.Context, createdBefore, dateToBefore time.Time) (int, error) {
	created, err := r.quotes.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isArchived", "==", false).Where("createdAt", "<", createdBefore.UTC())
	})
	if err != nil {
		return 0, err
	}
	ended, err := r.quotes.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isArchived", "==", false).Where("dateTo", "<", dateToBefore.UTC())
	})
	if err != nil {
		return 0, err
	}

	ids := make(map[string]struct{}, len(created)+len(ended))
	for _, doc := range append(created, ended...) {
		ids[doc.ID] = struct{}{}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	client, err := r.quotes.Client(ctx)
	if err != nil {
		return 0, err
	}
	coll := client.Collection(quotesCollection)
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for id := range ids {
		job, err := writer.Update(coll.Doc(id), []firestore.Update{
			{Path: "isArchived", Value: true},
			{Path: "isActive", Value: false},
		})
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError(quotesCollection+".archive", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()
	if err := joinJobErrors(quotesCollection+".archive", jobs); err != nil {
		return 0, err
	}
	return len(ids), nil
}

type quoteDocument struct {
	CompanyID      string               `firestore:"companyId"`
	OriginID       string               `firestore:"originId"`
	DestinationID  string               `firestore:"destinationId"`
	ShippingModeID string               `firestore:"shippingModeId"`
	DateFrom       time.Time            `firestore:"dateFrom"`
	DateTo         time.Time            `firestore:"dateTo"`
	CargoGroups    []cargoGroupDocument `firestore:"cargoGroups"`
	IsActive       bool                 `firestore:"isActive"`
	IsArchived     bool                 `firestore:"isArchived"`
	OfferCount     int                  `firestore:"offerCount"`
	CreatedAt      time.Time            `firestore:"createdAt"`
	UpdatedAt      time.Time            `firestore:"updatedAt"`
}

type quoteOfferDocument struct {
	QuoteID              string    `firestore:"quoteId"`
	AgentCompanyID       string    `firestore:"agentCompanyId"`
	FreightRateID        string    `firestore:"freightRateId"`
	Charges              string    `firestore:"charges"`
	ChargesSchemaVersion int       `firestore:"chargesSchemaVersion"`
	CreatedAt            time.Time `firestore:"createdAt"`
}

func newQuoteDocument(q domain.Quote) quoteDocument {
	doc := quoteDocument{
		CompanyID:      q.CompanyID,
		OriginID:       q.OriginID,
		DestinationID:  q.DestinationID,
		ShippingModeID: q.ShippingModeID,
		DateFrom:       q.DateFrom.UTC(),
		DateTo:         q.DateTo.UTC(),
		CargoGroups:    make([]cargoGroupDocument, 0, len(q.CargoGroups)),
		IsActive:       q.IsActive,
		IsArchived:     q.IsArchived,
		CreatedAt:      q.CreatedAt.UTC(),
		UpdatedAt:      q.UpdatedAt.UTC(),
	}
	for _, group := range q.CargoGroups {
		doc.CargoGroups = append(doc.CargoGroups, newCargoGroupDocument(group))
	}
	return doc
}

func (d quoteDocument) toDomain(id string) (domain.Quote, error) {
	q := domain.Quote{
		ID:             id,
		CompanyID:      d.CompanyID,
		OriginID:       d.OriginID,
		DestinationID:  d.DestinationID,
		ShippingModeID: d.ShippingModeID,
		DateFrom:       d.DateFrom.UTC(),
		DateTo:         d.DateTo.UTC(),
		IsActive:       d.IsActive,
		IsArchived:     d.IsArchived,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	for _, group := range d.CargoGroups {
		cargo, err := group.toDomain()
		if err != nil {
			return domain.Quote{}, fmt.Errorf("quote %s: %w", id, err)
		}
		q.CargoGroups = append(q.CargoGroups, cargo)
	}
	return q, nil
}
