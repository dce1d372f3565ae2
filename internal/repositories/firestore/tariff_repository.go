package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	surchargesCollection   = "surcharges"
	freightRatesCollection = "freightRates"

	// Firestore caps array-contains-any at 30 values.
	maxArrayContainsAny = 30
)

// SurchargeRepository stores surcharges with their usage fees and charges embedded, so a
// surcharge and its children are always read and written together.
type SurchargeRepository struct {
	provider *pfirestore.Provider
	coll     *pfirestore.Collection[surchargeDocument]
	rates    *pfirestore.Collection[freightRateDocument]
}

var _ repositories.SurchargeRepository = (*SurchargeRepository)(nil)

// NewSurchargeRepository constructs a Firestore-backed surcharge repository.
func NewSurchargeRepository(provider *pfirestore.Provider) (*SurchargeRepository, error) {
	if provider == nil {
		return nil, errors.New("surcharge repository requires firestore provider")
	}
	return &SurchargeRepository{
		provider: provider,
		coll:     pfirestore.NewCollection[surchargeDocument](provider, surchargesCollection),
		rates:    pfirestore.NewCollection[freightRateDocument](provider, freightRatesCollection),
	}, nil
}

func (r *SurchargeRepository) Get(ctx context.Context, id string) (domain.Surcharge, error) {
	doc, err := r.coll.Get(ctx, id)
	if err != nil {
		return domain.Surcharge{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *SurchargeRepository) GetMany(ctx context.Context, ids []string) ([]domain.Surcharge, error) {
	docs, err := r.coll.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	return decodeSurcharges(docs)
}

// ListByKey returns the non-archived surcharges sharing key.
func (r *SurchargeRepository) ListByKey(ctx context.Context, key repositories.SurchargeKey) ([]domain.Surcharge, error) {
	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("companyId", "==", key.CompanyID).
			Where("carrierId", "==", key.CarrierID).
			Where("direction", "==", string(key.Direction)).
			Where("locationId", "==", key.LocationID).
			Where("shippingModeId", "==", key.ShippingModeID).
			Where("archived", "==", false)
	})
	if err != nil {
		return nil, err
	}
	return decodeSurcharges(docs)
}

func (r *SurchargeRepository) Create(ctx context.Context, surcharge domain.Surcharge) error {
	return r.coll.Create(ctx, surcharge.ID, newSurchargeDocument(surcharge))
}

func (r *SurchargeRepository) Copy(ctx context.Context, id string, build func(original domain.Surcharge) (domain.Surcharge, error)) (domain.Surcharge, []string, error) {
	if build == nil {
		return domain.Surcharge{}, nil, errors.New("surcharge repository: copy builder is required")
	}
	var (
		created  domain.Surcharge
		relinked []string
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		relinked = nil
		doc, ref, err := r.coll.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		linked, err := r.rates.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
			return q.Where("surchargeIds", "array-contains", id)
		})
		if err != nil {
			return err
		}
		original, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return err
		}
		created, err = build(original)
		if err != nil {
			return err
		}
		copyRef, err := r.coll.Doc(ctx, created.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(copyRef, newSurchargeDocument(created)); err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "archived", Value: true},
			{Path: "usageFees", Value: []usageFeeDocument{}},
			{Path: "charges", Value: []chargeDocument{}},
			{Path: "updatedAt", Value: created.CreatedAt},
		}); err != nil {
			return err
		}
		for _, rateDoc := range linked {
			rate, err := rateDoc.Data.toDomain(rateDoc.ID)
			if err != nil {
				return err
			}
			if !rate.RelinkSurcharge(id, created.ID) {
				continue
			}
			rate.UpdatedAt = created.CreatedAt
			rateRef, err := r.rates.Doc(ctx, rate.ID)
			if err != nil {
				return err
			}
			if err := tx.Set(rateRef, newFreightRateDocument(rate)); err != nil {
				return err
			}
			relinked = append(relinked, rate.ID)
		}
		return nil
	})
	if err != nil {
		return domain.Surcharge{}, nil, err
	}
	return created, relinked, nil
}

// ListExpiring returns non-archived surcharges whose expiration date falls in [from, to].
func (r *SurchargeRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]domain.Surcharge, error) {
	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("archived", "==", false).
			Where("expirationDate", ">=", from).
			Where("expirationDate", "<=", to).
			OrderBy("expirationDate", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return decodeSurcharges(docs)
}

func decodeSurcharges(docs []pfirestore.Document[surchargeDocument]) ([]domain.Surcharge, error) {
	out := make([]domain.Surcharge, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// FreightRateRepository stores freight rates with their rates embedded.
type FreightRateRepository struct {
	provider *pfirestore.Provider
	coll     *pfirestore.Collection[freightRateDocument]
}

var _ repositories.FreightRateRepository = (*FreightRateRepository)(nil)

// NewFreightRateRepository constructs a Firestore-backed freight rate repository.
func NewFreightRateRepository(provider *pfirestore.Provider) (*FreightRateRepository, error) {
	if provider == nil {
		return nil, errors.New("freight rate repository requires firestore provider")
	}
	return &FreightRateRepository{provider: provider, coll: pfirestore.NewCollection[freightRateDocument](provider, freightRatesCollection)}, nil
}

func (r *FreightRateRepository) Get(ctx context.Context, id string) (domain.FreightRate, error) {
	doc, err := r.coll.Get(ctx, id)
	if err != nil {
		return domain.FreightRate{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *FreightRateRepository) Create(ctx context.Context, rate domain.FreightRate) error {
	return r.coll.Create(ctx, rate.ID, newFreightRateDocument(rate))
}

// ListByRoute returns the non-archived freight rates of every company on the lane.
func (r *FreightRateRepository) ListByRoute(ctx context.Context, key repositories.RouteKey) ([]domain.FreightRate, error) {
	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("carrierId", "==", key.CarrierID).
			Where("originId", "==", key.OriginID).
			Where("destinationId", "==", key.DestinationID).
			Where("shippingModeId", "==", key.ShippingModeID).
			Where("archived", "==", false)
	})
	if err != nil {
		return nil, err
	}
	return decodeFreightRates(docs)
}

// Search returns live freight rates for the lane, optionally narrowed to one carrier.
func (r *FreightRateRepository) Search(ctx context.Context, query repositories.FreightRateQuery) ([]domain.FreightRate, error) {
	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("shippingModeId", "==", query.ShippingModeID).
			Where("originId", "==", query.OriginID).
			Where("destinationId", "==", query.DestinationID).
			Where("isActive", "==", true).
			Where("temporary", "==", false).
			Where("archived", "==", false)
		if query.CarrierID != "" {
			q = q.Where("carrierId", "==", query.CarrierID)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeFreightRates(docs)
}

func (r *FreightRateRepository) Copy(ctx context.Context, id string, build func(original domain.FreightRate) (domain.FreightRate, error)) (domain.FreightRate, error) {
	if build == nil {
		return domain.FreightRate{}, errors.New("freight rate repository: copy builder is required")
	}
	var created domain.FreightRate
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := r.coll.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		original, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return err
		}
		created, err = build(original)
		if err != nil {
			return err
		}
		copyRef, err := r.coll.Doc(ctx, created.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(copyRef, newFreightRateDocument(created)); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "archived", Value: true},
			{Path: "rates", Value: []rateDocument{}},
			{Path: "expirationDays", Value: []string{}},
			{Path: "surchargeIds", Value: []string{}},
			{Path: "updatedAt", Value: created.CreatedAt},
		})
	})
	if err != nil {
		return domain.FreightRate{}, err
	}
	return created, nil
}

// ListExpiring returns non-archived freight rates holding at least one rate that expires in
// [from, to]. Rate expirations are indexed as day strings on the parent document.
func (r *FreightRateRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]domain.FreightRate, error) {
	days := dayKeys(from, to)
	seen := map[string]struct{}{}
	var out []domain.FreightRate
	for chunk := range slices.Chunk(days, maxArrayContainsAny) {
		docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("archived", "==", false).Where("expirationDays", "array-contains-any", chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			item, err := doc.Data.toDomain(doc.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b domain.FreightRate) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func decodeFreightRates(docs []pfirestore.Document[freightRateDocument]) ([]domain.FreightRate, error) {
	out := make([]domain.FreightRate, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func dayKey(t time.Time) string {
	return domain.Day(t).Format(time.DateOnly)
}

func dayKeys(from, to time.Time) []string {
	var keys []string
	for day := domain.Day(from); !day.After(domain.Day(to)); day = day.AddDate(0, 0, 1) {
		keys = append(keys, dayKey(day))
	}
	return keys
}

type surchargeDocument struct {
	CompanyID      string             `firestore:"companyId"`
	CarrierID      string             `firestore:"carrierId"`
	Direction      string             `firestore:"direction"`
	LocationID     string             `firestore:"locationId"`
	ShippingModeID string             `firestore:"shippingModeId"`
	StartDate      time.Time          `firestore:"startDate"`
	ExpirationDate time.Time          `firestore:"expirationDate"`
	Temporary      bool               `firestore:"temporary"`
	Archived       bool               `firestore:"archived"`
	UsageFees      []usageFeeDocument `firestore:"usageFees"`
	Charges        []chargeDocument   `firestore:"charges"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

type usageFeeDocument struct {
	ID              string    `firestore:"id"`
	ContainerTypeID string    `firestore:"containerTypeId"`
	Currency        string    `firestore:"currency"`
	Charge          *string   `firestore:"charge"`
	UpdatedBy       string    `firestore:"updatedBy,omitempty"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type chargeDocument struct {
	ID                    string    `firestore:"id"`
	AdditionalSurchargeID string    `firestore:"additionalSurchargeId"`
	Currency              string    `firestore:"currency"`
	Charge                *string   `firestore:"charge"`
	Conditions            string    `firestore:"conditions"`
	UpdatedBy             string    `firestore:"updatedBy,omitempty"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

func newSurchargeDocument(s domain.Surcharge) surchargeDocument {
	doc := surchargeDocument{
		CompanyID:      s.CompanyID,
		CarrierID:      s.CarrierID,
		Direction:      string(s.Direction),
		LocationID:     s.LocationID,
		ShippingModeID: s.ShippingModeID,
		StartDate:      s.StartDate.UTC(),
		ExpirationDate: s.ExpirationDate.UTC(),
		Temporary:      s.Temporary,
		Archived:       s.Archived,
		UsageFees:      make([]usageFeeDocument, 0, len(s.UsageFees)),
		Charges:        make([]chargeDocument, 0, len(s.Charges)),
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
	}
	for _, fee := range s.UsageFees {
		doc.UsageFees = append(doc.UsageFees, usageFeeDocument{
			ID:              fee.ID,
			ContainerTypeID: fee.ContainerTypeID,
			Currency:        fee.Currency,
			Charge:          optionalDecimalString(fee.Charge),
			UpdatedBy:       fee.UpdatedBy,
			UpdatedAt:       fee.UpdatedAt.UTC(),
		})
	}
	for _, charge := range s.Charges {
		doc.Charges = append(doc.Charges, chargeDocument{
			ID:                    charge.ID,
			AdditionalSurchargeID: charge.AdditionalSurchargeID,
			Currency:              charge.Currency,
			Charge:                optionalDecimalString(charge.Charge),
			Conditions:            string(charge.Conditions),
			UpdatedBy:             charge.UpdatedBy,
			UpdatedAt:             charge.UpdatedAt.UTC(),
		})
	}
	return doc
}

func (d surchargeDocument) toDomain(id string) (domain.Surcharge, error) {
	s := domain.Surcharge{
		ID:             id,
		CompanyID:      d.CompanyID,
		CarrierID:      d.CarrierID,
		Direction:      domain.Direction(d.Direction),
		LocationID:     d.LocationID,
		ShippingModeID: d.ShippingModeID,
		StartDate:      d.StartDate.UTC(),
		ExpirationDate: d.ExpirationDate.UTC(),
		Temporary:      d.Temporary,
		Archived:       d.Archived,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	for _, fee := range d.UsageFees {
		charge, err := parseOptionalDecimal("usage fee charge", fee.Charge)
		if err != nil {
			return domain.Surcharge{}, fmt.Errorf("surcharge %s: %w", id, err)
		}
		s.UsageFees = append(s.UsageFees, domain.UsageFee{
			ID:              fee.ID,
			ContainerTypeID: fee.ContainerTypeID,
			Currency:        fee.Currency,
			Charge:          charge,
			UpdatedBy:       fee.UpdatedBy,
			UpdatedAt:       fee.UpdatedAt.UTC(),
		})
	}
	for _, item := range d.Charges {
		charge, err := parseOptionalDecimal("charge", item.Charge)
		if err != nil {
			return domain.Surcharge{}, fmt.Errorf("surcharge %s: %w", id, err)
		}
		s.Charges = append(s.Charges, domain.Charge{
			ID:                    item.ID,
			AdditionalSurchargeID: item.AdditionalSurchargeID,
			Currency:              item.Currency,
			Charge:                charge,
			Conditions:            domain.ChargeCondition(item.Conditions),
			UpdatedBy:             item.UpdatedBy,
			UpdatedAt:             item.UpdatedAt.UTC(),
		})
	}
	return s, nil
}

type freightRateDocument struct {
	CompanyID         string         `firestore:"companyId"`
	CarrierID         string         `firestore:"carrierId"`
	CarrierDisclosure bool           `firestore:"carrierDisclosure"`
	OriginID          string         `firestore:"originId"`
	DestinationID     string         `firestore:"destinationId"`
	ShippingModeID    string         `firestore:"shippingModeId"`
	TransitTime       int            `firestore:"transitTime"`
	IsActive          bool           `firestore:"isActive"`
	Temporary         bool           `firestore:"temporary"`
	Archived          bool           `firestore:"archived"`
	Rates             []rateDocument `firestore:"rates"`
	ExpirationDays    []string       `firestore:"expirationDays"`
	SurchargeIDs      []string       `firestore:"surchargeIds"`
	CreatedAt         time.Time      `firestore:"createdAt"`
	UpdatedAt         time.Time      `firestore:"updatedAt"`
}

type rateDocument struct {
	ID              string     `firestore:"id"`
	ContainerTypeID string     `firestore:"containerTypeId"`
	Currency        string     `firestore:"currency"`
	Rate            *string    `firestore:"rate"`
	StartDate       *time.Time `firestore:"startDate"`
	ExpirationDate  *time.Time `firestore:"expirationDate"`
	SurchargeIDs    []string   `firestore:"surchargeIds"`
	UpdatedBy       string     `firestore:"updatedBy,omitempty"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func newFreightRateDocument(f domain.FreightRate) freightRateDocument {
	doc := freightRateDocument{
		CompanyID:         f.CompanyID,
		CarrierID:         f.CarrierID,
		CarrierDisclosure: f.CarrierDisclosure,
		OriginID:          f.OriginID,
		DestinationID:     f.DestinationID,
		ShippingModeID:    f.ShippingModeID,
		TransitTime:       f.TransitTime,
		IsActive:          f.IsActive,
		Temporary:         f.Temporary,
		Archived:          f.Archived,
		Rates:             make([]rateDocument, 0, len(f.Rates)),
		ExpirationDays:    []string{},
		SurchargeIDs:      append([]string{}, f.SurchargeIDs()...),
		CreatedAt:         f.CreatedAt.UTC(),
		UpdatedAt:         f.UpdatedAt.UTC(),
	}
	for _, rate := range f.Rates {
		doc.Rates = append(doc.Rates, rateDocument{
			ID:              rate.ID,
			ContainerTypeID: rate.ContainerTypeID,
			Currency:        rate.Currency,
			Rate:            optionalDecimalString(rate.Rate),
			StartDate:       rate.StartDate,
			ExpirationDate:  rate.ExpirationDate,
			SurchargeIDs:    rate.SurchargeIDs,
			UpdatedBy:       rate.UpdatedBy,
			UpdatedAt:       rate.UpdatedAt.UTC(),
		})
		if rate.ExpirationDate != nil {
			if key := dayKey(*rate.ExpirationDate); !slices.Contains(doc.ExpirationDays, key) {
				doc.ExpirationDays = append(doc.ExpirationDays, key)
			}
		}
	}
	return doc
}

func (d freightRateDocument) toDomain(id string) (domain.FreightRate, error) {
	f := domain.FreightRate{
		ID:                id,
		CompanyID:         d.CompanyID,
		CarrierID:         d.CarrierID,
		CarrierDisclosure: d.CarrierDisclosure,
		OriginID:          d.OriginID,
		DestinationID:     d.DestinationID,
		ShippingModeID:    d.ShippingModeID,
		TransitTime:       d.TransitTime,
		IsActive:          d.IsActive,
		Temporary:         d.Temporary,
		Archived:          d.Archived,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
	for _, item := range d.Rates {
		value, err := parseOptionalDecimal("rate", item.Rate)
		if err != nil {
			return domain.FreightRate{}, fmt.Errorf("freight rate %s: %w", id, err)
		}
		f.Rates = append(f.Rates, domain.Rate{
			ID:              item.ID,
			ContainerTypeID: item.ContainerTypeID,
			Currency:        item.Currency,
			Rate:            value,
			StartDate:       utcPtr(item.StartDate),
			ExpirationDate:  utcPtr(item.ExpirationDate),
			SurchargeIDs:    item.SurchargeIDs,
			UpdatedBy:       item.UpdatedBy,
			UpdatedAt:       item.UpdatedAt.UTC(),
		})
	}
	return f, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
