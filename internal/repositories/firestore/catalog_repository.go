package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	countriesCollection            = "countries"
	currenciesCollection           = "currencies"
	shippingModesCollection        = "shippingModes"
	containerTypesCollection       = "containerTypes"
	packagingTypesCollection       = "packagingTypes"
	releaseTypesCollection         = "releaseTypes"
	carriersCollection             = "carriers"
	portsCollection                = "ports"
	additionalSurchargesCollection = "additionalSurcharges"
	trackStatusesCollection        = "trackStatuses"
)

// CatalogRepository serves reference data. Documents are keyed by their catalog id; countries
// and currencies by code.
type CatalogRepository struct {
	provider   *pfirestore.Provider
	countries  *pfirestore.Collection[countryDocument]
	currencies *pfirestore.Collection[currencyDocument]
	modes      *pfirestore.Collection[shippingModeDocument]
	containers *pfirestore.Collection[containerTypeDocument]
	packaging  *pfirestore.Collection[packagingTypeDocument]
	releases   *pfirestore.Collection[releaseTypeDocument]
	carriers   *pfirestore.Collection[carrierDocument]
	ports      *pfirestore.Collection[portDocument]
	additional *pfirestore.Collection[additionalSurchargeDocument]
	statuses   *pfirestore.Collection[trackStatusDocument]
	companies  *pfirestore.Collection[companyDocument]
	users      *pfirestore.Collection[userDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider:   provider,
		countries:  pfirestore.NewCollection[countryDocument](provider, countriesCollection),
		currencies: pfirestore.NewCollection[currencyDocument](provider, currenciesCollection),
		modes:      pfirestore.NewCollection[shippingModeDocument](provider, shippingModesCollection),
		containers: pfirestore.NewCollection[containerTypeDocument](provider, containerTypesCollection),
		packaging:  pfirestore.NewCollection[packagingTypeDocument](provider, packagingTypesCollection),
		releases:   pfirestore.NewCollection[releaseTypeDocument](provider, releaseTypesCollection),
		carriers:   pfirestore.NewCollection[carrierDocument](provider, carriersCollection),
		ports:      pfirestore.NewCollection[portDocument](provider, portsCollection),
		additional: pfirestore.NewCollection[additionalSurchargeDocument](provider, additionalSurchargesCollection),
		statuses:   pfirestore.NewCollection[trackStatusDocument](provider, trackStatusesCollection),
		companies:  pfirestore.NewCollection[companyDocument](provider, companiesCollection),
		users:      pfirestore.NewCollection[userDocument](provider, usersCollection),
	}, nil
}

func (r *CatalogRepository) ShippingMode(ctx context.Context, id string) (domain.ShippingMode, error) {
	doc, err := r.modes.Get(ctx, id)
	if err != nil {
		return domain.ShippingMode{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CatalogRepository) Carrier(ctx context.Context, id string) (domain.Carrier, error) {
	doc, err := r.carriers.Get(ctx, id)
	if err != nil {
		return domain.Carrier{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CatalogRepository) Port(ctx context.Context, id string) (domain.Port, error) {
	doc, err := r.ports.Get(ctx, id)
	if err != nil {
		return domain.Port{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CatalogRepository) AdditionalSurcharges(ctx context.Context) (map[string]domain.AdditionalSurcharge, error) {
	docs, err := r.additional.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.AdditionalSurcharge, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

func (r *CatalogRepository) MainCountry(ctx context.Context) (domain.Country, error) {
	docs, err := r.countries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isMain", "==", true).Limit(1)
	})
	if err != nil {
		return domain.Country{}, err
	}
	if len(docs) == 0 {
		return domain.Country{}, pfirestore.NotFound(countriesCollection+".main", "main country")
	}
	return domain.Country{Code: docs[0].ID, Name: docs[0].Data.Name, IsMain: true}, nil
}

func (r *CatalogRepository) MainCurrency(ctx context.Context) (domain.Currency, error) {
	docs, err := r.currencies.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isMain", "==", true).Limit(1)
	})
	if err != nil {
		return domain.Currency{}, err
	}
	if len(docs) == 0 {
		return domain.Currency{}, pfirestore.NotFound(currenciesCollection+".main", "main currency")
	}
	return domain.Currency{Code: docs[0].ID, IsMain: true}, nil
}

func (r *CatalogRepository) TrackStatuses(ctx context.Context, shippingModeID string) ([]domain.TrackStatus, error) {
	docs, err := r.statuses.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("shippingModeId", "==", shippingModeID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.TrackStatus, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

// UpsertSeed writes every seed row with Set so repeated loads converge on the same state.
func (r *CatalogRepository) UpsertSeed(ctx context.Context, seed domain.CatalogSeed) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	writer := client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	set := func(collection, id string, data any) error {
		job, err := writer.Set(client.Collection(collection).Doc(id), data)
		if err != nil {
			return pfirestore.WrapError("catalog.seed", err)
		}
		jobs = append(jobs, job)
		return nil
	}

	var errs []error
	for _, c := range seed.Countries {
		errs = append(errs, set(countriesCollection, c.Code, countryDocument{Name: c.Name, IsMain: c.IsMain}))
	}
	for _, c := range seed.Currencies {
		errs = append(errs, set(currenciesCollection, c.Code, currencyDocument{IsMain: c.IsMain}))
	}
	for _, m := range seed.ShippingModes {
		errs = append(errs, set(shippingModesCollection, m.ID, newShippingModeDocument(m)))
	}
	for _, c := range seed.ContainerTypes {
		errs = append(errs, set(containerTypesCollection, c.ID, containerTypeDocument{
			Code: c.Code, Description: c.Description, ShippingModeID: c.ShippingModeID, IsFrozen: c.IsFrozen, CanBeDangerous: c.CanBeDangerous,
		}))
	}
	for _, p := range seed.PackagingTypes {
		errs = append(errs, set(packagingTypesCollection, p.ID, packagingTypeDocument{Code: p.Code, Description: p.Description, ShippingModeID: p.ShippingModeID}))
	}
	for _, rt := range seed.ReleaseTypes {
		errs = append(errs, set(releaseTypesCollection, rt.ID, releaseTypeDocument{Title: rt.Title, Code: rt.Code, ShippingModeID: rt.ShippingModeID}))
	}
	for _, c := range seed.Carriers {
		errs = append(errs, set(carriersCollection, c.ID, carrierDocument{Title: c.Title, ShippingType: string(c.ShippingType), SCAC: c.SCAC, Code: c.Code}))
	}
	for _, p := range seed.Ports {
		errs = append(errs, set(portsCollection, p.ID, newPortDocument(p)))
	}
	for _, a := range seed.AdditionalSurcharges {
		errs = append(errs, set(additionalSurchargesCollection, a.ID, newAdditionalSurchargeDocument(a)))
	}
	for _, s := range seed.TrackStatuses {
		errs = append(errs, set(trackStatusesCollection, s.ID, newTrackStatusDocument(s)))
	}
	for _, c := range seed.Companies {
		errs = append(errs, set(companiesCollection, c.ID, newCompanyDocument(c)))
	}
	for _, u := range seed.Users {
		errs = append(errs, set(usersCollection, u.ID, newUserDocument(u)))
	}
	writer.End()
	errs = append(errs, joinJobErrors("catalog.seed", jobs))
	return errors.Join(errs...)
}

type countryDocument struct {
	Name   string `firestore:"name"`
	IsMain bool   `firestore:"isMain"`
}

type currencyDocument struct {
	IsMain bool `firestore:"isMain"`
}

type shippingModeDocument struct {
	Title                  string `firestore:"title"`
	ShippingType           string `firestore:"shippingType"`
	HasFreightContainers   bool   `firestore:"hasFreightContainers"`
	HasSurchargeContainers bool   `firestore:"hasSurchargeContainers"`
	IsNeedVolume           bool   `firestore:"isNeedVolume"`
}

func newShippingModeDocument(m domain.ShippingMode) shippingModeDocument {
	return shippingModeDocument{
		Title:                  m.Title,
		ShippingType:           string(m.ShippingType),
		HasFreightContainers:   m.HasFreightContainers,
		HasSurchargeContainers: m.HasSurchargeContainers,
		IsNeedVolume:           m.IsNeedVolume,
	}
}

func (d shippingModeDocument) toDomain(id string) domain.ShippingMode {
	return domain.ShippingMode{
		ID:                     id,
		Title:                  d.Title,
		ShippingType:           domain.ShippingType(d.ShippingType),
		HasFreightContainers:   d.HasFreightContainers,
		HasSurchargeContainers: d.HasSurchargeContainers,
		IsNeedVolume:           d.IsNeedVolume,
	}
}

type containerTypeDocument struct {
	Code           string `firestore:"code"`
	Description    string `firestore:"description"`
	ShippingModeID string `firestore:"shippingModeId"`
	IsFrozen       bool   `firestore:"isFrozen"`
	CanBeDangerous bool   `firestore:"canBeDangerous"`
}

type packagingTypeDocument struct {
	Code           string `firestore:"code"`
	Description    string `firestore:"description"`
	ShippingModeID string `firestore:"shippingModeId"`
}

type releaseTypeDocument struct {
	Title          string `firestore:"title"`
	Code           string `firestore:"code"`
	ShippingModeID string `firestore:"shippingModeId"`
}

type carrierDocument struct {
	Title        string `firestore:"title"`
	ShippingType string `firestore:"shippingType"`
	SCAC         string `firestore:"scac,omitempty"`
	Code         string `firestore:"code,omitempty"`
}

func (d carrierDocument) toDomain(id string) domain.Carrier {
	return domain.Carrier{ID: id, Title: d.Title, ShippingType: domain.ShippingType(d.ShippingType), SCAC: d.SCAC, Code: d.Code}
}

type portDocument struct {
	Code       string  `firestore:"code"`
	Name       string  `firestore:"name"`
	Latitude   float64 `firestore:"latitude"`
	Longitude  float64 `firestore:"longitude"`
	HasSeaport bool    `firestore:"hasSeaport"`
	HasAirport bool    `firestore:"hasAirport"`
}

func newPortDocument(p domain.Port) portDocument {
	return portDocument{Code: p.Code, Name: p.Name, Latitude: p.Latitude, Longitude: p.Longitude, HasSeaport: p.HasSeaport, HasAirport: p.HasAirport}
}

func (d portDocument) toDomain(id string) domain.Port {
	return domain.Port{ID: id, Code: d.Code, Name: d.Name, Latitude: d.Latitude, Longitude: d.Longitude, HasSeaport: d.HasSeaport, HasAirport: d.HasAirport}
}

type additionalSurchargeDocument struct {
	Title           string   `firestore:"title"`
	ShippingModeIDs []string `firestore:"shippingModeIds"`
	IsDocument      bool     `firestore:"isDocument"`
	IsHandling      bool     `firestore:"isHandling"`
	IsOther         bool     `firestore:"isOther"`
	IsDangerous     bool     `firestore:"isDangerous"`
	IsCold          bool     `firestore:"isCold"`
}

func newAdditionalSurchargeDocument(a domain.AdditionalSurcharge) additionalSurchargeDocument {
	return additionalSurchargeDocument{
		Title:           a.Title,
		ShippingModeIDs: a.ShippingModeIDs,
		IsDocument:      a.IsDocument,
		IsHandling:      a.IsHandling,
		IsOther:         a.IsOther,
		IsDangerous:     a.IsDangerous,
		IsCold:          a.IsCold,
	}
}

func (d additionalSurchargeDocument) toDomain(id string) domain.AdditionalSurcharge {
	return domain.AdditionalSurcharge{
		ID:              id,
		Title:           d.Title,
		ShippingModeIDs: d.ShippingModeIDs,
		IsDocument:      d.IsDocument,
		IsHandling:      d.IsHandling,
		IsOther:         d.IsOther,
		IsDangerous:     d.IsDangerous,
		IsCold:          d.IsCold,
	}
}

type trackStatusDocument struct {
	Title                           string `firestore:"title"`
	ShippingModeID                  string `firestore:"shippingModeId"`
	MustUpdateActualDateOfDeparture bool   `firestore:"mustUpdateActualDateOfDeparture"`
	AutoAddOnActualDateOfDeparture  bool   `firestore:"autoAddOnActualDateOfDeparture"`
	AutoAddOnActualDateOfArrival    bool   `firestore:"autoAddOnActualDateOfArrival"`
	AutoAddOnShipmentDetailsChange  bool   `firestore:"autoAddOnShipmentDetailsChange"`
	ShowAfterDeparture              bool   `firestore:"showAfterDeparture"`
}

func newTrackStatusDocument(s domain.TrackStatus) trackStatusDocument {
	return trackStatusDocument{
		Title:                           s.Title,
		ShippingModeID:                  s.ShippingModeID,
		MustUpdateActualDateOfDeparture: s.MustUpdateActualDateOfDeparture,
		AutoAddOnActualDateOfDeparture:  s.AutoAddOnActualDateOfDeparture,
		AutoAddOnActualDateOfArrival:    s.AutoAddOnActualDateOfArrival,
		AutoAddOnShipmentDetailsChange:  s.AutoAddOnShipmentDetailsChange,
		ShowAfterDeparture:              s.ShowAfterDeparture,
	}
}

func (d trackStatusDocument) toDomain(id string) domain.TrackStatus {
	return domain.TrackStatus{
		ID:                              id,
		Title:                           d.Title,
		ShippingModeID:                  d.ShippingModeID,
		MustUpdateActualDateOfDeparture: d.MustUpdateActualDateOfDeparture,
		AutoAddOnActualDateOfDeparture:  d.AutoAddOnActualDateOfDeparture,
		AutoAddOnActualDateOfArrival:    d.AutoAddOnActualDateOfArrival,
		AutoAddOnShipmentDetailsChange:  d.AutoAddOnShipmentDetailsChange,
		ShowAfterDeparture:              d.ShowAfterDeparture,
	}
}
