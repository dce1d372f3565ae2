package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	bookingsCollection      = "bookings"
	bookingAceidsCollection = "bookingAceids"

	reserveAttempts = 10
)

// BookingRepository persists bookings. The aceid is unique across original bookings: a
// reservation document keyed by aceid is created in the same transaction as the booking.
// Change requests reuse their parent's aceid and do not reserve it again.
type BookingRepository struct {
	provider      *pfirestore.Provider
	bookings      *pfirestore.Collection[bookingDocument]
	aceids        *pfirestore.Collection[aceidReservation]
	notifications *pfirestore.Collection[notificationDocument]
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		provider:      provider,
		bookings:      pfirestore.NewCollection[bookingDocument](provider, bookingsCollection),
		aceids:        pfirestore.NewCollection[aceidReservation](provider, bookingAceidsCollection),
		notifications: pfirestore.NewCollection[notificationDocument](provider, notificationsCollection),
	}, nil
}

func (r *BookingRepository) Create(ctx context.Context, booking domain.Booking) error {
	if booking.Aceid == "" {
		return errors.New("booking repository: aceid is required")
	}
	doc, err := newBookingDocument(booking)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aceidRef, err := r.aceids.Doc(ctx, booking.Aceid)
		if err != nil {
			return err
		}
		if _, err := tx.Get(aceidRef); err == nil {
			return pfirestore.Conflict(bookingAceidsCollection+".reserve", "aceid "+booking.Aceid)
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		bookingRef, err := r.bookings.Doc(ctx, booking.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(bookingRef, doc); err != nil {
			return err
		}
		return tx.Create(aceidRef, aceidReservation{BookingID: booking.ID, CreatedAt: booking.CreatedAt.UTC()})
	}, pfirestore.WithTxAttempts(reserveAttempts))
}

func (r *BookingRepository) Get(ctx context.Context, id string) (domain.Booking, error) {
	doc, err := r.bookings.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := r.bookings.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc.Data.OriginalBookingID == "" && doc.Data.Aceid != "" {
			aceidRef, err := r.aceids.Doc(ctx, doc.Data.Aceid)
			if err != nil {
				return err
			}
			if err := tx.Delete(aceidRef); err != nil {
				return err
			}
		}
		return tx.Delete(ref)
	})
}

// Mutate reads the booking inside a transaction so concurrent transitions serialise on the
// booking document.
func (r *BookingRepository) Mutate(ctx context.Context, id string, mutate repositories.BookingMutation) (domain.Booking, error) {
	if mutate == nil {
		return domain.Booking{}, errors.New("booking repository: mutation is required")
	}
	var updated domain.Booking
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := r.bookings.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		booking, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return err
		}
		if err := mutate(&booking); err != nil {
			return err
		}
		next, err := newBookingDocument(booking)
		if err != nil {
			return err
		}
		updated = booking
		return tx.Set(ref, next)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return updated, nil
}

func (r *BookingRepository) CreateChangeRequest(ctx context.Context, child domain.Booking, mutate repositories.BookingMutation) (domain.Booking, error) {
	if child.OriginalBookingID == "" {
		return domain.Booking{}, errors.New("booking repository: change request needs an original booking")
	}
	childDoc, err := newBookingDocument(child)
	if err != nil {
		return domain.Booking{}, err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, parentRef, err := r.bookings.GetTx(ctx, tx, child.OriginalBookingID)
		if err != nil {
			return err
		}
		parent, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(&parent); err != nil {
				return err
			}
		}
		parentDoc, err := newBookingDocument(parent)
		if err != nil {
			return err
		}
		childRef, err := r.bookings.Doc(ctx, child.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(childRef, childDoc); err != nil {
			return err
		}
		return tx.Set(parentRef, parentDoc)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return child, nil
}

func (r *BookingRepository) ConfirmChangeRequest(ctx context.Context, parentID, childID string, sections []domain.NotificationSection, mutate repositories.BookingMutation) ([]domain.Notification, error) {
	if mutate == nil {
		return nil, errors.New("booking repository: mutation is required")
	}
	if childID == "" {
		return nil, errors.New("booking repository: change request id is required")
	}
	var changed []domain.Notification
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = nil
		doc, parentRef, err := r.bookings.GetTx(ctx, tx, parentID)
		if err != nil {
			return err
		}
		var notes []pfirestore.Document[notificationDocument]
		if len(sections) > 0 {
			notes, err = r.notifications.QueryTx(ctx, tx, objectInSections(parentID, sections))
			if err != nil {
				return err
			}
		}
		parent, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return err
		}
		if err := mutate(&parent); err != nil {
			return err
		}
		parentDoc, err := newBookingDocument(parent)
		if err != nil {
			return err
		}
		if err := tx.Set(parentRef, parentDoc); err != nil {
			return err
		}
		for _, note := range notes {
			ref, err := r.notifications.Doc(ctx, note.ID)
			if err != nil {
				return err
			}
			if err := tx.Update(ref, []firestore.Update{{Path: "objectId", Value: childID}}); err != nil {
				return err
			}
			n := note.Data.toDomain(note.ID)
			n.ObjectID = childID
			changed = append(changed, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func (r *BookingRepository) List(ctx context.Context, filter repositories.BookingFilter) ([]domain.Booking, error) {
	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Statuses) == 1 {
			q = q.Where("status", "==", string(filter.Statuses[0]))
		} else if len(filter.Statuses) > 1 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.ShippingType != "" {
			q = q.Where("shippingType", "==", string(filter.ShippingType))
		}
		if filter.Direction != "" {
			q = q.Where("direction", "==", string(filter.Direction))
		}
		if filter.AutomaticTracking != nil {
			q = q.Where("automaticTracking", "==", *filter.AutomaticTracking)
		}
		if filter.VesselArrived != nil {
			q = q.Where("vesselArrived", "==", *filter.VesselArrived)
		}
		if filter.IsPaid != nil {
			q = q.Where("isPaid", "==", *filter.IsPaid)
		}
		if filter.OnlyOriginals {
			q = q.Where("originalBookingId", "==", "")
		}
		if !filter.CreatedBefore.IsZero() {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}
		if !filter.AcceptedBefore.IsZero() {
			q = q.Where("dateAcceptedByAgent", "<", filter.AcceptedBefore.UTC())
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		booking, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, booking)
	}
	return out, nil
}

type aceidReservation struct {
	BookingID string    `firestore:"bookingId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type bookingDocument struct {
	Aceid                string                   `firestore:"aceid"`
	ClientCompanyID      string                   `firestore:"clientCompanyId"`
	ClientContactID      string                   `firestore:"clientContactId"`
	AgentCompanyID       string                   `firestore:"agentCompanyId"`
	AgentContactID       string                   `firestore:"agentContactId"`
	FreightRateID        string                   `firestore:"freightRateId"`
	ShippingModeID       string                   `firestore:"shippingModeId"`
	ShippingType         string                   `firestore:"shippingType"`
	OriginID             string                   `firestore:"originId"`
	OriginCode           string                   `firestore:"originCode"`
	DestinationID        string                   `firestore:"destinationId"`
	DestinationCode      string                   `firestore:"destinationCode"`
	CarrierID            string                   `firestore:"carrierId"`
	Direction            string                   `firestore:"direction"`
	Shipper              map[string]any           `firestore:"shipper,omitempty"`
	ReleaseTypeID        string                   `firestore:"releaseTypeId"`
	NumberOfDocuments    int                      `firestore:"numberOfDocuments"`
	DateFrom             time.Time                `firestore:"dateFrom"`
	DateTo               time.Time                `firestore:"dateTo"`
	Status               string                   `firestore:"status"`
	ChangeRequestStatus  string                   `firestore:"changeRequestStatus"`
	IsAssigned           bool                     `firestore:"isAssigned"`
	IsPaid               bool                     `firestore:"isPaid"`
	AutomaticTracking    bool                     `firestore:"automaticTracking"`
	VesselArrived        bool                     `firestore:"vesselArrived"`
	PaymentDueBy         *time.Time               `firestore:"paymentDueBy"`
	Charges              string                   `firestore:"charges"`
	ChargesSchemaVersion int                      `firestore:"chargesSchemaVersion"`
	CargoGroups          []cargoGroupDocument     `firestore:"cargoGroups"`
	OriginalBookingID    string                   `firestore:"originalBookingId"`
	Cancellation         *cancellationDocument    `firestore:"cancellation"`
	ShipmentDetails      *shipmentDetailsDocument `firestore:"shipmentDetails"`
	DateAcceptedByAgent  *time.Time               `firestore:"dateAcceptedByAgent"`
	CreatedAt            time.Time                `firestore:"createdAt"`
	UpdatedAt            time.Time                `firestore:"updatedAt"`
}

type cargoGroupDocument struct {
	ID              string  `firestore:"id"`
	ContainerTypeID string  `firestore:"containerTypeId,omitempty"`
	PackagingTypeID string  `firestore:"packagingTypeId,omitempty"`
	WeightUnit      string  `firestore:"weightUnit,omitempty"`
	LengthUnit      string  `firestore:"lengthUnit,omitempty"`
	Volume          int     `firestore:"volume"`
	Height          string  `firestore:"height"`
	Length          string  `firestore:"length"`
	Width           string  `firestore:"width"`
	Weight          string  `firestore:"weight"`
	Dangerous       bool    `firestore:"dangerous"`
	Frozen          string  `firestore:"frozen,omitempty"`
	TotalWM         *string `firestore:"totalWm"`
	Description     string  `firestore:"description,omitempty"`
}

type cancellationDocument struct {
	Reason    string    `firestore:"reason"`
	Comment   string    `firestore:"comment"`
	ActorID   string    `firestore:"actorId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type shipmentDetailsDocument struct {
	BookingNumber         string     `firestore:"bookingNumber"`
	Vessel                string     `firestore:"vessel"`
	Voyage                string     `firestore:"voyage"`
	FlightNumber          string     `firestore:"flightNumber"`
	ContainerNumber       string     `firestore:"containerNumber"`
	Mawb                  string     `firestore:"mawb"`
	DateOfDeparture       *time.Time `firestore:"dateOfDeparture"`
	DateOfArrival         *time.Time `firestore:"dateOfArrival"`
	ActualDateOfDeparture *time.Time `firestore:"actualDateOfDeparture"`
	ActualDateOfArrival   *time.Time `firestore:"actualDateOfArrival"`
	DocumentCutOff        *time.Time `firestore:"documentCutOff"`
	CargoCutOff           *time.Time `firestore:"cargoCutOff"`
	EmptyPickupLocation   string     `firestore:"emptyPickupLocation"`
	ContainerFreeTime     *int       `firestore:"containerFreeTime"`
	CargoPickupLocation   string     `firestore:"cargoPickupLocation"`
	CargoDropOffLocation  string     `firestore:"cargoDropOffLocation"`
	Notes                 string     `firestore:"notes"`
	UpdatedAt             time.Time  `firestore:"updatedAt"`
}

func newBookingDocument(b domain.Booking) (bookingDocument, error) {
	charges, err := domain.EncodeCharges(b.Charges)
	if err != nil {
		return bookingDocument{}, fmt.Errorf("booking %s: encode charges: %w", b.ID, err)
	}
	doc := bookingDocument{
		Aceid:                b.Aceid,
		ClientCompanyID:      b.ClientCompanyID,
		ClientContactID:      b.ClientContactID,
		AgentCompanyID:       b.AgentCompanyID,
		AgentContactID:       b.AgentContactID,
		FreightRateID:        b.FreightRateID,
		ShippingModeID:       b.ShippingModeID,
		ShippingType:         string(b.ShippingType),
		OriginID:             b.OriginID,
		OriginCode:           b.OriginCode,
		DestinationID:        b.DestinationID,
		DestinationCode:      b.DestinationCode,
		CarrierID:            b.CarrierID,
		Direction:            string(b.Direction),
		Shipper:              b.Shipper,
		ReleaseTypeID:        b.ReleaseTypeID,
		NumberOfDocuments:    b.NumberOfDocuments,
		DateFrom:             b.DateFrom.UTC(),
		DateTo:               b.DateTo.UTC(),
		Status:               string(b.Status),
		ChangeRequestStatus:  string(b.ChangeRequestStatus),
		IsAssigned:           b.IsAssigned,
		IsPaid:               b.IsPaid,
		AutomaticTracking:    b.AutomaticTracking,
		VesselArrived:        b.VesselArrived,
		PaymentDueBy:         utcPtr(b.PaymentDueBy),
		Charges:              string(charges),
		ChargesSchemaVersion: domain.ChargesSchemaVersion,
		CargoGroups:          make([]cargoGroupDocument, 0, len(b.CargoGroups)),
		OriginalBookingID:    b.OriginalBookingID,
		DateAcceptedByAgent:  utcPtr(b.DateAcceptedByAgent),
		CreatedAt:            b.CreatedAt.UTC(),
		UpdatedAt:            b.UpdatedAt.UTC(),
	}
	for _, group := range b.CargoGroups {
		doc.CargoGroups = append(doc.CargoGroups, newCargoGroupDocument(group))
	}
	if c := b.Cancellation; c != nil {
		doc.Cancellation = &cancellationDocument{Reason: string(c.Reason), Comment: c.Comment, ActorID: c.ActorID, CreatedAt: c.CreatedAt.UTC()}
	}
	if d := b.ShipmentDetails; d != nil {
		doc.ShipmentDetails = &shipmentDetailsDocument{
			BookingNumber:         d.BookingNumber,
			Vessel:                d.Vessel,
			Voyage:                d.Voyage,
			FlightNumber:          d.FlightNumber,
			ContainerNumber:       d.ContainerNumber,
			Mawb:                  d.Mawb,
			DateOfDeparture:       utcPtr(d.DateOfDeparture),
			DateOfArrival:         utcPtr(d.DateOfArrival),
			ActualDateOfDeparture: utcPtr(d.ActualDateOfDeparture),
			ActualDateOfArrival:   utcPtr(d.ActualDateOfArrival),
			DocumentCutOff:        utcPtr(d.DocumentCutOff),
			CargoCutOff:           utcPtr(d.CargoCutOff),
			EmptyPickupLocation:   d.EmptyPickupLocation,
			ContainerFreeTime:     d.ContainerFreeTime,
			CargoPickupLocation:   d.CargoPickupLocation,
			CargoDropOffLocation:  d.CargoDropOffLocation,
			Notes:                 d.Notes,
			UpdatedAt:             d.UpdatedAt.UTC(),
		}
	}
	return doc, nil
}

func (d bookingDocument) toDomain(id string) (domain.Booking, error) {
	if d.ChargesSchemaVersion > domain.ChargesSchemaVersion {
		return domain.Booking{}, fmt.Errorf("booking %s: %w (%d)", id, domain.ErrUnsupportedChargesSchema, d.ChargesSchemaVersion)
	}
	var charges domain.Charges
	if d.Charges != "" {
		decoded, err := domain.DecodeCharges([]byte(d.Charges))
		if err != nil {
			return domain.Booking{}, fmt.Errorf("booking %s: %w", id, err)
		}
		charges = decoded
	}
	b := domain.Booking{
		ID:                  id,
		Aceid:               d.Aceid,
		ClientCompanyID:     d.ClientCompanyID,
		ClientContactID:     d.ClientContactID,
		AgentCompanyID:      d.AgentCompanyID,
		AgentContactID:      d.AgentContactID,
		FreightRateID:       d.FreightRateID,
		ShippingModeID:      d.ShippingModeID,
		ShippingType:        domain.ShippingType(d.ShippingType),
		OriginID:            d.OriginID,
		OriginCode:          d.OriginCode,
		DestinationID:       d.DestinationID,
		DestinationCode:     d.DestinationCode,
		CarrierID:           d.CarrierID,
		Direction:           domain.Direction(d.Direction),
		Shipper:             d.Shipper,
		ReleaseTypeID:       d.ReleaseTypeID,
		NumberOfDocuments:   d.NumberOfDocuments,
		DateFrom:            d.DateFrom.UTC(),
		DateTo:              d.DateTo.UTC(),
		Status:              domain.BookingStatus(d.Status),
		ChangeRequestStatus: domain.ChangeRequestStatus(d.ChangeRequestStatus),
		IsAssigned:          d.IsAssigned,
		IsPaid:              d.IsPaid,
		AutomaticTracking:   d.AutomaticTracking,
		VesselArrived:       d.VesselArrived,
		PaymentDueBy:        utcPtr(d.PaymentDueBy),
		Charges:             charges,
		OriginalBookingID:   d.OriginalBookingID,
		DateAcceptedByAgent: utcPtr(d.DateAcceptedByAgent),
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
	for _, group := range d.CargoGroups {
		cargo, err := group.toDomain()
		if err != nil {
			return domain.Booking{}, fmt.Errorf("booking %s: %w", id, err)
		}
		b.CargoGroups = append(b.CargoGroups, cargo)
	}
	if c := d.Cancellation; c != nil {
		b.Cancellation = &domain.CancellationReason{Reason: domain.CancellationReasonCode(c.Reason), Comment: c.Comment, ActorID: c.ActorID, CreatedAt: c.CreatedAt.UTC()}
	}
	if s := d.ShipmentDetails; s != nil {
		b.ShipmentDetails = &domain.ShipmentDetails{
			BookingNumber:         s.BookingNumber,
			Vessel:                s.Vessel,
			Voyage:                s.Voyage,
			FlightNumber:          s.FlightNumber,
			ContainerNumber:       s.ContainerNumber,
			Mawb:                  s.Mawb,
			DateOfDeparture:       utcPtr(s.DateOfDeparture),
			DateOfArrival:         utcPtr(s.DateOfArrival),
			ActualDateOfDeparture: utcPtr(s.ActualDateOfDeparture),
			ActualDateOfArrival:   utcPtr(s.ActualDateOfArrival),
			DocumentCutOff:        utcPtr(s.DocumentCutOff),
			CargoCutOff:           utcPtr(s.CargoCutOff),
			EmptyPickupLocation:   s.EmptyPickupLocation,
			ContainerFreeTime:     s.ContainerFreeTime,
			CargoPickupLocation:   s.CargoPickupLocation,
			CargoDropOffLocation:  s.CargoDropOffLocation,
			Notes:                 s.Notes,
			UpdatedAt:             s.UpdatedAt.UTC(),
		}
	}
	return b, nil
}

func newCargoGroupDocument(c domain.CargoGroup) cargoGroupDocument {
	return cargoGroupDocument{
		ID:              c.ID,
		ContainerTypeID: c.ContainerTypeID,
		PackagingTypeID: c.PackagingTypeID,
		WeightUnit:      string(c.WeightUnit),
		LengthUnit:      string(c.LengthUnit),
		Volume:          c.Volume,
		Height:          decimalString(c.Height),
		Length:          decimalString(c.Length),
		Width:           decimalString(c.Width),
		Weight:          decimalString(c.Weight),
		Dangerous:       c.Dangerous,
		Frozen:          string(c.Frozen),
		TotalWM:         optionalDecimalString(c.TotalWM),
		Description:     c.Description,
	}
}

func (d cargoGroupDocument) toDomain() (domain.CargoGroup, error) {
	height, err := parseDecimal("cargo height", d.Height)
	if err != nil {
		return domain.CargoGroup{}, err
	}
	length, err := parseDecimal("cargo length", d.Length)
	if err != nil {
		return domain.CargoGroup{}, err
	}
	width, err := parseDecimal("cargo width", d.Width)
	if err != nil {
		return domain.CargoGroup{}, err
	}
	weight, err := parseDecimal("cargo weight", d.Weight)
	if err != nil {
		return domain.CargoGroup{}, err
	}
	totalWM, err := parseOptionalDecimal("cargo total w/m", d.TotalWM)
	if err != nil {
		return domain.CargoGroup{}, err
	}
	return domain.CargoGroup{
		ID:              d.ID,
		ContainerTypeID: d.ContainerTypeID,
		PackagingTypeID: d.PackagingTypeID,
		WeightUnit:      domain.WeightUnit(d.WeightUnit),
		LengthUnit:      domain.LengthUnit(d.LengthUnit),
		Volume:          d.Volume,
		Height:          height,
		Length:          length,
		Width:           width,
		Weight:          weight,
		Dangerous:       d.Dangerous,
		Frozen:          domain.Temperature(d.Frozen),
		TotalWM:         totalWM,
		Description:     d.Description,
	}, nil
}
