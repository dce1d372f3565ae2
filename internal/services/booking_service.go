package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/i18n"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/validation"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	aceidAttempts = 5

	// AgentDeadlineComment is recorded when an accepted booking is not confirmed in time.
	AgentDeadlineComment = "Operation cancelled according to expired time for confirming booking by an agent"
)

var (
	// ErrBookingInvalidInput indicates the booking request failed validation.
	ErrBookingInvalidInput = errors.New("booking: invalid input")
	// ErrBookingNotFound indicates the booking or a referenced record does not exist.
	ErrBookingNotFound = errors.New("booking: not found")
	// ErrBookingInvalidState indicates the requested transition is not allowed from the current status.
	ErrBookingInvalidState = errors.New("booking: invalid state")
	// ErrBookingConflict indicates a concurrent change or an exhausted aceid space.
	ErrBookingConflict = errors.New("booking: conflict")
	// ErrBookingPaymentUnavailable indicates the booking fee transaction could not be opened.
	// The booking is not kept.
	ErrBookingPaymentUnavailable = errors.New("booking: payment unavailable")
)

var bookingStateTransitions = map[BookingStatus][]BookingStatus{
	domain.BookingStatusPending: {
		domain.BookingStatusReceived,
		domain.BookingStatusDiscarded,
		domain.BookingStatusCanceledByClient,
	},
	domain.BookingStatusReceived: {
		domain.BookingStatusAccepted,
		domain.BookingStatusRejected,
		domain.BookingStatusCanceledByClient,
	},
	domain.BookingStatusAccepted: {
		domain.BookingStatusConfirmed,
		domain.BookingStatusCanceledByAgent,
		domain.BookingStatusCanceledByClient,
		domain.BookingStatusCanceledBySystem,
	},
	domain.BookingStatusConfirmed: {
		domain.BookingStatusCompleted,
		domain.BookingStatusCanceledByAgent,
		domain.BookingStatusCanceledByClient,
	},
}

// BookingPayments opens the payment that gates a booking.
type BookingPayments interface {
	OpenTransaction(ctx context.Context, booking Booking) (Transaction, error)
}

// BookingServiceDeps bundles collaborators for the booking lifecycle. Payments, Chats and
// Waybills are optional.
type BookingServiceDeps struct {
	Bookings      repositories.BookingRepository
	FreightRates  repositories.FreightRateRepository
	Catalog       repositories.CatalogRepository
	Users         repositories.UserRepository
	Tracks        repositories.TrackRepository
	ExchangeRates ExchangeRateBook
	Settings      SettingsProvider
	Pricing       PricingEngine
	Notifications NotificationService
	Payments      BookingPayments
	Chats         ChatPublisher
	Waybills      AirWaybillPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Random        func(n int) int
	Logger        Logger
}

type bookingService struct {
	bookings      repositories.BookingRepository
	freightRates  repositories.FreightRateRepository
	catalog       repositories.CatalogRepository
	users         repositories.UserRepository
	tracks        repositories.TrackRepository
	exchange      ExchangeRateBook
	settings      SettingsProvider
	pricing       PricingEngine
	notifications NotificationService
	payments      BookingPayments
	chats         ChatPublisher
	waybills      AirWaybillPublisher
	clock         func() time.Time
	newID         func() string
	random        func(n int) int
	logger        Logger
}

var _ BookingService = (*bookingService)(nil)

// NewBookingService constructs the booking lifecycle service.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	switch {
	case deps.Bookings == nil:
		return nil, errors.New("booking service: booking repository is required")
	case deps.FreightRates == nil:
		return nil, errors.New("booking service: freight rate repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("booking service: catalog repository is required")
	case deps.Users == nil:
		return nil, errors.New("booking service: user repository is required")
	case deps.Tracks == nil:
		return nil, errors.New("booking service: track repository is required")
	case deps.ExchangeRates == nil:
		return nil, errors.New("booking service: exchange rate book is required")
	case deps.Settings == nil:
		return nil, errors.New("booking service: settings provider is required")
	case deps.Pricing == nil:
		return nil, errors.New("booking service: pricing engine is required")
	case deps.Notifications == nil:
		return nil, errors.New("booking service: notification service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	random := deps.Random
	if random == nil {
		random = rand.IntN
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &bookingService{
		bookings:      deps.Bookings,
		freightRates:  deps.FreightRates,
		catalog:       deps.Catalog,
		users:         deps.Users,
		tracks:        deps.Tracks,
		exchange:      deps.ExchangeRates,
		settings:      deps.Settings,
		pricing:       deps.Pricing,
		notifications: deps.Notifications,
		payments:      deps.Payments,
		chats:         deps.Chats,
		waybills:      deps.Waybills,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		random:        random,
		logger:        logger,
	}, nil
}

func (s *bookingService) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (Booking, error) {
	if err := validation.Struct(cmd); err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrBookingInvalidInput, err)
	}
	rate, err := s.freightRates.Get(ctx, cmd.FreightRateID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if !rate.Live() {
		return Booking{}, fmt.Errorf("%w: freight rate %s is not bookable", ErrBookingInvalidInput, rate.ID)
	}
	mode, err := s.catalog.ShippingMode(ctx, rate.ShippingModeID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	origin, err := s.catalog.Port(ctx, rate.OriginID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	destination, err := s.catalog.Port(ctx, rate.DestinationID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	company, err := s.users.Company(ctx, cmd.ClientCompanyID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if company.Type != domain.CompanyTypeClient {
		return Booking{}, fmt.Errorf("%w: company %s cannot book", ErrBookingInvalidInput, company.ID)
	}
	settings, err := s.settings.Platform(ctx)
	if err != nil {
		return Booking{}, err
	}
	mainCurrency, err := s.settings.MainCurrency(ctx)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrBookingInvalidInput, err)
	}
	fees, err := s.settings.Fees(ctx, company.ID, mode.ID)
	if err != nil {
		return Booking{}, err
	}

	charges, err := s.pricing.PriceShipment(ctx, PriceShipmentCommand{
		FreightRate:       rate,
		CargoGroups:       cmd.CargoGroups,
		ShippingMode:      mode,
		MainCurrency:      mainCurrency,
		DateFrom:          cmd.DateFrom,
		DateTo:            cmd.DateTo,
		NumberOfDocuments: cmd.NumberOfDocuments,
		BookingFee:        fees.Booking,
		ServiceFee:        fees.Service,
		CalculateFees:     true,
	})
	if err != nil {
		return Booking{}, s.mapPricingError(ctx, err)
	}

	now := s.clock()
	direction := domain.DirectionFor(origin.Code, s.settings.MainCountryCode(ctx))
	booking := Booking{
		ID:                "bkg_" + s.newID(),
		ClientCompanyID:   company.ID,
		ClientContactID:   cmd.ClientContactID,
		AgentCompanyID:    rate.CompanyID,
		FreightRateID:     rate.ID,
		ShippingModeID:    mode.ID,
		ShippingType:      mode.ShippingType,
		OriginID:          origin.ID,
		OriginCode:        origin.Code,
		DestinationID:     destination.ID,
		DestinationCode:   destination.Code,
		CarrierID:         rate.CarrierID,
		Direction:         direction,
		Shipper:           cmd.Shipper,
		ReleaseTypeID:     cmd.ReleaseTypeID,
		NumberOfDocuments: cmd.NumberOfDocuments,
		DateFrom:          domain.Day(cmd.DateFrom),
		DateTo:            domain.Day(cmd.DateTo),
		Status:            domain.BookingStatusPending,
		Charges:           charges,
		CargoGroups:       s.assignCargoIDs(cmd.CargoGroups),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if charges.PayToBookAmount().IsZero() {
		booking.IsPaid = true
		booking.Status = domain.BookingStatusReceived
	} else if settings.UnpaidBookingDays > 0 {
		due := now.AddDate(0, 0, settings.UnpaidBookingDays)
		booking.PaymentDueBy = &due
	}

	if err := s.createWithAceid(ctx, &booking, company.Name); err != nil {
		return Booking{}, err
	}
	s.logger(ctx, "booking.created", map[string]any{
		"bookingId": booking.ID,
		"aceid":     booking.Aceid,
		"status":    string(booking.Status),
	})

	if booking.Status == domain.BookingStatusReceived {
		s.notifyReceived(ctx, booking)
		return booking, nil
	}
	if s.payments != nil {
		if _, err := s.payments.OpenTransaction(ctx, booking); err != nil {
			s.logger(ctx, "booking.payment.open.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
			if delErr := s.bookings.Delete(ctx, booking.ID); delErr != nil {
				s.logger(ctx, "booking.rollback.failed", map[string]any{"bookingId": booking.ID, "error": delErr.Error()})
			}
			return Booking{}, fmt.Errorf("%w: %w", ErrBookingPaymentUnavailable, err)
		}
	}
	s.notifyPaymentPending(ctx, booking)
	return booking, nil
}

// createWithAceid reserves a fresh aceid together with the booking, retrying on collisions.
func (s *bookingService) createWithAceid(ctx context.Context, booking *Booking, companyName string) error {
	for attempt := 0; attempt < aceidAttempts; attempt++ {
		aceid, err := GenerateAceid(companyName, booking.Direction, booking.ShippingType, s.random)
		if err != nil {
			return err
		}
		booking.Aceid = aceid
		err = s.bookings.Create(ctx, *booking)
		if err == nil {
			return nil
		}
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			s.logger(ctx, "booking.aceid.collision", map[string]any{"aceid": aceid, "attempt": attempt + 1})
			continue
		}
		return s.mapRepositoryError(err)
	}
	return fmt.Errorf("%w: no free aceid after %d attempts", ErrBookingConflict, aceidAttempts)
}

func (s *bookingService) assignCargoIDs(groups []CargoGroup) []CargoGroup {
	out := make([]CargoGroup, len(groups))
	for i, group := range groups {
		if group.ID == "" {
			group.ID = "cg_" + s.newID()
		}
		out[i] = group
	}
	return out
}

func (s *bookingService) MarkPaid(ctx context.Context, bookingID string) (Booking, error) {
	alreadyPaid := false
	booking, err := s.bookings.Mutate(ctx, bookingID, func(b *Booking) error {
		if b.IsPaid && b.Status != domain.BookingStatusPending {
			alreadyPaid = true
			return nil
		}
		if !canTransitionBooking(b.Status, domain.BookingStatusReceived) {
			return fmt.Errorf("%w: cannot mark %s booking as paid", ErrBookingInvalidState, b.Status)
		}
		b.IsPaid = true
		b.Status = domain.BookingStatusReceived
		b.PaymentDueBy = nil
		b.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if !alreadyPaid {
		s.notifyReceived(ctx, booking)
	}
	return booking, nil
}

func (s *bookingService) Accept(ctx context.Context, cmd AcceptBookingCommand) (Booking, error) {
	if strings.TrimSpace(cmd.AgentContactID) == "" {
		return Booking{}, fmt.Errorf("%w: agent contact person is required", ErrBookingInvalidInput)
	}
	contact, err := s.users.Get(ctx, cmd.AgentContactID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	booking, err := s.transition(ctx, cmd.BookingID, domain.BookingStatusAccepted, func(b *Booking) error {
		if contact.CompanyID != b.AgentCompanyID {
			return fmt.Errorf("%w: contact %s does not belong to the agent company", ErrBookingInvalidInput, contact.ID)
		}
		now := s.clock()
		b.AgentContactID = contact.ID
		b.IsAssigned = true
		b.DateAcceptedByAgent = &now
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.SectionRequests,
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyBookingAccepted,
		UserIDs:     []string{booking.ClientContactID},
		Email:       true,
	})
	return booking, nil
}

func (s *bookingService) Reject(ctx context.Context, cmd RejectBookingCommand) (Booking, error) {
	booking, err := s.transition(ctx, cmd.BookingID, domain.BookingStatusRejected, func(b *Booking) error {
		b.Cancellation = &domain.CancellationReason{
			Reason:    domain.CancellationOther,
			Comment:   strings.TrimSpace(cmd.Comment),
			ActorID:   cmd.ActorID,
			CreatedAt: s.clock(),
		}
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.SectionRequests,
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyBookingRejected,
		Params:      map[string]string{"comment": strings.TrimSpace(cmd.Comment)},
		UserIDs:     []string{booking.ClientContactID},
		Email:       true,
	})
	return booking, nil
}

// Confirm stores the shipment details and moves the booking into operations.
func (s *bookingService) Confirm(ctx context.Context, cmd ConfirmBookingCommand) (Booking, error) {
	existing, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if err := validateShipmentDetails(existing.ShippingType, cmd.Details); err != nil {
		return Booking{}, err
	}
	carrier, err := s.catalog.Carrier(ctx, existing.CarrierID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}

	details := cmd.Details
	booking, err := s.transition(ctx, cmd.BookingID, domain.BookingStatusConfirmed, func(b *Booking) error {
		details.UpdatedAt = s.clock()
		b.ShipmentDetails = &details
		b.AutomaticTracking = carrier.Trackable()
		return nil
	})
	if err != nil {
		return Booking{}, err
	}

	if booking.ShippingType == domain.ShippingTypeAir && booking.AutomaticTracking && s.waybills != nil {
		task := AirWaybillTask{BookingID: booking.ID, Waybill: details.Mawb, QueuedAt: s.clock()}
		if err := s.waybills.PublishAirWaybillTask(ctx, task); err != nil {
			s.logger(ctx, "booking.waybill.publish.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
		}
	}
	if s.chats != nil {
		chat := ChatCreatedMessage{BookingID: booking.ID, Aceid: booking.Aceid, Participants: booking.ContactIDs(), CreatedAt: s.clock()}
		if err := s.chats.PublishChatCreated(ctx, chat); err != nil {
			s.logger(ctx, "booking.chat.publish.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
		}
	}
	s.applyTrackAutomation(ctx, booking, ShipmentDetails{}, details, cmd.ActorID)
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.OperationsSectionFor(booking.Direction),
		ActionPath:  domain.ActionOperation,
		TemplateKey: i18n.KeyBookingConfirmed,
		UserIDs:     []string{booking.ClientContactID},
		Email:       true,
	})
	return booking, nil
}

func (s *bookingService) UpdateShipmentDetails(ctx context.Context, cmd UpdateShipmentDetailsCommand) (Booking, error) {
	var previous ShipmentDetails
	details := cmd.Details
	booking, err := s.bookings.Mutate(ctx, cmd.BookingID, func(b *Booking) error {
		if b.Status != domain.BookingStatusConfirmed {
			return fmt.Errorf("%w: shipment details are editable on confirmed bookings only", ErrBookingInvalidState)
		}
		if err := validateShipmentDetails(b.ShippingType, details); err != nil {
			return err
		}
		if b.ShipmentDetails != nil {
			previous = *b.ShipmentDetails
		}
		details.UpdatedAt = s.clock()
		b.ShipmentDetails = &details
		b.UpdatedAt = details.UpdatedAt
		return nil
	})
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	s.applyTrackAutomation(ctx, booking, previous, details, cmd.ActorID)
	return booking, nil
}

// applyTrackAutomation files tracks under the mode's automatic statuses when actual dates
// appear or other shipment details change.
func (s *bookingService) applyTrackAutomation(ctx context.Context, booking Booking, previous, current ShipmentDetails, actorID string) {
	statuses, err := s.catalog.TrackStatuses(ctx, booking.ShippingModeID)
	if err != nil {
		s.logger(ctx, "booking.track_statuses.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
		return
	}
	if len(statuses) == 0 {
		return
	}
	existing, err := s.tracks.ListByBooking(ctx, booking.ID)
	if err != nil {
		s.logger(ctx, "booking.tracks.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
		return
	}
	hasManual := func(statusID string) bool {
		return slices.ContainsFunc(existing, func(t Track) bool { return t.Manual && t.StatusID == statusID })
	}
	create := func(status domain.TrackStatus, comment string) {
		track := Track{
			ID:        "trk_" + s.newID(),
			BookingID: booking.ID,
			StatusID:  status.ID,
			Manual:    true,
			CreatedBy: actorID,
			Comment:   comment,
			CreatedAt: s.clock(),
		}
		if err := s.tracks.Create(ctx, track); err != nil {
			s.logger(ctx, "booking.track.create.failed", map[string]any{"bookingId": booking.ID, "statusId": status.ID, "error": err.Error()})
			return
		}
		existing = append(existing, track)
	}

	departed := current.ActualDateOfDeparture != nil && previous.ActualDateOfDeparture == nil
	arrived := current.ActualDateOfArrival != nil && previous.ActualDateOfArrival == nil
	changes := ""
	if previous != (ShipmentDetails{}) {
		changes = describeShipmentChanges(previous, current)
	}
	for _, status := range statuses {
		if departed && status.AutoAddOnActualDateOfDeparture && !hasManual(status.ID) {
			create(status, status.Title)
		}
		if arrived && status.AutoAddOnActualDateOfArrival && !hasManual(status.ID) {
			create(status, status.Title)
		}
		if changes != "" && status.AutoAddOnShipmentDetailsChange {
			create(status, changes)
		}
	}
	if changes != "" {
		s.notify(ctx, booking, NotifyCommand{
			Section:     domain.OperationsSectionFor(booking.Direction),
			ActionPath:  domain.ActionOperation,
			TemplateKey: i18n.KeyTrackingShipmentChanged,
			Params:      map[string]string{"changes": changes},
			UserIDs:     []string{booking.ClientContactID},
		})
	}
}

func (s *bookingService) CancelByClient(ctx context.Context, cmd CancelBookingCommand) (Booking, error) {
	reason := cmd.Reason
	if reason == "" {
		reason = domain.CancellationClientRequest
	}
	booking, err := s.cancel(ctx, cmd, domain.BookingStatusCanceledByClient, reason)
	if err != nil {
		return Booking{}, err
	}
	recipients := []string{booking.AgentContactID}
	if booking.AgentContactID == "" {
		recipients = s.companyUsers(ctx, booking.AgentCompanyID, domain.RoleMaster, domain.RoleAgent)
	}
	s.notify(ctx, booking, NotifyCommand{
		Section:     s.cancelSection(booking),
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyBookingCanceled,
		Params:      map[string]string{"comment": cmd.Comment},
		UserIDs:     recipients,
		Email:       true,
	})
	return booking, nil
}

func (s *bookingService) CancelByAgent(ctx context.Context, cmd CancelBookingCommand) (Booking, error) {
	reason := cmd.Reason
	if reason == "" {
		reason = domain.CancellationOther
	}
	booking, err := s.cancel(ctx, cmd, domain.BookingStatusCanceledByAgent, reason)
	if err != nil {
		return Booking{}, err
	}
	s.notify(ctx, booking, NotifyCommand{
		Section:     s.cancelSection(booking),
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyBookingCanceled,
		Params:      map[string]string{"comment": cmd.Comment},
		UserIDs:     []string{booking.ClientContactID},
		Email:       true,
	})
	return booking, nil
}

func (s *bookingService) cancel(ctx context.Context, cmd CancelBookingCommand, to BookingStatus, reason domain.CancellationReasonCode) (Booking, error) {
	return s.transition(ctx, cmd.BookingID, to, func(b *Booking) error {
		b.Cancellation = &domain.CancellationReason{
			Reason:    reason,
			Comment:   strings.TrimSpace(cmd.Comment),
			ActorID:   cmd.ActorID,
			CreatedAt: s.clock(),
		}
		return nil
	})
}

func (s *bookingService) cancelSection(b Booking) domain.NotificationSection {
	if b.Status == domain.BookingStatusCanceledByClient && b.ShipmentDetails == nil {
		return domain.SectionRequests
	}
	return domain.OperationsSectionFor(b.Direction)
}

func (s *bookingService) Complete(ctx context.Context, bookingID, actorID string) (Booking, error) {
	booking, err := s.transition(ctx, bookingID, domain.BookingStatusCompleted, func(b *Booking) error {
		if b.ShipmentDetails == nil || b.ShipmentDetails.ActualDateOfArrival == nil {
			return fmt.Errorf("%w: actual date of arrival is not set", ErrBookingInvalidState)
		}
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.logger(ctx, "booking.completed", map[string]any{"bookingId": booking.ID, "actorId": actorID})
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.OperationsSectionFor(booking.Direction),
		ActionPath:  domain.ActionOperation,
		TemplateKey: i18n.KeyBookingCompleted,
		UserIDs:     booking.ContactIDs(),
	})
	return booking, nil
}

// RequestChange creates a child booking carrying the amended request with fresh charges.
func (s *bookingService) RequestChange(ctx context.Context, cmd ChangeRequestCommand) (Booking, error) {
	if len(cmd.CargoGroups) == 0 {
		return Booking{}, fmt.Errorf("%w: cargo groups are required", ErrBookingInvalidInput)
	}
	datesGiven := !cmd.DateFrom.IsZero() || !cmd.DateTo.IsZero()
	if datesGiven && (cmd.DateFrom.IsZero() || cmd.DateTo.IsZero() || cmd.DateTo.Before(cmd.DateFrom)) {
		return Booking{}, fmt.Errorf("%w: invalid date range", ErrBookingInvalidInput)
	}
	parent, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if err := checkChangeable(parent); err != nil {
		return Booking{}, err
	}
	rate, err := s.freightRates.Get(ctx, parent.FreightRateID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	mode, err := s.catalog.ShippingMode(ctx, parent.ShippingModeID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	mainCurrency, err := s.settings.MainCurrency(ctx)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrBookingInvalidInput, err)
	}
	documents := cmd.NumberOfDocuments
	if documents < 1 {
		documents = parent.NumberOfDocuments
	}
	charges, err := s.pricing.PriceShipment(ctx, PriceShipmentCommand{
		FreightRate:       rate,
		CargoGroups:       cmd.CargoGroups,
		ShippingMode:      mode,
		MainCurrency:      mainCurrency,
		DateFrom:          parent.DateFrom,
		DateTo:            parent.DateTo,
		NumberOfDocuments: documents,
	})
	if err != nil {
		return Booking{}, s.mapPricingError(ctx, err)
	}

	now := s.clock()
	child := parent
	child.ID = "bkg_" + s.newID()
	child.OriginalBookingID = parent.ID
	child.ChangeRequestStatus = domain.ChangeRequestNone
	child.IsPaid = true
	child.IsAssigned = true
	child.PaymentDueBy = nil
	child.Cancellation = nil
	child.NumberOfDocuments = documents
	if datesGiven {
		child.DateFrom = domain.Day(cmd.DateFrom)
		child.DateTo = domain.Day(cmd.DateTo)
	}
	child.CargoGroups = s.assignCargoIDs(cmd.CargoGroups)
	child.Charges = charges
	child.CreatedAt = now
	child.UpdatedAt = now
	if cmd.Shipper != nil {
		child.Shipper = cmd.Shipper
	}
	if cmd.ReleaseTypeID != "" {
		child.ReleaseTypeID = cmd.ReleaseTypeID
	}
	if parent.ShipmentDetails != nil {
		details := *parent.ShipmentDetails
		child.ShipmentDetails = &details
	}

	created, err := s.bookings.CreateChangeRequest(ctx, child, func(b *Booking) error {
		if err := checkChangeable(*b); err != nil {
			return err
		}
		b.ChangeRequestStatus = domain.ChangeRequestRequested
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	recipients := []string{created.AgentContactID}
	if created.AgentContactID == "" {
		recipients = s.companyUsers(ctx, created.AgentCompanyID, domain.RoleMaster, domain.RoleAgent)
	}
	s.notify(ctx, created, NotifyCommand{
		Section:     domain.OperationsSectionFor(created.Direction),
		ActionPath:  domain.ActionOperation,
		TemplateKey: i18n.KeyBookingChangeRequested,
		UserIDs:     recipients,
	})
	return created, nil
}

func checkChangeable(b Booking) error {
	if b.Status != domain.BookingStatusAccepted && b.Status != domain.BookingStatusConfirmed {
		return fmt.Errorf("%w: %s bookings cannot be changed", ErrBookingInvalidState, b.Status)
	}
	if b.ChangeRequestStatus == domain.ChangeRequestRequested {
		return fmt.Errorf("%w: a change request is already pending", ErrBookingConflict)
	}
	return nil
}

// ConfirmChangeRequest accepts a child booking. The parent transition and the move of its
// operations notifications to the child commit together.
func (s *bookingService) ConfirmChangeRequest(ctx context.Context, childID, actorID string) (Booking, error) {
	child, err := s.bookings.Get(ctx, childID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if !child.IsChangeRequest() {
		return Booking{}, fmt.Errorf("%w: booking %s is not a change request", ErrBookingInvalidInput, childID)
	}
	reassigned, err := s.bookings.ConfirmChangeRequest(ctx, child.OriginalBookingID, child.ID, domain.OperationsSections(), func(b *Booking) error {
		if b.ChangeRequestStatus != domain.ChangeRequestRequested {
			return fmt.Errorf("%w: no pending change request", ErrBookingInvalidState)
		}
		b.ChangeRequestStatus = domain.ChangeRequestConfirmed
		b.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	s.notifications.RequestRefetch(ctx, reassigned)
	s.logger(ctx, "booking.change_request.confirmed", map[string]any{"bookingId": child.ID, "actorId": actorID})
	s.notify(ctx, child, NotifyCommand{
		Section:     domain.OperationsSectionFor(child.Direction),
		ActionPath:  domain.ActionOperation,
		TemplateKey: i18n.KeyBookingChangeConfirmed,
		UserIDs:     []string{child.ClientContactID},
	})
	return child, nil
}

// DiscardUnpaid discards pending bookings that stayed unpaid past the configured number of days.
func (s *bookingService) DiscardUnpaid(ctx context.Context) (int, error) {
	settings, err := s.settings.Platform(ctx)
	if err != nil {
		return 0, err
	}
	unpaid := false
	cutoff := s.clock().AddDate(0, 0, -settings.UnpaidBookingDays)
	candidates, err := s.bookings.List(ctx, repositories.BookingFilter{
		Statuses:      []BookingStatus{domain.BookingStatusPending},
		IsPaid:        &unpaid,
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	discarded := 0
	for _, candidate := range candidates {
		booking, err := s.bookings.Mutate(ctx, candidate.ID, func(b *Booking) error {
			if b.Status != domain.BookingStatusPending || b.IsPaid || !b.CreatedAt.Before(cutoff) {
				return fmt.Errorf("%w: booking changed since listing", ErrBookingInvalidState)
			}
			b.Status = domain.BookingStatusDiscarded
			return nil
		})
		if err != nil {
			s.logger(ctx, "booking.discard.failed", map[string]any{"bookingId": candidate.ID, "error": err.Error()})
			continue
		}
		discarded++
		s.notify(ctx, booking, NotifyCommand{
			Section:     domain.SectionRequests,
			ActionPath:  domain.ActionBooking,
			TemplateKey: i18n.KeyBookingDiscarded,
			UserIDs:     []string{booking.ClientContactID},
		})
	}
	return discarded, nil
}

// CancelUnconfirmed cancels accepted bookings the agent did not confirm within the
// per-direction deadline.
func (s *bookingService) CancelUnconfirmed(ctx context.Context) (int, error) {
	settings, err := s.settings.Platform(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock()
	canceled := 0
	for _, direction := range []domain.Direction{domain.DirectionExport, domain.DirectionImport} {
		cutoff := now.AddDate(0, 0, -settings.DeadlineDays(direction))
		candidates, err := s.bookings.List(ctx, repositories.BookingFilter{
			Statuses:       []BookingStatus{domain.BookingStatusAccepted},
			Direction:      direction,
			AcceptedBefore: cutoff,
		})
		if err != nil {
			return canceled, s.mapRepositoryError(err)
		}
		for _, candidate := range candidates {
			booking, err := s.transition(ctx, candidate.ID, domain.BookingStatusCanceledBySystem, func(b *Booking) error {
				if b.DateAcceptedByAgent == nil || !b.DateAcceptedByAgent.Before(cutoff) {
					return fmt.Errorf("%w: booking changed since listing", ErrBookingInvalidState)
				}
				b.Cancellation = &domain.CancellationReason{
					Reason:    domain.CancellationOther,
					Comment:   AgentDeadlineComment,
					CreatedAt: now,
				}
				return nil
			})
			if err != nil {
				s.logger(ctx, "booking.deadline_cancel.failed", map[string]any{"bookingId": candidate.ID, "error": err.Error()})
				continue
			}
			canceled++
			s.notify(ctx, booking, NotifyCommand{
				Section:     domain.OperationsSectionFor(booking.Direction),
				ActionPath:  domain.ActionBooking,
				TemplateKey: i18n.KeyBookingCanceled,
				Params:      map[string]string{"comment": AgentDeadlineComment},
				UserIDs:     booking.ContactIDs(),
			})
		}
	}
	return canceled, nil
}

// ChargesToday converts the stored totals with the agent company's billing rates of today.
// The stored snapshot is left untouched.
func (s *bookingService) ChargesToday(ctx context.Context, bookingID string) (ChargesInMainCurrency, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return ChargesInMainCurrency{}, s.mapRepositoryError(err)
	}
	rates, err := s.exchange.CompanyRates(ctx, booking.AgentCompanyID)
	if err != nil {
		return ChargesInMainCurrency{}, err
	}
	out := ChargesInMainCurrency{
		Currency:      rates.Main(),
		Totals:        domain.Amounts{},
		ExchangeRates: domain.Amounts{},
		Total:         decimal.Zero,
	}
	for _, currency := range booking.Charges.Totals.Currencies() {
		eff, err := rates.Effective(currency)
		if err != nil {
			return ChargesInMainCurrency{}, fmt.Errorf("%w: %v", ErrBookingInvalidInput, err)
		}
		eff = domain.Round2(eff)
		converted := domain.Round2(booking.Charges.Totals[currency].Mul(eff))
		out.ExchangeRates[currency] = eff
		out.Totals[currency] = converted
		out.Total = out.Total.Add(converted)
	}
	return out, nil
}

// transition applies mutate and moves the booking to status inside one repository transaction.
func (s *bookingService) transition(ctx context.Context, id string, to BookingStatus, mutate func(*Booking) error) (Booking, error) {
	if strings.TrimSpace(id) == "" {
		return Booking{}, fmt.Errorf("%w: booking id is required", ErrBookingInvalidInput)
	}
	booking, err := s.bookings.Mutate(ctx, id, func(b *Booking) error {
		if !canTransitionBooking(b.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrBookingInvalidState, b.Status, to)
		}
		if mutate != nil {
			if err := mutate(b); err != nil {
				return err
			}
		}
		b.Status = to
		b.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	return booking, nil
}

func canTransitionBooking(from, to BookingStatus) bool {
	return slices.Contains(bookingStateTransitions[from], to)
}

func (s *bookingService) notifyReceived(ctx context.Context, booking Booking) {
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.SectionRequests,
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyBookingReceivedAgent,
		UserIDs:     s.companyUsers(ctx, booking.AgentCompanyID, domain.RoleMaster, domain.RoleAgent),
		Email:       true,
	})
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.SectionRequests,
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyBookingReceivedClient,
		UserIDs:     []string{booking.ClientContactID},
	})
}

func (s *bookingService) notifyPaymentPending(ctx context.Context, booking Booking) {
	payToBook := booking.Charges.PayToBook
	params := map[string]string{}
	if payToBook != nil {
		params["amount"] = payToBook.PayToBook.StringFixed(2)
		params["currency"] = payToBook.Currency
	}
	s.notify(ctx, booking, NotifyCommand{
		Section:     domain.SectionRequests,
		ActionPath:  domain.ActionBilling,
		TemplateKey: i18n.KeyBookingPaymentPending,
		Params:      params,
		UserIDs:     s.companyUsers(ctx, booking.ClientCompanyID, domain.RoleMaster, domain.RoleBilling),
		Email:       true,
	})
}

// notify stamps the booking reference and sends cmd. Failures are logged.
func (s *bookingService) notify(ctx context.Context, booking Booking, cmd NotifyCommand) {
	recipients := uniqueIDs(cmd.UserIDs)
	if len(recipients) == 0 {
		return
	}
	params := map[string]string{"aceid": booking.Aceid}
	for key, value := range cmd.Params {
		params[key] = value
	}
	cmd.Params = params
	cmd.UserIDs = recipients
	if cmd.ObjectID == "" {
		cmd.ObjectID = booking.ID
	}
	if _, err := s.notifications.Notify(ctx, cmd); err != nil {
		s.logger(ctx, "booking.notify.failed", map[string]any{
			"bookingId":   booking.ID,
			"templateKey": cmd.TemplateKey,
			"error":       err.Error(),
		})
	}
}

func (s *bookingService) companyUsers(ctx context.Context, companyID string, roles ...domain.Role) []string {
	users, err := s.users.ListByCompany(ctx, companyID, roles...)
	if err != nil {
		s.logger(ctx, "booking.recipients.failed", map[string]any{"companyId": companyID, "error": err.Error()})
		return nil
	}
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids
}

func (s *bookingService) mapPricingError(ctx context.Context, err error) error {
	if errors.Is(err, ErrPricingInvalidInput) {
		s.logger(ctx, "booking.pricing.failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %w", ErrBookingInvalidInput, err)
	}
	return s.mapRepositoryError(err)
}

func (s *bookingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrBookingInvalidInput, ErrBookingInvalidState, ErrBookingConflict, ErrBookingNotFound} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrBookingNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrBookingConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("booking: repository unavailable: %w", err)
		}
	}
	return err
}

func validateShipmentDetails(shippingType domain.ShippingType, details ShipmentDetails) error {
	if shippingType == domain.ShippingTypeAir {
		if strings.TrimSpace(details.Mawb) == "" {
			return fmt.Errorf("%w: mawb is required for air shipments", ErrBookingInvalidInput)
		}
	} else if strings.TrimSpace(details.BookingNumber) == "" {
		return fmt.Errorf("%w: booking number is required", ErrBookingInvalidInput)
	}
	if details.ActualDateOfDeparture != nil && details.ActualDateOfArrival != nil && details.ActualDateOfArrival.Before(*details.ActualDateOfDeparture) {
		return fmt.Errorf("%w: actual arrival precedes departure", ErrBookingInvalidInput)
	}
	return nil
}

// describeShipmentChanges lists the edited fields as "label: old -> new" pairs.
func describeShipmentChanges(before, after ShipmentDetails) string {
	var changes []string
	text := func(label, old, updated string) {
		if old != updated {
			changes = append(changes, fmt.Sprintf("%s: %s -> %s", label, orDash(old), orDash(updated)))
		}
	}
	date := func(label string, old, updated *time.Time) {
		text(label, formatDetailTime(old), formatDetailTime(updated))
	}
	text("booking number", before.BookingNumber, after.BookingNumber)
	text("vessel", before.Vessel, after.Vessel)
	text("voyage", before.Voyage, after.Voyage)
	text("flight number", before.FlightNumber, after.FlightNumber)
	text("container number", before.ContainerNumber, after.ContainerNumber)
	text("mawb", before.Mawb, after.Mawb)
	date("date of departure", before.DateOfDeparture, after.DateOfDeparture)
	date("date of arrival", before.DateOfArrival, after.DateOfArrival)
	date("actual date of departure", before.ActualDateOfDeparture, after.ActualDateOfDeparture)
	date("actual date of arrival", before.ActualDateOfArrival, after.ActualDateOfArrival)
	date("document cut off", before.DocumentCutOff, after.DocumentCutOff)
	date("cargo cut off", before.CargoCutOff, after.CargoCutOff)
	text("empty pickup location", before.EmptyPickupLocation, after.EmptyPickupLocation)
	text("container free time", formatFreeTime(before.ContainerFreeTime), formatFreeTime(after.ContainerFreeTime))
	text("cargo pickup location", before.CargoPickupLocation, after.CargoPickupLocation)
	text("cargo drop off location", before.CargoDropOffLocation, after.CargoDropOffLocation)
	text("notes", before.Notes, after.Notes)
	return strings.Join(changes, "; ")
}

func formatDetailTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatFreeTime(days *int) string {
	if days == nil {
		return ""
	}
	return fmt.Sprintf("%d days", *days)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

const (
	aceidVowels     = "AEIOU"
	aceidConsonants = "BCDFGHJKLMNPQRSTVWXYZ"
)

// GenerateAceid builds the eight character operation code: two letters of the company
// name, a digit whose parity encodes the direction (odd for export), a vowel for air or a
// consonant otherwise, and four random digits.
func GenerateAceid(companyName string, direction domain.Direction, shippingType domain.ShippingType, intn func(n int) int) (string, error) {
	if intn == nil {
		intn = rand.IntN
	}
	var prefix []rune
	for _, r := range strings.ToUpper(companyName) {
		if r <= unicode.MaxASCII && unicode.IsLetter(r) {
			prefix = append(prefix, r)
			if len(prefix) == 2 {
				break
			}
		}
	}
	if len(prefix) < 2 {
		return "", fmt.Errorf("%w: company name %q has fewer than two letters", ErrBookingInvalidInput, companyName)
	}

	var b strings.Builder
	b.Grow(8)
	b.WriteString(string(prefix))
	parity := 0
	if direction == domain.DirectionExport {
		parity = 1
	}
	b.WriteByte(byte('0' + 2*intn(5) + parity))
	letters := aceidConsonants
	if shippingType == domain.ShippingTypeAir {
		letters = aceidVowels
	}
	b.WriteByte(letters[intn(len(letters))])
	for i := 0; i < 4; i++ {
		b.WriteByte(byte('0' + intn(10)))
	}
	return b.String(), nil
}
