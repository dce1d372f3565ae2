package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/i18n"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/observability"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/storage"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/tracking"
)

// DefaultClientTrackDelay hides fresh tracks from client listings.
const DefaultClientTrackDelay = 5 * time.Minute

var (
	// ErrTrackingInvalidInput indicates a malformed track request.
	ErrTrackingInvalidInput = errors.New("tracking: invalid input")
	// ErrTrackingNotFound indicates the booking or track status does not exist.
	ErrTrackingNotFound = errors.New("tracking: not found")
	// ErrTrackingInvalidState indicates the booking is not in a trackable state.
	ErrTrackingInvalidState = errors.New("tracking: invalid state")
)

var seaRouteTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

// TrackingServiceDeps bundles collaborators for the tracking ingestor. Archive and Metrics
// are optional.
type TrackingServiceDeps struct {
	Bookings           repositories.BookingRepository
	Tracks             repositories.TrackRepository
	Catalog            repositories.CatalogRepository
	Sea                SeaTracker
	Air                AirTracker
	Archive            PayloadArchive
	Notifications      NotificationService
	Metrics            Metrics
	ClientVisibleDelay time.Duration
	Clock              func() time.Time
	IDGenerator        func() string
	Logger             Logger
}

type trackingService struct {
	bookings      repositories.BookingRepository
	tracks        repositories.TrackRepository
	catalog       repositories.CatalogRepository
	sea           SeaTracker
	air           AirTracker
	archive       PayloadArchive
	notifications NotificationService
	metrics       Metrics
	clientDelay   time.Duration
	clock         func() time.Time
	newID         func() string
	logger        Logger
}

var _ TrackingService = (*trackingService)(nil)

// NewTrackingService constructs the tracking ingestor.
func NewTrackingService(deps TrackingServiceDeps) (TrackingService, error) {
	switch {
	case deps.Bookings == nil:
		return nil, errors.New("tracking service: booking repository is required")
	case deps.Tracks == nil:
		return nil, errors.New("tracking service: track repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("tracking service: catalog repository is required")
	case deps.Sea == nil:
		return nil, errors.New("tracking service: sea tracker is required")
	case deps.Air == nil:
		return nil, errors.New("tracking service: air tracker is required")
	case deps.Notifications == nil:
		return nil, errors.New("tracking service: notification service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	delay := deps.ClientVisibleDelay
	if delay <= 0 {
		delay = DefaultClientTrackDelay
	}
	return &trackingService{
		bookings:      deps.Bookings,
		tracks:        deps.Tracks,
		catalog:       deps.Catalog,
		sea:           deps.Sea,
		air:           deps.Air,
		archive:       deps.Archive,
		notifications: deps.Notifications,
		metrics:       metrics,
		clientDelay:   delay,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// SyncSeaBookings polls the sea provider for every automatically tracked sea booking.
// A WRONG_NUMBER answer stops the batch.
func (s *trackingService) SyncSeaBookings(ctx context.Context) (SeaSyncReport, error) {
	ctx, span := observability.StartSpan(ctx, "tracking.sea.sync")
	defer span.End()

	tracked, notArrived := true, false
	bookings, err := s.bookings.List(ctx, repositories.BookingFilter{
		Statuses:          []BookingStatus{domain.BookingStatusConfirmed},
		ShippingType:      domain.ShippingTypeSea,
		AutomaticTracking: &tracked,
		VesselArrived:     &notArrived,
		OnlyOriginals:     true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list bookings")
		return SeaSyncReport{}, s.mapRepositoryError(err)
	}

	var report SeaSyncReport
	for _, booking := range bookings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		outcome, err := s.syncSeaBooking(ctx, booking)
		switch {
		case errors.Is(err, errWrongNumber):
			report.WrongNumber = booking.ID
			span.SetAttributes(attribute.String("tracking.wrong_number.booking", booking.ID))
			s.logger(ctx, "tracking.sea.batch.stopped", map[string]any{"bookingId": booking.ID, "checked": report.Checked})
			return report, nil
		case err != nil:
			report.Failed++
			s.logger(ctx, "tracking.sea.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
			continue
		}
		if outcome.updated {
			report.Updated++
		}
		if outcome.departed {
			report.Departed++
		}
		if outcome.arrived {
			report.Arrived++
		}
	}
	span.SetAttributes(
		attribute.Int("tracking.checked", report.Checked),
		attribute.Int("tracking.updated", report.Updated),
		attribute.Int("tracking.failed", report.Failed),
	)
	s.logger(ctx, "tracking.sea.synced", map[string]any{
		"checked":  report.Checked,
		"updated":  report.Updated,
		"departed": report.Departed,
		"arrived":  report.Arrived,
		"failed":   report.Failed,
	})
	return report, nil
}

var errWrongNumber = errors.New("tracking: wrong booking number")

type seaOutcome struct {
	updated  bool
	departed bool
	arrived  bool
}

func (s *trackingService) syncSeaBooking(ctx context.Context, booking Booking) (seaOutcome, error) {
	if booking.ShipmentDetails == nil || strings.TrimSpace(booking.ShipmentDetails.BookingNumber) == "" {
		return seaOutcome{}, fmt.Errorf("%w: booking number is missing", ErrTrackingInvalidState)
	}
	carrier, err := s.catalog.Carrier(ctx, booking.CarrierID)
	if err != nil {
		return seaOutcome{}, s.mapRepositoryError(err)
	}
	number := booking.ShipmentDetails.BookingNumber
	query := tracking.SeaQuery{Number: number, Sealine: carrier.TrackingCode()}

	started := time.Now()
	resp, err := s.sea.Reference(ctx, query)
	s.metrics.RecordProviderCall(ctx, "sea", "reference", time.Since(started), err)
	s.archivePayload(ctx, booking.ID, storage.KindSeaTracking, resp.Raw)
	if err != nil {
		return seaOutcome{}, err
	}
	if resp.Failed() {
		if strings.EqualFold(strings.TrimSpace(resp.Message), tracking.SeaMessageWrongNumber) {
			s.logger(ctx, "tracking.sea.wrong_number", map[string]any{"bookingId": booking.ID, "bookingNumber": number})
			s.notify(ctx, booking, NotifyCommand{
				Section:     domain.OperationsSectionFor(booking.Direction),
				ActionPath:  domain.ActionOperation,
				TemplateKey: i18n.KeyTrackingWrongNumber,
				Params:      map[string]string{"booking_number": number},
				UserIDs:     []string{booking.AgentContactID},
			})
			return seaOutcome{}, errWrongNumber
		}
		return seaOutcome{}, fmt.Errorf("sea provider error: %s", resp.Message)
	}

	started = time.Now()
	routeResp, err := s.sea.Route(ctx, query)
	s.metrics.RecordProviderCall(ctx, "sea", "route", time.Since(started), err)
	s.archivePayload(ctx, booking.ID, storage.KindSeaRoute, routeResp.Raw)
	if err != nil {
		return seaOutcome{}, err
	}
	if routeResp.Failed() {
		return seaOutcome{}, fmt.Errorf("sea provider route error: %s", routeResp.Message)
	}

	data, sawDeparture, sawArrival := seaTrackData(resp.Data)
	route := seaRouteData(routeResp.Data)
	arrivalAt, hasArrival := parseSeaRouteTime(routeResp.Data.Route.Postpod.Date)

	now := s.clock()
	var outcome seaOutcome
	updated, err := s.bookings.Mutate(ctx, booking.ID, func(b *Booking) error {
		outcome = seaOutcome{}
		if b.Status != domain.BookingStatusConfirmed || b.ShipmentDetails == nil {
			return nil
		}
		details := *b.ShipmentDetails
		b.ShipmentDetails = &details
		if sawArrival && !b.VesselArrived {
			b.VesselArrived = true
			outcome.updated = true
		}
		if sawDeparture && b.ShipmentDetails.ActualDateOfDeparture == nil {
			stamp := now
			b.ShipmentDetails.ActualDateOfDeparture = &stamp
			outcome.departed = true
			outcome.updated = true
		}
		if hasArrival && b.ShipmentDetails.ActualDateOfArrival == nil {
			stamp := arrivalAt
			b.ShipmentDetails.ActualDateOfArrival = &stamp
			outcome.arrived = true
			outcome.updated = true
		}
		if outcome.updated {
			b.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return seaOutcome{}, s.mapRepositoryError(err)
	}

	track := Track{
		ID:        "trk_" + s.newID(),
		BookingID: booking.ID,
		Data:      data,
		Route:     route,
		CreatedAt: now,
	}
	if err := s.tracks.UpsertAutomatic(ctx, track); err != nil {
		return outcome, s.mapRepositoryError(err)
	}

	if outcome.departed && updated.Direction == domain.DirectionImport {
		s.notify(ctx, updated, NotifyCommand{
			Section:     domain.SectionOperationsImport,
			ActionPath:  domain.ActionOperation,
			TemplateKey: i18n.KeyOperationDeparted,
			UserIDs:     updated.ContactIDs(),
		})
	}
	if outcome.arrived && updated.Direction == domain.DirectionExport {
		s.notify(ctx, updated, NotifyCommand{
			Section:     domain.SectionOperationsExport,
			ActionPath:  domain.ActionOperation,
			TemplateKey: i18n.KeyOperationArrived,
			UserIDs:     updated.ContactIDs(),
		})
	}
	return outcome, nil
}

// seaTrackData renders container events with human-readable descriptions, locations and
// vessels, and reports whether departure or arrival events were seen.
func seaTrackData(data tracking.SeaData) (map[string]any, bool, bool) {
	var departed, arrived bool
	containers := make([]any, 0, len(data.Containers))
	for _, container := range data.Containers {
		events := make([]any, 0, len(container.Events))
		for _, event := range container.Events {
			code := strings.ToUpper(strings.TrimSpace(event.Status))
			switch code {
			case domain.EventVesselDepartureFirstPOL:
				departed = true
			case domain.EventVesselArrivalFinalPOD:
				arrived = true
			}
			events = append(events, map[string]any{
				"status":      code,
				"description": domain.DescribeEvent(code),
				"location":    data.LocationName(event.Location),
				"vessel":      data.VesselName(event.Vessel),
				"date":        event.Date,
				"actual":      event.Actual,
			})
		}
		containers = append(containers, map[string]any{"number": container.Number, "events": events})
	}
	return map[string]any{"containers": containers}, departed, arrived
}

func seaRouteData(data tracking.SeaData) map[string]any {
	point := func(p tracking.SeaRoutePoint) map[string]any {
		return map[string]any{"location": data.LocationName(p.Location), "date": p.Date, "actual": p.Actual}
	}
	return map[string]any{
		"prepol":  point(data.Route.Prepol),
		"pol":     point(data.Route.Pol),
		"pod":     point(data.Route.Pod),
		"postpod": point(data.Route.Postpod),
	}
}

func parseSeaRouteTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range seaRouteTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// RegisterAirWaybill registers a confirmed air booking's waybill with the provider.
// Provider rejections are terminal; transport errors are returned for redelivery.
func (s *trackingService) RegisterAirWaybill(ctx context.Context, task AirWaybillTask) error {
	ctx, span := observability.StartSpan(ctx, "tracking.air.register", attribute.String("booking.id", task.BookingID))
	defer span.End()

	waybill := strings.TrimSpace(task.Waybill)
	if task.BookingID == "" || waybill == "" {
		return fmt.Errorf("%w: booking id and waybill are required", ErrTrackingInvalidInput)
	}
	booking, err := s.bookings.Get(ctx, task.BookingID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if booking.ShippingType != domain.ShippingTypeAir {
		return fmt.Errorf("%w: booking %s is not an air shipment", ErrTrackingInvalidInput, booking.ID)
	}

	started := time.Now()
	resp, err := s.air.Register(ctx, waybill)
	s.metrics.RecordProviderCall(ctx, "air", "register", time.Since(started), err)
	s.archivePayload(ctx, booking.ID, storage.KindAirTracking, resp.Raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register waybill")
		return fmt.Errorf("tracking: register waybill: %w", err)
	}

	switch reason := resp.Error(); {
	case reason == tracking.AirWrongFormat:
		s.logger(ctx, "tracking.air.wrong_format", map[string]any{"bookingId": booking.ID, "waybill": waybill})
		s.notify(ctx, booking, NotifyCommand{
			Section:     domain.OperationsSectionFor(booking.Direction),
			ActionPath:  domain.ActionOperation,
			TemplateKey: i18n.KeyTrackingWrongWaybill,
			Params:      map[string]string{"waybill": waybill},
			UserIDs:     []string{booking.AgentContactID},
		})
		return nil
	case reason != "":
		s.logger(ctx, "tracking.air.rejected", map[string]any{"bookingId": booking.ID, "waybill": waybill, "reason": reason})
		return nil
	}

	confirmations := make([]any, 0, len(resp.Confirmations))
	for _, confirmation := range resp.Confirmations {
		confirmations = append(confirmations, map[string]any{"waybill": confirmation.WaybillIdentification})
	}
	track := Track{
		ID:        "trk_" + s.newID(),
		BookingID: booking.ID,
		Data:      map[string]any{"waybill": waybill, "confirmations": confirmations},
		CreatedAt: s.clock(),
	}
	if err := s.tracks.UpsertAutomatic(ctx, track); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "tracking.air.registered", map[string]any{"bookingId": booking.ID, "waybill": waybill})
	return nil
}

// AddManualTrack files an agent track under one of the shipping mode's statuses.
func (s *trackingService) AddManualTrack(ctx context.Context, cmd AddTrackCommand) (Track, error) {
	if strings.TrimSpace(cmd.BookingID) == "" || strings.TrimSpace(cmd.StatusID) == "" {
		return Track{}, fmt.Errorf("%w: booking and status are required", ErrTrackingInvalidInput)
	}
	booking, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return Track{}, s.mapRepositoryError(err)
	}
	if booking.Status != domain.BookingStatusConfirmed {
		return Track{}, fmt.Errorf("%w: booking %s is %s", ErrTrackingInvalidState, booking.ID, booking.Status)
	}
	statuses, err := s.catalog.TrackStatuses(ctx, booking.ShippingModeID)
	if err != nil {
		return Track{}, s.mapRepositoryError(err)
	}
	idx := slices.IndexFunc(statuses, func(st domain.TrackStatus) bool { return st.ID == cmd.StatusID })
	if idx < 0 {
		return Track{}, fmt.Errorf("%w: track status %s", ErrTrackingNotFound, cmd.StatusID)
	}
	status := statuses[idx]

	now := s.clock()
	track := Track{
		ID:        "trk_" + s.newID(),
		BookingID: booking.ID,
		StatusID:  status.ID,
		Manual:    true,
		CreatedBy: cmd.ActorID,
		Comment:   strings.TrimSpace(cmd.Comment),
		CreatedAt: now,
	}
	if err := s.tracks.Create(ctx, track); err != nil {
		return Track{}, s.mapRepositoryError(err)
	}

	if status.MustUpdateActualDateOfDeparture {
		if _, err := s.bookings.Mutate(ctx, booking.ID, func(b *Booking) error {
			if b.ShipmentDetails == nil || b.ShipmentDetails.ActualDateOfDeparture != nil {
				return nil
			}
			details := *b.ShipmentDetails
			details.ActualDateOfDeparture = &now
			b.ShipmentDetails = &details
			b.UpdatedAt = now
			return nil
		}); err != nil {
			return track, s.mapRepositoryError(err)
		}
	}
	s.logger(ctx, "tracking.manual.added", map[string]any{"bookingId": booking.ID, "statusId": status.ID})
	return track, nil
}

// ListTracks returns the booking's tracks oldest first. Clients do not see tracks younger
// than the visibility delay, nor after-departure statuses before the shipment departed.
func (s *trackingService) ListTracks(ctx context.Context, bookingID string, audience domain.TrackAudience) ([]Track, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	tracks, err := s.tracks.ListByBooking(ctx, booking.ID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	slices.SortStableFunc(tracks, func(a, b Track) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if audience != domain.TrackAudienceClient {
		return tracks, nil
	}

	statuses, err := s.catalog.TrackStatuses(ctx, booking.ShippingModeID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	afterDeparture := make(map[string]bool, len(statuses))
	for _, status := range statuses {
		afterDeparture[status.ID] = status.ShowAfterDeparture
	}
	departed := booking.ShipmentDetails != nil && booking.ShipmentDetails.ActualDateOfDeparture != nil
	visibleBefore := s.clock().Add(-s.clientDelay)

	out := tracks[:0]
	for _, track := range tracks {
		if track.CreatedAt.After(visibleBefore) {
			continue
		}
		if afterDeparture[track.StatusID] && !departed {
			continue
		}
		out = append(out, track)
	}
	return out, nil
}

func (s *trackingService) archivePayload(ctx context.Context, bookingID string, kind storage.PayloadKind, payload []byte) {
	if s.archive == nil || len(payload) == 0 {
		return
	}
	if _, err := s.archive.Store(ctx, bookingID, kind, payload); err != nil {
		s.logger(ctx, "tracking.archive.failed", map[string]any{"bookingId": bookingID, "kind": string(kind), "error": err.Error()})
	}
}

func (s *trackingService) notify(ctx context.Context, booking Booking, cmd NotifyCommand) {
	cmd.UserIDs = uniqueIDs(cmd.UserIDs)
	if len(cmd.UserIDs) == 0 {
		s.logger(ctx, "tracking.notify.skipped", map[string]any{"bookingId": booking.ID, "templateKey": cmd.TemplateKey})
		return
	}
	params := map[string]string{"aceid": booking.Aceid}
	for key, value := range cmd.Params {
		params[key] = value
	}
	cmd.Params = params
	cmd.ObjectID = booking.ID
	if _, err := s.notifications.Notify(ctx, cmd); err != nil {
		s.logger(ctx, "tracking.notify.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
	}
}

func (s *trackingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTrackingNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("tracking: repository unavailable: %w", err)
		}
	}
	return err
}

type noopMetrics struct{}

func (noopMetrics) RecordJob(context.Context, string, string, time.Duration) {}

func (noopMetrics) RecordProviderCall(context.Context, string, string, time.Duration, error) {}
