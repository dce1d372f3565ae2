package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/i18n"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/observability"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

// Scheduled job names.
const (
	JobArchiveQuotes              = "archive_quotes"
	JobDiscardUnpaidBookings      = "discard_unpaid_bookings"
	JobCancelUnconfirmedBookings  = "cancel_unconfirmed_bookings"
	JobTrackSeaOperations         = "track_sea_operations"
	JobDeleteOldNotifications     = "delete_old_notifications"
	JobNotifyExpiringSurcharges   = "notify_users_of_expiring_surcharges"
	JobNotifyExpiringFreightRates = "notify_users_of_expiring_freight_rates"
	JobNotifyImportSeaArrival     = "notify_users_of_import_sea_shipment_arrival"
)

const (
	scheduleDaily       = "0 0 * * *"
	scheduleEvery3Hours = "0 */3 * * *"

	defaultJobLockTTL   = 30 * time.Minute
	notificationMaxAge  = 30 * 24 * time.Hour
	expiryReminderDays  = 5
	arrivalReminderDays = 3
	maxNoticeDays       = 30
)

var (
	// ErrJobUnknown indicates the job name is not registered.
	ErrJobUnknown = errors.New("jobs: unknown job")
)

// JobRunnerDeps bundles collaborators for the scheduled jobs.
type JobRunnerDeps struct {
	Locker        Locker
	Quotes        QuoteService
	Bookings      BookingService
	Tracking      TrackingService
	Notifications NotificationService
	Tariffs       TariffService
	BookingStore  repositories.BookingRepository
	Users         repositories.UserRepository
	Catalog       repositories.CatalogRepository
	Metrics       Metrics
	LockTTL       time.Duration
	Clock         func() time.Time
	Logger        Logger
}

type jobFunc func(ctx context.Context) (int, error)

type jobRunner struct {
	locker        Locker
	notifications NotificationService
	tariffs       TariffService
	bookings      repositories.BookingRepository
	users         repositories.UserRepository
	catalog       repositories.CatalogRepository
	metrics       Metrics
	lockTTL       time.Duration
	clock         func() time.Time
	logger        Logger

	definitions []JobDefinition
	handlers    map[string]jobFunc
}

var _ JobRunner = (*jobRunner)(nil)

// NewJobRunner registers the scheduled jobs.
func NewJobRunner(deps JobRunnerDeps) (JobRunner, error) {
	switch {
	case deps.Locker == nil:
		return nil, errors.New("job runner: locker is required")
	case deps.Quotes == nil:
		return nil, errors.New("job runner: quote service is required")
	case deps.Bookings == nil:
		return nil, errors.New("job runner: booking service is required")
	case deps.Tracking == nil:
		return nil, errors.New("job runner: tracking service is required")
	case deps.Notifications == nil:
		return nil, errors.New("job runner: notification service is required")
	case deps.Tariffs == nil:
		return nil, errors.New("job runner: tariff service is required")
	case deps.BookingStore == nil:
		return nil, errors.New("job runner: booking repository is required")
	case deps.Users == nil:
		return nil, errors.New("job runner: user repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("job runner: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultJobLockTTL
	}
	r := &jobRunner{
		locker:        deps.Locker,
		notifications: deps.Notifications,
		tariffs:       deps.Tariffs,
		bookings:      deps.BookingStore,
		users:         deps.Users,
		catalog:       deps.Catalog,
		metrics:       metrics,
		lockTTL:       ttl,
		clock:         func() time.Time { return clock().UTC() },
		logger:        logger,
		handlers:      map[string]jobFunc{},
	}
	r.register(JobArchiveQuotes, scheduleDaily, deps.Quotes.ArchiveStale)
	r.register(JobDiscardUnpaidBookings, scheduleDaily, deps.Bookings.DiscardUnpaid)
	r.register(JobCancelUnconfirmedBookings, scheduleDaily, deps.Bookings.CancelUnconfirmed)
	r.register(JobTrackSeaOperations, scheduleEvery3Hours, func(ctx context.Context) (int, error) {
		report, err := deps.Tracking.SyncSeaBookings(ctx)
		return report.Updated, err
	})
	r.register(JobDeleteOldNotifications, scheduleDaily, func(ctx context.Context) (int, error) {
		return deps.Notifications.PruneOlderThan(ctx, notificationMaxAge)
	})
	r.register(JobNotifyExpiringSurcharges, scheduleDaily, r.notifyExpiringSurcharges)
	r.register(JobNotifyExpiringFreightRates, scheduleDaily, r.notifyExpiringFreightRates)
	r.register(JobNotifyImportSeaArrival, scheduleDaily, r.notifyImportSeaArrival)
	return r, nil
}

func (r *jobRunner) register(name, schedule string, fn jobFunc) {
	r.definitions = append(r.definitions, JobDefinition{Name: name, Schedule: schedule})
	r.handlers[name] = fn
}

func (r *jobRunner) Jobs() []JobDefinition {
	return slices.Clone(r.definitions)
}

// Run executes the named job unless another instance holds its lock.
func (r *jobRunner) Run(ctx context.Context, name string) (JobResult, error) {
	fn, ok := r.handlers[name]
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobUnknown, name)
	}
	ctx, span := observability.StartSpan(ctx, "jobs.run", attribute.String("job.name", name))
	defer span.End()

	result := JobResult{Name: name, StartedAt: r.clock()}
	release, acquired, err := r.locker.Acquire(ctx, "jobs:"+name, r.lockTTL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("jobs: acquire lock for %s: %w", name, err)
	}
	if !acquired {
		result.Skipped = true
		r.metrics.RecordJob(ctx, name, "skipped", 0)
		r.logger(ctx, "jobs.skipped", map[string]any{"job": name})
		return result, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger(ctx, "jobs.release_failed", map[string]any{"job": name, "error": err.Error()})
		}
	}()

	started := time.Now()
	processed, err := fn(ctx)
	result.Processed = processed
	result.Duration = time.Since(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordJob(ctx, name, "error", result.Duration)
		r.logger(ctx, "jobs.failed", map[string]any{"job": name, "processed": processed, "error": err.Error()})
		return result, err
	}
	span.SetAttributes(attribute.Int("job.processed", processed))
	r.metrics.RecordJob(ctx, name, "ok", result.Duration)
	r.logger(ctx, "jobs.completed", map[string]any{"job": name, "processed": processed, "durationMs": result.Duration.Milliseconds()})
	return result, nil
}

// reminderRecipients buckets company users by the day offset they want reminders on.
func (r *jobRunner) reminderRecipients(ctx context.Context, companyID string, leadDays int, cache map[string]map[int][]string, roles ...domain.Role) (map[int][]string, error) {
	if bucket, ok := cache[companyID]; ok {
		return bucket, nil
	}
	users, err := r.users.ListByCompany(ctx, companyID, roles...)
	if err != nil {
		return nil, err
	}
	bucket := map[int][]string{}
	for _, user := range users {
		offset := leadDays + min(max(user.NoticeDays, 0), maxNoticeDays)
		bucket[offset] = append(bucket[offset], user.ID)
	}
	cache[companyID] = bucket
	return bucket, nil
}

func (r *jobRunner) notifyExpiringSurcharges(ctx context.Context) (int, error) {
	today := domain.Day(r.clock())
	items, err := r.tariffs.ExpiringSurcharges(ctx, today.AddDate(0, 0, expiryReminderDays), today.AddDate(0, 0, expiryReminderDays+maxNoticeDays))
	if err != nil {
		return 0, err
	}
	cache := map[string]map[int][]string{}
	sent := 0
	for _, item := range items {
		recipients, err := r.reminderRecipients(ctx, item.CompanyID, expiryReminderDays, cache, domain.RoleMaster, domain.RoleAgent)
		if err != nil {
			r.logger(ctx, "jobs.recipients_failed", map[string]any{"companyId": item.CompanyID, "error": err.Error()})
			continue
		}
		expires := domain.Day(item.ExpirationDate)
		userIDs := recipients[daysBetween(today, expires)]
		if len(userIDs) == 0 {
			continue
		}
		params := map[string]string{
			"carrier":  r.carrierName(ctx, item.CarrierID),
			"location": r.portName(ctx, item.LocationID),
			"date":     expires.Format(time.DateOnly),
		}
		if r.send(ctx, NotifyCommand{
			Section:     domain.SectionSurcharges,
			ActionPath:  domain.ActionSurcharge,
			TemplateKey: i18n.KeySurchargeExpiring,
			Params:      params,
			ObjectID:    item.ID,
			UserIDs:     userIDs,
		}) {
			sent++
		}
	}
	return sent, nil
}

func (r *jobRunner) notifyExpiringFreightRates(ctx context.Context) (int, error) {
	today := domain.Day(r.clock())
	from := today.AddDate(0, 0, expiryReminderDays)
	to := today.AddDate(0, 0, expiryReminderDays+maxNoticeDays)
	items, err := r.tariffs.ExpiringFreightRates(ctx, from, to)
	if err != nil {
		return 0, err
	}
	cache := map[string]map[int][]string{}
	sent := 0
	for _, item := range items {
		expires, ok := earliestExpiration(item, from, to)
		if !ok {
			continue
		}
		recipients, err := r.reminderRecipients(ctx, item.CompanyID, expiryReminderDays, cache, domain.RoleMaster, domain.RoleAgent)
		if err != nil {
			r.logger(ctx, "jobs.recipients_failed", map[string]any{"companyId": item.CompanyID, "error": err.Error()})
			continue
		}
		userIDs := recipients[daysBetween(today, expires)]
		if len(userIDs) == 0 {
			continue
		}
		params := map[string]string{
			"carrier":     r.carrierName(ctx, item.CarrierID),
			"origin":      r.portName(ctx, item.OriginID),
			"destination": r.portName(ctx, item.DestinationID),
			"date":        expires.Format(time.DateOnly),
		}
		if r.send(ctx, NotifyCommand{
			Section:     domain.SectionFreightRates,
			ActionPath:  domain.ActionFreightRate,
			TemplateKey: i18n.KeyFreightRateExpiring,
			Params:      params,
			ObjectID:    item.ID,
			UserIDs:     userIDs,
		}) {
			sent++
		}
	}
	return sent, nil
}

func (r *jobRunner) notifyImportSeaArrival(ctx context.Context) (int, error) {
	notArrived := false
	bookings, err := r.bookings.List(ctx, repositories.BookingFilter{
		Statuses:      []BookingStatus{domain.BookingStatusConfirmed},
		ShippingType:  domain.ShippingTypeSea,
		Direction:     domain.DirectionImport,
		VesselArrived: &notArrived,
		OnlyOriginals: true,
	})
	if err != nil {
		return 0, err
	}
	today := domain.Day(r.clock())
	cache := map[string]map[int][]string{}
	sent := 0
	for _, booking := range bookings {
		if booking.ShipmentDetails == nil || booking.ShipmentDetails.DateOfArrival == nil {
			continue
		}
		recipients, err := r.reminderRecipients(ctx, booking.ClientCompanyID, arrivalReminderDays, cache, domain.RoleMaster, domain.RoleClient)
		if err != nil {
			r.logger(ctx, "jobs.recipients_failed", map[string]any{"companyId": booking.ClientCompanyID, "error": err.Error()})
			continue
		}
		arrival := domain.Day(*booking.ShipmentDetails.DateOfArrival)
		userIDs := recipients[daysBetween(today, arrival)]
		if len(userIDs) == 0 {
			continue
		}
		if r.send(ctx, NotifyCommand{
			Section:     domain.SectionOperationsImport,
			ActionPath:  domain.ActionOperation,
			TemplateKey: i18n.KeyOperationArrivingSoon,
			Params:      map[string]string{"aceid": booking.Aceid, "date": arrival.Format(time.DateOnly)},
			ObjectID:    booking.ID,
			UserIDs:     userIDs,
		}) {
			sent++
		}
	}
	return sent, nil
}

func (r *jobRunner) send(ctx context.Context, cmd NotifyCommand) bool {
	if _, err := r.notifications.Notify(ctx, cmd); err != nil {
		r.logger(ctx, "jobs.notify_failed", map[string]any{"objectId": cmd.ObjectID, "template": cmd.TemplateKey, "error": err.Error()})
		return false
	}
	return true
}

func (r *jobRunner) carrierName(ctx context.Context, id string) string {
	carrier, err := r.catalog.Carrier(ctx, id)
	if err != nil || carrier.Title == "" {
		return id
	}
	return carrier.Title
}

func (r *jobRunner) portName(ctx context.Context, id string) string {
	port, err := r.catalog.Port(ctx, id)
	if err != nil || port.Name == "" {
		return id
	}
	return port.Name
}

func earliestExpiration(rate FreightRate, from, to time.Time) (time.Time, bool) {
	var earliest time.Time
	for _, item := range rate.Rates {
		if item.ExpirationDate == nil {
			continue
		}
		day := domain.Day(*item.ExpirationDate)
		if day.Before(from) || day.After(to) {
			continue
		}
		if earliest.IsZero() || day.Before(earliest) {
			earliest = day
		}
	}
	return earliest, !earliest.IsZero()
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
