package repositories

import (
	"context"
	"time"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads immutable reference data.
type CatalogRepository interface {
	ShippingMode(ctx context.Context, id string) (domain.ShippingMode, error)
	Carrier(ctx context.Context, id string) (domain.Carrier, error)
	Port(ctx context.Context, id string) (domain.Port, error)
	AdditionalSurcharges(ctx context.Context) (map[string]domain.AdditionalSurcharge, error)
	MainCountry(ctx context.Context) (domain.Country, error)
	MainCurrency(ctx context.Context) (domain.Currency, error)
	TrackStatuses(ctx context.Context, shippingModeID string) ([]domain.TrackStatus, error)
	UpsertSeed(ctx context.Context, seed domain.CatalogSeed) error
}

// UserRepository resolves companies and their members.
type UserRepository interface {
	Company(ctx context.Context, id string) (domain.Company, error)
	Get(ctx context.Context, id string) (domain.User, error)
	GetMany(ctx context.Context, ids []string) ([]domain.User, error)
	ListByCompany(ctx context.Context, companyID string, roles ...domain.Role) ([]domain.User, error)
}

// ExchangeRateRepository reads platform and per-company conversion tables.
type ExchangeRateRepository interface {
	PlatformRates(ctx context.Context) ([]domain.ExchangeRate, error)
	CompanyRates(ctx context.Context, companyID string) ([]domain.ExchangeRate, error)
}

// SettingsRepository reads the platform settings document and fee tables.
type SettingsRepository interface {
	PlatformSettings(ctx context.Context) (domain.PlatformSettings, error)
	GlobalFees(ctx context.Context) ([]domain.Fee, error)
	LocalFees(ctx context.Context, companyID string) ([]domain.Fee, error)
}

// SurchargeKey identifies the scope in which surcharge windows must not overlap.
type SurchargeKey struct {
	CompanyID      string
	CarrierID      string
	Direction      domain.Direction
	LocationID     string
	ShippingModeID string
}

// SurchargeRepository persists surcharges with their usage fees and charges.
type SurchargeRepository interface {
	Get(ctx context.Context, id string) (domain.Surcharge, error)
	GetMany(ctx context.Context, ids []string) ([]domain.Surcharge, error)
	ListByKey(ctx context.Context, key SurchargeKey) ([]domain.Surcharge, error)
	Create(ctx context.Context, surcharge domain.Surcharge) error
	// Copy clones the live surcharge id inside one transaction. build receives the original and
	// returns the copy; the original is archived and loses its children. Freight rates linking the
	// original are re-pointed to the copy in the same transaction and their ids returned.
	Copy(ctx context.Context, id string, build func(original domain.Surcharge) (domain.Surcharge, error)) (domain.Surcharge, []string, error)
	ListExpiring(ctx context.Context, from, to time.Time) ([]domain.Surcharge, error)
}

// RouteKey identifies freight rates competing on the same lane.
type RouteKey struct {
	CarrierID      string
	OriginID       string
	DestinationID  string
	ShippingModeID string
}

// FreightRateQuery narrows live freight rates for search.
type FreightRateQuery struct {
	ShippingModeID string
	OriginID       string
	DestinationID  string
	CarrierID      string
}

// FreightRateRepository persists freight rates with embedded rates.
type FreightRateRepository interface {
	Get(ctx context.Context, id string) (domain.FreightRate, error)
	Create(ctx context.Context, rate domain.FreightRate) error
	ListByRoute(ctx context.Context, key RouteKey) ([]domain.FreightRate, error)
	Search(ctx context.Context, query FreightRateQuery) ([]domain.FreightRate, error)
	// Copy behaves like SurchargeRepository.Copy for freight rates and their rates.
	Copy(ctx context.Context, id string, build func(original domain.FreightRate) (domain.FreightRate, error)) (domain.FreightRate, error)
	ListExpiring(ctx context.Context, from, to time.Time) ([]domain.FreightRate, error)
}

// BookingFilter selects bookings for scheduled jobs. Zero fields are ignored.
type BookingFilter struct {
	Statuses          []domain.BookingStatus
	ShippingType      domain.ShippingType
	Direction         domain.Direction
	AutomaticTracking *bool
	VesselArrived     *bool
	IsPaid            *bool
	OnlyOriginals     bool
	CreatedBefore     time.Time
	AcceptedBefore    time.Time
	Limit             int
}

// BookingMutation edits a booking read inside a transaction. Returning an error aborts the write.
type BookingMutation func(booking *domain.Booking) error

// BookingRepository persists bookings. Every write is transactional on the booking document.
type BookingRepository interface {
	// Create writes the booking, its cargo groups and the aceid reservation atomically.
	// A taken aceid yields a conflict error.
	Create(ctx context.Context, booking domain.Booking) error
	Get(ctx context.Context, id string) (domain.Booking, error)
	// Delete removes a booking and releases the aceid reserved by an original booking.
	Delete(ctx context.Context, id string) error
	Mutate(ctx context.Context, id string, mutate BookingMutation) (domain.Booking, error)
	// CreateChangeRequest writes child and applies mutate to its parent in one transaction.
	CreateChangeRequest(ctx context.Context, child domain.Booking, mutate BookingMutation) (domain.Booking, error)
	// ConfirmChangeRequest applies mutate to the parent and re-points the parent's
	// notifications in sections to childID in one transaction. It returns the re-pointed
	// notifications.
	ConfirmChangeRequest(ctx context.Context, parentID, childID string, sections []domain.NotificationSection, mutate BookingMutation) ([]domain.Notification, error)
	List(ctx context.Context, filter BookingFilter) ([]domain.Booking, error)
}

// TrackRepository persists tracking records.
type TrackRepository interface {
	Create(ctx context.Context, track domain.Track) error
	// UpsertAutomatic keeps a single vendor track per booking.
	UpsertAutomatic(ctx context.Context, track domain.Track) error
	ListByBooking(ctx context.Context, bookingID string) ([]domain.Track, error)
}

// NotificationRepository stores the notification log and per-user seen cursors.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListForUser(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Notification], error)
	SeenBy(ctx context.Context, userID string, notificationIDs []string) (map[string]bool, error)
	MarkSeen(ctx context.Context, userID string, notificationIDs []string, at time.Time) error
	// ReassignObject re-points notifications in sections from one object id to another and
	// returns the notifications it changed.
	ReassignObject(ctx context.Context, fromID, toID string, sections []domain.NotificationSection) ([]domain.Notification, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// TransactionRepository persists payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx domain.Transaction) error
	Get(ctx context.Context, id string) (domain.Transaction, error)
	Update(ctx context.Context, tx domain.Transaction) error
	FindOpenByBooking(ctx context.Context, bookingID string) (domain.Transaction, error)
}

// QuoteRepository persists quotes and their offers.
type QuoteRepository interface {
	Get(ctx context.Context, id string) (domain.Quote, error)
	// AddOffer stores offer unless the quote already holds maxOffers offers, which yields a conflict.
	AddOffer(ctx context.Context, offer domain.QuoteOffer, maxOffers int) error
	ArchiveStale(ctx context.Context, createdBefore, dateToBefore time.Time) (int, error)
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
