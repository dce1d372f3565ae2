package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/payments"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/push"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/storage"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/tracking"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Booking            = domain.Booking
	BookingStatus      = domain.BookingStatus
	CargoGroup         = domain.CargoGroup
	Charges            = domain.Charges
	FreightRate        = domain.FreightRate
	Surcharge          = domain.Surcharge
	ShippingMode       = domain.ShippingMode
	ShipmentDetails    = domain.ShipmentDetails
	Notification       = domain.Notification
	NotificationView   = domain.NotificationView
	Track              = domain.Track
	Transaction        = domain.Transaction
	Quote              = domain.Quote
	QuoteOffer         = domain.QuoteOffer
	PlatformSettings   = domain.PlatformSettings
	SystemHealthReport = domain.SystemHealthReport
)

// Logger receives structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// PricingEngine prices shipments against freight rates and their surcharges.
type PricingEngine interface {
	WeightMeasurement(cargo CargoGroup, shippingType domain.ShippingType) WeightMeasurement
	PriceShipment(ctx context.Context, cmd PriceShipmentCommand) (Charges, error)
}

// ExchangeRateBook loads conversion tables into main currency.
type ExchangeRateBook interface {
	PlatformRates(ctx context.Context) (ExchangeRates, error)
	CompanyRates(ctx context.Context, companyID string) (ExchangeRates, error)
}

// SettingsProvider serves the platform settings document and fee resolution with a TTL cache.
type SettingsProvider interface {
	Platform(ctx context.Context) (PlatformSettings, error)
	Fees(ctx context.Context, companyID, shippingModeID string) (AppliedFees, error)
	MainCountryCode(ctx context.Context) string
	MainCurrency(ctx context.Context) (string, error)
	Invalidate()
}

// SearchService finds eligible freight rates and prices them.
type SearchService interface {
	SearchFreightRates(ctx context.Context, cmd SearchCommand) ([]SearchResult, error)
	QuoteSearch(ctx context.Context, cmd SearchCommand) ([]PricedSearchResult, error)
}

// TariffService authors surcharges and freight rates.
type TariffService interface {
	CreateSurcharge(ctx context.Context, cmd CreateSurchargeCommand) (Surcharge, error)
	CopySurcharge(ctx context.Context, id string) (SurchargeCopy, error)
	CreateFreightRate(ctx context.Context, cmd CreateFreightRateCommand) (FreightRate, error)
	ValidateFreightRate(ctx context.Context, rate FreightRate) error
	CopyFreightRate(ctx context.Context, id string) (FreightRateCopy, error)
	ExpiringSurcharges(ctx context.Context, from, to time.Time) ([]Surcharge, error)
	ExpiringFreightRates(ctx context.Context, from, to time.Time) ([]FreightRate, error)
}

// NotificationService records notifications and fans them out to recipients.
type NotificationService interface {
	Notify(ctx context.Context, cmd NotifyCommand) (Notification, error)
	ListForUser(ctx context.Context, userID string, page Pagination) (domain.CursorPage[NotificationView], error)
	MarkSeen(ctx context.Context, userID string, notificationIDs []string) error
	ReassignObject(ctx context.Context, fromID, toID string) error
	RequestRefetch(ctx context.Context, notifications []Notification)
	PruneOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// BookingService drives the booking lifecycle.
type BookingService interface {
	CreateBooking(ctx context.Context, cmd CreateBookingCommand) (Booking, error)
	MarkPaid(ctx context.Context, bookingID string) (Booking, error)
	Accept(ctx context.Context, cmd AcceptBookingCommand) (Booking, error)
	Reject(ctx context.Context, cmd RejectBookingCommand) (Booking, error)
	Confirm(ctx context.Context, cmd ConfirmBookingCommand) (Booking, error)
	UpdateShipmentDetails(ctx context.Context, cmd UpdateShipmentDetailsCommand) (Booking, error)
	CancelByClient(ctx context.Context, cmd CancelBookingCommand) (Booking, error)
	CancelByAgent(ctx context.Context, cmd CancelBookingCommand) (Booking, error)
	Complete(ctx context.Context, bookingID, actorID string) (Booking, error)
	RequestChange(ctx context.Context, cmd ChangeRequestCommand) (Booking, error)
	ConfirmChangeRequest(ctx context.Context, childID, actorID string) (Booking, error)
	DiscardUnpaid(ctx context.Context) (int, error)
	CancelUnconfirmed(ctx context.Context) (int, error)
	ChargesToday(ctx context.Context, bookingID string) (ChargesInMainCurrency, error)
}

// TrackingService ingests provider tracking data.
type TrackingService interface {
	SyncSeaBookings(ctx context.Context) (SeaSyncReport, error)
	RegisterAirWaybill(ctx context.Context, task AirWaybillTask) error
	AddManualTrack(ctx context.Context, cmd AddTrackCommand) (Track, error)
	ListTracks(ctx context.Context, bookingID string, audience domain.TrackAudience) ([]Track, error)
}

// PaymentService opens booking payments and reviews them until they clear or expire.
type PaymentService interface {
	OpenTransaction(ctx context.Context, booking Booking) (Transaction, error)
	ReviewTransaction(ctx context.Context, transactionID string) (Transaction, error)
	ProcessDueReviews(ctx context.Context, limit int) (int, error)
}

// QuoteService handles agent offers on client quotes.
type QuoteService interface {
	SubmitOffer(ctx context.Context, cmd SubmitOfferCommand) (QuoteOffer, error)
	ArchiveStale(ctx context.Context) (int, error)
}

// JobRunner executes scheduled jobs by name.
type JobRunner interface {
	Jobs() []JobDefinition
	Run(ctx context.Context, name string) (JobResult, error)
}

// SystemService exposes readiness reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// NotificationPublisher delivers notification pushes and email requests to the transport layer.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) error
	PublishEmail(ctx context.Context, message EmailMessage) error
}

// ChatPublisher announces operation chats to the chat transport.
type ChatPublisher interface {
	PublishChatCreated(ctx context.Context, message ChatCreatedMessage) error
}

// AirWaybillPublisher queues waybill registrations.
type AirWaybillPublisher interface {
	PublishAirWaybillTask(ctx context.Context, task AirWaybillTask) error
}

// PushSender delivers device pushes.
type PushSender interface {
	Send(ctx context.Context, tokens []string, title, body string, data map[string]string) (push.Result, error)
}

// TextRenderer renders a template key in the recipient's language.
type TextRenderer interface {
	Render(preference, key string, params map[string]string) string
}

// Locker provides cross-instance mutual exclusion.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// ReviewQueue schedules payment reviews in the future.
type ReviewQueue interface {
	Schedule(ctx context.Context, member string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Claim(ctx context.Context, member string) (bool, error)
}

// PaymentGateway creates and reviews provider charges.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, preferred string, req payments.ChargeRequest) (payments.Charge, error)
	Review(ctx context.Context, provider string, req payments.ReviewRequest) (payments.Review, error)
}

// SeaTracker queries the sea tracking provider.
type SeaTracker interface {
	Reference(ctx context.Context, query tracking.SeaQuery) (tracking.SeaResponse, error)
	Route(ctx context.Context, query tracking.SeaQuery) (tracking.SeaResponse, error)
}

// AirTracker registers waybills with the air tracking provider.
type AirTracker interface {
	Register(ctx context.Context, waybill string) (tracking.AirResponse, error)
}

// PayloadArchive keeps raw provider payloads.
type PayloadArchive interface {
	Store(ctx context.Context, bookingID string, kind storage.PayloadKind, payload []byte) (string, error)
}

// Metrics records job and provider instrumentation.
type Metrics interface {
	RecordJob(ctx context.Context, job, outcome string, elapsed time.Duration)
	RecordProviderCall(ctx context.Context, provider, operation string, elapsed time.Duration, err error)
}

// Notification push kinds.
const (
	NotificationKindNew   = "notification"
	NotificationKindFetch = "fetch_notifications"
)

// NotificationMessage is published per recipient on the notifications topic.
type NotificationMessage struct {
	Kind           string    `json:"kind"`
	Channel        string    `json:"channel"`
	UserID         string    `json:"userId"`
	NotificationID string    `json:"notificationId,omitempty"`
	Section        string    `json:"section,omitempty"`
	ActionPath     string    `json:"actionPath,omitempty"`
	Text           string    `json:"text,omitempty"`
	ObjectID       string    `json:"objectId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EmailMessage asks the mail consumer to send one email.
type EmailMessage struct {
	NotificationID string `json:"notificationId"`
	To             string `json:"to"`
	Name           string `json:"name,omitempty"`
	Language       string `json:"language,omitempty"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// ChatCreatedMessage announces the operation chat for a confirmed booking.
type ChatCreatedMessage struct {
	BookingID    string    `json:"bookingId"`
	Aceid        string    `json:"aceid"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AirWaybillTask asks the tracking worker to register a waybill.
type AirWaybillTask struct {
	BookingID string    `json:"bookingId"`
	Waybill   string    `json:"waybill"`
	QueuedAt  time.Time `json:"queuedAt"`
}

// WeightMeasurement is the chargeable weight of a cargo group.
type WeightMeasurement struct {
	GrossWeight        decimal.Decimal
	TotalVolume        decimal.Decimal
	TotalWeightPerPack decimal.Decimal
	TotalWeight        decimal.Decimal
}

// PriceShipmentCommand carries the pricing inputs. Surcharges and ExchangeRates are loaded
// when left empty.
type PriceShipmentCommand struct {
	FreightRate       FreightRate
	Surcharges        []Surcharge
	CargoGroups       []CargoGroup
	ShippingMode      ShippingMode
	MainCurrency      string
	DateFrom          time.Time
	DateTo            time.Time
	NumberOfDocuments int
	BookingFee        *domain.Fee
	ServiceFee        *domain.Fee
	CalculateFees     bool
	ExchangeRates     *ExchangeRates
}

// AppliedFees are the fees charged to a client company for a shipping mode.
type AppliedFees struct {
	Booking *domain.Fee
	Service *domain.Fee
}

// SearchCommand describes a shipment request.
type SearchCommand struct {
	ShippingModeID    string       `json:"shipping_mode" validate:"required"`
	OriginID          string       `json:"origin" validate:"required"`
	DestinationID     string       `json:"destination" validate:"required,nefield=OriginID"`
	CarrierID         string       `json:"carrier"`
	DateFrom          time.Time    `json:"date_from" validate:"required"`
	DateTo            time.Time    `json:"date_to" validate:"required,dateorder=DateFrom"`
	CargoGroups       []CargoGroup `json:"cargo_groups" validate:"required,min=1"`
	ClientCompanyID   string       `json:"client_company"`
	NumberOfDocuments int          `json:"number_of_documents"`
}

// SearchResult is an eligible freight rate with its linked surcharges.
type SearchResult struct {
	FreightRate  FreightRate
	Surcharges   []Surcharge
	CarrierTitle string
}

// PricedSearchResult adds the priced charges to a search result.
type PricedSearchResult struct {
	SearchResult
	Charges Charges
}

// CreateSurchargeCommand creates a surcharge with its children.
type CreateSurchargeCommand struct {
	CompanyID      string            `json:"company" validate:"required"`
	CarrierID      string            `json:"carrier" validate:"required"`
	LocationID     string            `json:"location" validate:"required"`
	Direction      domain.Direction  `json:"direction" validate:"required,oneof=import export"`
	ShippingModeID string            `json:"shipping_mode" validate:"required"`
	StartDate      time.Time         `json:"start_date" validate:"required"`
	ExpirationDate time.Time         `json:"expiration_date" validate:"required,dateorder=StartDate"`
	Temporary      bool              `json:"temporary"`
	UsageFees      []domain.UsageFee `json:"usage_fees"`
	Charges        []domain.Charge   `json:"charges"`
	ActorID        string            `json:"actor"`
}

// SurchargeCopy is the result of a copy-on-write edit. Children maps are keyed by the old child id.
// Relinked lists the freight rates now pointing at the copy.
type SurchargeCopy struct {
	Surcharge Surcharge
	Archived  string
	UsageFees map[string]domain.UsageFee
	Charges   map[string]domain.Charge
	Relinked  []string
}

// CreateFreightRateCommand creates a freight rate with its rates.
type CreateFreightRateCommand struct {
	CompanyID         string        `json:"company" validate:"required"`
	CarrierID         string        `json:"carrier" validate:"required"`
	CarrierDisclosure bool          `json:"carrier_disclosure"`
	OriginID          string        `json:"origin" validate:"required"`
	DestinationID     string        `json:"destination" validate:"required,nefield=OriginID"`
	ShippingModeID    string        `json:"shipping_mode" validate:"required"`
	TransitTime       int           `json:"transit_time" validate:"gte=0"`
	IsActive          bool          `json:"is_active"`
	Temporary         bool          `json:"temporary"`
	Rates             []domain.Rate `json:"rates" validate:"required,min=1"`
	ActorID           string        `json:"actor"`
}

// FreightRateCopy is the result of a copy-on-write edit of a freight rate.
type FreightRateCopy struct {
	FreightRate FreightRate
	Archived    string
	Rates       map[string]domain.Rate
}

// TariffValidationError lists container types that conflict with another freight rate.
type TariffValidationError struct {
	ContainerTypeIDs []string
}

func (e *TariffValidationError) Error() string {
	return "tariff: rates without start date exist for container types " + joinIDs(e.ContainerTypeIDs)
}

// Unwrap lets callers match ErrTariffInvalidInput.
func (e *TariffValidationError) Unwrap() error { return ErrTariffInvalidInput }

// NotifyCommand addresses a notification to users. Text is rendered per recipient from TemplateKey.
type NotifyCommand struct {
	Section     domain.NotificationSection
	ActionPath  domain.ActionPath
	TemplateKey string
	Params      map[string]string
	ObjectID    string
	UserIDs     []string
	Email       bool
}

// CreateBookingCommand books a freight rate for a client.
type CreateBookingCommand struct {
	ClientCompanyID   string         `json:"client_company" validate:"required"`
	ClientContactID   string         `json:"client_contact_person" validate:"required"`
	FreightRateID     string         `json:"freight_rate" validate:"required"`
	Shipper           map[string]any `json:"shipper"`
	ReleaseTypeID     string         `json:"release_type" validate:"required"`
	NumberOfDocuments int            `json:"number_of_documents" validate:"gte=1"`
	DateFrom          time.Time      `json:"date_from" validate:"required"`
	DateTo            time.Time      `json:"date_to" validate:"required,dateorder=DateFrom"`
	CargoGroups       []CargoGroup   `json:"cargo_groups" validate:"required,min=1"`
}

// AcceptBookingCommand assigns the agent contact person.
type AcceptBookingCommand struct {
	BookingID      string
	AgentContactID string
}

// RejectBookingCommand declines a received booking.
type RejectBookingCommand struct {
	BookingID string
	ActorID   string
	Comment   string
}

// ConfirmBookingCommand stores shipment details on an accepted booking.
type ConfirmBookingCommand struct {
	BookingID string
	ActorID   string
	Details   ShipmentDetails
}

// UpdateShipmentDetailsCommand replaces the shipment details of a confirmed booking.
type UpdateShipmentDetailsCommand struct {
	BookingID string
	ActorID   string
	Details   ShipmentDetails
}

// CancelBookingCommand cancels a booking with a reason.
type CancelBookingCommand struct {
	BookingID string
	ActorID   string
	Reason    domain.CancellationReasonCode
	Comment   string
}

// ChangeRequestCommand amends a booking through a child booking.
type ChangeRequestCommand struct {
	BookingID         string
	ActorID           string
	Shipper           map[string]any
	ReleaseTypeID     string
	NumberOfDocuments int
	DateFrom          time.Time
	DateTo            time.Time
	CargoGroups       []CargoGroup
}

// ChargesInMainCurrency re-expresses stored totals with today's billing rates.
type ChargesInMainCurrency struct {
	Currency      string
	Totals        domain.Amounts
	ExchangeRates domain.Amounts
	Total         decimal.Decimal
}

// SeaSyncReport summarises a tracking batch.
type SeaSyncReport struct {
	Checked     int
	Updated     int
	Departed    int
	Arrived     int
	Failed      int
	WrongNumber string
}

// AddTrackCommand records a manual track.
type AddTrackCommand struct {
	BookingID string
	StatusID  string
	ActorID   string
	Comment   string
}

// SubmitOfferCommand answers a quote with an agent's freight rate.
type SubmitOfferCommand struct {
	QuoteID        string
	AgentCompanyID string
	FreightRateID  string
}

// JobDefinition names a scheduled job and its cron cadence.
type JobDefinition struct {
	Name     string
	Schedule string
}

// JobResult reports one job run.
type JobResult struct {
	Name      string
	Skipped   bool
	Processed int
	StartedAt time.Time
	Duration  time.Duration
}
