package domain

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending          BookingStatus = "pending"
	BookingStatusReceived         BookingStatus = "received"
	BookingStatusAccepted         BookingStatus = "accepted"
	BookingStatusConfirmed        BookingStatus = "confirmed"
	BookingStatusRejected         BookingStatus = "rejected"
	BookingStatusCanceledByAgent  BookingStatus = "canceled_by_agent"
	BookingStatusCanceledByClient BookingStatus = "canceled_by_client"
	BookingStatusCanceledBySystem BookingStatus = "canceled_by_system"
	BookingStatusDiscarded        BookingStatus = "discarded"
	BookingStatusCompleted        BookingStatus = "completed"
)

// ChangeRequestStatus tracks a client amendment on the parent booking.
type ChangeRequestStatus string

const (
	ChangeRequestNone      ChangeRequestStatus = ""
	ChangeRequestRequested ChangeRequestStatus = "CHANGE_REQUESTED"
	ChangeRequestConfirmed ChangeRequestStatus = "CHANGE_CONFIRMED"
)

// CancellationReasonCode classifies why a booking was cancelled.
type CancellationReasonCode string

const (
	CancellationOther           CancellationReasonCode = "other"
	CancellationRateExpired     CancellationReasonCode = "rate_expired"
	CancellationScheduleChanged CancellationReasonCode = "schedule_changed"
	CancellationNoSpace         CancellationReasonCode = "no_space"
	CancellationClientRequest   CancellationReasonCode = "client_request"
)

// CancellationReason is recorded when a booking leaves the active states through a cancel.
type CancellationReason struct {
	Reason    CancellationReasonCode
	Comment   string
	ActorID   string
	CreatedAt time.Time
}

// Booking is a client's reservation on an agent's freight rate.
type Booking struct {
	ID                  string
	Aceid               string
	ClientCompanyID     string
	ClientContactID     string
	AgentCompanyID      string
	AgentContactID      string
	FreightRateID       string
	ShippingModeID      string
	ShippingType        ShippingType
	OriginID            string
	OriginCode          string
	DestinationID       string
	DestinationCode     string
	CarrierID           string
	Direction           Direction
	Shipper             map[string]any
	ReleaseTypeID       string
	NumberOfDocuments   int
	DateFrom            time.Time
	DateTo              time.Time
	Status              BookingStatus
	ChangeRequestStatus ChangeRequestStatus
	IsAssigned          bool
	IsPaid              bool
	AutomaticTracking   bool
	VesselArrived       bool
	PaymentDueBy        *time.Time
	Charges             Charges
	CargoGroups         []CargoGroup
	OriginalBookingID   string
	Cancellation        *CancellationReason
	ShipmentDetails     *ShipmentDetails
	DateAcceptedByAgent *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsChangeRequest reports whether the booking amends another booking.
func (b Booking) IsChangeRequest() bool {
	return b.OriginalBookingID != ""
}

// ContactIDs returns the non-empty contact persons on both sides.
func (b Booking) ContactIDs() []string {
	ids := make([]string, 0, 2)
	if b.ClientContactID != "" {
		ids = append(ids, b.ClientContactID)
	}
	if b.AgentContactID != "" {
		ids = append(ids, b.AgentContactID)
	}
	return ids
}

// ShipmentDetails carries carrier references created when the agent confirms.
type ShipmentDetails struct {
	BookingNumber         string
	Vessel                string
	Voyage                string
	FlightNumber          string
	ContainerNumber       string
	Mawb                  string
	DateOfDeparture       *time.Time
	DateOfArrival         *time.Time
	ActualDateOfDeparture *time.Time
	ActualDateOfArrival   *time.Time
	DocumentCutOff        *time.Time
	CargoCutOff           *time.Time
	EmptyPickupLocation   string
	ContainerFreeTime     *int
	CargoPickupLocation   string
	CargoDropOffLocation  string
	Notes                 string
	UpdatedAt             time.Time
}
