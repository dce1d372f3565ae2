package domain

import "time"

// NotificationSection groups notifications in the user inbox.
type NotificationSection string

const (
	SectionSurcharges       NotificationSection = "surcharges"
	SectionFreightRates     NotificationSection = "freight_rates"
	SectionRequests         NotificationSection = "requests"
	SectionOperations       NotificationSection = "operations"
	SectionOperationsImport NotificationSection = "operations_import"
	SectionOperationsExport NotificationSection = "operations_export"
	SectionChats            NotificationSection = "chats"
)

// OperationsSectionFor returns the directional operations section.
func OperationsSectionFor(direction Direction) NotificationSection {
	if direction == DirectionExport {
		return SectionOperationsExport
	}
	return SectionOperationsImport
}

// OperationsSections lists the sections that follow a booking into its change request.
func OperationsSections() []NotificationSection {
	return []NotificationSection{SectionOperations, SectionOperationsImport, SectionOperationsExport}
}

// IsOperations reports whether the section belongs to the operations family.
func (s NotificationSection) IsOperations() bool {
	return s == SectionOperations || s == SectionOperationsImport || s == SectionOperationsExport
}

// ActionPath tells the client which screen the notification opens.
type ActionPath string

const (
	ActionBooking     ActionPath = "booking"
	ActionBilling     ActionPath = "billing"
	ActionOperation   ActionPath = "operation"
	ActionSurcharge   ActionPath = "surcharge"
	ActionFreightRate ActionPath = "freight_rate"
	ActionSupport     ActionPath = "support"
)

// Notification is an append-only inbox event addressed to several users.
type Notification struct {
	ID           string
	Section      NotificationSection
	ActionPath   ActionPath
	TemplateKey  string
	Params       map[string]string
	ObjectID     string
	RecipientIDs []string
	Email        bool
	CreatedAt    time.Time
}

// NotificationView is a notification rendered for one recipient.
type NotificationView struct {
	ID         string
	Section    NotificationSection
	ActionPath ActionPath
	Text       string
	ObjectID   string
	Seen       bool
	CreatedAt  time.Time
}
