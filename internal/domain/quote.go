package domain

import "time"

// Quote is a client's published request for offers.
type Quote struct {
	ID             string
	CompanyID      string
	OriginID       string
	DestinationID  string
	ShippingModeID string
	DateFrom       time.Time
	DateTo         time.Time
	CargoGroups    []CargoGroup
	IsActive       bool
	IsArchived     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QuoteOffer is an agent's priced answer to a quote.
type QuoteOffer struct {
	ID             string
	QuoteID        string
	AgentCompanyID string
	FreightRateID  string
	Charges        Charges
	CreatedAt      time.Time
}
