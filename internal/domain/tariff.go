package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeCondition controls how an additional surcharge scales in volume mode.
type ChargeCondition string

const (
	ConditionWM           ChargeCondition = "w/m"
	ConditionPerWeight    ChargeCondition = "per_weight"
	ConditionPerNoOfPacks ChargeCondition = "per_no_of_packs"
	ConditionFixed        ChargeCondition = "fixed"
)

// Surcharge groups local handling costs for a carrier at one port.
type Surcharge struct {
	ID             string
	CompanyID      string
	CarrierID      string
	Direction      Direction
	LocationID     string
	ShippingModeID string
	StartDate      time.Time
	ExpirationDate time.Time
	Temporary      bool
	Archived       bool
	UsageFees      []UsageFee
	Charges        []Charge
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Window returns the surcharge validity window.
func (s Surcharge) Window() Window {
	return NewWindow(s.StartDate, s.ExpirationDate)
}

// Live reports whether the surcharge participates in overlap checks and searches.
func (s Surcharge) Live() bool {
	return !s.Archived && !s.Temporary
}

// UsageFeeFor returns the usage fee priced for containerTypeID.
func (s Surcharge) UsageFeeFor(containerTypeID string) (UsageFee, bool) {
	for _, fee := range s.UsageFees {
		if fee.ContainerTypeID == containerTypeID {
			return fee, true
		}
	}
	return UsageFee{}, false
}

// UsageFee is a per-container handling cost on a surcharge.
type UsageFee struct {
	ID              string
	ContainerTypeID string
	Currency        string
	Charge          *decimal.Decimal
	UpdatedBy       string
	UpdatedAt       time.Time
}

// Charge prices an additional surcharge on a surcharge.
type Charge struct {
	ID                    string
	AdditionalSurchargeID string
	Currency              string
	Charge                *decimal.Decimal
	Conditions            ChargeCondition
	UpdatedBy             string
	UpdatedAt             time.Time
}

// FreightRate is an agent's published price between two ports.
type FreightRate struct {
	ID                string
	CompanyID         string
	CarrierID         string
	CarrierDisclosure bool
	OriginID          string
	DestinationID     string
	ShippingModeID    string
	TransitTime       int
	IsActive          bool
	Temporary         bool
	Archived          bool
	Rates             []Rate
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Live reports whether the freight rate may be searched.
func (f FreightRate) Live() bool {
	return f.IsActive && !f.Temporary && !f.Archived
}

// RateFor returns the rate priced for containerTypeID that is valid for the whole window.
func (f FreightRate) RateFor(containerTypeID string, window Window) (Rate, bool) {
	for _, rate := range f.Rates {
		if rate.ContainerTypeID == containerTypeID && rate.ValidFor(window) {
			return rate, true
		}
	}
	return Rate{}, false
}

// RateCovering returns the first rate valid for the whole window regardless of container type.
func (f FreightRate) RateCovering(window Window) (Rate, bool) {
	for _, rate := range f.Rates {
		if rate.ValidFor(window) {
			return rate, true
		}
	}
	return Rate{}, false
}

// RelinkSurcharge replaces every link to from with to and reports whether any rate changed.
func (f *FreightRate) RelinkSurcharge(from, to string) bool {
	changed := false
	for i := range f.Rates {
		if !slices.Contains(f.Rates[i].SurchargeIDs, from) {
			continue
		}
		ids := make([]string, 0, len(f.Rates[i].SurchargeIDs))
		for _, id := range f.Rates[i].SurchargeIDs {
			if id == from {
				id = to
			}
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		f.Rates[i].SurchargeIDs = ids
		changed = true
	}
	return changed
}

// SurchargeIDs returns the distinct surcharges linked by any rate, in first-seen order.
func (f FreightRate) SurchargeIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, rate := range f.Rates {
		for _, id := range rate.SurchargeIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Rate is the price of one container type (or of the weight unit in volume mode).
type Rate struct {
	ID              string
	ContainerTypeID string
	Currency        string
	Rate            *decimal.Decimal
	StartDate       *time.Time
	ExpirationDate  *time.Time
	SurchargeIDs    []string
	UpdatedBy       string
	UpdatedAt       time.Time
}

// ValidFor reports whether the rate applies on every day of window. An unset bound is open.
func (r Rate) ValidFor(window Window) bool {
	if r.StartDate != nil && Day(*r.StartDate).After(window.Start) {
		return false
	}
	if r.ExpirationDate != nil && Day(*r.ExpirationDate).Before(window.End) {
		return false
	}
	return true
}

// Window returns the rate validity window; ok is false when either bound is unset.
func (r Rate) Window() (Window, bool) {
	if r.StartDate == nil || r.ExpirationDate == nil {
		return Window{}, false
	}
	return NewWindow(*r.StartDate, *r.ExpirationDate), true
}
