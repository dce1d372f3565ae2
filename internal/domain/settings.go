package domain

import "github.com/shopspring/decimal"

// PlatformSettings is the single-row platform configuration.
type PlatformSettings struct {
	NumberOfResults         int
	HideCarrierName         bool
	NumberOfBids            int
	QuoteArchiveDays        int
	EnableBookingFeePayment bool
	UnpaidBookingDays       int
	ExportDeadlineDays      int
	ImportDeadlineDays      int
}

// DefaultPlatformSettings is used until the settings document exists.
func DefaultPlatformSettings() PlatformSettings {
	return PlatformSettings{
		NumberOfResults:    10,
		NumberOfBids:       5,
		QuoteArchiveDays:   30,
		UnpaidBookingDays:  3,
		ExportDeadlineDays: 2,
		ImportDeadlineDays: 2,
	}
}

// DeadlineDays returns the agent confirmation window for a direction.
func (s PlatformSettings) DeadlineDays(direction Direction) int {
	if direction == DirectionExport {
		return s.ExportDeadlineDays
	}
	return s.ImportDeadlineDays
}

type FeeType string

const (
	FeeBooking      FeeType = "booking"
	FeePenalty      FeeType = "penalty"
	FeeAgentBooking FeeType = "agent_booking"
	FeeService      FeeType = "service"
)

type FeeValueType string

const (
	FeeValueFixed   FeeValueType = "fixed"
	FeeValuePercent FeeValueType = "percent"
)

// Fee is a platform (global) or company (local) fee. CompanyID is empty for global fees.
type Fee struct {
	ID             string
	Type           FeeType
	ValueType      FeeValueType
	Value          decimal.Decimal
	IsActive       bool
	ShippingModeID string
	CompanyID      string
}
