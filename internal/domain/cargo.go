package domain

import "github.com/shopspring/decimal"

type WeightUnit string

const (
	WeightKilograms WeightUnit = "kg"
	WeightTonnes    WeightUnit = "t"
)

type LengthUnit string

const (
	LengthCentimetres LengthUnit = "cm"
	LengthMetres      LengthUnit = "m"
)

// Temperature marks refrigerated cargo.
type Temperature string

const (
	TemperatureNone   Temperature = ""
	TemperatureFrozen Temperature = "frozen"
	TemperatureCold   Temperature = "cold"
)

// CargoGroup is one homogeneous line of a shipment request.
type CargoGroup struct {
	ID              string
	ContainerTypeID string
	PackagingTypeID string
	WeightUnit      WeightUnit
	LengthUnit      LengthUnit
	Volume          int
	Height          decimal.Decimal
	Length          decimal.Decimal
	Width           decimal.Decimal
	Weight          decimal.Decimal
	Dangerous       bool
	Frozen          Temperature
	TotalWM         *decimal.Decimal
	Description     string
}

// Refrigerated reports whether cold-chain surcharges apply.
func (c CargoGroup) Refrigerated() bool {
	return c.Frozen == TemperatureFrozen || c.Frozen == TemperatureCold
}

// CargoTypeID returns the container type in container mode or the packaging type otherwise.
func (c CargoGroup) CargoTypeID() string {
	if c.ContainerTypeID != "" {
		return c.ContainerTypeID
	}
	return c.PackagingTypeID
}
