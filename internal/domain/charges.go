package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

// ChargesSchemaVersion is written into every frozen snapshot.
const ChargesSchemaVersion = 1

// ErrUnsupportedChargesSchema is returned when a stored snapshot is newer than this build understands.
var ErrUnsupportedChargesSchema = errors.New("charges: unsupported schema version")

// Amounts maps a currency code to an amount.
type Amounts map[string]decimal.Decimal

// Add accumulates amount under currency.
func (a Amounts) Add(currency string, amount decimal.Decimal) {
	a[currency] = a[currency].Add(amount)
}

// Currencies returns the currency codes in lexical order.
func (a Amounts) Currencies() []string {
	return slices.Sorted(maps.Keys(a))
}

// Clone copies the map.
func (a Amounts) Clone() Amounts {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// ChargeLine is a priced item: cost per pack and subtotal for the line.
type ChargeLine struct {
	Currency string          `json:"currency"`
	Cost     decimal.Decimal `json:"cost"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// FreightLine is the freight portion of a cargo line.
type FreightLine struct {
	ChargeLine
	BookingFee *decimal.Decimal `json:"booking_fee,omitempty"`
}

// DocFee prices the documentation charge.
type DocFee struct {
	Currency string          `json:"currency"`
	Cost     decimal.Decimal `json:"cost"`
	Volume   int             `json:"volume"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// PayToBook is the amount a client pays before the booking reaches the agent.
type PayToBook struct {
	ServiceFee decimal.Decimal `json:"service_fee"`
	BookingFee decimal.Decimal `json:"booking_fee"`
	PayToBook  decimal.Decimal `json:"pay_to_book"`
	Currency   string          `json:"currency"`
}

// CargoSnapshot echoes the priced cargo group.
type CargoSnapshot struct {
	ContainerTypeID string          `json:"container_type,omitempty"`
	PackagingTypeID string          `json:"packaging_type,omitempty"`
	WeightUnit      WeightUnit      `json:"weight_measurement,omitempty"`
	LengthUnit      LengthUnit      `json:"length_measurement,omitempty"`
	Volume          int             `json:"volume"`
	Height          decimal.Decimal `json:"height"`
	Length          decimal.Decimal `json:"length"`
	Width           decimal.Decimal `json:"width"`
	Weight          decimal.Decimal `json:"weight"`
	Dangerous       bool            `json:"dangerous"`
	Frozen          Temperature     `json:"frozen,omitempty"`
	TotalWM         decimal.Decimal `json:"total_wm"`
}

// CargoCharges is the priced breakdown of one cargo group. Additional surcharges
// are flattened next to the fixed keys when encoded.
type CargoCharges struct {
	Freight     FreightLine
	Surcharges  map[string]ChargeLine
	UsageFee    *ChargeLine
	UsageFeeKey string
	Volume      int
	CargoType   string
	CargoGroup  CargoSnapshot
}

const (
	usageFeeKeyVolume    = "usage_fee"
	usageFeeKeyContainer = "handling"
)

var reservedCargoKeys = []string{"freight", usageFeeKeyVolume, usageFeeKeyContainer, "volume", "cargo_type", "cargo_group"}

// UsageFeeKeyFor returns the slot used for the usage fee.
func UsageFeeKeyFor(volumeMode bool) string {
	if volumeMode {
		return usageFeeKeyVolume
	}
	return usageFeeKeyContainer
}

// IsReservedCargoKey reports whether key collides with a fixed cargo line key.
func IsReservedCargoKey(key string) bool {
	return slices.Contains(reservedCargoKeys, key)
}

// MarshalJSON flattens surcharge slots into the object.
func (c CargoCharges) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Surcharges)+5)
	for key, line := range c.Surcharges {
		out[key] = line
	}
	out["freight"] = c.Freight
	if c.UsageFee != nil {
		key := c.UsageFeeKey
		if key == "" {
			key = usageFeeKeyContainer
		}
		out[key] = c.UsageFee
	}
	out["volume"] = c.Volume
	out["cargo_type"] = c.CargoType
	out["cargo_group"] = c.CargoGroup
	return json.Marshal(out)
}

// UnmarshalJSON restores surcharge slots from unknown keys.
func (c *CargoCharges) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = CargoCharges{}
	for key, value := range raw {
		var err error
		switch key {
		case "freight":
			err = json.Unmarshal(value, &c.Freight)
		case usageFeeKeyVolume, usageFeeKeyContainer:
			var line ChargeLine
			err = json.Unmarshal(value, &line)
			c.UsageFee = &line
			c.UsageFeeKey = key
		case "volume":
			err = json.Unmarshal(value, &c.Volume)
		case "cargo_type":
			err = json.Unmarshal(value, &c.CargoType)
		case "cargo_group":
			err = json.Unmarshal(value, &c.CargoGroup)
		default:
			var line ChargeLine
			err = json.Unmarshal(value, &line)
			if c.Surcharges == nil {
				c.Surcharges = make(map[string]ChargeLine)
			}
			c.Surcharges[key] = line
		}
		if err != nil {
			return fmt.Errorf("charges: decode %q: %w", key, err)
		}
	}
	return nil
}

// Charges is the frozen pricing snapshot stored on a booking.
type Charges struct {
	SchemaVersion    int            `json:"schema_version"`
	CargoGroups      []CargoCharges `json:"cargo_groups"`
	TotalFreightRate Amounts        `json:"total_freight_rate"`
	TotalSurcharge   Amounts        `json:"total_surcharge"`
	DocFee           *DocFee        `json:"doc_fee,omitempty"`
	BookingFee       Amounts        `json:"booking_fee,omitempty"`
	ExchangeRates    Amounts        `json:"exchange_rates,omitempty"`
	ServiceFee       *ChargeLine    `json:"service_fee,omitempty"`
	PayToBook        *PayToBook     `json:"pay_to_book,omitempty"`
	Totals           Amounts        `json:"totals"`
}

// PayToBookAmount returns the gated amount, zero when no fees were calculated.
func (c Charges) PayToBookAmount() decimal.Decimal {
	if c.PayToBook == nil {
		return decimal.Zero
	}
	return c.PayToBook.PayToBook
}

// EncodeCharges serialises a snapshot, stamping the current schema version.
func EncodeCharges(c Charges) ([]byte, error) {
	c.SchemaVersion = ChargesSchemaVersion
	return json.Marshal(c)
}

// DecodeCharges parses a stored snapshot. Snapshots written before versioning are read as version 1.
func DecodeCharges(data []byte) (Charges, error) {
	var c Charges
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Charges{}, fmt.Errorf("charges: decode: %w", err)
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = ChargesSchemaVersion
	}
	if c.SchemaVersion > ChargesSchemaVersion {
		return Charges{}, fmt.Errorf("%w: %d", ErrUnsupportedChargesSchema, c.SchemaVersion)
	}
	return c, nil
}
