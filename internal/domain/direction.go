package domain

import "strings"

// DefaultMainCountryCode is used when no country is flagged as main.
const DefaultMainCountryCode = "BR"

// Direction is the trade direction of a shipment relative to the main country.
type Direction string

const (
	DirectionExport Direction = "export"
	DirectionImport Direction = "import"
)

// DirectionFor derives the direction from the origin port code. A shipment is an
// export iff it leaves the main country.
func DirectionFor(originCode, mainCountryCode string) Direction {
	if IsLocalPort(originCode, mainCountryCode) {
		return DirectionExport
	}
	return DirectionImport
}

// IsLocalPort reports whether the port code belongs to the main country.
func IsLocalPort(code, mainCountryCode string) bool {
	main := strings.ToUpper(strings.TrimSpace(mainCountryCode))
	if main == "" {
		main = DefaultMainCountryCode
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(code)), main)
}

// SurchargeLocation returns which end of the route carries local surcharges.
func SurchargeLocation(direction Direction, originID, destinationID string) string {
	if direction == DirectionExport {
		return originID
	}
	return destinationID
}
