package domain

import (
	"strings"
	"time"
)

// TrackStatus is a catalog status that tracks are filed under, scoped to a shipping mode.
type TrackStatus struct {
	ID                              string
	Title                           string
	ShippingModeID                  string
	MustUpdateActualDateOfDeparture bool
	AutoAddOnActualDateOfDeparture  bool
	AutoAddOnActualDateOfArrival    bool
	AutoAddOnShipmentDetailsChange  bool
	ShowAfterDeparture              bool
}

// Track is one tracking record on a booking. Vendor tracks carry the raw payload.
type Track struct {
	ID        string
	BookingID string
	StatusID  string
	Manual    bool
	CreatedBy string
	Data      map[string]any
	Route     map[string]any
	Comment   string
	CreatedAt time.Time
}

// TrackAudience selects which listing rules apply.
type TrackAudience string

const (
	TrackAudienceClient TrackAudience = "client"
	TrackAudienceAgent  TrackAudience = "agent"
)

// Sea tracking event codes with special handling.
const (
	EventVesselDepartureFirstPOL = "VDL"
	EventVesselArrivalFinalPOD   = "VAD"
)

var seaEventDescriptions = map[string]string{
	"UNK": "Unknown",
	"LTS": "Land transshipment",
	"BTS": "Barge transshipment",
	"CEP": "Container empty to shipper",
	"CPS": "Container pickup at shipper",
	"CGI": "Container arrival at first POL (Gate in)",
	"CLL": "Container loaded at first POL",
	"VDL": "Vessel departure from first POL",
	"VAT": "Vessel arrival at T/S port",
	"CDT": "Container discharge at T/S port",
	"TSD": "Transshipment delay",
	"CLT": "Container loaded at T/S port",
	"VDT": "Vessel departure from T/S",
	"VAD": "Vessel arrival at final POD",
	"CDD": "Container discharge at final POD",
	"CGO": "Container departure from final POD (Gate out)",
	"CDC": "Container delivery to consignee",
	"CER": "Container returned empty",
}

// DescribeEvent renders a vendor event code; unknown codes render as "Unknown".
func DescribeEvent(code string) string {
	if text, ok := seaEventDescriptions[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return text
	}
	return seaEventDescriptions["UNK"]
}

// KnownEventCodes returns the number of codes in the dictionary.
func KnownEventCodes() int {
	return len(seaEventDescriptions)
}
