package domain

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDirectionFor(t *testing.T) {
	cases := []struct {
		origin string
		main   string
		want   Direction
	}{
		{origin: "BRSSZ", main: "BR", want: DirectionExport},
		{origin: "brssz", main: "", want: DirectionExport},
		{origin: "USNYC", main: "BR", want: DirectionImport},
		{origin: "USNYC", main: "US", want: DirectionExport},
	}
	for _, tc := range cases {
		if got := DirectionFor(tc.origin, tc.main); got != tc.want {
			t.Fatalf("DirectionFor(%q, %q) = %q, want %q", tc.origin, tc.main, got, tc.want)
		}
	}
}

func TestDescribeEvent(t *testing.T) {
	if KnownEventCodes() != 18 {
		t.Fatalf("expected 18 event codes, got %d", KnownEventCodes())
	}
	if got := DescribeEvent("VDL"); got != "Vessel departure from first POL" {
		t.Fatalf("unexpected VDL text %q", got)
	}
	if got := DescribeEvent("cer"); got != "Container returned empty" {
		t.Fatalf("unexpected CER text %q", got)
	}
	if got := DescribeEvent("XYZ"); got != "Unknown" {
		t.Fatalf("expected Unknown, got %q", got)
	}
}

func TestWindowIntersectsAndCovers(t *testing.T) {
	day := func(m, d int) time.Time { return time.Date(2021, time.Month(m), d, 0, 0, 0, 0, time.UTC) }
	year := NewWindow(day(1, 1), day(12, 31))
	march := NewWindow(day(3, 1), day(3, 31))

	if !year.Covers(march) || march.Covers(year) {
		t.Fatalf("covers mismatch")
	}
	if !march.Intersects(NewWindow(day(3, 31), day(4, 10))) {
		t.Fatalf("expected touching windows to intersect")
	}
	if march.Intersects(NewWindow(day(4, 1), day(4, 10))) {
		t.Fatalf("expected disjoint windows")
	}
}

func TestFreightRateRateForHonoursValidity(t *testing.T) {
	day := func(m time.Month, d int) *time.Time {
		v := time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	rate := FreightRate{Rates: []Rate{
		{ID: "march", ContainerTypeID: "20dv", StartDate: day(3, 1), ExpirationDate: day(3, 31)},
		{ID: "april", ContainerTypeID: "20dv", StartDate: day(4, 1), ExpirationDate: day(4, 30)},
		{ID: "open", ContainerTypeID: "40hc", StartDate: day(3, 15)},
	}}

	got, ok := rate.RateFor("20dv", NewWindow(*day(4, 5), *day(4, 12)))
	if !ok || got.ID != "april" {
		t.Fatalf("expected april rate, got %+v ok=%v", got, ok)
	}
	if _, ok := rate.RateFor("20dv", NewWindow(*day(3, 28), *day(4, 3))); ok {
		t.Fatalf("a window straddling two rates must not match either")
	}
	if got, ok := rate.RateFor("40hc", NewWindow(*day(6, 1), *day(6, 9))); !ok || got.ID != "open" {
		t.Fatalf("open-ended rate should match, got %+v ok=%v", got, ok)
	}
	if _, ok := rate.RateFor("40hc", NewWindow(*day(3, 1), *day(3, 20))); ok {
		t.Fatalf("rate starting mid-window must not match")
	}
	if got, ok := rate.RateCovering(NewWindow(*day(3, 16), *day(3, 18))); !ok || got.ID != "march" {
		t.Fatalf("expected first covering rate, got %+v ok=%v", got, ok)
	}
}

func TestFreightRateRelinkSurcharge(t *testing.T) {
	rate := FreightRate{Rates: []Rate{
		{ID: "r-1", SurchargeIDs: []string{"old", "other"}},
		{ID: "r-2", SurchargeIDs: []string{"new", "old"}},
		{ID: "r-3", SurchargeIDs: []string{"other"}},
	}}
	shared := rate.Rates[0].SurchargeIDs

	if !rate.RelinkSurcharge("old", "new") {
		t.Fatalf("expected relink to report a change")
	}
	if !slices.Equal(rate.Rates[0].SurchargeIDs, []string{"new", "other"}) {
		t.Fatalf("unexpected r-1 links %v", rate.Rates[0].SurchargeIDs)
	}
	if !slices.Equal(rate.Rates[1].SurchargeIDs, []string{"new"}) {
		t.Fatalf("duplicate link must collapse, got %v", rate.Rates[1].SurchargeIDs)
	}
	if shared[0] != "old" {
		t.Fatalf("relink must not write through the previous slice")
	}
	if rate.RelinkSurcharge("old", "new") {
		t.Fatalf("second relink should be a no-op")
	}
}

func TestCargoChargesJSONFlattensSurchargeSlots(t *testing.T) {
	usage := ChargeLine{Currency: "USD", Cost: decimal.NewFromInt(100), Subtotal: decimal.NewFromInt(100)}
	line := CargoCharges{
		Freight:     FreightLine{ChargeLine: ChargeLine{Currency: "USD", Cost: decimal.NewFromInt(1500), Subtotal: decimal.NewFromInt(1500)}},
		Surcharges:  map[string]ChargeLine{"isps": {Currency: "USD", Cost: decimal.NewFromInt(50), Subtotal: decimal.NewFromInt(50)}},
		UsageFee:    &usage,
		UsageFeeKey: UsageFeeKeyFor(false),
		Volume:      1,
		CargoType:   "20DV",
	}

	data, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"freight", "isps", "handling", "volume", "cargo_type", "cargo_group"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected key %q in %s", key, data)
		}
	}

	var decoded CargoCharges
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.UsageFeeKey != "handling" || decoded.UsageFee == nil || !decoded.UsageFee.Subtotal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("usage fee not restored: %+v", decoded.UsageFee)
	}
	if got := decoded.Surcharges["isps"].Subtotal; !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("isps subtotal = %s", got)
	}
}

func TestDecodeChargesRejectsNewerSchema(t *testing.T) {
	if _, err := DecodeCharges([]byte(`{"schema_version": 9, "totals": {}}`)); err == nil {
		t.Fatalf("expected schema error")
	}
	charges, err := DecodeCharges([]byte(`{"totals": {"USD": "10"}}`))
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if charges.SchemaVersion != ChargesSchemaVersion {
		t.Fatalf("expected legacy snapshot to read as version %d", ChargesSchemaVersion)
	}
	if !charges.Totals["USD"].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected totals %v", charges.Totals)
	}
}

func TestExchangeRateEffective(t *testing.T) {
	rate := ExchangeRate{Currency: "USD", Rate: decimal.RequireFromString("5.00"), Spread: decimal.RequireFromString("2")}
	if got := rate.Effective(); !got.Equal(decimal.RequireFromString("5.10")) {
		t.Fatalf("effective = %s", got)
	}
}
