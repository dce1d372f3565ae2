package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
)

func dec(value string) decimal.Decimal { return decimal.RequireFromString(value) }

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s got %s %v", want, got.String(), msgAndArgs)
}

var (
	pricingFrom = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	pricingTo   = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
)

func pricingCatalog() *stubCatalogRepo {
	return &stubCatalogRepo{additional: map[string]domain.AdditionalSurcharge{
		"doc":      {ID: "doc", Title: "Documentation", IsDocument: true},
		"isps":     {ID: "isps", Title: "ISPS"},
		"fuel":     {ID: "fuel", Title: "Fuel surcharge"},
		"security": {ID: "security", Title: "Security"},
		"terminal": {ID: "terminal", Title: "Terminal handling"},
		"dg":       {ID: "dg", Title: "Dangerous goods", IsDangerous: true},
		"reefer":   {ID: "reefer", Title: "Reefer", IsCold: true},
	}}
}

func fclMode() ShippingMode {
	return ShippingMode{ID: "fcl", Title: "FCL", ShippingType: domain.ShippingTypeSea, HasFreightContainers: true, HasSurchargeContainers: true}
}

func airMode() ShippingMode {
	return ShippingMode{ID: "air-loose", Title: "Loose cargo", ShippingType: domain.ShippingTypeAir, HasSurchargeContainers: true, IsNeedVolume: true}
}

func fclSurcharge() Surcharge {
	return Surcharge{
		ID:             "sur-1",
		ShippingModeID: "fcl",
		StartDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		UsageFees:      []domain.UsageFee{{ID: "uf-1", ContainerTypeID: "20dv", Currency: "USD", Charge: decPtr("100")}},
		Charges: []domain.Charge{
			{ID: "ch-1", AdditionalSurchargeID: "isps", Currency: "USD", Charge: decPtr("50"), Conditions: domain.ConditionFixed},
			{ID: "ch-2", AdditionalSurchargeID: "doc", Currency: "USD", Charge: decPtr("75"), Conditions: domain.ConditionFixed},
			{ID: "ch-3", AdditionalSurchargeID: "dg", Currency: "USD", Charge: decPtr("300"), Conditions: domain.ConditionFixed},
		},
	}
}

func fclFreightRate() FreightRate {
	return FreightRate{
		ID:             "fr-1",
		ShippingModeID: "fcl",
		Rates:          []domain.Rate{{ID: "r-1", ContainerTypeID: "20dv", Currency: "USD", Rate: decPtr("1500"), SurchargeIDs: []string{"sur-1"}}},
	}
}

func newTestPricingEngine(t *testing.T, surcharges *stubSurchargeRepo, rates ExchangeRates) PricingEngine {
	t.Helper()
	if surcharges == nil {
		surcharges = &stubSurchargeRepo{}
	}
	engine, err := NewPricingEngine(PricingEngineDeps{
		Surcharges:    surcharges,
		Catalog:       pricingCatalog(),
		ExchangeRates: stubExchangeBook{rates: rates},
	})
	require.NoError(t, err)
	return engine
}

func fclCommand(volume int) PriceShipmentCommand {
	return PriceShipmentCommand{
		FreightRate:       fclFreightRate(),
		Surcharges:        []Surcharge{fclSurcharge()},
		CargoGroups:       []CargoGroup{{ContainerTypeID: "20dv", Volume: volume}},
		ShippingMode:      fclMode(),
		MainCurrency:      "USD",
		DateFrom:          pricingFrom,
		DateTo:            pricingTo,
		NumberOfDocuments: 1,
	}
}

func TestWeightMeasurement(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	cases := []struct {
		name         string
		cargo        CargoGroup
		shippingType domain.ShippingType
		perPack      string
		total        string
	}{
		{
			name:         "air volumetric below gross",
			cargo:        CargoGroup{Volume: 3, Weight: dec("500"), WeightUnit: domain.WeightKilograms, Height: dec("120"), Length: dec("100"), Width: dec("80"), LengthUnit: domain.LengthCentimetres},
			shippingType: domain.ShippingTypeAir,
			perPack:      "500",
			total:        "1500",
		},
		{
			name:         "air volumetric wins",
			cargo:        CargoGroup{Volume: 2, Weight: dec("10"), WeightUnit: domain.WeightKilograms, Height: dec("60"), Length: dec("50"), Width: dec("40"), LengthUnit: domain.LengthCentimetres},
			shippingType: domain.ShippingTypeAir,
			perPack:      "20",
			total:        "40",
		},
		{
			name:         "air tonnes and metres",
			cargo:        CargoGroup{Volume: 1, Weight: dec("0.2"), WeightUnit: domain.WeightTonnes, Height: dec("1"), Length: dec("1"), Width: dec("1"), LengthUnit: domain.LengthMetres},
			shippingType: domain.ShippingTypeAir,
			perPack:      "200",
			total:        "200",
		},
		{
			name:         "sea kilograms converted to tonnes",
			cargo:        CargoGroup{Volume: 4, Weight: dec("2000"), WeightUnit: domain.WeightKilograms, Height: dec("100"), Length: dec("100"), Width: dec("100"), LengthUnit: domain.LengthCentimetres},
			shippingType: domain.ShippingTypeSea,
			perPack:      "2",
			total:        "8",
		},
		{
			name:         "sea cubic metres win",
			cargo:        CargoGroup{Volume: 1, Weight: dec("1.5"), WeightUnit: domain.WeightTonnes, Height: dec("2"), Length: dec("1.5"), Width: dec("1"), LengthUnit: domain.LengthMetres},
			shippingType: domain.ShippingTypeSea,
			perPack:      "3",
			total:        "3",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wm := engine.WeightMeasurement(tc.cargo, tc.shippingType)
			assertDecimal(t, tc.perPack, wm.TotalWeightPerPack)
			assertDecimal(t, tc.total, wm.TotalWeight)
		})
	}
}

func TestPriceShipment_ContainerMode(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	charges, err := engine.PriceShipment(context.Background(), fclCommand(1))
	require.NoError(t, err)

	require.Len(t, charges.CargoGroups, 1)
	line := charges.CargoGroups[0]
	assertDecimal(t, "1500", line.Freight.Cost)
	assertDecimal(t, "1500", line.Freight.Subtotal)
	assert.Nil(t, line.Freight.BookingFee)
	require.Contains(t, line.Surcharges, "isps")
	assertDecimal(t, "50", line.Surcharges["isps"].Subtotal)
	assert.NotContains(t, line.Surcharges, "dangerous", "dangerous surcharge applies to dangerous cargo only")
	require.NotNil(t, line.UsageFee)
	assert.Equal(t, "handling", line.UsageFeeKey)
	assertDecimal(t, "100", line.UsageFee.Subtotal)
	assert.Equal(t, "20dv", line.CargoType)

	assertDecimal(t, "1500", charges.TotalFreightRate["USD"])
	assertDecimal(t, "150", charges.TotalSurcharge["USD"])
	require.NotNil(t, charges.DocFee)
	assertDecimal(t, "75", charges.DocFee.Subtotal)
	assertDecimal(t, "1725", charges.Totals["USD"])
	assert.Nil(t, charges.PayToBook)
	assert.Nil(t, charges.ServiceFee)
}

func volumeCommand() PriceShipmentCommand {
	surcharge := Surcharge{
		ID:             "sur-air",
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		UsageFees:      []domain.UsageFee{{ID: "uf", ContainerTypeID: "pallet", Currency: "USD", Charge: decPtr("10")}},
		Charges: []domain.Charge{
			{AdditionalSurchargeID: "fuel", Currency: "USD", Charge: decPtr("0.5"), Conditions: domain.ConditionWM},
			{AdditionalSurchargeID: "security", Currency: "USD", Charge: decPtr("0.1"), Conditions: domain.ConditionPerWeight},
			{AdditionalSurchargeID: "terminal", Currency: "USD", Charge: decPtr("40"), Conditions: domain.ConditionFixed},
			{AdditionalSurchargeID: "doc", Currency: "USD", Charge: decPtr("60"), Conditions: domain.ConditionFixed},
		},
	}
	return PriceShipmentCommand{
		FreightRate:  FreightRate{ID: "fr-air", Rates: []domain.Rate{{Currency: "USD", Rate: decPtr("2.5")}}},
		Surcharges:   []Surcharge{surcharge},
		ShippingMode: airMode(),
		MainCurrency: "USD",
		DateFrom:     pricingFrom,
		DateTo:       pricingTo,
		CargoGroups: []CargoGroup{{
			PackagingTypeID: "box",
			Volume:          3,
			Weight:          dec("500"),
			WeightUnit:      domain.WeightKilograms,
			Height:          dec("120"),
			Length:          dec("100"),
			Width:           dec("80"),
			LengthUnit:      domain.LengthCentimetres,
		}},
		NumberOfDocuments: 2,
	}
}

func TestPriceShipment_VolumeMode(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	charges, err := engine.PriceShipment(context.Background(), volumeCommand())
	require.NoError(t, err)

	line := charges.CargoGroups[0]
	assertDecimal(t, "1250", line.Freight.Cost)
	assertDecimal(t, "3750", line.Freight.Subtotal)
	assertDecimal(t, "750", line.Surcharges["fuel"].Subtotal)
	assertDecimal(t, "150", line.Surcharges["security"].Subtotal)
	assertDecimal(t, "40", line.Surcharges["terminal"].Subtotal)
	assert.Equal(t, "usage_fee", line.UsageFeeKey)
	assertDecimal(t, "30", line.UsageFee.Subtotal, "first usage fee is used when none matches")
	assertDecimal(t, "1500", line.CargoGroup.TotalWM)
	assert.Equal(t, "box", line.CargoType)

	assertDecimal(t, "970", charges.TotalSurcharge["USD"])
	assertDecimal(t, "120", charges.DocFee.Subtotal)
	assertDecimal(t, "4840", charges.Totals["USD"])
}

func TestPriceShipment_Fees(t *testing.T) {
	rates := NewExchangeRates("BRL", []domain.ExchangeRate{{Currency: "USD", Rate: dec("5"), Spread: dec("2")}})

	cases := []struct {
		name          string
		bookingFee    domain.Fee
		freightTotal  string
		foreignFee    string
		localFee      string
		payToBook     string
		serviceFeeBRL string
		totalsUSD     string
	}{
		{
			name:          "fixed booking fee converted out of main currency",
			bookingFee:    domain.Fee{Type: domain.FeeBooking, ValueType: domain.FeeValueFixed, Value: dec("51"), IsActive: true},
			freightTotal:  "1510",
			foreignFee:    "10",
			localFee:      "51",
			payToBook:     "81",
			serviceFeeBRL: "30",
			totalsUSD:     "1735",
		},
		{
			name:          "percent booking fee converted into main currency",
			bookingFee:    domain.Fee{Type: domain.FeeBooking, ValueType: domain.FeeValuePercent, Value: dec("1"), IsActive: true},
			freightTotal:  "1515",
			foreignFee:    "15",
			localFee:      "76.5",
			payToBook:     "106.5",
			serviceFeeBRL: "30",
			totalsUSD:     "1740",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestPricingEngine(t, nil, rates)
			cmd := fclCommand(1)
			cmd.MainCurrency = "BRL"
			cmd.CalculateFees = true
			bookingFee := tc.bookingFee
			cmd.BookingFee = &bookingFee
			cmd.ServiceFee = &domain.Fee{Type: domain.FeeService, ValueType: domain.FeeValueFixed, Value: dec("30"), IsActive: true}

			charges, err := engine.PriceShipment(context.Background(), cmd)
			require.NoError(t, err)

			line := charges.CargoGroups[0]
			assertDecimal(t, tc.freightTotal, line.Freight.Subtotal)
			require.NotNil(t, line.Freight.BookingFee)
			assertDecimal(t, tc.localFee, *line.Freight.BookingFee)
			assertDecimal(t, tc.foreignFee, charges.BookingFee["USD"])
			assertDecimal(t, tc.totalsUSD, charges.Totals["USD"])
			assertDecimal(t, tc.serviceFeeBRL, charges.Totals["BRL"])
			assertDecimal(t, "5.1", charges.ExchangeRates["USD"])
			require.NotNil(t, charges.PayToBook)
			assert.Equal(t, "BRL", charges.PayToBook.Currency)
			assertDecimal(t, tc.localFee, charges.PayToBook.BookingFee)
			assertDecimal(t, tc.payToBook, charges.PayToBookAmount())
		})
	}
}

func TestPriceShipment_PercentServiceFee(t *testing.T) {
	rates := NewExchangeRates("BRL", []domain.ExchangeRate{{Currency: "USD", Rate: dec("5")}})
	engine := newTestPricingEngine(t, nil, rates)
	cmd := fclCommand(1)
	cmd.MainCurrency = "BRL"
	cmd.CalculateFees = true
	cmd.ServiceFee = &domain.Fee{Type: domain.FeeService, ValueType: domain.FeeValuePercent, Value: dec("2"), IsActive: true}

	charges, err := engine.PriceShipment(context.Background(), cmd)
	require.NoError(t, err)

	// 1725 USD at 5 BRL is 8625 BRL; 2% of that.
	assertDecimal(t, "172.5", charges.ServiceFee.Subtotal)
	assertDecimal(t, "172.5", charges.PayToBookAmount())
	assertDecimal(t, "0", charges.PayToBook.BookingFee)
}

func TestPriceShipment_MissingExchangeRate(t *testing.T) {
	engine := newTestPricingEngine(t, nil, NewExchangeRates("BRL"))
	cmd := fclCommand(1)
	cmd.MainCurrency = "BRL"
	cmd.CalculateFees = true
	cmd.BookingFee = &domain.Fee{Type: domain.FeeBooking, ValueType: domain.FeeValueFixed, Value: dec("50"), IsActive: true}

	_, err := engine.PriceShipment(context.Background(), cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPricingInvalidInput)
}

func TestPriceShipment_Errors(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	cases := []struct {
		name   string
		mutate func(cmd *PriceShipmentCommand)
		want   error
	}{
		{
			name:   "container without rate",
			mutate: func(cmd *PriceShipmentCommand) { cmd.CargoGroups[0].ContainerTypeID = "40hc" },
			want:   ErrPricingNoRateForContainer,
		},
		{
			name: "surcharge outside requested dates",
			mutate: func(cmd *PriceShipmentCommand) {
				cmd.DateFrom = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
				cmd.DateTo = time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
			},
			want: ErrPricingNoValidSurcharge,
		},
		{
			name:   "archived surcharge",
			mutate: func(cmd *PriceShipmentCommand) { cmd.Surcharges[0].Archived = true },
			want:   ErrPricingNoValidSurcharge,
		},
		{
			name: "no document charge",
			mutate: func(cmd *PriceShipmentCommand) {
				cmd.Surcharges[0].Charges = cmd.Surcharges[0].Charges[:1]
			},
			want: ErrPricingNoDocumentCharge,
		},
		{
			name:   "usage fee missing for container",
			mutate: func(cmd *PriceShipmentCommand) { cmd.Surcharges[0].UsageFees = nil },
			want:   ErrPricingNoUsageFee,
		},
		{
			name:   "dates reversed",
			mutate: func(cmd *PriceShipmentCommand) { cmd.DateFrom, cmd.DateTo = cmd.DateTo, cmd.DateFrom },
			want:   ErrPricingInvalidInput,
		},
		{
			name:   "zero volume",
			mutate: func(cmd *PriceShipmentCommand) { cmd.CargoGroups[0].Volume = 0 },
			want:   ErrPricingInvalidInput,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := fclCommand(1)
			tc.mutate(&cmd)
			_, err := engine.PriceShipment(context.Background(), cmd)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrPricingInvalidInput)
		})
	}
}

func TestPriceShipment_UsesRateValidForDates(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	cmd := fclCommand(1)
	february := cmd.FreightRate.Rates[0]
	february.ID = "r-feb"
	february.Rate = decPtr("900")
	february.StartDate = timePtr(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	february.ExpirationDate = timePtr(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	march := cmd.FreightRate.Rates[0]
	march.ID = "r-mar"
	march.Rate = decPtr("1800")
	march.StartDate = timePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	march.ExpirationDate = timePtr(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	cmd.FreightRate.Rates = []domain.Rate{february, march}

	charges, err := engine.PriceShipment(context.Background(), cmd)
	require.NoError(t, err)
	assertDecimal(t, "1800", charges.CargoGroups[0].Freight.Cost)

	cmd.DateTo = time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	_, err = engine.PriceShipment(context.Background(), cmd)
	assert.ErrorIs(t, err, ErrPricingNoRateForContainer, "no rate covers the days past March")
}

func TestPriceShipment_VolumeModeUsesRateValidForDates(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	cmd := volumeCommand()
	expired := cmd.FreightRate.Rates[0]
	expired.Rate = decPtr("1")
	expired.ExpirationDate = timePtr(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	cmd.FreightRate.Rates = append([]domain.Rate{expired}, cmd.FreightRate.Rates...)

	charges, err := engine.PriceShipment(context.Background(), cmd)
	require.NoError(t, err)
	assertDecimal(t, "3750", charges.CargoGroups[0].Freight.Subtotal, "expired leading rate must be skipped")
}

func TestPriceShipment_SelectsEarliestValidSurcharge(t *testing.T) {
	early := fclSurcharge()
	early.ID = "sur-early"
	early.StartDate = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	early.ExpirationDate = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	early.Charges[0].Charge = decPtr("20")

	late := fclSurcharge()
	late.ID = "sur-late"
	late.StartDate = time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)

	repo := &stubSurchargeRepo{items: map[string]Surcharge{"sur-early": early, "sur-late": late}}
	engine := newTestPricingEngine(t, repo, ExchangeRates{})

	cmd := fclCommand(1)
	cmd.Surcharges = nil
	cmd.FreightRate.Rates[0].SurchargeIDs = []string{"sur-late", "sur-early"}

	charges, err := engine.PriceShipment(context.Background(), cmd)
	require.NoError(t, err)
	assertDecimal(t, "20", charges.CargoGroups[0].Surcharges["isps"].Subtotal)
}

func TestPriceShipment_TotalsGrowWithVolume(t *testing.T) {
	engine := newTestPricingEngine(t, nil, ExchangeRates{})

	previous := decimal.Zero
	for volume := 1; volume <= 6; volume++ {
		charges, err := engine.PriceShipment(context.Background(), fclCommand(volume))
		require.NoError(t, err)
		total := charges.Totals["USD"]
		assert.Truef(t, total.GreaterThanOrEqual(previous), "volume %d total %s below %s", volume, total, previous)
		previous = total
	}
	assertDecimal(t, "9975", previous)
}
