package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals the shipment cannot be priced with the supplied data.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingNoRateForContainer indicates the freight rate does not price a requested container type.
	ErrPricingNoRateForContainer = fmt.Errorf("%w: no rate for container", ErrPricingInvalidInput)
	// ErrPricingNoValidSurcharge indicates no linked surcharge is valid for the requested dates.
	ErrPricingNoValidSurcharge = fmt.Errorf("%w: no valid surcharge", ErrPricingInvalidInput)
	// ErrPricingNoDocumentCharge indicates the selected surcharge lacks a documentation charge.
	ErrPricingNoDocumentCharge = fmt.Errorf("%w: no document charge", ErrPricingInvalidInput)
	// ErrPricingNoUsageFee indicates the selected surcharge does not price a requested container type.
	ErrPricingNoUsageFee = fmt.Errorf("%w: no usage fee for container", ErrPricingInvalidInput)
)

var (
	kilosPerTonne     = decimal.NewFromInt(1000)
	airDividerCm      = decimal.NewFromInt(6000)
	airDividerM       = decimal.RequireFromString("0.006")
	seaDividerCm      = decimal.NewFromInt(1_000_000)
	seaDividerM       = decimal.NewFromInt(1)
	surchargeKeyExtra = "surcharge_"
)

// PricingEngineDeps bundles collaborators for the pricing engine.
type PricingEngineDeps struct {
	Surcharges    repositories.SurchargeRepository
	Catalog       repositories.CatalogRepository
	ExchangeRates ExchangeRateBook
	Logger        Logger
}

type pricingEngine struct {
	surcharges repositories.SurchargeRepository
	catalog    repositories.CatalogRepository
	exchange   ExchangeRateBook
	logger     Logger
}

var _ PricingEngine = (*pricingEngine)(nil)

// NewPricingEngine constructs the shipment pricing engine.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Surcharges == nil {
		return nil, errors.New("pricing engine: surcharge repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog repository is required")
	}
	if deps.ExchangeRates == nil {
		return nil, errors.New("pricing engine: exchange rate book is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &pricingEngine{
		surcharges: deps.Surcharges,
		catalog:    deps.Catalog,
		exchange:   deps.ExchangeRates,
		logger:     logger,
	}, nil
}

// WeightMeasurement computes the chargeable weight: the greater of gross and volumetric weight
// per pack, times the number of packs. Air works in kilograms, sea and land in tonnes.
func (e *pricingEngine) WeightMeasurement(cargo CargoGroup, shippingType domain.ShippingType) WeightMeasurement {
	return weightMeasurement(cargo, shippingType)
}

func weightMeasurement(cargo CargoGroup, shippingType domain.ShippingType) WeightMeasurement {
	var gross, divider decimal.Decimal
	if shippingType == domain.ShippingTypeAir {
		gross = cargo.Weight
		if cargo.WeightUnit != domain.WeightKilograms {
			gross = cargo.Weight.Mul(kilosPerTonne)
		}
		divider = airDividerCm
		if cargo.LengthUnit != domain.LengthCentimetres {
			divider = airDividerM
		}
	} else {
		gross = cargo.Weight
		if cargo.WeightUnit != domain.WeightTonnes {
			gross = cargo.Weight.Div(kilosPerTonne)
		}
		divider = seaDividerCm
		if cargo.LengthUnit == domain.LengthMetres {
			divider = seaDividerM
		}
	}
	volume := cargo.Height.Mul(cargo.Length).Mul(cargo.Width).Div(divider)
	perPack := decimal.Max(gross, volume)
	return WeightMeasurement{
		GrossWeight:        gross,
		TotalVolume:        volume,
		TotalWeightPerPack: domain.Round2(perPack),
		TotalWeight:        domain.Round2(perPack.Mul(decimal.NewFromInt(int64(cargo.Volume)))),
	}
}

func (e *pricingEngine) PriceShipment(ctx context.Context, cmd PriceShipmentCommand) (Charges, error) {
	if err := validatePriceCommand(cmd); err != nil {
		return Charges{}, err
	}
	main := strings.ToUpper(strings.TrimSpace(cmd.MainCurrency))

	surcharges := cmd.Surcharges
	if len(surcharges) == 0 {
		ids := cmd.FreightRate.SurchargeIDs()
		if len(ids) > 0 {
			loaded, err := e.surcharges.GetMany(ctx, ids)
			if err != nil {
				return Charges{}, fmt.Errorf("pricing: load surcharges: %w", err)
			}
			surcharges = loaded
		}
	}
	window := domain.NewWindow(cmd.DateFrom, cmd.DateTo)
	surcharge, ok := selectSurcharge(surcharges, window)
	if !ok {
		e.logger(ctx, "pricing.surcharge.missing", map[string]any{
			"freightRateId": cmd.FreightRate.ID,
			"dateFrom":      window.Start,
			"dateTo":        window.End,
		})
		return Charges{}, ErrPricingNoValidSurcharge
	}

	additional, err := e.catalog.AdditionalSurcharges(ctx)
	if err != nil {
		return Charges{}, fmt.Errorf("pricing: load additional surcharges: %w", err)
	}
	docCharge, ok := documentCharge(surcharge, additional)
	if !ok {
		return Charges{}, ErrPricingNoDocumentCharge
	}

	var rates ExchangeRates
	feesApply := cmd.CalculateFees && (cmd.BookingFee != nil || cmd.ServiceFee != nil)
	if feesApply {
		if cmd.ExchangeRates != nil {
			rates = *cmd.ExchangeRates
		} else {
			rates, err = e.exchange.PlatformRates(ctx)
			if err != nil {
				return Charges{}, fmt.Errorf("%w: %v", ErrPricingInvalidInput, err)
			}
		}
		if rates.Main() == "" {
			rates = NewExchangeRates(main)
		}
	}

	mode := cmd.ShippingMode
	volumeMode := mode.IsNeedVolume
	charges := Charges{
		SchemaVersion:    domain.ChargesSchemaVersion,
		TotalFreightRate: domain.Amounts{},
		TotalSurcharge:   domain.Amounts{},
		Totals:           domain.Amounts{},
	}
	bookingFeeLocal := decimal.Zero

	for i, cargo := range cmd.CargoGroups {
		line := domain.CargoCharges{
			Volume:     cargo.Volume,
			CargoType:  cargo.CargoTypeID(),
			CargoGroup: snapshotCargo(cargo),
		}

		var wm WeightMeasurement
		var rate domain.Rate
		if volumeMode {
			wm = weightMeasurement(cargo, mode.ShippingType)
			line.CargoGroup.TotalWM = wm.TotalWeight
			rate, ok = cmd.FreightRate.RateCovering(window)
		} else {
			rate, ok = cmd.FreightRate.RateFor(cargo.ContainerTypeID, window)
		}
		if !ok {
			return Charges{}, fmt.Errorf("%w: %s between %s and %s", ErrPricingNoRateForContainer, cargo.CargoTypeID(),
				window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly))
		}
		if rate.Rate == nil {
			return Charges{}, fmt.Errorf("%w: %s", ErrPricingNoRateForContainer, cargo.CargoTypeID())
		}

		freight := domain.FreightLine{ChargeLine: domain.ChargeLine{Currency: rate.Currency}}
		if volumeMode {
			freight.Cost = domain.Round2(wm.TotalWeightPerPack.Mul(*rate.Rate))
			freight.Subtotal = domain.Round2(wm.TotalWeight.Mul(*rate.Rate))
		} else {
			freight.Cost = domain.Round2(*rate.Rate)
			freight.Subtotal = domain.Round2(rate.Rate.Mul(decimal.NewFromInt(int64(cargo.Volume))))
		}
		if cmd.CalculateFees && cmd.BookingFee != nil {
			foreign, local, err := bookingFeeAmounts(*cmd.BookingFee, rate.Currency, freight.Subtotal, rates)
			if err != nil {
				return Charges{}, fmt.Errorf("%w: cargo group %d: %v", ErrPricingInvalidInput, i, err)
			}
			freight.Subtotal = freight.Subtotal.Add(foreign)
			freight.BookingFee = &local
			if charges.BookingFee == nil {
				charges.BookingFee = domain.Amounts{}
			}
			charges.BookingFee.Add(rate.Currency, foreign)
			bookingFeeLocal = bookingFeeLocal.Add(local)
		}
		line.Freight = freight
		charges.TotalFreightRate.Add(freight.Currency, freight.Subtotal)
		charges.Totals.Add(freight.Currency, freight.Subtotal)

		for _, charge := range surcharge.Charges {
			definition, known := additional[charge.AdditionalSurchargeID]
			if !known {
				return Charges{}, fmt.Errorf("%w: unknown additional surcharge %s", ErrPricingInvalidInput, charge.AdditionalSurchargeID)
			}
			if definition.IsDocument || charge.Charge == nil {
				continue
			}
			if definition.IsDangerous && !cargo.Dangerous {
				continue
			}
			if definition.IsCold && !cargo.Refrigerated() {
				continue
			}
			priced := priceAdditionalCharge(charge, cargo, wm, volumeMode)
			key := definition.SlotKey()
			if domain.IsReservedCargoKey(key) {
				key = surchargeKeyExtra + key
			}
			if line.Surcharges == nil {
				line.Surcharges = make(map[string]domain.ChargeLine)
			}
			line.Surcharges[key] = priced
			charges.TotalSurcharge.Add(priced.Currency, priced.Subtotal)
			charges.Totals.Add(priced.Currency, priced.Subtotal)
		}

		if mode.HasSurchargeContainers {
			fee, found := surcharge.UsageFeeFor(cargo.ContainerTypeID)
			if !found && volumeMode && len(surcharge.UsageFees) > 0 {
				fee, found = surcharge.UsageFees[0], true
			}
			if !found || fee.Charge == nil {
				return Charges{}, fmt.Errorf("%w: %s", ErrPricingNoUsageFee, cargo.CargoTypeID())
			}
			usage := domain.ChargeLine{
				Currency: fee.Currency,
				Cost:     domain.Round2(*fee.Charge),
				Subtotal: domain.Round2(fee.Charge.Mul(decimal.NewFromInt(int64(cargo.Volume)))),
			}
			line.UsageFee = &usage
			line.UsageFeeKey = domain.UsageFeeKeyFor(volumeMode)
			charges.TotalSurcharge.Add(usage.Currency, usage.Subtotal)
			charges.Totals.Add(usage.Currency, usage.Subtotal)
		}

		charges.CargoGroups = append(charges.CargoGroups, line)
	}

	documents := cmd.NumberOfDocuments
	if documents < 1 {
		documents = 1
	}
	docCost := domain.Round2(*docCharge.Charge)
	charges.DocFee = &domain.DocFee{
		Currency: docCharge.Currency,
		Cost:     docCost,
		Volume:   documents,
		Subtotal: domain.Round2(docCost.Mul(decimal.NewFromInt(int64(documents)))),
	}
	charges.Totals.Add(docCharge.Currency, charges.DocFee.Subtotal)

	if !cmd.CalculateFees {
		return charges, nil
	}

	serviceFee := decimal.Zero
	if cmd.ServiceFee != nil {
		serviceFee, err = serviceFeeAmount(*cmd.ServiceFee, charges.Totals, rates)
		if err != nil {
			return Charges{}, fmt.Errorf("%w: service fee: %v", ErrPricingInvalidInput, err)
		}
		charges.ServiceFee = &domain.ChargeLine{Currency: main, Cost: cmd.ServiceFee.Value, Subtotal: serviceFee}
		charges.Totals.Add(main, serviceFee)
	}
	if feesApply {
		charges.ExchangeRates = domain.Amounts{}
		for _, currency := range charges.Totals.Currencies() {
			if currency == main {
				continue
			}
			if eff, err := rates.Effective(currency); err == nil {
				charges.ExchangeRates[currency] = eff
			}
		}
	}
	charges.PayToBook = &domain.PayToBook{
		ServiceFee: serviceFee,
		BookingFee: domain.Round2(bookingFeeLocal),
		PayToBook:  domain.Round2(serviceFee.Add(bookingFeeLocal)),
		Currency:   main,
	}
	return charges, nil
}

func validatePriceCommand(cmd PriceShipmentCommand) error {
	if strings.TrimSpace(cmd.MainCurrency) == "" {
		return fmt.Errorf("%w: main currency is required", ErrPricingInvalidInput)
	}
	if len(cmd.CargoGroups) == 0 {
		return fmt.Errorf("%w: at least one cargo group is required", ErrPricingInvalidInput)
	}
	if len(cmd.FreightRate.Rates) == 0 {
		return fmt.Errorf("%w: freight rate has no rates", ErrPricingInvalidInput)
	}
	if cmd.DateFrom.IsZero() || cmd.DateTo.IsZero() || cmd.DateTo.Before(cmd.DateFrom) {
		return fmt.Errorf("%w: invalid date range", ErrPricingInvalidInput)
	}
	for i, cargo := range cmd.CargoGroups {
		if cargo.Volume < 1 {
			return fmt.Errorf("%w: cargo group %d volume must be at least 1", ErrPricingInvalidInput, i)
		}
		if !cmd.ShippingMode.IsNeedVolume && strings.TrimSpace(cargo.ContainerTypeID) == "" {
			return fmt.Errorf("%w: cargo group %d requires a container type", ErrPricingInvalidInput, i)
		}
	}
	return nil
}

// selectSurcharge picks the non-archived surcharge whose window intersects the shipment dates,
// earliest start first.
func selectSurcharge(surcharges []Surcharge, window domain.Window) (Surcharge, bool) {
	candidates := make([]Surcharge, 0, len(surcharges))
	for _, s := range surcharges {
		if s.Archived || !s.Window().Intersects(window) {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return Surcharge{}, false
	}
	slices.SortStableFunc(candidates, func(a, b Surcharge) int {
		return cmp.Compare(a.StartDate.Unix(), b.StartDate.Unix())
	})
	return candidates[0], true
}

func documentCharge(surcharge Surcharge, additional map[string]domain.AdditionalSurcharge) (domain.Charge, bool) {
	for _, charge := range surcharge.Charges {
		if definition, ok := additional[charge.AdditionalSurchargeID]; ok && definition.IsDocument && charge.Charge != nil {
			return charge, true
		}
	}
	return domain.Charge{}, false
}

func priceAdditionalCharge(charge domain.Charge, cargo CargoGroup, wm WeightMeasurement, volumeMode bool) domain.ChargeLine {
	cost := *charge.Charge
	fixed := false
	if volumeMode {
		switch charge.Conditions {
		case domain.ConditionWM:
			cost = wm.TotalWeightPerPack.Mul(*charge.Charge)
		case domain.ConditionPerWeight:
			cost = cargo.Weight.Mul(*charge.Charge)
		case domain.ConditionFixed:
			fixed = true
		}
	}
	cost = domain.Round2(cost)
	subtotal := cost
	if !fixed {
		subtotal = domain.Round2(cost.Mul(decimal.NewFromInt(int64(cargo.Volume))))
	}
	return domain.ChargeLine{Currency: charge.Currency, Cost: cost, Subtotal: subtotal}
}

// bookingFeeAmounts returns the fee in the line currency and in main currency.
func bookingFeeAmounts(fee domain.Fee, currency string, subtotal decimal.Decimal, rates ExchangeRates) (foreign, local decimal.Decimal, err error) {
	foreignCurrency := !strings.EqualFold(currency, rates.Main())
	switch fee.ValueType {
	case domain.FeeValuePercent:
		foreign = domain.Percent(subtotal, fee.Value)
		local = foreign
		if foreignCurrency {
			if local, err = rates.ConvertToMain(currency, foreign); err != nil {
				return decimal.Zero, decimal.Zero, err
			}
		}
	default:
		local = fee.Value
		foreign = fee.Value
		if foreignCurrency {
			if foreign, err = rates.ConvertFromMain(currency, fee.Value); err != nil {
				return decimal.Zero, decimal.Zero, err
			}
		}
	}
	return domain.Round2(foreign), domain.Round2(local), nil
}

func serviceFeeAmount(fee domain.Fee, totals domain.Amounts, rates ExchangeRates) (decimal.Decimal, error) {
	if fee.ValueType != domain.FeeValuePercent {
		return domain.Round2(fee.Value), nil
	}
	sum := decimal.Zero
	for _, currency := range totals.Currencies() {
		converted, err := rates.ConvertToMain(currency, totals[currency])
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(converted)
	}
	return domain.Round2(domain.Percent(sum, fee.Value)), nil
}

func snapshotCargo(cargo CargoGroup) domain.CargoSnapshot {
	return domain.CargoSnapshot{
		ContainerTypeID: cargo.ContainerTypeID,
		PackagingTypeID: cargo.PackagingTypeID,
		WeightUnit:      cargo.WeightUnit,
		LengthUnit:      cargo.LengthUnit,
		Volume:          cargo.Volume,
		Height:          cargo.Height,
		Length:          cargo.Length,
		Width:           cargo.Width,
		Weight:          cargo.Weight,
		Dangerous:       cargo.Dangerous,
		Frozen:          cargo.Frozen,
	}
}
