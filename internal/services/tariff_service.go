package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/validation"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

var (
	// ErrTariffInvalidInput indicates a surcharge or freight rate violates a tariff rule.
	ErrTariffInvalidInput = errors.New("tariff: invalid input")
	// ErrTariffNotFound indicates the tariff does not exist.
	ErrTariffNotFound = errors.New("tariff: not found")
	// ErrTariffConflict indicates the tariff was archived or changed concurrently.
	ErrTariffConflict = errors.New("tariff: conflict")
)

// TariffServiceDeps bundles collaborators for tariff authoring.
type TariffServiceDeps struct {
	Surcharges   repositories.SurchargeRepository
	FreightRates repositories.FreightRateRepository
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       Logger
}

type tariffService struct {
	surcharges   repositories.SurchargeRepository
	freightRates repositories.FreightRateRepository
	clock        func() time.Time
	newID        func() string
	logger       Logger
}

var _ TariffService = (*tariffService)(nil)

// NewTariffService constructs the tariff service.
func NewTariffService(deps TariffServiceDeps) (TariffService, error) {
	if deps.Surcharges == nil {
		return nil, errors.New("tariff service: surcharge repository is required")
	}
	if deps.FreightRates == nil {
		return nil, errors.New("tariff service: freight rate repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &tariffService{
		surcharges:   deps.Surcharges,
		freightRates: deps.FreightRates,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

func (s *tariffService) CreateSurcharge(ctx context.Context, cmd CreateSurchargeCommand) (Surcharge, error) {
	if err := validation.Struct(cmd); err != nil {
		return Surcharge{}, fmt.Errorf("%w: %v", ErrTariffInvalidInput, err)
	}
	now := s.clock()
	surcharge := Surcharge{
		ID:             "sur_" + s.newID(),
		CompanyID:      cmd.CompanyID,
		CarrierID:      cmd.CarrierID,
		Direction:      cmd.Direction,
		LocationID:     cmd.LocationID,
		ShippingModeID: cmd.ShippingModeID,
		StartDate:      domain.Day(cmd.StartDate),
		ExpirationDate: domain.Day(cmd.ExpirationDate),
		Temporary:      cmd.Temporary,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, fee := range cmd.UsageFees {
		if fee.Charge != nil && fee.Charge.IsNegative() {
			return Surcharge{}, fmt.Errorf("%w: usage fee for %s is negative", ErrTariffInvalidInput, fee.ContainerTypeID)
		}
		fee.ID = "uf_" + s.newID()
		fee.Currency = strings.ToUpper(fee.Currency)
		fee.UpdatedBy = cmd.ActorID
		fee.UpdatedAt = now
		surcharge.UsageFees = append(surcharge.UsageFees, fee)
	}
	for _, charge := range cmd.Charges {
		if charge.Charge != nil && charge.Charge.IsNegative() {
			return Surcharge{}, fmt.Errorf("%w: charge for %s is negative", ErrTariffInvalidInput, charge.AdditionalSurchargeID)
		}
		charge.ID = "chg_" + s.newID()
		charge.Currency = strings.ToUpper(charge.Currency)
		charge.UpdatedBy = cmd.ActorID
		charge.UpdatedAt = now
		surcharge.Charges = append(surcharge.Charges, charge)
	}

	if !surcharge.Temporary {
		existing, err := s.surcharges.ListByKey(ctx, repositories.SurchargeKey{
			CompanyID:      surcharge.CompanyID,
			CarrierID:      surcharge.CarrierID,
			Direction:      surcharge.Direction,
			LocationID:     surcharge.LocationID,
			ShippingModeID: surcharge.ShippingModeID,
		})
		if err != nil {
			return Surcharge{}, s.mapRepositoryError(err)
		}
		for _, other := range existing {
			if other.Live() && other.Window().Intersects(surcharge.Window()) {
				return Surcharge{}, fmt.Errorf("%w: dates overlap surcharge %s", ErrTariffInvalidInput, other.ID)
			}
		}
	}

	if err := s.surcharges.Create(ctx, surcharge); err != nil {
		return Surcharge{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "tariff.surcharge.created", map[string]any{"surchargeId": surcharge.ID, "companyId": surcharge.CompanyID})
	return surcharge, nil
}

// CopySurcharge clones a live surcharge so it can be edited. Usage fees and charges move to
// the copy unchanged, the original is archived, and freight rates linking the original follow
// the copy.
func (s *tariffService) CopySurcharge(ctx context.Context, id string) (SurchargeCopy, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SurchargeCopy{}, fmt.Errorf("%w: surcharge id is required", ErrTariffInvalidInput)
	}
	now := s.clock()
	copied, relinked, err := s.surcharges.Copy(ctx, id, func(original domain.Surcharge) (domain.Surcharge, error) {
		if original.Archived {
			return domain.Surcharge{}, fmt.Errorf("%w: surcharge %s is archived", ErrTariffConflict, original.ID)
		}
		clone := original
		clone.ID = "sur_" + s.newID()
		clone.Archived = false
		clone.UsageFees = slices.Clone(original.UsageFees)
		clone.Charges = slices.Clone(original.Charges)
		clone.CreatedAt = now
		clone.UpdatedAt = now
		return clone, nil
	})
	if err != nil {
		return SurchargeCopy{}, s.mapRepositoryError(err)
	}

	result := SurchargeCopy{
		Surcharge: copied,
		Archived:  id,
		UsageFees: make(map[string]domain.UsageFee, len(copied.UsageFees)),
		Charges:   make(map[string]domain.Charge, len(copied.Charges)),
		Relinked:  relinked,
	}
	for _, fee := range copied.UsageFees {
		result.UsageFees[fee.ID] = fee
	}
	for _, charge := range copied.Charges {
		result.Charges[charge.ID] = charge
	}
	s.logger(ctx, "tariff.surcharge.copied", map[string]any{"from": id, "to": copied.ID, "relinked": len(relinked)})
	return result, nil
}

func (s *tariffService) CreateFreightRate(ctx context.Context, cmd CreateFreightRateCommand) (FreightRate, error) {
	if err := validation.Struct(cmd); err != nil {
		return FreightRate{}, fmt.Errorf("%w: %v", ErrTariffInvalidInput, err)
	}
	now := s.clock()
	rate := FreightRate{
		ID:                "frt_" + s.newID(),
		CompanyID:         cmd.CompanyID,
		CarrierID:         cmd.CarrierID,
		CarrierDisclosure: cmd.CarrierDisclosure,
		OriginID:          cmd.OriginID,
		DestinationID:     cmd.DestinationID,
		ShippingModeID:    cmd.ShippingModeID,
		TransitTime:       cmd.TransitTime,
		IsActive:          cmd.IsActive,
		Temporary:         cmd.Temporary,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, r := range cmd.Rates {
		r.ID = "rt_" + s.newID()
		r.Currency = strings.ToUpper(r.Currency)
		r.SurchargeIDs = slices.Clone(r.SurchargeIDs)
		r.UpdatedBy = cmd.ActorID
		r.UpdatedAt = now
		if r.StartDate != nil {
			day := domain.Day(*r.StartDate)
			r.StartDate = &day
		}
		if r.ExpirationDate != nil {
			day := domain.Day(*r.ExpirationDate)
			r.ExpirationDate = &day
		}
		rate.Rates = append(rate.Rates, r)
	}

	if err := s.ValidateFreightRate(ctx, rate); err != nil {
		return FreightRate{}, err
	}
	if err := s.freightRates.Create(ctx, rate); err != nil {
		return FreightRate{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "tariff.freight_rate.created", map[string]any{"freightRateId": rate.ID, "companyId": rate.CompanyID})
	return rate, nil
}

// ValidateFreightRate checks rate windows against linked surcharges and, for non-temporary
// rates, that no competing freight rate on the lane keeps an open-ended rate for the same
// container types.
func (s *tariffService) ValidateFreightRate(ctx context.Context, rate FreightRate) error {
	linked := map[string]Surcharge{}
	if ids := rate.SurchargeIDs(); len(ids) > 0 {
		surcharges, err := s.surcharges.GetMany(ctx, ids)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		for _, surcharge := range surcharges {
			linked[surcharge.ID] = surcharge
		}
	}

	for _, r := range rate.Rates {
		if r.Rate != nil && r.Rate.IsNegative() {
			return fmt.Errorf("%w: rate for %s is negative", ErrTariffInvalidInput, r.ContainerTypeID)
		}
		window, ok := r.Window()
		if !ok {
			continue
		}
		if window.End.Before(window.Start) {
			return fmt.Errorf("%w: rate for %s expires before it starts", ErrTariffInvalidInput, r.ContainerTypeID)
		}
		for _, surchargeID := range r.SurchargeIDs {
			surcharge, found := linked[surchargeID]
			if !found {
				return fmt.Errorf("%w: surcharge %s does not exist", ErrTariffInvalidInput, surchargeID)
			}
			if !surcharge.Window().Intersects(window) {
				return fmt.Errorf("%w: rate for %s does not intersect surcharge %s", ErrTariffInvalidInput, r.ContainerTypeID, surchargeID)
			}
		}
	}

	if rate.Temporary {
		return nil
	}
	var containers []string
	for _, r := range rate.Rates {
		if r.Rate != nil && !slices.Contains(containers, r.ContainerTypeID) {
			containers = append(containers, r.ContainerTypeID)
		}
	}
	competing, err := s.freightRates.ListByRoute(ctx, repositories.RouteKey{
		CarrierID:      rate.CarrierID,
		OriginID:       rate.OriginID,
		DestinationID:  rate.DestinationID,
		ShippingModeID: rate.ShippingModeID,
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}
	var offending []string
	for _, other := range competing {
		if other.ID == rate.ID || other.Archived || other.Temporary {
			continue
		}
		for _, r := range other.Rates {
			if r.StartDate == nil && slices.Contains(containers, r.ContainerTypeID) && !slices.Contains(offending, r.ContainerTypeID) {
				offending = append(offending, r.ContainerTypeID)
			}
		}
	}
	if len(offending) > 0 {
		slices.Sort(offending)
		return &TariffValidationError{ContainerTypeIDs: offending}
	}
	return nil
}

// CopyFreightRate clones a live freight rate. Rates move to the copy with their surcharge links.
func (s *tariffService) CopyFreightRate(ctx context.Context, id string) (FreightRateCopy, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return FreightRateCopy{}, fmt.Errorf("%w: freight rate id is required", ErrTariffInvalidInput)
	}
	now := s.clock()
	copied, err := s.freightRates.Copy(ctx, id, func(original domain.FreightRate) (domain.FreightRate, error) {
		if original.Archived {
			return domain.FreightRate{}, fmt.Errorf("%w: freight rate %s is archived", ErrTariffConflict, original.ID)
		}
		clone := original
		clone.ID = "frt_" + s.newID()
		clone.Archived = false
		clone.Rates = make([]domain.Rate, len(original.Rates))
		for i, r := range original.Rates {
			r.SurchargeIDs = slices.Clone(r.SurchargeIDs)
			clone.Rates[i] = r
		}
		clone.CreatedAt = now
		clone.UpdatedAt = now
		return clone, nil
	})
	if err != nil {
		return FreightRateCopy{}, s.mapRepositoryError(err)
	}
	result := FreightRateCopy{FreightRate: copied, Archived: id, Rates: make(map[string]domain.Rate, len(copied.Rates))}
	for _, r := range copied.Rates {
		result.Rates[r.ID] = r
	}
	s.logger(ctx, "tariff.freight_rate.copied", map[string]any{"from": id, "to": copied.ID})
	return result, nil
}

func (s *tariffService) ExpiringSurcharges(ctx context.Context, from, to time.Time) ([]Surcharge, error) {
	items, err := s.surcharges.ListExpiring(ctx, domain.Day(from), domain.Day(to))
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return slices.DeleteFunc(items, func(item Surcharge) bool { return !item.Live() }), nil
}

func (s *tariffService) ExpiringFreightRates(ctx context.Context, from, to time.Time) ([]FreightRate, error) {
	items, err := s.freightRates.ListExpiring(ctx, domain.Day(from), domain.Day(to))
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return slices.DeleteFunc(items, func(item FreightRate) bool { return item.Archived || item.Temporary }), nil
}

func (s *tariffService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTariffConflict) || errors.Is(err, ErrTariffInvalidInput) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTariffNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTariffConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("tariff: repository unavailable: %w", err)
		}
	}
	return err
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}
