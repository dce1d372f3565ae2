package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/i18n"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

// quoteStaleAfter archives quotes whose shipping window ended this long ago.
const quoteStaleAfter = 14 * 24 * time.Hour

var (
	// ErrQuoteInvalidInput indicates the offer does not answer the quote.
	ErrQuoteInvalidInput = errors.New("quote: invalid input")
	// ErrQuoteNotFound indicates the quote or freight rate does not exist.
	ErrQuoteNotFound = errors.New("quote: not found")
	// ErrQuoteClosed indicates the quote no longer accepts offers.
	ErrQuoteClosed = errors.New("quote: closed")
)

// QuoteServiceDeps bundles collaborators for quote offers.
type QuoteServiceDeps struct {
	Quotes        repositories.QuoteRepository
	FreightRates  repositories.FreightRateRepository
	Catalog       repositories.CatalogRepository
	Users         repositories.UserRepository
	Settings      SettingsProvider
	Pricing       PricingEngine
	Notifications NotificationService
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type quoteService struct {
	quotes        repositories.QuoteRepository
	freightRates  repositories.FreightRateRepository
	catalog       repositories.CatalogRepository
	users         repositories.UserRepository
	settings      SettingsProvider
	pricing       PricingEngine
	notifications NotificationService
	clock         func() time.Time
	newID         func() string
	logger        Logger
}

var _ QuoteService = (*quoteService)(nil)

// NewQuoteService constructs the quote service.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	switch {
	case deps.Quotes == nil:
		return nil, errors.New("quote service: quote repository is required")
	case deps.FreightRates == nil:
		return nil, errors.New("quote service: freight rate repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("quote service: catalog repository is required")
	case deps.Users == nil:
		return nil, errors.New("quote service: user repository is required")
	case deps.Settings == nil:
		return nil, errors.New("quote service: settings provider is required")
	case deps.Pricing == nil:
		return nil, errors.New("quote service: pricing engine is required")
	case deps.Notifications == nil:
		return nil, errors.New("quote service: notification service is required")
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
	return &quoteService{
		quotes:        deps.Quotes,
		freightRates:  deps.FreightRates,
		catalog:       deps.Catalog,
		users:         deps.Users,
		settings:      deps.Settings,
		pricing:       deps.Pricing,
		notifications: deps.Notifications,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

func (s *quoteService) SubmitOffer(ctx context.Context, cmd SubmitOfferCommand) (QuoteOffer, error) {
	if strings.TrimSpace(cmd.QuoteID) == "" || strings.TrimSpace(cmd.AgentCompanyID) == "" || strings.TrimSpace(cmd.FreightRateID) == "" {
		return QuoteOffer{}, fmt.Errorf("%w: quote, agent company and freight rate are required", ErrQuoteInvalidInput)
	}
	quote, err := s.quotes.Get(ctx, cmd.QuoteID)
	if err != nil {
		return QuoteOffer{}, s.mapRepositoryError(err)
	}
	if quote.IsArchived || !quote.IsActive {
		return QuoteOffer{}, fmt.Errorf("%w: quote %s is not open", ErrQuoteClosed, quote.ID)
	}
	rate, err := s.freightRates.Get(ctx, cmd.FreightRateID)
	if err != nil {
		return QuoteOffer{}, s.mapRepositoryError(err)
	}
	switch {
	case rate.CompanyID != cmd.AgentCompanyID:
		return QuoteOffer{}, fmt.Errorf("%w: freight rate %s belongs to another company", ErrQuoteInvalidInput, rate.ID)
	case !rate.Live():
		return QuoteOffer{}, fmt.Errorf("%w: freight rate %s is not active", ErrQuoteInvalidInput, rate.ID)
	case rate.OriginID != quote.OriginID || rate.DestinationID != quote.DestinationID || rate.ShippingModeID != quote.ShippingModeID:
		return QuoteOffer{}, fmt.Errorf("%w: freight rate %s does not serve the quoted route", ErrQuoteInvalidInput, rate.ID)
	}

	mode, err := s.catalog.ShippingMode(ctx, quote.ShippingModeID)
	if err != nil {
		return QuoteOffer{}, s.mapRepositoryError(err)
	}
	mainCurrency, err := s.settings.MainCurrency(ctx)
	if err != nil {
		return QuoteOffer{}, fmt.Errorf("%w: %v", ErrQuoteInvalidInput, err)
	}
	settings, err := s.settings.Platform(ctx)
	if err != nil {
		return QuoteOffer{}, err
	}
	charges, err := s.pricing.PriceShipment(ctx, PriceShipmentCommand{
		FreightRate:       rate,
		CargoGroups:       quote.CargoGroups,
		ShippingMode:      mode,
		MainCurrency:      mainCurrency,
		DateFrom:          quote.DateFrom,
		DateTo:            quote.DateTo,
		NumberOfDocuments: 1,
	})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return QuoteOffer{}, fmt.Errorf("%w: %w", ErrQuoteInvalidInput, err)
		}
		return QuoteOffer{}, err
	}

	offer := QuoteOffer{
		ID:             "qof_" + s.newID(),
		QuoteID:        quote.ID,
		AgentCompanyID: cmd.AgentCompanyID,
		FreightRateID:  rate.ID,
		Charges:        charges,
		CreatedAt:      s.clock(),
	}
	if err := s.quotes.AddOffer(ctx, offer, settings.NumberOfBids); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return QuoteOffer{}, fmt.Errorf("%w: quote %s already holds %d offers", ErrQuoteClosed, quote.ID, settings.NumberOfBids)
		}
		return QuoteOffer{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "quote.offer.submitted", map[string]any{"quoteId": quote.ID, "offerId": offer.ID, "agentCompanyId": cmd.AgentCompanyID})
	s.notifyClient(ctx, quote)
	return offer, nil
}

func (s *quoteService) notifyClient(ctx context.Context, quote Quote) {
	users, err := s.users.ListByCompany(ctx, quote.CompanyID, domain.RoleMaster, domain.RoleClient)
	if err != nil {
		s.logger(ctx, "quote.recipients.failed", map[string]any{"quoteId": quote.ID, "error": err.Error()})
		return
	}
	if len(users) == 0 {
		return
	}
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	params := map[string]string{"origin": s.portName(ctx, quote.OriginID), "destination": s.portName(ctx, quote.DestinationID)}
	if _, err := s.notifications.Notify(ctx, NotifyCommand{
		Section:     domain.SectionRequests,
		ActionPath:  domain.ActionBooking,
		TemplateKey: i18n.KeyQuoteOfferReceived,
		Params:      params,
		ObjectID:    quote.ID,
		UserIDs:     ids,
	}); err != nil {
		s.logger(ctx, "quote.notify.failed", map[string]any{"quoteId": quote.ID, "error": err.Error()})
	}
}

func (s *quoteService) portName(ctx context.Context, id string) string {
	port, err := s.catalog.Port(ctx, id)
	if err != nil || port.Name == "" {
		return id
	}
	return port.Name
}

// ArchiveStale archives quotes older than the configured number of days or whose window
// ended more than two weeks ago.
func (s *quoteService) ArchiveStale(ctx context.Context) (int, error) {
	settings, err := s.settings.Platform(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock()
	createdBefore := now.AddDate(0, 0, -settings.QuoteArchiveDays)
	archived, err := s.quotes.ArchiveStale(ctx, createdBefore, now.Add(-quoteStaleAfter))
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	s.logger(ctx, "quote.archived", map[string]any{"count": archived})
	return archived, nil
}

func (s *quoteService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrQuoteNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrQuoteClosed, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("quote: repository unavailable: %w", err)
		}
	}
	return err
}
