package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/payments"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	// DefaultReviewCountdown is the delay between payment reviews.
	DefaultReviewCountdown = 7200 * time.Second
	// DefaultReviewExpiry bounds how long a transaction is reviewed.
	DefaultReviewExpiry = 259200 * time.Second
)

var (
	// ErrPaymentInvalidInput indicates the booking cannot be charged.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the transaction does not exist.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentProvider indicates the payment provider refused or failed the request.
	ErrPaymentProvider = errors.New("payment: provider error")
)

// PaymentServiceDeps bundles collaborators for booking payments. OnPaid is invoked once a
// review confirms the charge; it must be idempotent.
type PaymentServiceDeps struct {
	Transactions repositories.TransactionRepository
	Users        repositories.UserRepository
	Gateway      PaymentGateway
	Queue        ReviewQueue
	OnPaid       func(ctx context.Context, bookingID string) error
	Provider     string
	Countdown    time.Duration
	Expiry       time.Duration
	Metrics      Metrics
	Clock        func() time.Time
	IDGenerator  func() string
	TxIDs        func() string
	Logger       Logger
}

type paymentService struct {
	transactions repositories.TransactionRepository
	users        repositories.UserRepository
	gateway      PaymentGateway
	queue        ReviewQueue
	onPaid       func(ctx context.Context, bookingID string) error
	provider     string
	countdown    time.Duration
	expiry       time.Duration
	metrics      Metrics
	clock        func() time.Time
	newID        func() string
	newTxID      func() string
	logger       Logger
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs the payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	switch {
	case deps.Transactions == nil:
		return nil, errors.New("payment service: transaction repository is required")
	case deps.Users == nil:
		return nil, errors.New("payment service: user repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("payment service: payment gateway is required")
	case deps.Queue == nil:
		return nil, errors.New("payment service: review queue is required")
	case deps.OnPaid == nil:
		return nil, errors.New("payment service: paid callback is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	txIDs := deps.TxIDs
	if txIDs == nil {
		txIDs = NewPIXTxID
	}
	countdown := deps.Countdown
	if countdown <= 0 {
		countdown = DefaultReviewCountdown
	}
	expiry := deps.Expiry
	if expiry <= 0 {
		expiry = DefaultReviewExpiry
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentService{
		transactions: deps.Transactions,
		users:        deps.Users,
		gateway:      deps.Gateway,
		queue:        deps.Queue,
		onPaid:       deps.OnPaid,
		provider:     strings.TrimSpace(deps.Provider),
		countdown:    countdown,
		expiry:       expiry,
		metrics:      metrics,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		newTxID:      txIDs,
		logger:       logger,
	}, nil
}

// NewPIXTxID returns a random 32 character transaction id accepted by PIX providers.
func NewPIXTxID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// OpenTransaction charges the booking's pay-to-book amount and schedules the first review.
// An open transaction for the booking is returned as is.
func (s *paymentService) OpenTransaction(ctx context.Context, booking Booking) (Transaction, error) {
	amount := booking.Charges.PayToBookAmount()
	if !amount.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: booking %s has nothing to pay", ErrPaymentInvalidInput, booking.ID)
	}
	if booking.IsPaid {
		return Transaction{}, fmt.Errorf("%w: booking %s is already paid", ErrPaymentInvalidInput, booking.ID)
	}
	existing, err := s.transactions.FindOpenByBooking(ctx, booking.ID)
	if err == nil {
		return existing, nil
	}
	if !repositoryNotFound(err) {
		return Transaction{}, s.mapRepositoryError(err)
	}

	company, err := s.users.Company(ctx, booking.ClientCompanyID)
	if err != nil {
		return Transaction{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	txid := s.newTxID()
	req := payments.ChargeRequest{
		TxID:        txid,
		BookingID:   booking.ID,
		Aceid:       booking.Aceid,
		Amount:      amount,
		Currency:    booking.Charges.PayToBook.Currency,
		PayerName:   company.Name,
		PayerTaxID:  company.TaxID,
		Description: "Booking " + booking.Aceid,
		ExpiresIn:   s.expiry,
	}
	started := time.Now()
	charge, err := s.gateway.CreateCharge(ctx, s.provider, req)
	s.metrics.RecordProviderCall(ctx, "payments", "create_charge", time.Since(started), err)
	if err != nil {
		s.logger(ctx, "payment.charge.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
		return Transaction{}, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	reference := charge.Reference
	if reference == "" {
		reference = txid
	}
	tx := Transaction{
		ID:         "txn_" + s.newID(),
		BookingID:  booking.ID,
		Provider:   charge.Provider,
		TxID:       reference,
		Charge:     amount,
		Currency:   req.Currency,
		QRCode:     charge.QRCode,
		PaymentURL: charge.PaymentURL,
		Response:   charge.Raw,
		Status:     domain.TransactionOpened,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.expiry),
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return Transaction{}, s.mapRepositoryError(err)
	}
	s.schedule(ctx, tx, now)
	s.logger(ctx, "payment.transaction.opened", map[string]any{
		"transactionId": tx.ID,
		"bookingId":     booking.ID,
		"provider":      tx.Provider,
		"amount":        amount.StringFixed(2),
	})
	return tx, nil
}

// ReviewTransaction asks the provider whether the charge cleared. Unpaid transactions are
// re-enqueued until they expire.
func (s *paymentService) ReviewTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return Transaction{}, fmt.Errorf("%w: transaction id is required", ErrPaymentInvalidInput)
	}
	tx, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return Transaction{}, s.mapRepositoryError(err)
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	now := s.clock()
	if now.After(tx.ExpiresAt) {
		tx.Status = domain.TransactionExpired
		tx.UpdatedAt = now
		if err := s.transactions.Update(ctx, tx); err != nil {
			return Transaction{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "payment.transaction.expired", map[string]any{"transactionId": tx.ID, "bookingId": tx.BookingID})
		return tx, nil
	}

	started := time.Now()
	review, reviewErr := s.gateway.Review(ctx, tx.Provider, payments.ReviewRequest{Reference: tx.TxID})
	s.metrics.RecordProviderCall(ctx, "payments", "review", time.Since(started), reviewErr)
	tx.Attempts++
	tx.UpdatedAt = now

	switch {
	case reviewErr != nil:
		var providerErr *payments.ProviderError
		if errors.As(reviewErr, &providerErr) && providerErr.Body != nil {
			tx.Response = providerErr.Body
		}
		s.logger(ctx, "payment.review.failed", map[string]any{"transactionId": tx.ID, "error": reviewErr.Error()})
	case review.Status == payments.StatusSucceeded && review.PaidAmount.Equal(tx.Charge):
		tx.Response = review.Raw
		if err := s.onPaid(ctx, tx.BookingID); err != nil {
			s.logger(ctx, "payment.booking.update.failed", map[string]any{"transactionId": tx.ID, "bookingId": tx.BookingID, "error": err.Error()})
			if updateErr := s.transactions.Update(ctx, tx); updateErr != nil {
				return Transaction{}, s.mapRepositoryError(updateErr)
			}
			s.schedule(ctx, tx, now)
			return tx, err
		}
		finished := now
		tx.Status = domain.TransactionFinished
		tx.FinishedAt = &finished
		if err := s.transactions.Update(ctx, tx); err != nil {
			return Transaction{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "payment.transaction.finished", map[string]any{"transactionId": tx.ID, "bookingId": tx.BookingID})
		return tx, nil
	case review.Status == payments.StatusSucceeded:
		tx.Response = review.Raw
		s.logger(ctx, "payment.review.amount_mismatch", map[string]any{
			"transactionId": tx.ID,
			"expected":      tx.Charge.StringFixed(2),
			"paid":          review.PaidAmount.StringFixed(2),
		})
	case review.Status == payments.StatusFailed:
		tx.Response = review.Raw
		tx.Status = domain.TransactionCanceled
		if err := s.transactions.Update(ctx, tx); err != nil {
			return Transaction{}, s.mapRepositoryError(err)
		}
		s.logger(ctx, "payment.transaction.canceled", map[string]any{"transactionId": tx.ID, "bookingId": tx.BookingID})
		return tx, nil
	default:
		tx.Response = review.Raw
	}

	if err := s.transactions.Update(ctx, tx); err != nil {
		return Transaction{}, s.mapRepositoryError(err)
	}
	s.schedule(ctx, tx, now)
	return tx, nil
}

// ProcessDueReviews reviews up to limit transactions whose countdown elapsed. Each member is
// claimed first so concurrent pollers do not review it twice.
func (s *paymentService) ProcessDueReviews(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	due, err := s.queue.Due(ctx, s.clock(), int64(limit))
	if err != nil {
		return 0, fmt.Errorf("payment: load due reviews: %w", err)
	}
	processed := 0
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		claimed, err := s.queue.Claim(ctx, id)
		if err != nil {
			s.logger(ctx, "payment.review.claim.failed", map[string]any{"transactionId": id, "error": err.Error()})
			continue
		}
		if !claimed {
			continue
		}
		if _, err := s.ReviewTransaction(ctx, id); err != nil {
			s.logger(ctx, "payment.review.error", map[string]any{"transactionId": id, "error": err.Error()})
		}
		processed++
	}
	return processed, nil
}

func (s *paymentService) schedule(ctx context.Context, tx Transaction, now time.Time) {
	at := now.Add(s.countdown)
	if err := s.queue.Schedule(ctx, tx.ID, at); err != nil {
		s.logger(ctx, "payment.review.schedule.failed", map[string]any{"transactionId": tx.ID, "error": err.Error()})
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func repositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
