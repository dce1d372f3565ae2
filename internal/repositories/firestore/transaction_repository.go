package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const transactionsCollection = "transactions"

// TransactionRepository persists booking payment transactions.
type TransactionRepository struct {
	provider     *pfirestore.Provider
	transactions *pfirestore.Collection[transactionDocument]
}

var _ repositories.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		provider:     provider,
		transactions: pfirestore.NewCollection[transactionDocument](provider, transactionsCollection),
	}, nil
}

func (r *TransactionRepository) Create(ctx context.Context, tx domain.Transaction) error {
	doc, err := newTransactionDocument(tx)
	if err != nil {
		return err
	}
	return r.transactions.Create(ctx, tx.ID, doc)
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	doc, err := r.transactions.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// Update overwrites an existing transaction; a missing document is reported as not found.
func (r *TransactionRepository) Update(ctx context.Context, tx domain.Transaction) error {
	doc, err := newTransactionDocument(tx)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		_, ref, err := r.transactions.GetTx(ctx, ftx, tx.ID)
		if err != nil {
			return err
		}
		return ftx.Set(ref, doc)
	})
}

func (r *TransactionRepository) FindOpenByBooking(ctx context.Context, bookingID string) (domain.Transaction, error) {
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("bookingId", "==", bookingID).
			Where("status", "==", string(domain.TransactionOpened)).
			Limit(1)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(docs) == 0 {
		return domain.Transaction{}, pfirestore.NotFound(transactionsCollection+".find_open", "open transaction for booking "+bookingID)
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

type transactionDocument struct {
	BookingID  string         `firestore:"bookingId"`
	Provider   string         `firestore:"provider"`
	TxID       string         `firestore:"txId"`
	Charge     string         `firestore:"charge"`
	Currency   string         `firestore:"currency"`
	QRCode     string         `firestore:"qrCode,omitempty"`
	PaymentURL string         `firestore:"paymentUrl,omitempty"`
	Response   map[string]any `firestore:"response,omitempty"`
	Status     string         `firestore:"status"`
	Attempts   int            `firestore:"attempts"`
	CreatedAt  time.Time      `firestore:"createdAt"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
	ExpiresAt  time.Time      `firestore:"expiresAt"`
	FinishedAt *time.Time     `firestore:"finishedAt"`
}

func newTransactionDocument(t domain.Transaction) (transactionDocument, error) {
	if t.ID == "" {
		return transactionDocument{}, errors.New("transaction repository: id is required")
	}
	return transactionDocument{
		BookingID:  t.BookingID,
		Provider:   t.Provider,
		TxID:       t.TxID,
		Charge:     decimalString(t.Charge),
		Currency:   t.Currency,
		QRCode:     t.QRCode,
		PaymentURL: t.PaymentURL,
		Response:   t.Response,
		Status:     string(t.Status),
		Attempts:   t.Attempts,
		CreatedAt:  t.CreatedAt.UTC(),
		UpdatedAt:  t.UpdatedAt.UTC(),
		ExpiresAt:  t.ExpiresAt.UTC(),
		FinishedAt: utcPtr(t.FinishedAt),
	}, nil
}

func (d transactionDocument) toDomain(id string) (domain.Transaction, error) {
	charge, err := parseDecimal("transaction charge", d.Charge)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:         id,
		BookingID:  d.BookingID,
		Provider:   d.Provider,
		TxID:       d.TxID,
		Charge:     charge,
		Currency:   d.Currency,
		QRCode:     d.QRCode,
		PaymentURL: d.PaymentURL,
		Response:   d.Response,
		Status:     domain.TransactionStatus(d.Status),
		Attempts:   d.Attempts,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
		ExpiresAt:  d.ExpiresAt.UTC(),
		FinishedAt: utcPtr(d.FinishedAt),
	}, nil
}
