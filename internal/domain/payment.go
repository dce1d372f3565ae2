package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the state of a booking payment.
type TransactionStatus string

const (
	TransactionOpened   TransactionStatus = "opened"
	TransactionFinished TransactionStatus = "finished"
	TransactionCanceled TransactionStatus = "canceled"
	TransactionExpired  TransactionStatus = "expired"
)

// Terminal reports whether no further review is scheduled.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionFinished || s == TransactionCanceled || s == TransactionExpired
}

// Transaction is a payment request for a booking's pay-to-book amount.
type Transaction struct {
	ID         string
	BookingID  string
	Provider   string
	TxID       string
	Charge     decimal.Decimal
	Currency   string
	QRCode     string
	PaymentURL string
	Response   map[string]any
	Status     TransactionStatus
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
	FinishedAt *time.Time
}
