package firestore

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
)

// Decimals are stored as strings so Firestore never rounds them through float64.

func decimalString(d decimal.Decimal) string {
	return d.String()
}

func optionalDecimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("firestore: decode %s: %w", field, err)
	}
	return d, nil
}

func parseOptionalDecimal(field string, value *string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	d, err := parseDecimal(field, *value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// joinJobErrors collects bulk writer results once the writer has been ended.
func joinJobErrors(op string, jobs []*firestore.BulkWriterJob) error {
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, pfirestore.WrapError(op, err))
		}
	}
	return errors.Join(errs...)
}
