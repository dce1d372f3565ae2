// Package storage archives raw carrier payloads to Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ObjectWriterFactory opens a writer for bucket/object. It exists so tests can avoid GCS.
type ObjectWriterFactory func(ctx context.Context, bucket, object string) io.WriteCloser

// Archive writes tracking payloads to a bucket. A zero-value bucket disables archiving.
type Archive struct {
	bucket string
	open   ObjectWriterFactory
	now    func() time.Time
}

// NewArchive constructs an Archive backed by a Cloud Storage client.
func NewArchive(client *gcs.Client, bucket string) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage archive: client is required")
	}
	return NewArchiveWithWriter(bucket, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		return w
	}), nil
}

// NewArchiveWithWriter constructs an Archive around a custom writer factory.
func NewArchiveWithWriter(bucket string, open ObjectWriterFactory) *Archive {
	return &Archive{bucket: strings.TrimSpace(bucket), open: open, now: time.Now}
}

// Enabled reports whether a bucket is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.open != nil
}

// Store writes payload and returns the object name. Disabled archives return "" and no error.
func (a *Archive) Store(ctx context.Context, bookingID string, kind PayloadKind, payload []byte) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	object, err := TrackingObjectPath(bookingID, kind, a.now())
	if err != nil {
		return "", err
	}
	w := a.open(ctx, a.bucket, object)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage archive: close %s: %w", object, err)
	}
	return object, nil
}
