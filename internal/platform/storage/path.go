package storage

import (
	"fmt"
	"strings"
	"time"
)

// PayloadKind labels archived carrier responses.
type PayloadKind string

const (
	KindSeaTracking PayloadKind = "sea"
	KindSeaRoute    PayloadKind = "sea-route"
	KindAirTracking PayloadKind = "air"
	KindAirStatus   PayloadKind = "air-status"
)

// TrackingObjectPath returns tracking/{booking}/{yyyy}/{mm}/{dd}/{unix}-{kind}.json.
func TrackingObjectPath(bookingID string, kind PayloadKind, at time.Time) (string, error) {
	booking, err := validateSegment("bookingID", bookingID)
	if err != nil {
		return "", err
	}
	name, err := validateSegment("kind", string(kind))
	if err != nil {
		return "", err
	}
	at = at.UTC()
	return fmt.Sprintf("tracking/%s/%04d/%02d/%02d/%d-%s.json", booking, at.Year(), int(at.Month()), at.Day(), at.Unix(), name), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
