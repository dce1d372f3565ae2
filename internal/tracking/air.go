package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// AirWrongFormat is the provider message for a malformed waybill.
const AirWrongFormat = "Wrong format of waybill number"

// AirConfig configures the air waybill registration client.
type AirConfig struct {
	URL               string
	User              string
	Password          string
	NotifyAddressType string
	NotifyAddress     string
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	HTTPClient        *http.Client
}

// AirClient registers air waybills for status notifications.
type AirClient struct {
	cfg    AirConfig
	client *http.Client
	retry  retryPolicy
}

// NewAirClient constructs an AirClient.
func NewAirClient(cfg AirConfig) (*AirClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("tracking: air url is required")
	}
	if cfg.NotifyAddressType == "" {
		cfg.NotifyAddressType = "PIMA"
	}
	return &AirClient{
		cfg:    cfg,
		client: httpClient(cfg.HTTPClient, cfg.Timeout),
		retry:  newRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

type airRequest struct {
	WaybillIdentification []string `json:"waybillIdentification"`
	NotifyAddressType     string   `json:"notifyAddressType"`
	NotifyAddress         string   `json:"notifyAddress"`
}

// AirResponse is the registration answer. Raw keeps the undecoded body.
type AirResponse struct {
	Confirmations []AirConfirmation `json:"confirmations"`
	Raw           []byte            `json:"-"`
}

type AirConfirmation struct {
	WaybillIdentification string `json:"waybillIdentification"`
	Error                 string `json:"error,omitempty"`
}

// Error returns the first confirmation error, or "" on success.
func (r AirResponse) Error() string {
	if len(r.Confirmations) == 0 {
		return ""
	}
	return r.Confirmations[0].Error
}

// Register submits a waybill number.
func (c *AirClient) Register(ctx context.Context, waybill string) (AirResponse, error) {
	payload, err := json.Marshal(airRequest{
		WaybillIdentification: []string{strings.TrimSpace(waybill)},
		NotifyAddressType:     c.cfg.NotifyAddressType,
		NotifyAddress:         c.cfg.NotifyAddress,
	})
	if err != nil {
		return AirResponse{}, err
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return AirResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User", c.cfg.User)
	req.Header.Set("Password", c.cfg.Password)

	var out AirResponse
	raw, err := do(ctx, c.client, c.retry, "air", req, &out)
	out.Raw = raw
	return out, err
}
