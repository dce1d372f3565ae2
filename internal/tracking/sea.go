package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// SeaStatusError marks a failed lookup in the sea provider envelope.
	SeaStatusError = "error"
	// SeaMessageWrongNumber is the fatal lookup error that stops a tracking batch.
	SeaMessageWrongNumber = "WRONG_NUMBER"
)

// SeaConfig configures the sea provider client.
type SeaConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// SeaClient queries container events by booking reference.
type SeaClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   retryPolicy
}

// NewSeaClient constructs a SeaClient.
func NewSeaClient(cfg SeaConfig) (*SeaClient, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("tracking: sea base url is required")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &SeaClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  httpClient(cfg.HTTPClient, cfg.Timeout),
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// SeaQuery identifies a shipment at the provider.
type SeaQuery struct {
	Number  string
	Sealine string
}

// SeaResponse is the provider envelope. Raw keeps the undecoded body for archiving.
type SeaResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Data    SeaData `json:"data"`
	Raw     []byte  `json:"-"`
}

// Failed reports whether the provider answered with status=error.
func (r SeaResponse) Failed() bool { return strings.EqualFold(r.Status, SeaStatusError) }

// SeaData carries lookup tables and per-container events.
type SeaData struct {
	Locations  []SeaLocation  `json:"locations"`
	Vessels    []SeaVessel    `json:"vessels"`
	Containers []SeaContainer `json:"containers"`
	Route      SeaRoute       `json:"route"`
}

type SeaLocation struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Locode  string `json:"locode"`
}

type SeaVessel struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	IMO  int    `json:"imo"`
}

type SeaContainer struct {
	Number string     `json:"number"`
	Events []SeaEvent `json:"events"`
}

// SeaEvent references locations and vessels by id.
type SeaEvent struct {
	Status   string `json:"status"`
	Location int    `json:"location"`
	Vessel   int    `json:"vessel"`
	Date     string `json:"date"`
	Actual   bool   `json:"actual"`
}

type SeaRoutePoint struct {
	Location int    `json:"location"`
	Date     string `json:"date"`
	Actual   bool   `json:"actual"`
}

type SeaRoute struct {
	Prepol  SeaRoutePoint `json:"prepol"`
	Pol     SeaRoutePoint `json:"pol"`
	Pod     SeaRoutePoint `json:"pod"`
	Postpod SeaRoutePoint `json:"postpod"`
}

// LocationName resolves a location id; unknown ids return "".
func (d SeaData) LocationName(id int) string {
	for _, loc := range d.Locations {
		if loc.ID == id {
			if loc.Country != "" {
				return loc.Name + ", " + loc.Country
			}
			return loc.Name
		}
	}
	return ""
}

// VesselName resolves a vessel id; unknown ids return "".
func (d SeaData) VesselName(id int) string {
	for _, v := range d.Vessels {
		if v.ID == id {
			return v.Name
		}
	}
	return ""
}

// Reference looks up a shipment by booking number.
func (c *SeaClient) Reference(ctx context.Context, q SeaQuery) (SeaResponse, error) {
	return c.get(ctx, "reference", q)
}

// Route fetches the planned and actual route of a shipment.
func (c *SeaClient) Route(ctx context.Context, q SeaQuery) (SeaResponse, error) {
	return c.get(ctx, "route", q)
}

func (c *SeaClient) get(ctx context.Context, endpoint string, q SeaQuery) (SeaResponse, error) {
	params := url.Values{}
	params.Set("type", "BK")
	params.Set("number", q.Number)
	params.Set("sealine", q.Sealine)
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return SeaResponse{}, err
	}
	var out SeaResponse
	raw, err := do(ctx, c.client, c.retry, "sea", req, &out)
	out.Raw = raw
	return out, err
}
