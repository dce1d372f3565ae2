package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	pixTokenCacheKey    = "payments:pix:token"
	pixStatusConcluded  = "CONCLUIDA"
	defaultPIXTimeout   = 20 * time.Second
	defaultPIXTokenTTL  = 10 * time.Minute
	defaultPIXRequester = "Cobrança dos serviços prestados."
)

// TokenCache stores the OAuth access token between calls.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// PIXConfig configures the direct PIX gateway.
type PIXConfig struct {
	TokenURL     string
	QRCobURL     string
	ClientID     string
	ClientSecret string
	DeveloperKey string
	AppKeyParam  string
	Scope        string
	PixKey       string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Cache        TokenCache
	Clock        func() time.Time
	Logger       Logger
}

// PIXGateway creates and reviews immediate charges ("cob") on a PIX API.
type PIXGateway struct {
	cfg    PIXConfig
	client *http.Client
	cache  TokenCache
	clock  func() time.Time
	logger Logger
}

// NewPIXGateway validates cfg and constructs the gateway.
func NewPIXGateway(cfg PIXConfig) (*PIXGateway, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" || strings.TrimSpace(cfg.QRCobURL) == "" {
		return nil, errors.New("pix: token and cob urls are required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("pix: client credentials are required")
	}
	if cfg.AppKeyParam == "" {
		cfg.AppKeyParam = "gw-dev-app-key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPIXTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &PIXGateway{cfg: cfg, client: client, cache: cfg.Cache, clock: clock, logger: logger}, nil
}

type pixTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (g *PIXGateway) token(ctx context.Context) (string, error) {
	if g.cache != nil {
		token, ok, err := g.cache.Get(ctx, pixTokenCacheKey)
		if err != nil {
			g.logger(ctx, "payments.pix.token_cache.read_failed", map[string]any{"error": err.Error()})
		} else if ok {
			return token, nil
		}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", g.cfg.Scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)

	var body pixTokenResponse
	if err := g.do(req, &body); err != nil {
		return "", fmt.Errorf("pix: token: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("pix: token response missing access_token")
	}
	if g.cache != nil {
		ttl := defaultPIXTokenTTL
		if body.ExpiresIn > 60 {
			ttl = time.Duration(body.ExpiresIn-60) * time.Second
		}
		if err := g.cache.Set(ctx, pixTokenCacheKey, body.AccessToken, ttl); err != nil {
			g.logger(ctx, "payments.pix.token_cache.write_failed", map[string]any{"error": err.Error()})
		}
	}
	return body.AccessToken, nil
}

type pixCob struct {
	Calendario struct {
		Criacao   string `json:"criacao"`
		Expiracao string `json:"expiracao"`
	} `json:"calendario"`
	TxID string `json:"txid"`
	Devedor struct {
		CPF  string `json:"cpf,omitempty"`
		Nome string `json:"nome,omitempty"`
	} `json:"devedor"`
	Valor struct {
		Original string `json:"original"`
	} `json:"valor"`
	Chave              string `json:"chave"`
	SolicitacaoPagador string `json:"solicitacaoPagador"`
}

// CreateCharge registers an immediate charge and returns the copy-and-paste QR payload.
func (g *PIXGateway) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if strings.TrimSpace(req.TxID) == "" {
		return Charge{}, errors.New("pix: txid is required")
	}
	token, err := g.token(ctx)
	if err != nil {
		return Charge{}, err
	}

	var cob pixCob
	cob.Calendario.Criacao = g.clock().UTC().Format(time.RFC3339)
	expiry := req.ExpiresIn
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	cob.Calendario.Expiracao = fmt.Sprintf("%d", int64(expiry/time.Second))
	cob.TxID = req.TxID
	cob.Devedor.CPF = req.PayerTaxID
	cob.Devedor.Nome = req.PayerName
	cob.Valor.Original = req.Amount.StringFixed(2)
	cob.Chave = g.cfg.PixKey
	cob.SolicitacaoPagador = req.Description
	if cob.SolicitacaoPagador == "" {
		cob.SolicitacaoPagador = defaultPIXRequester
	}
	payload, err := json.Marshal(cob)
	if err != nil {
		return Charge{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, g.cobURL(req.TxID), bytes.NewReader(payload))
	if err != nil {
		return Charge{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	var body map[string]any
	if err := g.do(httpReq, &body); err != nil {
		return Charge{}, fmt.Errorf("pix: create cob: %w", err)
	}
	qr, _ := body["textoImagemQRcode"].(string)
	if qr == "" {
		return Charge{}, &ProviderError{Provider: "pix", StatusCode: http.StatusOK, Body: body}
	}
	return Charge{Reference: req.TxID, QRCode: qr, Raw: body}, nil
}

type pixReviewResponse struct {
	Status string `json:"status"`
	Pix    []struct {
		Valor struct {
			Original string `json:"original"`
		} `json:"valor"`
	} `json:"pix"`
}

// Review fetches the charge. A CONCLUIDA charge is reported as succeeded together with the
// amount of its first settlement.
func (g *PIXGateway) Review(ctx context.Context, req ReviewRequest) (Review, error) {
	token, err := g.token(ctx)
	if err != nil {
		return Review{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cobURL(req.Reference), nil)
	if err != nil {
		return Review{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	var raw json.RawMessage
	if err := g.do(httpReq, &raw); err != nil {
		return Review{}, fmt.Errorf("pix: review cob: %w", err)
	}
	var parsed pixReviewResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Review{}, fmt.Errorf("pix: decode review: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return Review{}, fmt.Errorf("pix: decode review: %w", err)
	}

	review := Review{Status: StatusPending, Raw: body}
	if parsed.Status == pixStatusConcluded && len(parsed.Pix) > 0 {
		amount, err := decimal.NewFromString(parsed.Pix[0].Valor.Original)
		if err != nil {
			return Review{}, fmt.Errorf("pix: invalid settled amount %q: %w", parsed.Pix[0].Valor.Original, err)
		}
		review.Status = StatusSucceeded
		review.PaidAmount = amount
	}
	return review, nil
}

func (g *PIXGateway) cobURL(txid string) string {
	query := url.Values{}
	if g.cfg.DeveloperKey != "" {
		query.Set(g.cfg.AppKeyParam, g.cfg.DeveloperKey)
	}
	target := strings.TrimRight(g.cfg.QRCobURL, "/") + "/" + url.PathEscape(txid)
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

func (g *PIXGateway) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{Provider: "pix", StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &perr.Body)
		return perr
	}
	return json.Unmarshal(data, out)
}
