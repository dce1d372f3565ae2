package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultOIDCJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer     = "https://accounts.google.com"
	defaultMainCountryCode    = "BR"
	defaultSettingsTTL        = 5 * time.Minute
	defaultNotificationsTopic = "notifications"
	defaultEmailsTopic        = "emails"
	defaultChatsTopic         = "chats"
	defaultAWBTopic           = "awb-registrations"
	defaultRedisAddr          = "localhost:6379"
	defaultRedisPoolSize      = 10
	defaultPaymentProvider    = "pix"
	defaultReviewCountdown    = 7200 * time.Second
	defaultReviewExpiry       = 259200 * time.Second
	defaultReviewPollInterval = time.Minute
	defaultPIXScope           = "cob.write cob.read pix.read pix.write"
	defaultPIXAppKeyParam     = "gw-dev-app-key"
	defaultTrackingTimeout    = 20 * time.Second
	defaultTrackingRetries    = 2
	defaultTrackingRetryDelay = time.Second
	defaultTrackDelay         = 5 * time.Minute
	defaultAirNotifyType      = "PIMA"
	defaultJobLockTTL         = 30 * time.Minute
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Platform  PlatformConfig
	Payments  PaymentsConfig
	Tracking  TrackingConfig
	Security  SecurityConfig
	Catalog   CatalogConfig
	Jobs      JobsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for push delivery.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	EnablePush      bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics the service publishes to.
type PubSubConfig struct {
	ProjectID          string
	NotificationsTopic string
	EmailsTopic        string
	ChatsTopic         string
	AWBTopic           string
}

// RedisConfig configures the queue, lock and token cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	TrackingBucket string
}

// PlatformConfig holds marketplace-wide conventions.
type PlatformConfig struct {
	MainCountryCode string
	SettingsTTL     time.Duration
}

// PaymentsConfig selects and configures the payment provider.
type PaymentsConfig struct {
	Provider           string
	ReviewCountdown    time.Duration
	ReviewExpiry       time.Duration
	ReviewPollInterval time.Duration
	PIX                PIXConfig
	Stripe             StripeConfig
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
}

// StripeConfig configures the Stripe Checkout provider.
type StripeConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
}

// TrackingConfig configures the sea and air tracking providers.
type TrackingConfig struct {
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	ClientVisibleDelay time.Duration
	Sea                SeaTrackingConfig
	Air                AirTrackingConfig
}

// SeaTrackingConfig configures the sea tracking API.
type SeaTrackingConfig struct {
	URL    string
	APIKey string
}

// AirTrackingConfig configures the air waybill registration API.
type AirTrackingConfig struct {
	URL               string
	User              string
	Password          string
	NotifyAddressType string
	NotifyAddress     string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// CatalogConfig points at the optional reference data seed.
type CatalogConfig struct {
	SeedFile string
}

// JobsConfig tunes scheduled job execution.
type JobsConfig struct {
	LockTTL time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Payments.PIX.ClientSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// construct dependencies such as the secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			EnablePush:      boolWithDefault(lookup, "API_FIREBASE_ENABLE_PUSH", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
			EmailsTopic:        stringWithDefault(lookup, "API_PUBSUB_EMAILS_TOPIC", defaultEmailsTopic),
			ChatsTopic:         stringWithDefault(lookup, "API_PUBSUB_CHATS_TOPIC", defaultChatsTopic),
			AWBTopic:           stringWithDefault(lookup, "API_PUBSUB_AWB_TOPIC", defaultAWBTopic),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", defaultRedisAddr),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			PoolSize: intWithDefault(lookup, "API_REDIS_POOL_SIZE", defaultRedisPoolSize),
		},
		Storage: StorageConfig{
			TrackingBucket: stringWithDefault(lookup, "API_STORAGE_TRACKING_BUCKET", ""),
		},
		Platform: PlatformConfig{
			MainCountryCode: strings.ToUpper(stringWithDefault(lookup, "API_PLATFORM_MAIN_COUNTRY", defaultMainCountryCode)),
			SettingsTTL:     durationWithDefault(lookup, "API_PLATFORM_SETTINGS_TTL", defaultSettingsTTL),
		},
		Payments: PaymentsConfig{
			Provider:           strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_PROVIDER", defaultPaymentProvider)),
			ReviewCountdown:    durationWithDefault(lookup, "API_PAYMENTS_REVIEW_COUNTDOWN", defaultReviewCountdown),
			ReviewExpiry:       durationWithDefault(lookup, "API_PAYMENTS_REVIEW_EXPIRY", defaultReviewExpiry),
			ReviewPollInterval: durationWithDefault(lookup, "API_PAYMENTS_REVIEW_POLL_INTERVAL", defaultReviewPollInterval),
			PIX: PIXConfig{
				TokenURL:     stringWithDefault(lookup, "API_PIX_TOKEN_URL", ""),
				QRCobURL:     stringWithDefault(lookup, "API_PIX_QR_COB_URL", ""),
				ClientID:     stringWithDefault(lookup, "API_PIX_CLIENT_ID", ""),
				ClientSecret: stringWithDefault(lookup, "API_PIX_CLIENT_SECRET", ""),
				DeveloperKey: stringWithDefault(lookup, "API_PIX_DEVELOPER_KEY", ""),
				AppKeyParam:  stringWithDefault(lookup, "API_PIX_APP_KEY_PARAM", defaultPIXAppKeyParam),
				Scope:        stringWithDefault(lookup, "API_PIX_SCOPE", defaultPIXScope),
				PixKey:       stringWithDefault(lookup, "API_PIX_KEY", ""),
				Timeout:      durationWithDefault(lookup, "API_PIX_TIMEOUT", defaultTrackingTimeout),
			},
			Stripe: StripeConfig{
				APIKey:     stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
				SuccessURL: stringWithDefault(lookup, "API_STRIPE_SUCCESS_URL", ""),
				CancelURL:  stringWithDefault(lookup, "API_STRIPE_CANCEL_URL", ""),
			},
		},
		Tracking: TrackingConfig{
			Timeout:            durationWithDefault(lookup, "API_TRACKING_TIMEOUT", defaultTrackingTimeout),
			MaxRetries:         intWithDefault(lookup, "API_TRACKING_MAX_RETRIES", defaultTrackingRetries),
			RetryDelay:         durationWithDefault(lookup, "API_TRACKING_RETRY_DELAY", defaultTrackingRetryDelay),
			ClientVisibleDelay: durationWithDefault(lookup, "API_TRACKING_CLIENT_DELAY", defaultTrackDelay),
			Sea: SeaTrackingConfig{
				URL:    stringWithDefault(lookup, "API_TRACKING_SEA_URL", ""),
				APIKey: stringWithDefault(lookup, "API_TRACKING_SEA_API_KEY", ""),
			},
			Air: AirTrackingConfig{
				URL:               stringWithDefault(lookup, "API_TRACKING_AIR_URL", ""),
				User:              stringWithDefault(lookup, "API_TRACKING_AIR_USER", ""),
				Password:          stringWithDefault(lookup, "API_TRACKING_AIR_PASSWORD", ""),
				NotifyAddressType: stringWithDefault(lookup, "API_TRACKING_AIR_NOTIFY_TYPE", defaultAirNotifyType),
				NotifyAddress:     stringWithDefault(lookup, "API_TRACKING_AIR_NOTIFY_ADDRESS", ""),
			},
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", "local")),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Catalog: CatalogConfig{
			SeedFile: stringWithDefault(lookup, "API_CATALOG_SEED_FILE", ""),
		},
		Jobs: JobsConfig{
			LockTTL: durationWithDefault(lookup, "API_JOBS_LOCK_TTL", defaultJobLockTTL),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Redis.Password", &cfg.Redis.Password},
		{"Payments.PIX.ClientSecret", &cfg.Payments.PIX.ClientSecret},
		{"Payments.PIX.DeveloperKey", &cfg.Payments.PIX.DeveloperKey},
		{"Payments.Stripe.APIKey", &cfg.Payments.Stripe.APIKey},
		{"Tracking.Sea.APIKey", &cfg.Tracking.Sea.APIKey},
		{"Tracking.Air.Password", &cfg.Tracking.Air.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if len(cfg.Platform.MainCountryCode) != 2 {
		missing = append(missing, "Platform.MainCountryCode")
	}
	switch cfg.Payments.Provider {
	case "pix", "stripe":
	default:
		missing = append(missing, "Payments.Provider")
	}
	if cfg.Payments.ReviewCountdown <= 0 {
		missing = append(missing, "Payments.ReviewCountdown")
	}
	if cfg.Payments.ReviewExpiry <= 0 {
		missing = append(missing, "Payments.ReviewExpiry")
	}
	if cfg.Tracking.Timeout <= 0 {
		missing = append(missing, "Tracking.Timeout")
	}
	if cfg.Jobs.LockTTL <= 0 {
		missing = append(missing, "Jobs.LockTTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
