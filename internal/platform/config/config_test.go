package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "acemaven-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "acemaven-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "acemaven-dev" {
		t.Errorf("expected pubsub project to follow firestore, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Platform.MainCountryCode != "BR" {
		t.Errorf("expected main country BR, got %s", cfg.Platform.MainCountryCode)
	}
	if cfg.Payments.Provider != "pix" {
		t.Errorf("expected pix provider, got %s", cfg.Payments.Provider)
	}
	if cfg.Payments.ReviewCountdown != 7200*time.Second || cfg.Payments.ReviewExpiry != 259200*time.Second {
		t.Errorf("unexpected review windows: %s / %s", cfg.Payments.ReviewCountdown, cfg.Payments.ReviewExpiry)
	}
	if cfg.Tracking.Timeout != 20*time.Second {
		t.Errorf("unexpected tracking timeout %s", cfg.Tracking.Timeout)
	}
	if cfg.Tracking.MaxRetries != 2 || cfg.Tracking.RetryDelay != time.Second {
		t.Errorf("unexpected tracking retry policy %d/%s", cfg.Tracking.MaxRetries, cfg.Tracking.RetryDelay)
	}
	if cfg.Tracking.ClientVisibleDelay != 5*time.Minute {
		t.Errorf("unexpected client delay %s", cfg.Tracking.ClientVisibleDelay)
	}
	if cfg.Tracking.Air.NotifyAddressType != "PIMA" {
		t.Errorf("unexpected notify type %s", cfg.Tracking.Air.NotifyAddressType)
	}
	if cfg.PubSub.NotificationsTopic != "notifications" {
		t.Errorf("unexpected notifications topic %s", cfg.PubSub.NotificationsTopic)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":      "acemaven-prod",
		"API_PAYMENTS_PROVIDER":         "STRIPE",
		"API_STRIPE_API_KEY":            "sm://stripe-key",
		"API_PIX_CLIENT_SECRET":         "secret://pix-secret?version=3",
		"API_TRACKING_SEA_API_KEY":      "plain-key",
		"API_PAYMENTS_REVIEW_COUNTDOWN": "60",
	}
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Payments.Provider != "stripe" {
		t.Errorf("expected lowercase provider, got %s", cfg.Payments.Provider)
	}
	if cfg.Payments.Stripe.APIKey != "resolved:secret://stripe-key" {
		t.Errorf("sm:// reference not normalised: %s", cfg.Payments.Stripe.APIKey)
	}
	if cfg.Payments.PIX.ClientSecret != "resolved:secret://pix-secret?version=3" {
		t.Errorf("unexpected pix secret %s", cfg.Payments.PIX.ClientSecret)
	}
	if cfg.Tracking.Sea.APIKey != "plain-key" {
		t.Errorf("plain values must pass through, got %s", cfg.Tracking.Sea.APIKey)
	}
	if cfg.Payments.ReviewCountdown != time.Minute {
		t.Errorf("expected bare seconds to parse, got %s", cfg.Payments.ReviewCountdown)
	}
	if len(refs) != 2 {
		t.Errorf("expected two secret lookups, got %v", refs)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{"API_PAYMENTS_PROVIDER": "paypal"}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Firestore.ProjectID" || fields[1] != "Payments.Provider" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "p",
		"API_STRIPE_API_KEY":       "secret://stripe",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://stripe" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIRESTORE_PROJECT_ID": "p"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Tracking.Sea.APIKey", "Tracking.Sea.APIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Tracking.Sea.APIKey" {
		t.Fatalf("unexpected names %v", names)
	}
	if len(missing.RedactedNames()[0]) != 16 {
		t.Fatalf("expected redacted hash, got %v", missing.RedactedNames())
	}
}

func TestEnvironmentValuesMergesDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "API_FIRESTORE_PROJECT_ID=from-file\nexport API_SERVER_PORT=\"9000\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "9100"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_FIRESTORE_PROJECT_ID"] != "from-file" {
		t.Fatalf("expected dotenv value, got %q", values["API_FIRESTORE_PROJECT_ID"])
	}
	if values["API_SERVER_PORT"] != "9100" {
		t.Fatalf("explicit map must win, got %q", values["API_SERVER_PORT"])
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("expected dotenv port, got %s", cfg.Server.Port)
	}
}

func TestEnvironmentValuesMissingFile(t *testing.T) {
	values, err := EnvironmentValues(WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("missing dotenv should be ignored: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected empty values, got %v", values)
	}
}
