package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/handlers"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/payments"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/auth"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/cache"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/catalog"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/config"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/i18n"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/jobs"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/observability"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/push"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/secrets"
	platformstorage "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/storage"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/services"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/tracking"
)

const (
	reviewQueueName   = "payment-reviews"
	reviewBatchSize   = 50
	reviewPollTimeout = time.Minute
	reviewRateLimit   = 6
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	metrics, err := observability.NewMetrics()
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore,
		pfirestore.WithDialTimeout(cfg.Server.ReadTimeout),
		pfirestore.WithClientOptions(clientOptions(cfg)...),
	)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	redisClient, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOptions(cfg)...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	topics := jobs.Topics{
		Notifications: topicOrNil(pubsubClient, cfg.PubSub.NotificationsTopic),
		Emails:        topicOrNil(pubsubClient, cfg.PubSub.EmailsTopic),
		Chats:         topicOrNil(pubsubClient, cfg.PubSub.ChatsTopic),
		Waybills:      topicOrNil(pubsubClient, cfg.PubSub.AWBTopic),
	}
	defer stopTopics(topics)
	publisher, err := jobs.NewPubSubPublisher(topics)
	if err != nil {
		logger.Fatal("failed to initialise pubsub publisher", zap.Error(err))
	}

	archive, closeArchive := newPayloadArchive(ctx, logger, cfg)
	defer closeArchive()

	repos, err := newRepositories(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	if seed := strings.TrimSpace(cfg.Catalog.SeedFile); seed != "" {
		applied, err := catalog.Apply(ctx, repos.catalog, seed)
		if err != nil {
			logger.Fatal("failed to apply catalog seed", zap.String("file", seed), zap.Error(err))
		}
		logger.Info("catalog seed applied", zap.String("file", seed), zap.Int("records", applied))
	}

	settings, err := services.NewSettingsProvider(services.SettingsProviderDeps{
		Settings:               repos.settings,
		Catalog:                repos.catalog,
		TTL:                    cfg.Platform.SettingsTTL,
		DefaultMainCountryCode: cfg.Platform.MainCountryCode,
		Logger:                 serviceLogger(logger, "settings"),
	})
	if err != nil {
		logger.Fatal("failed to initialise settings provider", zap.Error(err))
	}
	exchangeBook, err := services.NewExchangeRateBook(services.ExchangeRateBookDeps{
		Rates:    repos.exchangeRates,
		Settings: settings,
	})
	if err != nil {
		logger.Fatal("failed to initialise exchange rate book", zap.Error(err))
	}
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Surcharges:    repos.surcharges,
		Catalog:       repos.catalog,
		ExchangeRates: exchangeBook,
		Logger:        serviceLogger(logger, "pricing"),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	notificationDeps := services.NotificationServiceDeps{
		Notifications: repos.notifications,
		Users:         repos.users,
		Publisher:     publisher,
		Renderer:      i18n.NewCatalog(),
		Logger:        serviceLogger(logger, "notifications"),
	}
	if cfg.Firebase.EnablePush {
		sender, err := push.NewSender(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise push sender", zap.Error(err))
		}
		notificationDeps.Push = sender
	}
	notifications, err := services.NewNotificationService(notificationDeps)
	if err != nil {
		logger.Fatal("failed to initialise notification service", zap.Error(err))
	}

	tariffs, err := services.NewTariffService(services.TariffServiceDeps{
		Surcharges:   repos.surcharges,
		FreightRates: repos.freightRates,
		Logger:       serviceLogger(logger, "tariffs"),
	})
	if err != nil {
		logger.Fatal("failed to initialise tariff service", zap.Error(err))
	}
	quotes, err := services.NewQuoteService(services.QuoteServiceDeps{
		Quotes:        repos.quotes,
		FreightRates:  repos.freightRates,
		Catalog:       repos.catalog,
		Users:         repos.users,
		Settings:      settings,
		Pricing:       pricing,
		Notifications: notifications,
		Logger:        serviceLogger(logger, "quotes"),
	})
	if err != nil {
		logger.Fatal("failed to initialise quote service", zap.Error(err))
	}

	gateway, err := newPaymentManager(cfg, cache.NewTokenCache(redisClient), logger)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	// The booking service needs payments and payments report back to bookings once paid.
	var bookings services.BookingService
	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Transactions: repos.transactions,
		Users:        repos.users,
		Gateway:      gateway,
		Queue:        cache.NewDelayedQueue(redisClient, reviewQueueName),
		OnPaid: func(ctx context.Context, bookingID string) error {
			_, err := bookings.MarkPaid(ctx, bookingID)
			return err
		},
		Provider:  cfg.Payments.Provider,
		Countdown: cfg.Payments.ReviewCountdown,
		Expiry:    cfg.Payments.ReviewExpiry,
		Metrics:   metrics,
		Logger:    serviceLogger(logger, "payments"),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	bookings, err = services.NewBookingService(services.BookingServiceDeps{
		Bookings:      repos.bookings,
		FreightRates:  repos.freightRates,
		Catalog:       repos.catalog,
		Users:         repos.users,
		Tracks:        repos.tracks,
		ExchangeRates: exchangeBook,
		Settings:      settings,
		Pricing:       pricing,
		Notifications: notifications,
		Payments:      paymentService,
		Chats:         publisher,
		Waybills:      publisher,
		Logger:        serviceLogger(logger, "bookings"),
	})
	if err != nil {
		logger.Fatal("failed to initialise booking service", zap.Error(err))
	}

	seaTracker, err := tracking.NewSeaClient(tracking.SeaConfig{
		BaseURL:    cfg.Tracking.Sea.URL,
		APIKey:     cfg.Tracking.Sea.APIKey,
		Timeout:    cfg.Tracking.Timeout,
		MaxRetries: cfg.Tracking.MaxRetries,
		RetryDelay: cfg.Tracking.RetryDelay,
	})
	if err != nil {
		logger.Fatal("failed to initialise sea tracker", zap.Error(err))
	}
	airTracker, err := tracking.NewAirClient(tracking.AirConfig{
		URL:               cfg.Tracking.Air.URL,
		User:              cfg.Tracking.Air.User,
		Password:          cfg.Tracking.Air.Password,
		NotifyAddressType: cfg.Tracking.Air.NotifyAddressType,
		NotifyAddress:     cfg.Tracking.Air.NotifyAddress,
		Timeout:           cfg.Tracking.Timeout,
		MaxRetries:        cfg.Tracking.MaxRetries,
		RetryDelay:        cfg.Tracking.RetryDelay,
	})
	if err != nil {
		logger.Fatal("failed to initialise air tracker", zap.Error(err))
	}
	trackingService, err := services.NewTrackingService(services.TrackingServiceDeps{
		Bookings:           repos.bookings,
		Tracks:             repos.tracks,
		Catalog:            repos.catalog,
		Sea:                seaTracker,
		Air:                airTracker,
		Archive:            archive,
		Notifications:      notifications,
		Metrics:            metrics,
		ClientVisibleDelay: cfg.Tracking.ClientVisibleDelay,
		Logger:             serviceLogger(logger, "tracking"),
	})
	if err != nil {
		logger.Fatal("failed to initialise tracking service", zap.Error(err))
	}

	jobRunner, err := services.NewJobRunner(services.JobRunnerDeps{
		Locker:        cache.NewLocker(redisClient),
		Quotes:        quotes,
		Bookings:      bookings,
		Tracking:      trackingService,
		Notifications: notifications,
		Tariffs:       tariffs,
		BookingStore:  repos.bookings,
		Users:         repos.users,
		Catalog:       repos.catalog,
		Metrics:       metrics,
		LockTTL:       cfg.Jobs.LockTTL,
		Logger:        serviceLogger(logger, "jobs"),
	})
	if err != nil {
		logger.Fatal("failed to initialise job runner", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreProvider, redisClient, fetcher, settings, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	var pollWG sync.WaitGroup
	if cfg.Payments.ReviewPollInterval > 0 {
		pollWG.Add(1)
		go func() {
			defer pollWG.Done()
			runReviewPoller(pollCtx, logger.Named("payments"), paymentService, cfg.Payments.ReviewPollInterval)
		}()
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	reviewLimiter, err := cache.NewWindowLimiter(redisClient, reviewQueueName, reviewRateLimit, time.Minute)
	if err != nil {
		logger.Fatal("failed to initialise review limiter", zap.Error(err))
	}
	internalHandlers := handlers.NewInternalHandlers(jobRunner, trackingService, paymentService,
		handlers.WithReviewLimiter(reviewLimiter),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("acemaven api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	pollCancel()
	pollWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runReviewPoller drains due payment reviews until ctx is cancelled.
func runReviewPoller(ctx context.Context, logger *zap.Logger, svc services.PaymentService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, reviewPollTimeout)
			processed, err := svc.ProcessDueReviews(runCtx, reviewBatchSize)
			cancel()
			if err != nil {
				logger.Error("payment review poll error", zap.Error(err))
				continue
			}
			if processed > 0 {
				logger.Info("payment reviews processed", zap.Int("count", processed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func newPaymentManager(cfg config.Config, tokens payments.TokenCache, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)
	pix := cfg.Payments.PIX
	if strings.TrimSpace(pix.ClientID) != "" {
		gateway, err := payments.NewPIXGateway(payments.PIXConfig{
			TokenURL:     pix.TokenURL,
			QRCobURL:     pix.QRCobURL,
			ClientID:     pix.ClientID,
			ClientSecret: pix.ClientSecret,
			DeveloperKey: pix.DeveloperKey,
			AppKeyParam:  pix.AppKeyParam,
			Scope:        pix.Scope,
			PixKey:       pix.PixKey,
			Timeout:      pix.Timeout,
			Cache:        tokens,
			Logger:       payments.Logger(observability.ServiceLogger(logger, "pix")),
		})
		if err != nil {
			return nil, err
		}
		providers["pix"] = gateway
	}
	if strings.TrimSpace(cfg.Payments.Stripe.APIKey) != "" {
		provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.Payments.Stripe.APIKey,
			SuccessURL: cfg.Payments.Stripe.SuccessURL,
			CancelURL:  cfg.Payments.Stripe.CancelURL,
			Logger:     payments.Logger(observability.ServiceLogger(logger, "stripe")),
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = provider
	}
	return payments.NewManager(providers, payments.WithDefaultProvider(cfg.Payments.Provider))
}

func newPayloadArchive(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.PayloadArchive, func()) {
	bucket := strings.TrimSpace(cfg.Storage.TrackingBucket)
	if bucket == "" {
		return platformstorage.NewArchiveWithWriter("", nil), func() {}
	}
	client, err := cloudstorage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	archive, err := platformstorage.NewArchive(client, bucket)
	if err != nil {
		logger.Fatal("failed to initialise tracking archive", zap.Error(err))
	}
	return archive, func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
}

func topicOrNil(client *pubsub.Client, name string) *pubsub.Topic {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return client.Topic(name)
}

func stopTopics(topics jobs.Topics) {
	for _, topic := range []*pubsub.Topic{topics.Notifications, topics.Emails, topics.Chats, topics.Waybills} {
		if topic != nil {
			topic.Stop()
		}
	}
}

func clientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func serviceLogger(base *zap.Logger, component string) services.Logger {
	return services.Logger(observability.ServiceLogger(base, component))
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(jwks, adapter)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(auth.Policy{
		Audience: audience,
		Issuers:  cfg.Security.OIDC.Issuers,
	})
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected payment provider cannot run without.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["API_PAYMENTS_PROVIDER"])) {
	case "stripe":
		return []string{"Payments.Stripe.APIKey"}
	default:
		return []string{"Payments.PIX.ClientSecret"}
	}
}
