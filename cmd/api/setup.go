package main

import (
	"context"
	"errors"
	"strings"
	"time"

	goRedis "github.com/redis/go-redis/v9"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/config"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/secrets"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
	firestoreRepo "github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/services"
)

type repositorySet struct {
	catalog       *firestoreRepo.CatalogRepository
	users         *firestoreRepo.UserRepository
	settings      *firestoreRepo.SettingsRepository
	exchangeRates *firestoreRepo.ExchangeRateRepository
	surcharges    *firestoreRepo.SurchargeRepository
	freightRates  *firestoreRepo.FreightRateRepository
	bookings      *firestoreRepo.BookingRepository
	tracks        *firestoreRepo.TrackRepository
	notifications *firestoreRepo.NotificationRepository
	transactions  *firestoreRepo.TransactionRepository
	quotes        *firestoreRepo.QuoteRepository
}

func newRepositories(provider *pfirestore.Provider) (repositorySet, error) {
	var (
		set  repositorySet
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	set.catalog, err = firestoreRepo.NewCatalogRepository(provider)
	collect(err)
	set.users, err = firestoreRepo.NewUserRepository(provider)
	collect(err)
	set.settings, err = firestoreRepo.NewSettingsRepository(provider)
	collect(err)
	set.exchangeRates, err = firestoreRepo.NewExchangeRateRepository(provider)
	collect(err)
	set.surcharges, err = firestoreRepo.NewSurchargeRepository(provider)
	collect(err)
	set.freightRates, err = firestoreRepo.NewFreightRateRepository(provider)
	collect(err)
	set.bookings, err = firestoreRepo.NewBookingRepository(provider)
	collect(err)
	set.tracks, err = firestoreRepo.NewTrackRepository(provider)
	collect(err)
	set.notifications, err = firestoreRepo.NewNotificationRepository(provider)
	collect(err)
	set.transactions, err = firestoreRepo.NewTransactionRepository(provider)
	collect(err)
	set.quotes, err = firestoreRepo.NewQuoteRepository(provider)
	collect(err)
	return set, errors.Join(errs...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(provider *pfirestore.Provider, redis *goRedis.Client, fetcher *secrets.Fetcher, settings services.SettingsProvider, build services.BuildInfo) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check:    provider.Ping,
		},
		{
			Name:     "redis",
			Critical: true,
			Timeout:  time.Second,
			Check: func(ctx context.Context) error {
				return redis.Ping(ctx).Err()
			},
		},
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Settings:         settings,
		Clock:            time.Now,
		Build:            build,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
