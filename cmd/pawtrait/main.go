package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmod "github.com/pawtrait-app/pawtrait/modules/billing"
	"github.com/pawtrait-app/pawtrait/pkg/billing"
	"github.com/pawtrait-app/pawtrait/pkg/billing/postgres"
	"github.com/pawtrait-app/pawtrait/pkg/config"
	"github.com/pawtrait-app/pawtrait/pkg/httpserver"
	"github.com/pawtrait-app/pawtrait/pkg/logger"
	"github.com/pawtrait-app/pawtrait/pkg/pg"
	"github.com/pawtrait-app/pawtrait/pkg/redis"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	PlanCatalog string `env:"PLAN_CATALOG_PATH" envDefault:"configs/plans.yaml"`
}

func main() {
	ctx := context.Background()

	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Environment, "pawtrait"))
	logger.SetAsDefault(log)

	if err := run(ctx, appCfg, log); err != nil {
		log.Error("service stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg appConfig, log *slog.Logger) error {
	var (
		pgCfg     pg.Config
		redisCfg  redis.Config
		httpCfg   httpserver.Config
		paddleCfg billing.PaddleConfig
	)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&paddleCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	provider, err := billing.NewPaddleProvider(paddleCfg)
	if err != nil {
		return err
	}

	catalog, err := billing.NewCatalog(ctx, billing.NewYAMLSource(appCfg.PlanCatalog), nil)
	if err != nil {
		return err
	}

	store := postgres.New(pool)
	svc := billing.NewService(catalog, store, store, provider,
		billing.WithLogger(log),
		billing.WithTenantLocker(billing.NewRedisLocker(redisClient, redisCfg.LockTTL)),
		billing.WithMaintenance(store),
		billing.WithAddOnPriceIDs(map[billing.Mode]string{
			billing.ModeLive: paddleCfg.LiveAddOnPriceID,
			billing.ModeTest: paddleCfg.TestAddOnPriceID,
		}),
	)

	// Repair anything that drifted while the process was down before taking
	// traffic.
	report, err := svc.ReconcileOnStartup(ctx)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "startup reconciliation finished",
		"tenants", len(report.Results),
		"catalog_prices_updated", report.CatalogPricesUpdated,
		"usage_synced", report.UsageSynced,
		"usage_sync_failed", report.UsageSyncFailed)
	for _, res := range report.Results {
		if res.Outcome == billing.SweepFailed {
			log.WarnContext(ctx, "tenant left unreconciled",
				logger.TenantID(res.TenantID), logger.Error(res.Err))
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log, pg.Healthcheck(pool), redis.Healthcheck(redisClient)))
	r.Mount("/billing", billingmod.Router(svc, log.With(logger.Component("billing"))))

	return httpserver.New(httpCfg, log).Run(ctx, r)
}
