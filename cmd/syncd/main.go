package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crmbridge/internal/api"
	"crmbridge/internal/config"
	"crmbridge/internal/crm"
	"crmbridge/internal/database"
	"crmbridge/internal/domain"
	"crmbridge/internal/export"
	"crmbridge/internal/logging"
	"crmbridge/internal/metrics"
	"crmbridge/internal/queue"
	"crmbridge/internal/scheduler"
	"crmbridge/internal/service"
	syncpkg "crmbridge/internal/sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("database initialization failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	crmClient := crm.NewClient(cfg.CRM)
	fallbackQueue := queue.NewFallbackQueue(db, redisClient, cfg.Sync.MaxAttempts, &logger)
	coordinator := syncpkg.NewCoordinator(crmClient, fallbackQueue, db, &logger)

	memberService := service.NewMemberService(db, coordinator, &logger)
	vehicleService := service.NewVehicleService(db, coordinator, &logger)

	sched := scheduler.NewScheduler(
		coordinator,
		fallbackQueue,
		[]domain.Resyncer{memberService, vehicleService},
		cfg.Sync,
		&logger,
	)
	sched.Start(ctx)

	if cfg.API.Enabled {
		exporter := export.NewExporter(cfg.Exports.Path)
		apiServer := api.NewHTTPServer(
			cfg.API, fallbackQueue, coordinator, sched, exporter,
			cfg.Monitoring.PrometheusEnabled, &logger,
		)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("admin API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	logger.Info().Msg("crmbridge started")
	<-ctx.Done()
	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis not configured, dead-letter mirroring disabled")
		return nil
	}

	client := queue.NewRedisClient(cfg.Redis)
	if err := queue.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable")
	}
	return client
}
