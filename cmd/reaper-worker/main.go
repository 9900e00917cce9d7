package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luminstall/fieldops-backend/internal/assignments"
	"github.com/luminstall/fieldops-backend/internal/cron"
	"github.com/luminstall/fieldops-backend/pkg/config"
	"github.com/luminstall/fieldops-backend/pkg/db"
	"github.com/luminstall/fieldops-backend/pkg/directory"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/metrics"
	"github.com/luminstall/fieldops-backend/pkg/migrate"
	"github.com/luminstall/fieldops-backend/pkg/redis"
)

const lockKeyFormat = "fieldops:reaper:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "reaper-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "reaper-worker"

	logg = logger.New(logger.Options{
		ServiceName: "reaper-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	directoryClient, err := directory.NewClient(cfg.Directory)
	if err != nil {
		logg.Error(context.Background(), "failed to create directory client", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Reaper.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewAssignmentExpiryJob(cron.AssignmentExpiryJobParams{
		Logger:        logg,
		DB:            dbClient,
		ExpiredReader: assignments.NewRepository(dbClient.DB()),
		Directory:     directoryClient,
		Metrics:       metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Reaper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting reaper worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reaper worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reaper worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
