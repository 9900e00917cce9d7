package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/luminstall/fieldops-backend/api/controllers"
	"github.com/luminstall/fieldops-backend/api/routes"
	"github.com/luminstall/fieldops-backend/internal/assignments"
	"github.com/luminstall/fieldops-backend/pkg/config"
	"github.com/luminstall/fieldops-backend/pkg/db"
	"github.com/luminstall/fieldops-backend/pkg/directory"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/migrate"
	"github.com/luminstall/fieldops-backend/pkg/ordergateway"
	"github.com/luminstall/fieldops-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	gatewayClient, err := ordergateway.NewClient(cfg.OrderGateway)
	if err != nil {
		logg.Error(context.Background(), "failed to create order gateway client", err)
		os.Exit(1)
	}

	assignmentService, err := assignments.NewService(
		assignments.NewRepository(dbClient.DB()),
		dbClient,
		gatewayClient,
		directoryClient,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}
	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, readiness, assignmentService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
