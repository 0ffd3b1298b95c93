package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sadhana-metering/internal/api/handlers"
	"sadhana-metering/internal/api/middleware"
	"sadhana-metering/internal/app"
	"sadhana-metering/internal/auth"
	"sadhana-metering/internal/config"
	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/internal/repository/dynamo"
	"sadhana-metering/internal/repository/postgres"
	"sadhana-metering/internal/service/llm"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sirupsen/logrus"
)

func main() {
	appConfig, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("Initializing database...")
	database, err := postgres.NewPostgresDB(appConfig.Database)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to run migrations")
	}

	if err := postgres.SeedDemoUser(ctx, database); err != nil {
		logger.Log.WithError(err).Fatal("Failed to seed demo user")
	}

	usage, err := newUsageStore(ctx, appConfig.Usage, database)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize usage store")
	}

	httpClient := &http.Client{Transport: http.DefaultTransport}
	streams, err := llm.NewStreamProvider(&appConfig.LLM, httpClient)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to create stream provider")
	}
	vision := llm.NewOpenAIVisionProvider(appConfig.Vision, &http.Client{Timeout: 60 * time.Second})

	cfg := app.NewConfig(database, usage, appConfig)
	authService := auth.NewService(database, appConfig.Auth)

	limiter := middleware.NewRateLimiter(appConfig.RateLimit.RPS, appConfig.RateLimit.Burst)
	limiter.StartCleanup(10*time.Minute, ctx.Done())

	h := handlers.NewHandlers(cfg, streams, vision)

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           h.Routes(authService, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.WithFields(logrus.Fields{
			"port":        appConfig.Server.Port,
			"provider":    streams.Name(),
			"usage_store": appConfig.Usage.Store,
			"timezone":    cfg.Calendar.Location().String(),
		}).Info("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Graceful shutdown failed")
	}
}

// newUsageStore returns the Postgres database itself or a DynamoDB table,
// depending on USAGE_STORE.
func newUsageStore(ctx context.Context, cfg config.UsageConfig, database db.UsageStore) (db.UsageStore, error) {
	if cfg.Store != config.UsageStoreDynamoDB {
		return database, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger.Log.WithFields(logrus.Fields{"table": cfg.DynamoTable, "region": awsCfg.Region}).Info("Using DynamoDB usage counters")
	return dynamo.NewUsageStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
}
