package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-seat-broker/internal/application/access"
	"github.com/go-seat-broker/internal/application/alert"
	"github.com/go-seat-broker/internal/application/audit"
	"github.com/go-seat-broker/internal/application/credential"
	"github.com/go-seat-broker/internal/config"
	"github.com/go-seat-broker/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-seat-broker/internal/infrastructure/jwt"
	"github.com/go-seat-broker/internal/infrastructure/metrics"
	s3infra "github.com/go-seat-broker/internal/infrastructure/s3"
	"github.com/go-seat-broker/internal/infrastructure/smtp"
	"github.com/go-seat-broker/internal/infrastructure/sns"
	"github.com/go-seat-broker/internal/pkg/logger"
	"github.com/go-seat-broker/internal/pkg/seal"
	transporthttp "github.com/go-seat-broker/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger.SetDefault(logger.New(os.Stdout, cfg.LogLevel))
	if envErr != nil {
		slog.Info("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	sealer, err := seal.New(cfg.CredentialSealKey)
	if err != nil {
		slog.Error("invalid credential seal key", "error", err)
		os.Exit(1)
	}
	if !sealer.Enabled() {
		slog.Warn("CREDENTIAL_SEAL_KEY not set, credential seeds are stored unsealed")
	}

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		slog.Error("JWT provider not available", "error", err)
		os.Exit(1)
	}

	accessMetrics := metrics.New()

	// Lock alerts: SNS topic (optional) plus email to support.
	var topic alert.Publisher
	if p, err := sns.NewTopicPublisher(cfg); err != nil {
		slog.Warn("SNS publisher not available", "error", err)
	} else if p != nil {
		topic = p
	}
	notifier := alert.NewNotifier(topic, smtp.NewMailer(cfg), cfg.SupportEmail)

	seatRepo := dynamo.NewSeatRepo(dynamoClient, cfg.DynamoTables.Seats, cfg.DynamoTables.IssuanceLogs)
	logRepo := dynamo.NewIssuanceLogRepo(dynamoClient, cfg.DynamoTables.IssuanceLogs)
	credentials := credential.NewService(dynamo.NewCredentialRepo(dynamoClient, cfg.DynamoTables.Credentials), sealer)

	auditStore := s3infra.NewStore(s3infra.NewClient(cfg), cfg.AuditBucketName)

	deps := &transporthttp.Deps{
		Access: access.NewService(access.ServiceDeps{
			Seats:    seatRepo,
			Logs:     logRepo,
			Secrets:  credentials,
			Notifier: notifier,
			Observer: accessMetrics,
		}),
		Audit:    audit.NewService(seatRepo, logRepo, auditStore),
		Verifier: jwtProvider,
		Metrics:  accessMetrics,
	}

	router := transporthttp.NewRouter(ctx, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
