package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/voicedesk/backend/internal/admin"
	"github.com/voicedesk/backend/internal/auth"
	"github.com/voicedesk/backend/internal/config"
	"github.com/voicedesk/backend/internal/handlers"
	"github.com/voicedesk/backend/internal/middleware"
	"github.com/voicedesk/backend/internal/poller"
	"github.com/voicedesk/backend/internal/provider"
	"github.com/voicedesk/backend/internal/repository"
	"github.com/voicedesk/backend/internal/router"
	"github.com/voicedesk/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.ProviderAPIKey == "" {
		slog.Warn("VOICER_API_KEY is not set; synthesis requests will fail until it is configured")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	accountRepo := repository.NewAccountRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	configRepo := repository.NewConfigRepo(pool)
	ledgerRepo := repository.NewTokenLedgerRepo(pool)

	providerClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)

	// Poll-job insert func is set after the River client exists (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn func(ctx context.Context, args poller.PollTaskArgs) error
	enqueuePoll := func(ctx context.Context, accountID, taskID uuid.UUID) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, poller.PollTaskArgs{AccountID: accountID, TaskID: taskID})
	}

	submissionSvc := services.NewSubmissionService(pool, accountRepo, taskRepo, configRepo, ledgerRepo, providerClient, enqueuePoll, logger)
	statusSvc := services.NewStatusService(taskRepo, providerClient, submissionSvc, cfg.RefundOnProviderFailure, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, poller.NewPollTaskWorker(statusSvc, cfg.PollInterval))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args poller.PollTaskArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, configRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	accountHandler := &handlers.AccountHandler{
		Ledger: ledgerRepo,
		Config: configRepo,
		Logger: logger,
	}
	ttsHandler := &handlers.TTSHandler{
		Submission: submissionSvc,
		Status:     statusSvc,
		Artifacts:  providerClient,
		Tasks:      taskRepo,
		Logger:     logger,
	}
	adminHandler := &admin.Handler{
		DB:          pool,
		Accounts:    accountRepo,
		Config:      configRepo,
		Ledger:      ledgerRepo,
		AdminEmails: cfg.AdminEmails,
		Logger:      logger,
	}

	authMW := middleware.BearerAuth(authSvc, accountRepo)
	mux := router.New(authHandler, accountHandler, ttsHandler, adminHandler, authMW)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (reconciles in-flight tasks in the background)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
