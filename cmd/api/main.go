package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/avatarforge/backend/internal/auth"
	"github.com/avatarforge/backend/internal/generation"
	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/ledger"
	"github.com/avatarforge/backend/internal/provider"
	"github.com/avatarforge/backend/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		boot := infra.NewLogger("production")
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("create river migrator")
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		logger.Fatal().Err(err).Msg("river migrate up")
	}

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, ledgerRepo)

	// Providers
	videoClient, err := provider.NewVideoClient(cfg.VideoProvider, provider.DashScopeOptions{
		APIKey:  cfg.DashScopeAPIKey,
		BaseURL: cfg.DashScopeBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init video provider")
	}
	var optimizer generation.PromptOptimizer
	if cfg.DeepSeekAPIKey != "" {
		deepseek, err := provider.NewDeepSeek(provider.DeepSeekOptions{
			APIKey:  cfg.DeepSeekAPIKey,
			BaseURL: cfg.DeepSeekBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init prompt optimizer")
		}
		optimizer = deepseek
	}

	// Generation: enqueue func is set after the River client exists
	// (breaks the service <-> worker init cycle).
	var enqueueMu sync.Mutex
	var enqueueFn generation.EnqueueTxFunc
	enqueue := func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
		enqueueMu.Lock()
		fn := enqueueFn
		enqueueMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, taskID)
	}

	taskRepo := generation.NewRepository(pool)
	userRepo := repository.NewUserRepo(pool)
	projectRepo := repository.NewProjectRepo(pool)
	avatarRepo := repository.NewAvatarRepo(pool)

	genSvc := generation.NewService(generation.Options{
		Pool:         pool,
		Tasks:        taskRepo,
		Projects:     projectRepo,
		Ledger:       ledgerSvc,
		Provider:     videoClient,
		Optimizer:    optimizer,
		Enqueue:      enqueue,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		PollBudget:   cfg.PollBudget,
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, generation.NewGenerateWorker(genSvc))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create river client")
	}

	enqueueMu.Lock()
	enqueueFn = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
		_, err := riverClient.InsertTx(ctx, tx, generation.GenerateVideoArgs{TaskID: taskID}, nil)
		return err
	}
	enqueueMu.Unlock()

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, ledgerSvc, cfg.JWTSecret)

	handler := buildRouter(routerDeps{
		cfg:         cfg,
		logger:      logger,
		authSvc:     authSvc,
		genSvc:      genSvc,
		ledgerSvc:   ledgerSvc,
		userRepo:    userRepo,
		projectRepo: projectRepo,
		avatarRepo:  avatarRepo,
	})

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			logger.Error().Err(err).Msg("river client stopped")
		}
	}()

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTPWriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("river shutdown")
	}
}
