// Support chat backend server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/supportchat/internal/api"
	"github.com/ashureev/supportchat/internal/cache"
	"github.com/ashureev/supportchat/internal/chat"
	"github.com/ashureev/supportchat/internal/config"
	"github.com/ashureev/supportchat/internal/health"
	"github.com/ashureev/supportchat/internal/identity"
	"github.com/ashureev/supportchat/internal/intent"
	"github.com/ashureev/supportchat/internal/llm"
	"github.com/ashureev/supportchat/internal/prompt"
	"github.com/ashureev/supportchat/internal/retention"
	"github.com/ashureev/supportchat/internal/retrieval"
	"github.com/ashureev/supportchat/internal/store"
	"github.com/ashureev/supportchat/internal/telegram"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "db_driver", cfg.DB.Driver)

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	prompts, err := openPrompts(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := prompts.Close(); closeErr != nil {
			slog.Error("Failed to close prompt store", "error", closeErr)
		}
	}()

	model := llm.NewClient(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	deps := chat.Deps{
		Repo:         repo,
		Model:        model,
		Classifier:   intent.NewClassifier(model.WithModel(cfg.LLM.ClassifierModel()), prompts),
		Prompts:      prompts,
		HistoryLimit: cfg.Telegram.History,
		Logger:       logger,
	}
	if cfg.Retrieval.URL != "" {
		deps.Retriever = retrieval.NewClient(cfg.Retrieval.URL, cfg.Retrieval.APIKey, cfg.Retrieval.TopK, cfg.Retrieval.Timeout)
		slog.Info("Retrieval enabled", "url", cfg.Retrieval.URL, "top_k", cfg.Retrieval.TopK)
	} else {
		slog.Info("Retrieval disabled (RETRIEVAL_URL not set)")
	}
	if cfg.Telegram.Token != "" {
		notifier, err := telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.Endpoint, 30*time.Second)
		if err != nil {
			slog.Warn("Failed to initialize Telegram bot, replies will not be delivered", "error", err)
		} else {
			deps.Sender = notifier
			slog.Info("Telegram bot connected", "username", notifier.Username())
		}
	}
	svc := chat.NewService(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runner api.RetentionRunner
	if cfg.Retention.Enabled {
		sched := retention.New(repo, retention.Config{
			Interval: cfg.Retention.Interval,
			Horizon:  cfg.Retention.Horizon,
		}, logger)
		sched.Start(ctx)
		defer sched.Stop()
		runner = sched
	}

	rc := api.RouterConfig{
		Base:           api.NewHandler(repo, svc, logger),
		Prompts:        prompts,
		Retention:      runner,
		CORSOrigins:    cfg.CORSOrigins,
		TelegramSecret: cfg.Telegram.WebhookSecret,
	}
	if cfg.AdminEnabled() {
		rc.Verifier = identity.NewVerifier(cfg.Admin.JWTSecret, cfg.Admin.Username)
	} else {
		slog.Info("Admin routes disabled (JWT_SECRET not set)")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(rc),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket chat connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	healthSrv := health.NewServer(repo, health.DefaultConfig(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return healthSrv.Serve(gctx, lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openRepository opens the configured conversation store, wrapped with the
// Redis history cache when REDIS_ADDRESS is set.
func openRepository(cfg *config.Config, logger *slog.Logger) (store.Repository, error) {
	var (
		repo store.Repository
		err  error
	)
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		repo, err = store.NewPostgres(store.PostgresConfig{
			DSN:             cfg.DB.PostgresDSN,
			MaxOpenConns:    cfg.DB.MaxOpen,
			MaxIdleConns:    cfg.DB.MaxIdle,
			ConnMaxLifetime: time.Hour,
		})
	default:
		repo, err = store.NewSQLite(cfg.DB.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	if cfg.Redis.Address == "" {
		return repo, nil
	}
	rc, err := cache.NewRedisMessageCache(cache.RedisOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Warn("Redis unavailable, Telegram history cache disabled", "error", err)
		return repo, nil
	}
	slog.Info("Telegram history cache enabled", "address", cfg.Redis.Address, "ttl", cfg.Redis.TTL)
	return cache.NewHistoryRepository(repo, rc, cfg.Redis.TTL, logger), nil
}

// openPrompts opens the prompt store and seeds any prompt without a version.
func openPrompts(cfg *config.Config, logger *slog.Logger) (*prompt.Store, error) {
	prompts, err := prompt.Open(cfg.Prompts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open prompt store: %w", err)
	}

	var seeds map[string]string
	if cfg.Prompts.SeedFile != "" {
		seeds, err = prompt.LoadSeedFile(cfg.Prompts.SeedFile)
		if err != nil {
			_ = prompts.Close()
			return nil, err
		}
	}
	written, err := prompt.Seed(context.Background(), prompts, seeds, logger)
	if err != nil {
		_ = prompts.Close()
		return nil, fmt.Errorf("seed prompts: %w", err)
	}
	slog.Info("Prompt store ready", "seeded", written)
	return prompts, nil
}
