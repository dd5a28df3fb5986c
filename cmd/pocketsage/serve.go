package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pocketsage/pocketsage/internal/auth"
	"github.com/pocketsage/pocketsage/internal/chat"
	"github.com/pocketsage/pocketsage/internal/config"
	"github.com/pocketsage/pocketsage/internal/finance"
	"github.com/pocketsage/pocketsage/internal/history"
	"github.com/pocketsage/pocketsage/internal/llm"
	"github.com/pocketsage/pocketsage/internal/observability"
	"github.com/pocketsage/pocketsage/internal/web"
)

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PocketSage server",
		Long: `Start the PocketSage server.

The server will:
1. Load configuration from the specified file
2. Open the SQLite database and run schema setup
3. Initialize the configured LLM provider
4. Register the finance tool catalog
5. Serve the chat endpoints, health check and metrics over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  pocketsage serve

  # Start with custom config
  pocketsage serve --config /etc/pocketsage/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pocketsage.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	logger.Info("starting PocketSage",
		"version", version,
		"config", configPath,
		"addr", cfg.Server.Addr,
		"llm_provider", cfg.LLM.Provider,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Observability.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	store, err := finance.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.DB().Close()

	historyStore, err := history.NewSQLStore(store.DB())
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	registry, err := chat.NewRegistry(chat.NewCatalog(store)...)
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	orchestrator, err := chat.NewOrchestrator(chat.OrchestratorConfig{
		Gateway:    gateway,
		Registry:   registry,
		Dispatcher: chat.NewDispatcher(registry, logger, metrics),
		Assembler:  chat.NewContextAssembler(store, cfg.Chat.RecentTransactions),
		History:    historyStore,
		Logger:     logger,
		Metrics:    metrics,
		Options: chat.Options{
			Model:         cfg.LLM.Model,
			MaxTokens:     cfg.LLM.MaxTokens,
			HistoryWindow: cfg.Chat.HistoryWindow,
			MaxToolCalls:  cfg.Chat.MaxToolCalls,
			ChunkSize:     cfg.Chat.ChunkSize,
			ChunkDelay:    cfg.Chat.ChunkDelay,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	server, err := web.NewServer(web.Config{
		Addr:         cfg.Server.Addr,
		Orchestrator: orchestrator,
		Auth:         auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Gatherer:     promRegistry,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("PocketSage ready", "tools", registry.Names())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildGateway(cfg *config.Config, logger *slog.Logger) (llm.Gateway, error) {
	switch cfg.LLM.Provider {
	case "openai":
		gw, err := llm.NewOpenAIGateway(llm.OpenAIConfig{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai gateway: %w", err)
		}
		return gw, nil
	case "anthropic":
		gw, err := llm.NewAnthropicGateway(llm.AnthropicConfig{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize anthropic gateway: %w", err)
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
