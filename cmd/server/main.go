// Behold - WhatsApp Shopify assistant server
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

	"github.com/ashureev/behold/internal/agent"
	"github.com/ashureev/behold/internal/api"
	"github.com/ashureev/behold/internal/assistant"
	"github.com/ashureev/behold/internal/bridge"
	"github.com/ashureev/behold/internal/config"
	"github.com/ashureev/behold/internal/fallback"
	"github.com/ashureev/behold/internal/shopify"
	"github.com/ashureev/behold/internal/tracing"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "behold",
		Short:         "Behold WhatsApp Shopify assistant",
		Long:          "Behold answers WhatsApp customer messages for a Shopify store through a reasoning agent, with a generative fallback.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "behold %s\n", Version)
		},
	}
}

// loadEnv installs the JSON logger, then loads the dotenv file and
// configuration. The log level follows DEBUG once it is known.
func loadEnv() (*config.Config, *slog.Logger, error) {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, logger, err
	}
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}

	for _, w := range cfg.Warnings() {
		slog.Warn("Configuration problem, continuing", "detail", w)
	}
	return cfg, logger, nil
}

func runServer(ctx context.Context) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if missing := cfg.Missing(); len(missing) > 0 {
		slog.Warn("Missing environment variables", "vars", missing)
		slog.Warn("Some features may not work without these variables")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Initialize the primary agent. Its absence is a degraded mode, not a failure.
	availability := agent.Resolve(ctx, cfg.Agent, logger)
	defer availability.Close()
	if availability.IsAvailable() {
		slog.Info("Agent backend ready", "backend", availability.Describe())
	} else {
		slog.Warn("Agent backend unavailable, running in fallback mode", "reason", availability.Reason())
	}

	gemini := fallback.NewGemini(fallback.GeminiConfig{
		APIKey:  cfg.Fallback.APIKey,
		Model:   cfg.Fallback.Model,
		BaseURL: cfg.Fallback.BaseURL,
		Timeout: cfg.Fallback.Timeout,
		Logger:  logger,
	})

	svc := assistant.NewService(
		agent.NewInvoker(availability, cfg.Agent.Timeout, logger),
		fallback.NewResponder(gemini, logger),
		logger,
	)

	handler := api.NewHandler(api.Options{
		Processor:    svc,
		Bridge:       bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.ProbeTimeout, nil, logger),
		Shop:         shopify.NewClient(cfg.Shopify, logger),
		Env:          cfg,
		ProbeTimeout: cfg.Bridge.ProbeTimeout,
		Logger:       logger,
	})

	// No WriteTimeout: an agent turn may legitimately run up to AGENT_TIMEOUT.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting Behold WhatsApp Shopify Agent", "addr", srv.Addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down Behold WhatsApp Shopify Agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("Failed to flush traces", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
