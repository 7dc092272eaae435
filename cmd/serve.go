package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datachat-io/datachat/internal/api"
	"github.com/datachat-io/datachat/internal/chat"
	"github.com/datachat-io/datachat/internal/config"
	"github.com/datachat-io/datachat/internal/database"
	"github.com/datachat-io/datachat/internal/gateway"
	"github.com/datachat-io/datachat/internal/imagegen"
	"github.com/datachat-io/datachat/internal/session"
	"github.com/datachat-io/datachat/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the full application and runs the HTTP server until
// SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting datachat", "version", Version, "model", cfg.ModelName)

	if err := database.Migrate(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	store := session.New(pool, pool, logger.With("component", "session"))

	prompts := gateway.NewPromptCache(cfg.SystemPromptURL, logger.With("component", "prompts"))
	gw, err := gateway.New(ctx, gateway.Options{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.ModelName,
		MaxHistory: int(cfg.MaxHistoryMessages),
		Prompts:    prompts,
		Logger:     logger.With("component", "gateway"),
	})
	if err != nil {
		return fmt.Errorf("creating model gateway: %w", err)
	}

	// Image generation is optional; without a service URL the tool
	// reports itself unavailable.
	var images tools.ImageGenerator
	if cfg.ImageGenURL != "" {
		client, err := imagegen.New(cfg.ImageGenURL, logger.With("component", "imagegen"))
		if err != nil {
			return fmt.Errorf("creating image generation client: %w", err)
		}
		images = client
	}

	registry, err := tools.NewRegistry(images, logger.With("component", "tools"))
	if err != nil {
		return fmt.Errorf("creating tool registry: %w", err)
	}

	controller := chat.NewController(store, gw, registry, cfg.ModelName, cfg.MaxToolRounds, logger.With("component", "chat"))

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Controller:  controller,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.ListenAddr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
