// Embedgate is an embedding indexing and retrieval daemon.
//
// It registers, stores, and searches high-dimensional embedding vectors in a
// vector engine (Qdrant or an embedded store), gated by long-lived bearer
// tokens issued from one-time credentials.
//
// Usage:
//
//	# Start with defaults (embedded engine, in-memory)
//	embedgate
//
//	# Start with a config file
//	embedgate -config /etc/embedgate/config.yaml
//
//	# Configure via environment
//	EMBEDGATE_SERVER_PORT=9000 EMBEDGATE_ENGINE_PROVIDER=qdrant embedgate
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedgate/internal/algorithm"
	"github.com/fyrsmithlabs/embedgate/internal/auth"
	"github.com/fyrsmithlabs/embedgate/internal/config"
	httpserver "github.com/fyrsmithlabs/embedgate/internal/http"
	"github.com/fyrsmithlabs/embedgate/internal/inference"
	"github.com/fyrsmithlabs/embedgate/internal/logging"
	"github.com/fyrsmithlabs/embedgate/internal/service"
	"github.com/fyrsmithlabs/embedgate/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("embedgate by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// run starts the embedgate server and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens the vector engine (Qdrant or embedded)
//  4. Opens the credential store and auth service
//  5. Builds one extraction client per configured backend
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting embedgate",
		zap.String("version", version),
		zap.String("engine", cfg.Engine.Provider),
	)

	engine, err := openEngine(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening vector engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine close failed", zap.Error(err))
		}
	}()

	manager, err := vectorstore.NewManager(engine, logger)
	if err != nil {
		return fmt.Errorf("creating collection manager: %w", err)
	}

	var seed map[string]auth.Credential
	if cfg.Auth.SeedUser != "" {
		seed = map[string]auth.Credential{cfg.Auth.SeedUser: {OTP: cfg.Auth.SeedOTP.Value()}}
	}
	store, err := auth.NewFileStore(cfg.Auth.StorePath, seed)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	authSvc, err := auth.NewService(store, logger)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	registry := algorithm.NewRegistry()
	for _, b := range cfg.Backends {
		client, err := inference.NewClient(inference.Config{
			BaseURL: b.BaseURL,
			Model:   b.Model,
			Timeout: b.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("backend %q: %w", b.Name, err)
		}
		if err := registry.Register(b.Name, client); err != nil {
			return fmt.Errorf("backend %q: %w", b.Name, err)
		}
		logger.Info("extraction backend registered",
			zap.String("name", b.Name),
			zap.String("base_url", b.BaseURL),
		)
	}

	svc, err := service.New(registry, manager, logger)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	server, err := httpserver.NewServer(svc, authSvc, logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AuthRatePerSec: cfg.Server.AuthRatePerSec,
		AuthRateBurst:  cfg.Server.AuthRateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// openEngine builds the configured vector engine.
func openEngine(cfg *config.Config, logger *zap.Logger) (vectorstore.Engine, error) {
	switch cfg.Engine.Provider {
	case config.ProviderQdrant:
		return vectorstore.NewQdrantEngine(vectorstore.QdrantConfig{
			Host:           cfg.Engine.Qdrant.Host,
			Port:           cfg.Engine.Qdrant.Port,
			UseTLS:         cfg.Engine.Qdrant.UseTLS,
			MaxRetries:     cfg.Engine.Qdrant.MaxRetries,
			RetryBackoff:   cfg.Engine.Qdrant.RetryBackoff,
			MaxMessageSize: cfg.Engine.Qdrant.MaxMessageSize,
		})
	case config.ProviderEmbedded:
		return vectorstore.NewEmbeddedEngine(vectorstore.EmbeddedConfig{
			Path:     cfg.Engine.Embedded.Path,
			Compress: cfg.Engine.Embedded.Compress,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown engine provider: %q", cfg.Engine.Provider)
	}
}
