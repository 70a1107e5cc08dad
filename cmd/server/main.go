/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the virtual account ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration from the environment (.env optional)
  3. Build the zap logger
  4. Open the store (SQLite, or PostgreSQL + migrations)
  5. Create engine, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to an env file (default: .env if present)
  -port    HTTP server port, overrides HTTP_PORT
  -db      SQLite database path, overrides SQLITE_PATH
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against PostgreSQL
  STORE_DRIVER=postgres POSTGRES_HOST=localhost POSTGRES_PORT=5432 \
  POSTGRES_DB=ledger POSTGRES_USER=ledger POSTGRES_PASSWORD=secret ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/api"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/config"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/logging"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/store/postgres"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/store/sqlite"
)

// backend is what main needs from either store.
type backend interface {
	ledger.Store
	api.Pinger
	io.Closer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	envFile := flag.String("env", "", "Path to env file")
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.HTTPPort = *port
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("app", cfg.ApplicationName), zap.String("env", cfg.AppEnv))

	// Initialize store
	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := ledger.NewEngine(store, logger)
	handler := api.NewHandler(engine, logger, store)
	router := api.NewRouter(handler, api.RouterOptions{})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.HTTPPort),
			zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.PostgresDSN(), postgres.DefaultPoolConfig)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(cfg.PostgresSchema, logger.Named("migrate")); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return store, nil
	}
}
