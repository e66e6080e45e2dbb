// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tessera/internal/api"
	"github.com/starford/tessera/internal/kb"
	"github.com/starford/tessera/internal/sqlitedb"
	"github.com/starford/tessera/internal/sse"
	"github.com/starford/tessera/internal/storage"
	"github.com/starford/tessera/internal/vault"
)

const shutdownTimeout = 10 * time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStore connects the vault (when enabled) and initializes the knowledge
// base over it. events may be nil.
func (a *application) openStore(ctx context.Context, logger *slog.Logger, events kb.EventSink) (*kb.Store, error) {
	cfg := a.config

	var mirror *vault.Mirror
	if cfg.Vault.Enabled {
		if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir: %w", err)
		}
		fsys, err := storage.NewFS(cfg.Vault.Path)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		mirror = vault.New(fsys, logger)
		if err := mirror.Reconnect(ctx); err != nil {
			logger.Warn("vault: not connected", slog.String("path", cfg.Vault.Path), slog.String("error", err.Error()))
		}
	}

	store := kb.New(kb.Options{
		Provider:     sqlitedb.NewProvider(sqlitedb.Config{Path: cfg.SQLite.Path}, logger),
		Vault:        mirror,
		Logger:       logger,
		CollectionID: cfg.Store.CollectionID,
		Dimensions:   cfg.Store.EmbeddingDimensions,
		Events:       events,
	})
	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init knowledge base: %w", err)
	}
	return store, nil
}

// Run starts the HTTP server and, when configured, the vault watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.Bool("vault_enabled", cfg.Vault.Enabled),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(sse.Options{
		Heartbeat: cfg.App.HTTP.EventHeartbeat,
		Logger:    logger,
	})
	defer broker.Close()

	store, err := app.openStore(ctx, logger, broker)
	if err != nil {
		return err
	}
	defer store.Close()

	if store.IsVaultReady() {
		report, err := store.SyncFromVault(ctx, kb.SyncOptions{})
		if err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		} else {
			logger.Info("initial sync done",
				slog.Int("scanned", report.Scanned),
				slog.Int("imported", report.Imported),
				slog.Int("failed", report.Failed))
		}
	}

	apiRouter := api.NewRouter(store, api.RouterOptions{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		Logger:      logger,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/health/ready", readyHandler(store, cfg.Vault.Enabled))

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Vault.Enabled && cfg.Vault.Watch {
		g.Go(func() error {
			if err := store.Watch(gCtx, cfg.Vault.Path); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Streaming clients hold their connections open until the broker
		// closes their channels.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

func readyHandler(store *kb.Store, vaultEnabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeReady := store.StoreReady(r.Context())
		vaultReady := store.IsVaultReady()

		status := http.StatusOK
		if !storeReady && !vaultReady {
			status = http.StatusServiceUnavailable
		}
		writeHealth(w, status, map[string]any{
			"status":        http.StatusText(status),
			"store_ready":   storeReady,
			"vault_enabled": vaultEnabled,
			"vault_ready":   vaultReady,
		})
	}
}

func writeHealth(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
