// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dossier/internal/api"
	"github.com/starford/dossier/internal/dossier"
	"github.com/starford/dossier/internal/ingest"
	"github.com/starford/dossier/internal/linker"
	"github.com/starford/dossier/internal/mcpserver"
	"github.com/starford/dossier/internal/ratelimit"
	"github.com/starford/dossier/internal/remote"
	"github.com/starford/dossier/internal/sse"
	"github.com/starford/dossier/internal/store"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func newGateway(cfg RemoteConfig) (remote.Gateway, error) {
	switch cfg.Driver {
	case RemoteDriverMemory:
		return remote.NewMemory(), nil
	case RemoteDriverDiscord:
		return remote.NewDiscord(cfg.Token)
	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
}

func newEngine(cfg *Config, db *store.DB, gw remote.Gateway, logger *slog.Logger, opts ...dossier.Option) *dossier.Engine {
	opts = append([]dossier.Option{
		dossier.WithLogger(logger),
		dossier.WithLinker(linker.New(cfg.Remote.LinkBase, cfg.Linker.MaxLinks)),
		dossier.WithGuildAllowlist(cfg.Guilds.Allowlist),
		dossier.WithLiveCache(cfg.Linker.LiveTTL),
	}, opts...)
	return dossier.New(db, gw, opts...)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(os.Stdout, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("remote_driver", cfg.Remote.Driver),
		slog.Int("allowlisted_guilds", len(cfg.Guilds.Allowlist)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := store.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	gw, err := newGateway(cfg.Remote)
	if err != nil {
		return fmt.Errorf("init remote: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	engine := newEngine(cfg, db, gw, logger, dossier.WithPublisher(broker))
	limiter := ratelimit.New(cfg.RateLimit.Window)
	verifier := ingest.NewVerifier(cfg.Webhook.Secret)
	webhook := api.NewWebhookHandler(ingest.NewGateway(verifier, engine, logger))

	apiRouter := api.NewRouter(api.RouterConfig{
		Engine:      engine,
		Limiter:     limiter,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		SSE:         broker,
		Port:        cfg.App.HTTP.Port,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// The webhook carries its own credential.
	r.Post("/webhook", webhook.ServeHTTP)

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Sweep expired rate limit keys.
	g.Go(func() error {
		limiter.Run(gCtx, time.Minute)
		return nil
	})

	// Pick up webhook secret rotations.
	if app.configPath != "" {
		g.Go(func() error {
			err := WatchConfig(gCtx, app.configPath, logger, func(next *Config) {
				verifier.SetSecret(next.Webhook.Secret)
			})
			if err != nil {
				logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

// errShutdown cancels the group so background loops stop with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the dossier tools over stdio. Logs go to stderr because
// stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)

	db, err := store.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	gw, err := newGateway(cfg.Remote)
	if err != nil {
		return fmt.Errorf("init remote: %w", err)
	}

	logger.Info("MCP server starting", slog.String("remote_driver", cfg.Remote.Driver))
	return mcpserver.New(newEngine(cfg, db, gw, logger)).ServeStdio()
}
