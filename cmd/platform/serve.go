package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bloodnet/platform/internal/api"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/metrics"
	secmiddleware "github.com/bloodnet/platform/internal/shared/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the escalation scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	app, err := loadApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg, logger := app.Config, app.Logger

	// Workers outlive ctx so that queued mail is drained on shutdown.
	if err := app.Notifications.Start(context.Background()); err != nil {
		return err
	}
	defer func() {
		if err := app.Notifications.Stop(); err != nil {
			logger.Warn("notification shutdown", zap.Error(err))
		}
	}()

	if cfg.Escalation.Enabled {
		if err := app.Services.Escalation.Start(ctx); err != nil {
			return err
		}
		defer app.Services.Escalation.Stop()
	}

	if app.Bus != nil {
		watchAlerts(ctx, app.Bus, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)))
	r.Use(secmiddleware.BodyLimit(1 << 20))
	r.Use(secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Middleware)
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(app.Services, api.Options{
		RequireAuth: cfg.Auth.Required,
		Auth:        cfg.Auth,
	}, logger)
	r.Mount("/api/v1", handler.Routes())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Server.Env),
			zap.Bool("postgres", app.DB != nil),
			zap.Bool("kurrentdb", app.Bus != nil),
			zap.Bool("redis", app.Redis != nil),
			zap.Bool("auth", cfg.Auth.Required),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// watchAlerts mirrors alert activity from the event stream into the log,
// including activity published by other replicas.
func watchAlerts(ctx context.Context, bus events.EventBus, logger *zap.Logger) {
	log := logger.Named("alert-feed")
	err := bus.Subscribe(ctx, "bloodnet.alert.*", func(_ context.Context, e events.Event) error {
		log.Info("alert activity",
			zap.String("type", e.Type),
			zap.String("organization_id", e.OrganizationID.String()),
			zap.Time("at", e.Timestamp),
		)
		return nil
	})
	if err != nil {
		log.Warn("alert feed unavailable", zap.Error(err))
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if app.DB != nil {
			metrics.RecordDBConnections(app.DB.Connections())
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "in-memory"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
		}

		ready := true
		for _, status := range checks {
			switch status {
			case "ready", "not configured", "in-memory":
			default:
				ready = false
			}
		}

		status, label := http.StatusOK, "ready"
		if !ready {
			status, label = http.StatusServiceUnavailable, "not ready"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"status": label, "checks": checks})
	}
}
