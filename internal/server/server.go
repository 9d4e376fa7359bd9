// Package server exposes the worker daemon's operational HTTP surface:
// health, queue inventory, and prometheus metrics. It is separate from the
// platform API and carries no authentication.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/apperror"
	"github.com/banterhq/banter/pkg/logger"
)

var Module = fx.Module("server",
	fx.Provide(NewEcho),
	fx.Invoke(
		RegisterRoutes,
		StartServer,
	),
)

// NewEcho creates and configures the ops Echo instance
func NewEcho(cfg *config.Config, log *slog.Logger) *echo.Echo {
	e := echo.New()

	e.Debug = cfg.Debug
	e.HideBanner = true
	e.HidePort = !cfg.Debug

	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(
		// Request logging (skip health endpoint)
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				return c.Request().URL.Path == "/healthz"
			},
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogMethod:  true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				attrs := []any{
					slog.String("method", v.Method),
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.Duration("latency", v.Latency),
				}
				if v.Error != nil {
					attrs = append(attrs, logger.Error(v.Error))
					log.Error("request failed", attrs...)
				} else {
					log.Info("request", attrs...)
				}
				return nil
			},
		}),

		// Recover from panics
		middleware.RecoverWithConfig(middleware.RecoverConfig{
			LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
				log.Error("panic recovered",
					logger.Error(err),
					slog.String("stack", string(stack)),
				)
				return nil
			},
		}),
	)

	return e
}

// queueStatus is one registered queue in the /queues response.
type queueStatus struct {
	Queue       string `json:"queue"`
	Type        string `json:"type"`
	Processed   int64  `json:"processed"`
	Retried     int64  `json:"retried"`
	Quarantined int64  `json:"quarantined"`
}

// RegisterRoutes wires the ops endpoints.
func RegisterRoutes(e *echo.Echo, registry *queue.Registry, supervisor *queue.Supervisor) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/queues", func(c echo.Context) error {
		metrics := map[string]queue.WorkerMetrics{}
		for _, m := range supervisor.WorkerMetrics() {
			metrics[m.Queue] = m
		}

		out := make([]queueStatus, 0)
		for _, name := range registry.QueueNames() {
			typ, _ := registry.Type(name)
			m := metrics[name]
			out = append(out, queueStatus{
				Queue:       name,
				Type:        string(typ),
				Processed:   m.Processed,
				Retried:     m.Retried,
				Quarantined: m.Quarantined,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"data": out})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// StartServer starts the ops HTTP server with graceful shutdown
func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, log *slog.Logger) {
	log = log.With(logger.Scope("server"))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.OpsAddress, cfg.OpsPort),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting ops server",
				slog.String("address", server.Addr),
				slog.String("environment", cfg.Environment),
			)

			go func() {
				if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
					log.Error("server error", logger.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down ops server")

			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()

			return e.Shutdown(shutdownCtx)
		},
	})
}
