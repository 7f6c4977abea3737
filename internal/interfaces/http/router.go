// Package http serves the admin API next to the listener.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/bowatch/bowatch/internal/interfaces/http/handlers"
	"github.com/bowatch/bowatch/internal/interfaces/http/middleware"
	"github.com/bowatch/bowatch/internal/interfaces/http/routes"
	"github.com/bowatch/bowatch/internal/shared/config"
	apperrors "github.com/bowatch/bowatch/internal/shared/errors"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils"
)

const (
	shutdownTimeout = 10 * time.Second
	rateLimitWindow = time.Minute
	rateLimitPerIP  = 120
)

// RouterDeps carries everything the handlers read. Redis is optional and
// enables per-IP rate limiting; Metrics is optional and mounts /metrics.
type RouterDeps struct {
	Status      handlers.StatusDeps
	Metrics     http.Handler
	Redis       *redis.Client
	RedisPrefix string
}

type Router struct {
	engine *gin.Engine
	cfg    config.ServerConfig
	logger logger.Interface
}

func NewRouter(cfg config.ServerConfig, deps RouterDeps, log logger.Interface) *Router {
	log = log.Named("http")
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.Recovery(log))

	var limiter *middleware.RateLimiter
	if deps.Redis != nil {
		limiter = middleware.NewRateLimiter(deps.Redis, deps.RedisPrefix, rateLimitPerIP, rateLimitWindow, log)
	}

	auth := middleware.NewAuthMiddleware(cfg.AdminToken, log)
	if !auth.Enabled() {
		log.Warnw("admin token not set, /api/v1 is unauthenticated")
	}

	engine.NoRoute(func(c *gin.Context) {
		utils.ErrorResponseWithError(c, apperrors.NewNotFoundError("route not found", c.Request.URL.Path))
	})

	routes.SetupAdminRoutes(engine, &routes.AdminRouteConfig{
		StatusHandler:       handlers.NewStatusHandler(deps.Status),
		NotificationHandler: handlers.NewNotificationHandler(deps.Status.History),
		CredentialHandler:   handlers.NewCredentialHandler(deps.Status.Credentials, log),
		ListenerHandler:     handlers.NewListenerHandler(deps.Status.Session, deps.Status.Destinations, log),
		AuthMiddleware:      auth,
		RateLimiter:         limiter,
		MetricsHandler:      deps.Metrics,
	})

	return &Router{engine: engine, cfg: cfg, logger: log}
}

// Run serves until ctx is done, then shuts down gracefully.
func (r *Router) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              r.cfg.GetAddr(),
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Infow("admin api listening", "address", srv.Addr, "mode", gin.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Errorw("admin api forced to shutdown", "error", err)
		return err
	}
	r.logger.Infow("admin api stopped")
	return nil
}
