package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/interfaces/http/handlers"
	"github.com/bowatch/bowatch/internal/interfaces/http/middleware"
)

type AdminRouteConfig struct {
	StatusHandler       *handlers.StatusHandler
	NotificationHandler *handlers.NotificationHandler
	CredentialHandler   *handlers.CredentialHandler
	ListenerHandler     *handlers.ListenerHandler
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimiter         *middleware.RateLimiter
	MetricsHandler      http.Handler
}

func SetupAdminRoutes(engine *gin.Engine, config *AdminRouteConfig) {
	engine.GET("/health", config.StatusHandler.Health)

	if config.MetricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(config.MetricsHandler))
	}

	api := engine.Group("/api/v1")
	if config.RateLimiter != nil {
		api.Use(config.RateLimiter.Limit())
	}
	api.Use(config.AuthMiddleware.RequireAdmin())
	{
		api.GET("/status", config.StatusHandler.GetStatus)
		api.GET("/notifications", config.NotificationHandler.ListNotifications)

		api.GET("/credentials", config.CredentialHandler.GetCredentials)
		api.PUT("/credentials", config.CredentialHandler.UpdateCredentials)

		api.GET("/destinations", config.ListenerHandler.ListDestinations)
		api.PUT("/destinations", config.ListenerHandler.UpdateDestinations)

		api.POST("/listener/reconnect", config.ListenerHandler.Reconnect)
	}
}
