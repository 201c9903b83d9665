package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/customeros/mailsync/api/middleware"
	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/services/daemon"
)

// SetupRoutes registers the operational HTTP surface: health, daemon
// status and Prometheus metrics.
func SetupRoutes(router *gin.Engine, cfg *config.Config, d *daemon.Daemon) {
	router.GET("/health", healthHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/", middleware.APIKeyChecker(cfg.AppConfig.APIKey))
	protected.GET("/status", statusHandler(d))
}

func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func statusHandler(d *daemon.Daemon) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Status())
	}
}
