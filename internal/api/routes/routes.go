// Package routes wires the ops API routes.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/docbridge/docbridge/internal/api/handlers"
	"github.com/docbridge/docbridge/internal/api/middleware"
	"github.com/docbridge/docbridge/internal/registry"
)

// Setup registers all routes on the router.
func Setup(router *gin.Engine, reg *registry.Registry, logger zerolog.Logger) {
	logging := middleware.NewLoggingMiddleware(logger)
	router.Use(logging.RequestID())
	router.Use(logging.Logger())
	router.Use(gin.Recovery())

	health := handlers.NewHealthHandler(reg)
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)
	router.GET("/live", health.Live)
	router.GET("/metrics", health.Metrics)
	router.GET("/instances", health.Instances)
}
