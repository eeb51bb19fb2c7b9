package server

import (
	"github.com/OFFIS-RIT/diligence/internal/server/middleware"
	"github.com/OFFIS-RIT/diligence/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Run routes
	apiRoutes.POST("/runs", routes.CreateRunHandler, middleware.RequirePermission("run.create"))
	apiRoutes.GET("/runs/:id", routes.GetRunHandler, middleware.RequirePermission("run.view"))
	apiRoutes.GET("/runs/:id/:output", routes.GetRunOutputHandler, middleware.RequirePermission("run.view"))
	apiRoutes.DELETE("/runs/:id", routes.DeleteRunHandler, middleware.RequirePermission("run.delete"))

	// Scoring
	apiRoutes.POST("/score", routes.CreateScoreHandler, middleware.RequirePermission("score"))
}
