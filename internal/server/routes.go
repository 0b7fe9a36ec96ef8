package server

import (
	"github.com/evigraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Session routes
	apiRoutes.POST("/sessions", routes.CreateSessionHandler)
	apiRoutes.POST("/sessions/:id/stop", routes.StopSessionHandler)
	apiRoutes.GET("/sessions/:id", routes.GetSessionHandler)

	// Graph routes
	apiRoutes.GET("/users/:user_id/graph", routes.GetGraphHandler)
	apiRoutes.GET("/users/:user_id/graph/analysis", routes.AnalyzeGraphHandler)
	apiRoutes.GET("/users/:user_id/relations", routes.GetRelationsHandler)
}
