package routes

import (
	"errors"
	"net/http"

	"github.com/evigraph/backend/internal/pipeline"
	"github.com/evigraph/backend/internal/server/middleware"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// StopSessionHandler requests a cooperative stop of a running session.
func StopSessionHandler(c echo.Context) error {
	type stopSessionParams struct {
		SessionID string `param:"id" validate:"required"`
	}

	type stopSessionResponse struct {
		Message string `json:"message"`
		Stopped bool   `json:"stopped"`
	}

	params := new(stopSessionParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, stopSessionResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, stopSessionResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	stopped, err := pipeline.RequestStop(ctx, app.Gateway, app.Registry, params.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, stopSessionResponse{
				Message: "Session not found",
			})
		}
		logger.Error("Failed to request session stop", "session", params.SessionID, "err", err)
		return c.JSON(http.StatusInternalServerError, stopSessionResponse{
			Message: "Internal server error",
		})
	}

	message := "Stop requested"
	if !stopped {
		message = "Session is not running"
	}
	return c.JSON(http.StatusOK, stopSessionResponse{
		Message: message,
		Stopped: stopped,
	})
}
