package routes

import (
	"errors"
	"net/http"

	"github.com/evigraph/backend/internal/server/middleware"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

const sessionLogsLimit = 50

// GetSessionHandler returns a session's status, progress and recent logs.
func GetSessionHandler(c echo.Context) error {
	type getSessionParams struct {
		SessionID string `param:"id" validate:"required"`
	}

	type getSessionResponse struct {
		Message string          `json:"message"`
		Session *common.Session `json:"session,omitempty"`
	}

	params := new(getSessionParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getSessionResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getSessionResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	gateway := c.(*middleware.AppContext).App.Gateway

	session, err := gateway.GetSession(ctx, params.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getSessionResponse{
				Message: "Session not found",
			})
		}
		logger.Error("Failed to load session", "session", params.SessionID, "err", err)
		return c.JSON(http.StatusInternalServerError, getSessionResponse{
			Message: "Internal server error",
		})
	}

	logs, err := gateway.GetSessionLogs(ctx, params.SessionID, sessionLogsLimit)
	if err != nil {
		logger.Warn("Failed to load session logs", "session", params.SessionID, "err", err)
	} else {
		session.Logs = logs
	}

	return c.JSON(http.StatusOK, getSessionResponse{
		Message: "OK",
		Session: session,
	})
}
