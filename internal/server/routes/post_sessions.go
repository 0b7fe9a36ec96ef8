package routes

import (
	"net/http"
	"time"

	"github.com/evigraph/backend/internal/queue"
	"github.com/evigraph/backend/internal/server/middleware"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const defaultMaxPapers = 20

// CreateSessionHandler creates an idle session and enqueues it for a worker.
func CreateSessionHandler(c echo.Context) error {
	type createSessionBody struct {
		UserID    string `json:"user_id" validate:"required"`
		Query     string `json:"query" validate:"required"`
		MaxPapers int    `json:"max_papers"`
	}

	type createSessionResponse struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id,omitempty"`
	}

	data := new(createSessionBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createSessionResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createSessionResponse{
			Message: "Invalid request body",
		})
	}
	if data.MaxPapers <= 0 {
		data.MaxPapers = defaultMaxPapers
	}

	sessionID, err := gonanoid.New()
	if err != nil {
		logger.Error("Failed to generate session id", "err", err)
		return c.JSON(http.StatusInternalServerError, createSessionResponse{
			Message: "Internal server error",
		})
	}

	session := &common.Session{
		ID:        sessionID,
		UserID:    data.UserID,
		Query:     data.Query,
		MaxPapers: data.MaxPapers,
		Status:    common.SessionIdle,
		CreatedAt: time.Now(),
	}

	ctx := c.Request().Context()
	gateway := c.(*middleware.AppContext).App.Gateway
	if err := gateway.UpsertSession(ctx, session); err != nil {
		logger.Error("Failed to create session", "err", err)
		return c.JSON(http.StatusInternalServerError, createSessionResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishSession(ch, sessionID, data.UserID); err != nil {
		logger.Error("Failed to publish to session_queue", "session", sessionID, "err", err)
		return c.JSON(http.StatusInternalServerError, createSessionResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, createSessionResponse{
		Message:   "Session created successfully",
		SessionID: sessionID,
	})
}
