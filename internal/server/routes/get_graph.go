package routes

import (
	"errors"
	"net/http"

	"github.com/evigraph/backend/internal/server/middleware"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/graph"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

const graphHistoryPageSize = 10

// GetGraphHandler returns a user's latest graph snapshot, one snapshot by id,
// or a page of the snapshot history.
func GetGraphHandler(c echo.Context) error {
	type getGraphParams struct {
		UserID     string `param:"user_id" validate:"required"`
		SnapshotID string `query:"snapshot_id"`
		Page       int    `query:"page"`
	}

	type getGraphResponse struct {
		Message string          `json:"message"`
		Graph   *common.Graph   `json:"graph,omitempty"`
		History []*common.Graph `json:"history,omitempty"`
	}

	params := new(getGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	gateway := c.(*middleware.AppContext).App.Gateway

	if params.Page > 0 {
		history, err := gateway.ListGraphSnapshots(ctx, params.UserID, params.Page, graphHistoryPageSize)
		if err != nil {
			logger.Error("Failed to list graph snapshots", "user", params.UserID, "err", err)
			return c.JSON(http.StatusInternalServerError, getGraphResponse{
				Message: "Internal server error",
			})
		}
		return c.JSON(http.StatusOK, getGraphResponse{
			Message: "OK",
			History: history,
		})
	}

	var (
		g   *common.Graph
		err error
	)
	if params.SnapshotID != "" {
		g, err = gateway.GetGraphSnapshot(ctx, params.SnapshotID)
	} else {
		g, err = gateway.GetLatestGraph(ctx, params.UserID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getGraphResponse{
				Message: "No graph found",
			})
		}
		logger.Error("Failed to load graph", "user", params.UserID, "err", err)
		return c.JSON(http.StatusInternalServerError, getGraphResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getGraphResponse{
		Message: "OK",
		Graph:   g,
	})
}

// AnalyzeGraphHandler runs an analysis pass over the user's latest graph.
func AnalyzeGraphHandler(c echo.Context) error {
	type analyzeGraphParams struct {
		UserID string `param:"user_id" validate:"required"`
		Mode   string `query:"mode"`
	}

	type analyzeGraphResponse struct {
		Message  string          `json:"message"`
		Analysis *graph.Analysis `json:"analysis,omitempty"`
	}

	params := new(analyzeGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, analyzeGraphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, analyzeGraphResponse{
			Message: "Invalid request body",
		})
	}
	if params.Mode == "" {
		params.Mode = string(graph.AnalyzeFull)
	}

	ctx := c.Request().Context()
	gateway := c.(*middleware.AppContext).App.Gateway

	g, err := gateway.GetLatestGraph(ctx, params.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, analyzeGraphResponse{
				Message: "No graph found",
			})
		}
		logger.Error("Failed to load graph", "user", params.UserID, "err", err)
		return c.JSON(http.StatusInternalServerError, analyzeGraphResponse{
			Message: "Internal server error",
		})
	}

	analysis, err := graph.Analyze(g, graph.AnalysisMode(params.Mode))
	if err != nil {
		return c.JSON(http.StatusBadRequest, analyzeGraphResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, analyzeGraphResponse{
		Message:  "OK",
		Analysis: analysis,
	})
}
