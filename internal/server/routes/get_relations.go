package routes

import (
	"net/http"

	"github.com/evigraph/backend/internal/server/middleware"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetRelationsHandler lists a user's aggregate relations.
func GetRelationsHandler(c echo.Context) error {
	type getRelationsParams struct {
		UserID string `param:"user_id" validate:"required"`
	}

	type getRelationsResponse struct {
		Message   string                      `json:"message"`
		Relations []*common.AggregateRelation `json:"relations"`
	}

	params := new(getRelationsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRelationsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRelationsResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	gateway := c.(*middleware.AppContext).App.Gateway

	relations, err := gateway.ListAggregateRelations(ctx, params.UserID)
	if err != nil {
		logger.Error("Failed to list relations", "user", params.UserID, "err", err)
		return c.JSON(http.StatusInternalServerError, getRelationsResponse{
			Message: "Internal server error",
		})
	}
	if relations == nil {
		relations = []*common.AggregateRelation{}
	}

	return c.JSON(http.StatusOK, getRelationsResponse{
		Message:   "OK",
		Relations: relations,
	})
}
