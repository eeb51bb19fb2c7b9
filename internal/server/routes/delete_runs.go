package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/diligence/internal/server/middleware"
	"github.com/OFFIS-RIT/diligence/internal/storage"
	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DeleteRunHandler removes the status and all outputs of a finished run.
func DeleteRunHandler(c echo.Context) error {
	data := new(runParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request params"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	status, err := app.Storage.ReadStatus(ctx, data.RunID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, runResponse{Message: "Run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}
	if status.State == storage.RunQueued || status.State == storage.RunRunning {
		return c.JSON(http.StatusConflict, runResponse{Message: "Run is still in progress"})
	}

	if err := app.Storage.DeleteRun(ctx, data.RunID); err != nil {
		logger.Error("[API] Failed to delete run", "run", data.RunID, "err", err)
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, runResponse{Message: "Run deleted"})
}
