package routes

import (
	"errors"
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/diligence/internal/server/middleware"
	"github.com/OFFIS-RIT/diligence/internal/storage"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/pipeline"

	"github.com/labstack/echo/v4"
)

type runParams struct {
	RunID string `param:"id" validate:"required"`
}

func GetRunHandler(c echo.Context) error {
	data := new(runParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	status, err := app.Storage.ReadStatus(c.Request().Context(), data.RunID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, runResponse{Message: "Run not found"})
	}
	if err != nil {
		logger.Error("[API] Failed to read run status", "run", data.RunID, "err", err)
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, runResponse{Run: &status})
}

// GetRunOutputHandler returns one output file of a run, or a presigned link
// to it with ?download=true.
func GetRunOutputHandler(c echo.Context) error {
	type outputParams struct {
		RunID    string `param:"id" validate:"required"`
		Output   string `param:"output" validate:"required"`
		Download bool   `query:"download"`
	}

	data := new(outputParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request params"})
	}
	if !slices.Contains(pipeline.OutputNames, data.Output) {
		return c.JSON(http.StatusNotFound, runResponse{Message: "Unknown output"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if data.Download {
		if app.S3 == nil {
			return c.JSON(http.StatusNotImplemented, runResponse{Message: "Downloads are not configured"})
		}
		link, err := storage.DownloadLink(ctx, app.S3, app.Storage.Bucket(), storage.RunKey(data.RunID, data.Output))
		if err != nil {
			logger.Error("[API] Failed to presign output", "run", data.RunID, "output", data.Output, "err", err)
			return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
		}
		return c.JSON(http.StatusOK, map[string]string{"url": link})
	}

	body, err := app.Storage.ReadRunOutput(ctx, data.RunID, data.Output)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, runResponse{Message: "Output not found"})
	}
	if err != nil {
		logger.Error("[API] Failed to read output", "run", data.RunID, "output", data.Output, "err", err)
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}
	return c.JSONBlob(http.StatusOK, body)
}
