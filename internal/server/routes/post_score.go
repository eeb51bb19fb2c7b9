package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/diligence/internal/server/middleware"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/question"
	"github.com/OFFIS-RIT/diligence/pkg/risk"

	"github.com/labstack/echo/v4"
)

// CreateScoreHandler classifies posted answers to critical questions and returns
// the aggregated scores. Invalid critical questions are reported and left
// out of the aggregation. Critical questions are decoded like a question
// file, so ids may be strings or numbers.
func CreateScoreHandler(c echo.Context) error {
	type scoreData struct {
		Critical json.RawMessage   `json:"critical_questions" validate:"required"`
		Answers  map[string]string `json:"answers" validate:"required"`
	}

	type scoreResponse struct {
		Message string                `json:"message,omitempty"`
		Report  *risk.Report          `json:"report,omitempty"`
		Errors  []question.InputError `json:"errors,omitempty"`
	}

	data := new(scoreData)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, scoreResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, scoreResponse{Message: "Invalid request body"})
	}

	parsed, inputErrs, err := question.Parse(data.Critical, question.FormatJSON)
	if err != nil {
		return c.JSON(http.StatusBadRequest, scoreResponse{Message: "Invalid critical questions"})
	}
	critical, invalid := question.ValidateCritical(parsed)
	inputErrs = append(inputErrs, invalid...)
	if len(critical) == 0 {
		return c.JSON(http.StatusBadRequest, scoreResponse{Message: "No valid critical questions", Errors: inputErrs})
	}

	app := c.(*middleware.AppContext).App
	report, err := app.Scorer.Score(c.Request().Context(), critical, data.Answers)
	if err != nil {
		logger.Warn("[API] Scoring interrupted", "err", err)
		return c.JSON(http.StatusServiceUnavailable, scoreResponse{Message: "Scoring interrupted"})
	}
	return c.JSON(http.StatusOK, scoreResponse{Report: &report, Errors: inputErrs})
}
