package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/diligence/internal/queue"
	"github.com/OFFIS-RIT/diligence/internal/server/middleware"
	"github.com/OFFIS-RIT/diligence/internal/storage"
	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type createRunData struct {
	Corpus               string   `json:"corpus" validate:"required"`
	DocumentKeys         []string `json:"document_keys"`
	DocumentPrefix       string   `json:"document_prefix"`
	URLs                 []string `json:"urls" validate:"omitempty,dive,url"`
	QuestionBankKey      string   `json:"question_bank_key"`
	CriticalQuestionsKey string   `json:"critical_questions_key" validate:"required"`
	TopK                 int      `json:"top_k" validate:"gte=0"`
}

type runResponse struct {
	Message string             `json:"message,omitempty"`
	Run     *storage.RunStatus `json:"run,omitempty"`
}

// CreateRunHandler records a queued run and hands it to the workers.
func CreateRunHandler(c echo.Context) error {
	data := new(createRunData)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "Invalid request body"})
	}
	if len(data.DocumentKeys) == 0 && data.DocumentPrefix == "" && len(data.URLs) == 0 {
		return c.JSON(http.StatusBadRequest, runResponse{Message: "No documents given"})
	}

	runID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}

	msg := queue.RunMsg{
		RunID:                runID,
		Corpus:               data.Corpus,
		DocumentKeys:         data.DocumentKeys,
		DocumentPrefix:       data.DocumentPrefix,
		URLs:                 data.URLs,
		QuestionBankKey:      data.QuestionBankKey,
		CriticalQuestionsKey: data.CriticalQuestionsKey,
		TopK:                 data.TopK,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	status := storage.RunStatus{RunID: runID, State: storage.RunQueued}
	if err := app.Storage.WriteStatus(ctx, status); err != nil {
		logger.Error("[API] Failed to write run status", "run", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}
	if err := queue.Publish(ctx, app.Queue, queue.RunQueue, body); err != nil {
		logger.Error("[API] Failed to enqueue run", "run", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, runResponse{Message: "Internal server error"})
	}

	logger.Info("[API] Run queued", "run", runID, "corpus", data.Corpus)
	return c.JSON(http.StatusAccepted, runResponse{Run: &status})
}
