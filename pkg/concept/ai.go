package concept

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/util"
	"github.com/OFFIS-RIT/diligence/pkg/ai"
)

const defaultMaxConcepts = 20

type conceptList struct {
	Concepts []string `json:"concepts"`
}

// AIExtractor asks the language model for entities and noun phrases.
type AIExtractor struct {
	client      ai.Client
	maxConcepts int
	backoff     util.BackoffOptions
}

type NewAIExtractorParams struct {
	Client      ai.Client
	MaxConcepts int
	MaxTries    int
}

func NewAIExtractor(params NewAIExtractorParams) *AIExtractor {
	if params.MaxConcepts <= 0 {
		params.MaxConcepts = defaultMaxConcepts
	}
	if params.MaxTries <= 0 {
		params.MaxTries = 3
	}
	return &AIExtractor{
		client:      params.Client,
		maxConcepts: params.MaxConcepts,
		backoff: util.BackoffOptions{
			MaxTries:  params.MaxTries,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  10 * time.Second,
			Jitter:    250 * time.Millisecond,
			Retryable: ai.IsTransient,
		},
	}
}

func (e *AIExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(ai.ConceptPrompt, text, e.maxConcepts)
	out, err := util.RetryWithBackoff(ctx, e.backoff, func(ctx context.Context) (conceptList, error) {
		var res conceptList
		err := e.client.GenerateCompletionWithFormat(
			ctx,
			"concepts",
			"Concepts mentioned in the text",
			prompt,
			&res,
			ai.WithTemperature(0),
		)
		return res, err
	})
	if err != nil {
		return nil, fmt.Errorf("extract concepts: %w", err)
	}

	concepts := Normalize(out.Concepts)
	if len(concepts) > e.maxConcepts {
		concepts = concepts[:e.maxConcepts]
	}
	return concepts, nil
}
