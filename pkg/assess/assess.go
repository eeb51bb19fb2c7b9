package assess

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/util"
	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
)

// Service issues the three language-model calls of a question unit:
// answer, classify risk and detect gap. Transient failures are retried
// with exponential backoff.
type Service struct {
	client  ai.Client
	backoff util.BackoffOptions
	opts    []ai.GenerateOption
}

type NewServiceParams struct {
	Client   ai.Client
	MaxTries int
	// BaseDelay is the first backoff step, doubled on every retry.
	BaseDelay time.Duration
	Options   []ai.GenerateOption
}

func NewService(params NewServiceParams) *Service {
	if params.MaxTries <= 0 {
		params.MaxTries = 4
	}
	if params.BaseDelay <= 0 {
		params.BaseDelay = time.Second
	}
	return &Service{
		client: params.Client,
		backoff: util.BackoffOptions{
			MaxTries:  params.MaxTries,
			BaseDelay: params.BaseDelay,
			MaxDelay:  30 * time.Second,
			Jitter:    params.BaseDelay / 2,
			Retryable: ai.IsTransient,
		},
		opts: params.Options,
	}
}

func (s *Service) complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	opts = append(append([]ai.GenerateOption(nil), s.opts...), opts...)
	return util.RetryWithBackoff(ctx, s.backoff, func(ctx context.Context) (string, error) {
		return s.client.GenerateCompletion(ctx, prompt, opts...)
	})
}

// Answer answers question from the retrieved context. It returns
// ai.NotFoundMarker when the model reports the context does not contain
// the answer.
func (s *Service) Answer(ctx context.Context, question string, retrieval common.RetrievalResult) (string, error) {
	prompt := fmt.Sprintf(ai.AnswerPrompt, question, retrieval.ContextText(), ai.NotFoundMarker)
	out, err := s.complete(ctx, prompt, ai.WithTemperature(0.1))
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	return util.NormalizeCitations(strings.TrimSpace(out), retrieval.IDs()), nil
}

// ClassifyRisk returns the raw label produced for answer.
func (s *Service) ClassifyRisk(ctx context.Context, question, answer string) (string, error) {
	prompt := fmt.Sprintf(ai.ClassifyRiskPrompt, question, answer)
	out, err := s.complete(ctx, prompt, ai.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("classify risk: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// DetectGap returns the raw gap analysis, which is expected but not
// guaranteed to be JSON.
func (s *Service) DetectGap(ctx context.Context, question, contextText, answer string) (string, error) {
	prompt := fmt.Sprintf(ai.GapPrompt, question, contextText, answer)
	out, err := s.complete(ctx, prompt, ai.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("detect gap: %w", err)
	}
	return out, nil
}

// IsNotFound reports whether an answer text is the not-found marker or
// blank.
func IsNotFound(answer string) bool {
	a := strings.Trim(strings.TrimSpace(answer), "\"'.`*")
	return a == "" || strings.EqualFold(a, ai.NotFoundMarker)
}
