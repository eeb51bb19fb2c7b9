package openai

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/OFFIS-RIT/diligence/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 1536
	defaultTimeoutMin = 5
)

// OpenAIClient talks to any OpenAI-compatible endpoint. Chat and embedding
// traffic may go to different hosts.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	chatModel       string
	extractionModel string
	embeddingModel  string
	embeddingDim    int
	timeoutMin      int

	chatURL string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewOpenAIClientParams defines the configuration parameters for creating
// a new OpenAIClient.
//
// ChatModel answers questions and classifies risk, ExtractionModel is used
// for structured output (concepts). ChatURL/ChatKey and
// EmbeddingURL/EmbeddingKey configure the two endpoints; an empty URL means
// api.openai.com.
type NewOpenAIClientParams struct {
	ChatModel       string
	ExtractionModel string
	EmbeddingModel  string
	EmbeddingDim    int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

// NewOpenAIClient creates a client configured with the provided parameters.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingModel: "text-embedding-3-small",
//		ChatKey:        os.Getenv("AI_CHAT_KEY"),
//		EmbeddingKey:   os.Getenv("AI_EMBED_KEY"),
//	})
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.ChatModel
	}
	if params.EmbeddingDim <= 0 {
		params.EmbeddingDim = defaultDimensions
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	if params.TimeoutMin <= 0 {
		params.TimeoutMin = defaultTimeoutMin
	}

	return &OpenAIClient{
		chatModel:       params.ChatModel,
		extractionModel: params.ExtractionModel,
		embeddingModel:  params.EmbeddingModel,
		embeddingDim:    params.EmbeddingDim,
		timeoutMin:      params.TimeoutMin,

		chatURL: params.ChatURL,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are driven by the caller's backoff
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears all accumulated token and timing metrics.
func (c *OpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated usage since the last reset.
func (c *OpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *OpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	m.Requests = 1
	c.metrics.Add(m)
	c.metrics.TokenPerSecond = float32(math.Round(float64(c.metrics.TokenPerSecond)*100) / 100)
}

func wrapErr(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %w", op, ai.ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var errNoClient = errors.New("openai client not configured")

var _ ai.Client = (*OpenAIClient)(nil)
