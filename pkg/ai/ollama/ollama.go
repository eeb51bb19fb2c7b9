package ollama

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/diligence/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 1024
	defaultTimeoutMin = 10
)

// OllamaClient implements ai.Client against a (possibly remote) Ollama
// server.
type OllamaClient struct {
	chatModel       string
	extractionModel string
	embeddingModel  string
	embeddingDim    int
	timeoutMin      int

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewOllamaClientParams contains configuration options for creating a new
// OllamaClient.
type NewOllamaClientParams struct {
	ChatModel       string
	ExtractionModel string
	EmbeddingModel  string
	EmbeddingDim    int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaClient creates a new Ollama-based AI client. An empty BaseURL
// selects the default local server.
func NewOllamaClient(params NewOllamaClientParams) (*OllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse ollama url: %w", err)
		}
	}

	var rt http.RoundTripper = http.DefaultTransport
	if params.ApiKey != "" {
		rt = &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: rt,
		}
	}

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

	return &OllamaClient{
		chatModel:       params.ChatModel,
		extractionModel: params.ExtractionModel,
		embeddingModel:  params.EmbeddingModel,
		embeddingDim:    params.EmbeddingDim,
		timeoutMin:      params.TimeoutMin,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		Client: api.NewClient(u, &http.Client{Transport: rt}),
	}, nil
}

func wrapErr(op string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %w", op, ai.ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ ai.Client = (*OllamaClient)(nil)
