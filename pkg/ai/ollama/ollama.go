package ollama

import (
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/evigraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// ExtractionOllamaClient implements ai.Client using Ollama as the backend,
// for locally-hosted extraction models.
type ExtractionOllamaClient struct {
	defaultModel string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	Client *api.Client
}

// NewExtractionOllamaClientParams contains configuration options for creating
// a new ExtractionOllamaClient.
type NewExtractionOllamaClientParams struct {
	DefaultModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewExtractionOllamaClient creates a new Ollama-based AI client with the
// specified configuration. It connects to the Ollama server at the given
// BaseURL (or the default if empty).
func NewExtractionOllamaClient(
	params NewExtractionOllamaClientParams,
) (*ExtractionOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		// Hard cap on any single request so a stalled server cannot hold a
		// connection open indefinitely. Callers set tighter deadlines via ctx.
		Timeout: 5 * time.Minute,
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	cli := api.NewClient(u, httpClient)

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := semaphore.NewWeighted(maxConcurrent)

	return &ExtractionOllamaClient{
		defaultModel: params.DefaultModel,

		reqLock: sem,

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		baseURL:    u,
		apiKey:     params.ApiKey,
		httpClient: httpClient,

		Client: cli,
	}, nil
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *ExtractionOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{
		InputTokens:  0,
		OutputTokens: 0,
		TotalTokens:  0,
		DurationMs:   0,
	}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *ExtractionOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *ExtractionOllamaClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs

	if c.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(c.metrics.TotalTokens) * 1000.0) / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}
