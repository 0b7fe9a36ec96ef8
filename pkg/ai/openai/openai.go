package openai

import (
	"math"
	"sync"

	"github.com/evigraph/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ExtractionOpenAIClient implements ai.Client against an OpenAI-compatible
// chat completion endpoint. It is safe for concurrent use.
type ExtractionOpenAIClient struct {
	defaultModel string

	chatURL string
	chatKey string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewExtractionOpenAIClientParams defines the configuration parameters for
// creating a new ExtractionOpenAIClient.
//
// DefaultModel is used when a request does not override the model.
// ChatURL and ChatKey configure the chat/completion API endpoint; an empty
// ChatURL selects the official OpenAI endpoint.
type NewExtractionOpenAIClientParams struct {
	DefaultModel string

	ChatURL string
	ChatKey string
}

// NewExtractionOpenAIClient creates a new client configured with the provided
// parameters.
func NewExtractionOpenAIClient(
	params NewExtractionOpenAIClientParams,
) *ExtractionOpenAIClient {
	return &ExtractionOpenAIClient{
		defaultModel: params.DefaultModel,

		chatURL: params.ChatURL,
		chatKey: params.ChatKey,

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		ChatClient: newOpenaiClient(params.ChatURL, params.ChatKey),
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
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *ExtractionOpenAIClient) ResetMetrics() {
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
func (c *ExtractionOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *ExtractionOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
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
