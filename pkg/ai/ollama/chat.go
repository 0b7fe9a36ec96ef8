package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/evigraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

// numCtxFor estimates the context window needed for a prompt. Ollama defaults
// to a 4096 token window, which silently truncates long full-text prompts.
func numCtxFor(prompt string) (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	return 200 + len(enc.Encode(prompt, nil, nil)), nil
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *ExtractionOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	schemaObj := ai.GenerateSchema(out)
	formatBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return err
	}
	var format json.RawMessage = formatBytes

	options := ai.GenerateOptions{
		Model:       c.defaultModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.reqLock.Release(1)

	stream := false
	msgs := []api.Message{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	tokens, err := numCtxFor(prompt)
	if err != nil {
		return err
	}
	if tokens > 4096 {
		req.Options["num_ctx"] = tokens
	}

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return err
	}

	durationMs := final.Metrics.TotalDuration.Milliseconds()

	metrics := ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   durationMs,
	}
	c.modifyMetrics(metrics)

	return ai.UnmarshalFlexible(final.Message.Content, out)
}
