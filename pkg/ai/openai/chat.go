package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/evigraph/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateCompletionWithFormat sends a prompt to the chat model and
// attempts to unmarshal the response into the provided output struct,
// using a JSON schema to enforce structure.
//
// Example:
//
//	var out ExtractionResult
//	err := client.GenerateCompletionWithFormat(ctx, "relations", "Extracted relations", prompt, &out)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%+v\n", out)
func (c *ExtractionOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	schema := ai.GenerateSchema(out)
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	options := ai.GenerateOptions{
		Model:       c.defaultModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return err
	}
	duration := time.Since(start).Milliseconds()

	metrics := ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	}
	c.modifyMetrics(metrics)

	if len(response.Choices) == 0 {
		return fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return ai.UnmarshalFlexible(message, out)
}
