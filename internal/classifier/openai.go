package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const classifyTimeout = 20 * time.Second

const systemPrompt = `You classify administrative requests for a school management platform.
Respond with a single JSON object and nothing else:
{"intent_key": "<domain.type.action>", "params": {...}, "confidence": <0..1>}
Use only intent keys from the provided list. If no intent fits, use an empty
intent_key with confidence 0. Parameter values must come from the message;
never invent ids.`

// OpenAIClassifier classifies messages through an OpenAI-compatible chat
// endpoint.
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	intents []string
}

// NewOpenAIClassifier creates a classifier for the given API key and model.
// intents is the closed list of keys the model may choose from.
func NewOpenAIClassifier(apiKey, model string, intents []string) *OpenAIClassifier {
	return &OpenAIClassifier{
		client:  openai.NewClient(apiKey),
		model:   model,
		intents: intents,
	}
}

// NewOpenAIClassifierWithBaseURL points the client at a custom base URL
// (e.g. an httptest mock). baseURL is scheme+host without path.
func NewOpenAIClassifierWithBaseURL(apiKey, baseURL, model string, intents []string) *OpenAIClassifier {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		intents: intents,
	}
}

// Classify sends the masked message to the model and parses its JSON reply.
// A malformed reply is an error; the caller falls back to keywords.
func (c *OpenAIClassifier) Classify(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "classifier.classify",
		trace.WithAttributes(attribute.String("classifier.model", c.model)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	var user strings.Builder
	user.WriteString("Known intents:\n")
	for _, k := range c.intents {
		user.WriteString("- " + k + "\n")
	}
	if req.TenantContext != "" {
		user.WriteString("\nTenant: " + req.TenantContext + "\n")
	}
	if len(req.RecentIntents) > 0 {
		user.WriteString("\nRecent intents: " + strings.Join(req.RecentIntents, ", ") + "\n")
	}
	user.WriteString("\nMessage: " + req.Message)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("classifier api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classifier api call: no choices returned")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var result Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		return nil, fmt.Errorf("parsing classifier response: %w", err)
	}

	span.SetAttributes(
		attribute.String("classifier.intent_key", result.IntentKey),
		attribute.Float64("classifier.confidence", result.Confidence),
	)
	return &result, nil
}
