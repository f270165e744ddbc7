package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the OpenAI chat completions API or a compatible gateway
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client. baseURL is optional and must include the
// /v1 suffix when set.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	client, err := newOpenAI(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{client: client}, nil
}

func newOpenAI(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Complete sends req as one chat completion. Models that only exist on the
// responses endpoint are rejected; they can be used through batch mode.
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (*Completion, error) {
	family := FamilyFor(req.Model)
	if family.Endpoint != EndpointChatCompletions {
		return nil, fmt.Errorf("model %s is only served on %s; enable batch mode to use it", req.Model, family.Endpoint)
	}

	request := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if family.Reasoning() {
		request.MaxCompletionTokens = req.MaxTokens
	} else {
		request.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrNoContent
	}

	return &Completion{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}
