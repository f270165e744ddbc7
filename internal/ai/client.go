package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Auriora/admin-assistant-sub002/internal/config"
)

var (
	// ErrNoContent is returned when a model call succeeds but carries no text
	ErrNoContent = errors.New("model response has no message content")

	// ErrMissingAPIKey is returned when a client is built without credentials
	ErrMissingAPIKey = errors.New("API key is required")

	// ErrUnsupportedProvider is returned for providers without a client, or
	// without batch support when batch mode is requested
	ErrUnsupportedProvider = errors.New("unsupported model provider")
)

// Chat message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-neutral chat completion request
type ChatRequest struct {
	Model    string
	Messages []Message
	// MaxTokens is the completion budget. It is sent as whichever token field
	// the model family expects.
	MaxTokens int
	// Temperature is left to the provider default when nil
	Temperature *float64
}

// Completion is the text of a model reply plus usage accounting
type Completion struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// ChatClient performs one synchronous model call
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (*Completion, error)
}

// NewChatClient builds the client for cfg.Provider
func NewChatClient(cfg config.Config) (ChatClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
}

// PromptMessages returns the system and user messages for one prompt
func PromptMessages(system, user string) []Message {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}

// Endpoint is an OpenAI API path accepted by the batch API
type Endpoint string

const (
	EndpointChatCompletions Endpoint = "/v1/chat/completions"
	EndpointResponses       Endpoint = "/v1/responses"
)

// ModelFamily describes how a request body for a model is shaped
type ModelFamily struct {
	Endpoint Endpoint
	// TokenField carries the completion budget
	TokenField string
	// MessagesField carries the conversation
	MessagesField string
}

// Reasoning reports whether the family takes max_completion_tokens
func (f ModelFamily) Reasoning() bool {
	return f.TokenField == "max_completion_tokens"
}

var responsesOnlyPrefixes = []string{"o1-pro", "o3-pro", "gpt-5-pro", "computer-use"}

var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// FamilyFor classifies a model name. Unknown models are treated as classic
// chat models.
func FamilyFor(model string) ModelFamily {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}

	if strings.Contains(m, "codex") || hasAnyPrefix(m, responsesOnlyPrefixes) {
		return ModelFamily{Endpoint: EndpointResponses, TokenField: "max_output_tokens", MessagesField: "input"}
	}
	if hasAnyPrefix(m, reasoningPrefixes) {
		return ModelFamily{Endpoint: EndpointChatCompletions, TokenField: "max_completion_tokens", MessagesField: "messages"}
	}
	return ModelFamily{Endpoint: EndpointChatCompletions, TokenField: "max_tokens", MessagesField: "messages"}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
