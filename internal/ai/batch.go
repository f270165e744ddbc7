package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/sjson"
)

var (
	// ErrMixedEndpoints is returned when one batch would target two endpoints
	ErrMixedEndpoints = errors.New("batch requests must all target the same endpoint")

	// ErrEmptyBatch is returned when writing a batch with no requests
	ErrEmptyBatch = errors.New("batch has no requests")
)

// batchLine is one line of a batch input file
type batchLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      Endpoint        `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// BatchRequestBuilder accumulates requests for one batch input file.
// Request bodies are shaped per model family; all requests in a batch must
// share one endpoint.
type BatchRequestBuilder struct {
	endpoint Endpoint
	lines    [][]byte
	ids      map[string]bool
}

// NewBatchRequestBuilder creates an empty builder
func NewBatchRequestBuilder() *BatchRequestBuilder {
	return &BatchRequestBuilder{ids: make(map[string]bool)}
}

// Add queues one request. customID must be unique within the batch.
func (b *BatchRequestBuilder) Add(customID, model string, messages []Message, maxTokens int, temperature *float64) error {
	if customID == "" {
		return fmt.Errorf("custom_id is required")
	}
	if b.ids[customID] {
		return fmt.Errorf("duplicate custom_id %q", customID)
	}

	family := FamilyFor(model)
	if b.endpoint != "" && b.endpoint != family.Endpoint {
		return fmt.Errorf("%w: batch targets %s but model %s needs %s", ErrMixedEndpoints, b.endpoint, model, family.Endpoint)
	}

	msgs, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	body := []byte(`{}`)
	if body, err = sjson.SetBytes(body, "model", model); err != nil {
		return fmt.Errorf("failed to set model: %w", err)
	}
	if body, err = sjson.SetRawBytes(body, family.MessagesField, msgs); err != nil {
		return fmt.Errorf("failed to set %s: %w", family.MessagesField, err)
	}
	if body, err = sjson.SetBytes(body, family.TokenField, maxTokens); err != nil {
		return fmt.Errorf("failed to set %s: %w", family.TokenField, err)
	}
	if temperature != nil {
		if body, err = sjson.SetBytes(body, "temperature", *temperature); err != nil {
			return fmt.Errorf("failed to set temperature: %w", err)
		}
	}

	line, err := json.Marshal(batchLine{CustomID: customID, Method: "POST", URL: family.Endpoint, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode batch line: %w", err)
	}

	b.endpoint = family.Endpoint
	b.ids[customID] = true
	b.lines = append(b.lines, line)
	return nil
}

// Len returns the number of queued requests
func (b *BatchRequestBuilder) Len() int {
	return len(b.lines)
}

// Endpoint returns the endpoint shared by the queued requests, or "" when empty
func (b *BatchRequestBuilder) Endpoint() Endpoint {
	return b.endpoint
}

// WriteJSONL writes the queued requests to path, one JSON object per line,
// creating parent directories as needed.
func (b *BatchRequestBuilder) WriteJSONL(path string) error {
	if len(b.lines) == 0 {
		return ErrEmptyBatch
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}
	data := append(bytes.Join(b.lines, []byte("\n")), '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write batch file %s: %w", path, err)
	}
	return nil
}

// Clear drops all queued requests and the endpoint binding
func (b *BatchRequestBuilder) Clear() {
	b.endpoint = ""
	b.lines = nil
	b.ids = make(map[string]bool)
}
