package ai

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBatchRequestBuilderBodies(t *testing.T) {
	temp := 0.2
	builder := NewBatchRequestBuilder()
	require.NoError(t, builder.Add("cluster-1", "gpt-4o-mini", PromptMessages("sys", "one"), 1000, &temp))
	require.NoError(t, builder.Add("cluster-2", "gpt-5-mini", PromptMessages("sys", "two"), 2000, nil))
	assert.Equal(t, 2, builder.Len())
	assert.Equal(t, EndpointChatCompletions, builder.Endpoint())

	path := filepath.Join(t.TempDir(), "nested", "batch.jsonl")
	require.NoError(t, builder.WriteJSONL(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	first := gjson.Parse(lines[0])
	assert.Equal(t, "cluster-1", first.Get("custom_id").String())
	assert.Equal(t, "POST", first.Get("method").String())
	assert.Equal(t, "/v1/chat/completions", first.Get("url").String())
	assert.Equal(t, "gpt-4o-mini", first.Get("body.model").String())
	assert.Equal(t, int64(1000), first.Get("body.max_tokens").Int())
	assert.Equal(t, 0.2, first.Get("body.temperature").Float())
	assert.Equal(t, "one", first.Get("body.messages.1.content").String())

	second := gjson.Parse(lines[1])
	assert.Equal(t, int64(2000), second.Get("body.max_completion_tokens").Int())
	assert.False(t, second.Get("body.max_tokens").Exists())
	assert.False(t, second.Get("body.temperature").Exists())
}

func TestBatchRequestBuilderResponsesModel(t *testing.T) {
	builder := NewBatchRequestBuilder()
	require.NoError(t, builder.Add("c1", "gpt-5-pro", PromptMessages("sys", "hi"), 4096, nil))
	assert.Equal(t, EndpointResponses, builder.Endpoint())

	path := filepath.Join(t.TempDir(), "batch.jsonl")
	require.NoError(t, builder.WriteJSONL(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := gjson.ParseBytes(data)
	assert.Equal(t, "/v1/responses", line.Get("url").String())
	assert.Equal(t, int64(4096), line.Get("body.max_output_tokens").Int())
	assert.Equal(t, "hi", line.Get("body.input.1.content").String())
	assert.False(t, line.Get("body.messages").Exists())
}

func TestBatchRequestBuilderRejectsMixedEndpoints(t *testing.T) {
	builder := NewBatchRequestBuilder()
	require.NoError(t, builder.Add("c1", "gpt-4o-mini", PromptMessages("", "a"), 10, nil))

	err := builder.Add("c2", "o3-pro", PromptMessages("", "b"), 10, nil)
	assert.ErrorIs(t, err, ErrMixedEndpoints)
	assert.Equal(t, 1, builder.Len(), "rejected request is not queued")

	err = builder.Add("c1", "gpt-4o-mini", PromptMessages("", "c"), 10, nil)
	assert.ErrorContains(t, err, "duplicate custom_id")

	builder.Clear()
	assert.Equal(t, 0, builder.Len())
	assert.Equal(t, Endpoint(""), builder.Endpoint())
	assert.NoError(t, builder.Add("c2", "o3-pro", PromptMessages("", "b"), 10, nil), "clear resets the endpoint binding")
}

func TestBatchRequestBuilderEmpty(t *testing.T) {
	err := NewBatchRequestBuilder().WriteJSONL(filepath.Join(t.TempDir(), "empty.jsonl"))
	assert.ErrorIs(t, err, ErrEmptyBatch)
}
