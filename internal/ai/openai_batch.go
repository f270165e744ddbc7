package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBatchAPI implements BatchAPI against the OpenAI files and batches endpoints
type OpenAIBatchAPI struct {
	client *openai.Client
}

// NewOpenAIBatchAPI creates a batch API client. baseURL is optional.
func NewOpenAIBatchAPI(apiKey, baseURL string) (*OpenAIBatchAPI, error) {
	client, err := newOpenAI(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIBatchAPI{client: client}, nil
}

func (a *OpenAIBatchAPI) UploadFile(ctx context.Context, path string) (string, error) {
	file, err := a.client.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(path),
		FilePath: path,
		Purpose:  "batch",
	})
	if err != nil {
		return "", err
	}
	return file.ID, nil
}

func (a *OpenAIBatchAPI) CreateBatch(ctx context.Context, inputFileID string, endpoint Endpoint, completionWindow string, metadata map[string]string) (*BatchRecord, error) {
	req := openai.CreateBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         openai.BatchEndpoint(endpoint),
		CompletionWindow: completionWindow,
	}
	if len(metadata) > 0 {
		req.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			req.Metadata[k] = v
		}
	}
	resp, err := a.client.CreateBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return toBatchRecord(resp.Batch)
}

func (a *OpenAIBatchAPI) RetrieveBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	resp, err := a.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return toBatchRecord(resp.Batch)
}

func (a *OpenAIBatchAPI) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	raw, err := a.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	return io.ReadAll(raw)
}

// toBatchRecord goes through the wire format, which both types mirror
func toBatchRecord(b openai.Batch) (*BatchRecord, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	var record BatchRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return &record, nil
}
