package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// OllamaEmbedder talks to a local Ollama server over its batch embed API.
type OllamaEmbedder struct {
	host       string
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
	retry      errors.RetryConfig
}

var _ Embedder = (*OllamaEmbedder)(nil)

// OllamaOptions configures the Ollama client.
type OllamaOptions struct {
	Host       string // default http://localhost:11434
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// NewOllama creates an Ollama-backed embedder.
func NewOllama(opts OllamaOptions) *OllamaEmbedder {
	if opts.Host == "" {
		opts.Host = "http://localhost:11434"
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &OllamaEmbedder{
		host:       opts.Host,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		batchSize:  opts.BatchSize,
		client:     &http.Client{Timeout: opts.Timeout},
		retry:      errors.DefaultRetryConfig(),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates the embedding for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings in batchSize slices, retrying transient
// failures with backoff.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := errors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			return e.embedOnce(ctx, texts[start:end])
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedOnce performs a single /api/embed call.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, errors.EmbedderError("failed to encode embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.EmbedderError("failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeEmbedderUnavailable, "embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := errors.CodeEmbedderFailed
		if resp.StatusCode >= 500 {
			code = errors.CodeEmbedderUnavailable
		}
		return nil, errors.New(code,
			fmt.Sprintf("embed request returned %d: %s", resp.StatusCode, string(msg)), nil)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.EmbedderError("failed to decode embed response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, errors.EmbedderError(
			fmt.Sprintf("embed response count mismatch: want %d, got %d", len(texts), len(parsed.Embeddings)), nil)
	}
	for i, v := range parsed.Embeddings {
		if e.dimensions > 0 && len(v) != e.dimensions {
			return nil, errors.New(errors.CodeDimensionMismatch,
				fmt.Sprintf("embedding %d has dimension %d, want %d", i, len(v), e.dimensions), nil)
		}
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.model }

// Available probes the server root.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases client resources.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
