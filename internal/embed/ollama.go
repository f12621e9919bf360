package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// OllamaEmbedder calls a local Ollama server's embedding endpoint.
type OllamaEmbedder struct {
	host   string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an Ollama-backed embedder. dims must match the
// model's output dimension; mismatches surface as errors on first use.
func NewOllamaEmbedder(host, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:  host,
		model: model,
		dims:  dims,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed generates an embedding for a single text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, loupeerr.InvalidArgument("batch too large")
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, loupeerr.Internal("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, loupeerr.Internal("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, loupeerr.EmbedderUnavailable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, loupeerr.EmbedderUnavailable(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, loupeerr.EmbedderUnavailable(fmt.Errorf("ollama returned %d: %s", resp.StatusCode, truncate(data, 200)))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, loupeerr.EmbedderUnavailable(fmt.Errorf("decode embed response: %w", err))
	}
	if parsed.Error != "" {
		return nil, loupeerr.EmbedderUnavailable(fmt.Errorf("ollama: %s", parsed.Error))
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, loupeerr.Internal(fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(parsed.Embeddings)), nil)
	}
	for i, vec := range parsed.Embeddings {
		if len(vec) != o.dims {
			return nil, loupeerr.Internal(fmt.Sprintf("dimension mismatch at %d: expected %d, got %d", i, o.dims, len(vec)), nil)
		}
	}

	return parsed.Embeddings, nil
}

// Dimensions returns the configured embedding dimension.
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// ModelName returns the model identifier.
func (o *OllamaEmbedder) ModelName() string { return o.model }

// Available probes the server with a short deadline.
func (o *OllamaEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (o *OllamaEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Embedder = (*OllamaEmbedder)(nil)
