package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/campusdesk/internal/ollama"
	"golang.org/x/sync/errgroup"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorizerClient calls a sentence-embedding HTTP service that accepts
// {"text": ...} and answers {"vector": [...]}.
type VectorizerClient struct {
	url        string
	httpClient *http.Client
}

// NewVectorizerClient creates a client for the given endpoint URL.
func NewVectorizerClient(url string) *VectorizerClient {
	return &VectorizerClient{url: url, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type vectorizeRequest struct {
	Text string `json:"text"`
}

type vectorizeResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed returns the vector for text. A missing or empty vector is an error.
func (c *VectorizerClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(vectorizeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating vectorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("vectorize: unexpected status %d", resp.StatusCode)
	}

	var result vectorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding vectorize response: %w", err)
	}
	if len(result.Vector) == 0 {
		return nil, fmt.Errorf("vectorize: response has no vector")
	}
	return result.Vector, nil
}

// OllamaEmbedder embeds with a model served by the local Ollama instance.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbedder creates an Embedder using the given Ollama client and model.
func NewOllamaEmbedder(c *ollama.Client, model string) *OllamaEmbedder {
	return &OllamaEmbedder{client: c, model: model}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func EmbedBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
