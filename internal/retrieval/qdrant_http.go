package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// QdrantHTTP talks to Qdrant's REST API.
type QdrantHTTP struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
}

// NewQdrantHTTP creates a REST client for collection on the server at baseURL
// (e.g. http://localhost:6333).
func NewQdrantHTTP(baseURL, collection, apiKey string) *QdrantHTTP {
	return &QdrantHTTP{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result *[]struct {
		ID      any     `json:"id"`
		Score   float32 `json:"score"`
		Payload struct {
			Text   string `json:"text"`
			Source string `json:"source"`
		} `json:"payload"`
	} `json:"result"`
}

func (q *QdrantHTTP) collectionURL() string {
	return q.baseURL + "/collections/" + q.collection
}

func (q *QdrantHTTP) do(ctx context.Context, method, url string, in any) (*http.Response, error) {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	return q.httpClient.Do(req)
}

// Search posts to points/search. A body without a result array is an error.
func (q *QdrantHTTP) Search(ctx context.Context, vector []float32, limit int) ([]Passage, error) {
	resp, err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/search", qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("qdrant search: unexpected status %d", resp.StatusCode)
	}

	var result qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding qdrant response: %w", err)
	}
	if result.Result == nil {
		return nil, fmt.Errorf("qdrant search: response has no result")
	}

	passages := make([]Passage, 0, len(*result.Result))
	for _, hit := range *result.Result {
		passages = append(passages, Passage{
			ID:     fmt.Sprint(hit.ID),
			Text:   hit.Payload.Text,
			Source: hit.Payload.Source,
			Score:  hit.Score,
		})
	}
	return passages, nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert creates the collection if needed, then writes points and waits for them.
func (q *QdrantHTTP) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}

	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, len(points))}
	for i, p := range points {
		body.Points[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.payload()}
	}

	resp, err := q.do(ctx, http.MethodPut, q.collectionURL()+"/points?wait=true", body)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("qdrant upsert: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (q *QdrantHTTP) ensureCollection(ctx context.Context, dim int) error {
	resp, err := q.do(ctx, http.MethodGet, q.collectionURL(), nil)
	if err != nil {
		return fmt.Errorf("qdrant collection lookup: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant collection lookup: unexpected status %d", resp.StatusCode)
	}

	create := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
	resp, err = q.do(ctx, http.MethodPut, q.collectionURL(), create)
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("qdrant create collection: unexpected status %d", resp.StatusCode)
	}
	return nil
}
