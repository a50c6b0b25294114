// Package gemini calls the Google generateContent endpoint used as the
// primary answer model.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/campusdesk/internal/composer"
	"github.com/kalambet/campusdesk/internal/config"
	"github.com/kalambet/campusdesk/internal/llm"
)

const defaultTimeout = 60 * time.Second

// Client sends multi-turn requests to a Gemini model.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the given generateContent endpoint.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Available reports whether a usable API key is configured.
func (c *Client) Available() bool {
	return config.GeminiConfig{APIKey: c.apiKey}.Usable()
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content *content `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate sends msgs and returns the trimmed text of the first candidate.
// Failures are typed per llm.Classify; nothing is retried.
func (c *Client) Generate(ctx context.Context, msgs []composer.Message, temperature float64) (string, error) {
	contents := make([]content, len(msgs))
	for i, m := range msgs {
		contents[i] = content{Role: m.Role, Parts: []part{{Text: m.Text}}}
	}
	body, err := json.Marshal(generateRequest{
		Contents:         contents,
		GenerationConfig: generationConfig{Temperature: temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generate: %w", &llm.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))})
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("generate: %w: %v", llm.ErrMalformed, err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
			return "", &llm.BlockedError{Reason: result.PromptFeedback.BlockReason}
		}
		return "", fmt.Errorf("generate: %w: no candidates", llm.ErrEmpty)
	}
	parts := result.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", fmt.Errorf("generate: %w: candidate has no parts", llm.ErrEmpty)
	}
	text := strings.TrimSpace(parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("generate: %w: blank text", llm.ErrEmpty)
	}
	return text, nil
}
