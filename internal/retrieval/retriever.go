// Package retrieval turns a question into knowledge-base context: embed the
// text, search the vector collection, join the passage texts.
package retrieval

import (
	"context"
	"strings"
	"time"
)

// PassageSeparator joins passages in the returned context.
const PassageSeparator = "\n\n---\n\n"

// DefaultTopK is the number of passages requested per search.
const DefaultTopK = 5

// Retriever combines embedding and vector search to find relevant context.
type Retriever struct {
	embedder Embedder
	store    VectorStore
	topK     int

	// Per-step deadlines; zero means only the caller's context applies.
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// NewRetriever creates a Retriever. topK <= 0 selects DefaultTopK.
func NewRetriever(embedder Embedder, store VectorStore, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// Retrieve returns the texts of the top passages for query, in ranking order,
// joined by PassageSeparator. Any failure, including an empty result, is a
// *RetrievalError. Nothing is retried.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	vec, err := r.embed(ctx, query)
	if err != nil {
		return "", &RetrievalError{Stage: StageEmbed, Err: err}
	}

	passages, err := r.search(ctx, vec)
	if err != nil {
		return "", &RetrievalError{Stage: StageSearch, Err: err}
	}

	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		texts = append(texts, p.Text)
	}
	if len(texts) == 0 {
		return "", &RetrievalError{Stage: StageSearch}
	}
	return strings.Join(texts, PassageSeparator), nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	if r.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.EmbedTimeout)
		defer cancel()
	}
	return r.embedder.Embed(ctx, text)
}

func (r *Retriever) search(ctx context.Context, vec []float32) ([]Passage, error) {
	if r.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.SearchTimeout)
		defer cancel()
	}
	return r.store.Search(ctx, vec, r.topK)
}
