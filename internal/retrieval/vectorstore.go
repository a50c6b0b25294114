package retrieval

import "context"

// VectorStore searches and fills a collection of passage vectors.
type VectorStore interface {
	// Search returns up to limit passages ranked by similarity, payload included.
	Search(ctx context.Context, vector []float32, limit int) ([]Passage, error)

	// Upsert writes points, creating the collection on first use.
	Upsert(ctx context.Context, points []Point) error
}

// Passage is one search hit.
type Passage struct {
	ID     string
	Text   string
	Source string
	Score  float32
}

// Point is a passage vector to be stored. ID must be a UUID.
type Point struct {
	ID         string
	Vector     []float32
	Text       string
	Source     string
	DocumentID string
}

func (p Point) payload() map[string]any {
	return map[string]any{
		"text":        p.Text,
		"source":      p.Source,
		"document_id": p.DocumentID,
	}
}
