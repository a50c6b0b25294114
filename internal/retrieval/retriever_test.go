package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockVectorStore implements VectorStore for testing.
type mockVectorStore struct {
	searchFn func(ctx context.Context, vector []float32, limit int) ([]Passage, error)
	upsertFn func(ctx context.Context, points []Point) error
}

func (m *mockVectorStore) Search(ctx context.Context, vector []float32, limit int) ([]Passage, error) {
	return m.searchFn(ctx, vector, limit)
}

func (m *mockVectorStore) Upsert(ctx context.Context, points []Point) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, points)
	}
	return nil
}

func fixedEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return makeVector(384), nil
	}}
}

func TestRetrieve_JoinsInRankOrder(t *testing.T) {
	var gotLimit int
	store := &mockVectorStore{searchFn: func(_ context.Context, _ []float32, limit int) ([]Passage, error) {
		gotLimit = limit
		return []Passage{{Text: "first"}, {Text: "second"}, {Text: "third"}}, nil
	}}

	ctx, err := NewRetriever(fixedEmbedder(), store, 0).Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if want := "first\n\n---\n\nsecond\n\n---\n\nthird"; ctx != want {
		t.Errorf("context = %q, want %q", ctx, want)
	}
	if gotLimit != DefaultTopK {
		t.Errorf("limit = %d, want %d", gotLimit, DefaultTopK)
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	searchCalls := 0
	e := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}
	store := &mockVectorStore{searchFn: func(context.Context, []float32, int) ([]Passage, error) {
		searchCalls++
		return nil, nil
	}}

	_, err := NewRetriever(e, store, 5).Retrieve(context.Background(), "q")
	var re *RetrievalError
	if !errors.As(err, &re) || re.Stage != StageEmbed {
		t.Fatalf("err = %v, want RetrievalError at embed", err)
	}
	if searchCalls != 0 {
		t.Errorf("search called %d times after embed failure", searchCalls)
	}
}

func TestRetrieve_SearchFailure(t *testing.T) {
	store := &mockVectorStore{searchFn: func(context.Context, []float32, int) ([]Passage, error) {
		return nil, errors.New("qdrant search: unexpected status 500")
	}}

	_, err := NewRetriever(fixedEmbedder(), store, 5).Retrieve(context.Background(), "q")
	var re *RetrievalError
	if !errors.As(err, &re) || re.Stage != StageSearch {
		t.Fatalf("err = %v, want RetrievalError at search", err)
	}
}

func TestRetrieve_NoPassagesIsError(t *testing.T) {
	for _, passages := range [][]Passage{nil, {{Text: ""}, {Text: "  "}}} {
		store := &mockVectorStore{searchFn: func(context.Context, []float32, int) ([]Passage, error) {
			return passages, nil
		}}
		_, err := NewRetriever(fixedEmbedder(), store, 5).Retrieve(context.Background(), "q")
		var re *RetrievalError
		if !errors.As(err, &re) || re.Stage != StageSearch || re.Err != nil {
			t.Errorf("passages %v: err = %v, want empty search RetrievalError", passages, err)
		}
	}
}

func TestRetrieve_EmbedTimeout(t *testing.T) {
	e := &mockEmbedder{embedFn: func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := NewRetriever(e, &mockVectorStore{}, 5)
	r.EmbedTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := r.Retrieve(context.Background(), "q")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("embed timeout not applied")
	}
}
