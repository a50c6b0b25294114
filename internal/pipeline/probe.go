package pipeline

import (
	"context"
	"time"

	"github.com/kalambet/campusdesk/internal/composer"
	"github.com/kalambet/campusdesk/internal/llm"
	"github.com/kalambet/campusdesk/internal/retrieval"
	"golang.org/x/sync/errgroup"
)

// ProbeDimension is the size of the dummy vector sent to the vector store.
const ProbeDimension = 384

// Connectivity reports which external services answered a probe.
type Connectivity struct {
	Primary      bool `json:"primary"`
	Fallback     bool `json:"fallback"`
	Embedder     bool `json:"embedder"`
	VectorSearch bool `json:"vector_search"`
}

// AnyModel reports whether at least one answer model is reachable.
func (c Connectivity) AnyModel() bool { return c.Primary || c.Fallback }

// Prober checks each dependency concurrently.
type Prober struct {
	Primary  PrimaryModel
	Fallback FallbackModel
	Embedder retrieval.Embedder
	Store    retrieval.VectorStore
	Timeout  time.Duration
}

// Probe runs all checks in parallel. A model counts as reachable when it
// answered at HTTP level, even with an empty or blocked reply.
func (p Prober) Probe(ctx context.Context) Connectivity {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var c Connectivity
	var g errgroup.Group

	if p.Primary != nil && p.Primary.Available() {
		g.Go(func() error {
			_, err := p.Primary.Generate(ctx, []composer.Message{{Role: composer.RoleUser, Text: "test"}}, 0)
			c.Primary = reachable(err)
			return nil
		})
	}
	if p.Fallback != nil {
		g.Go(func() error {
			_, err := p.Fallback.Generate(ctx, "test", 0)
			c.Fallback = reachable(err)
			return nil
		})
	}
	if p.Embedder != nil {
		g.Go(func() error {
			_, err := p.Embedder.Embed(ctx, "test")
			c.Embedder = err == nil
			return nil
		})
	}
	if p.Store != nil {
		g.Go(func() error {
			vec := make([]float32, ProbeDimension)
			for i := range vec {
				vec[i] = 0.1
			}
			_, err := p.Store.Search(ctx, vec, 1)
			c.VectorSearch = err == nil
			return nil
		})
	}
	g.Wait()
	return c
}

func reachable(err error) bool {
	switch llm.Classify(err) {
	case llm.ReasonOK, llm.ReasonEmpty, llm.ReasonBlocked:
		return true
	}
	return false
}
