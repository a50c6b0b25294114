// Package pipeline answers visitor questions: retrieve knowledge-base context,
// ask the primary model, fall back to the local model.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/retrieval"
)

// KnowledgeBaseUnavailableMessage is answered when context retrieval fails.
const KnowledgeBaseUnavailableMessage = "I'm having trouble accessing my local knowledge base. Please ensure the vectorizer and Qdrant servers are running correctly."

// State is a step of one question's lifecycle.
type State string

const (
	StateStart           State = "START"
	StateRetrieving      State = "RETRIEVING"
	StateRetrievalFailed State = "RETRIEVAL_FAILED"
	StateContextReady    State = "CONTEXT_READY"
	StatePrimaryAttempt  State = "PRIMARY_ATTEMPT"
	StatePrimaryOK       State = "PRIMARY_OK"
	StateFallbackAttempt State = "FALLBACK_ATTEMPT"
	StateFallbackOK      State = "FALLBACK_OK"
	StateFallbackFailed  State = "FALLBACK_FAILED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateRetrievalFailed, StatePrimaryOK, StateFallbackOK, StateFallbackFailed:
		return true
	}
	return false
}

// Retriever produces the context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Outcome describes how one question was answered.
type Outcome struct {
	Text     string
	Final    State
	Trace    []State
	Tiers    []TierResult
	Duration time.Duration
}

// Pipeline runs retrieve then generate, strictly in sequence.
type Pipeline struct {
	retriever Retriever
	generator *Generator
	metrics   *observability.Metrics
}

func New(r Retriever, g *Generator, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{retriever: r, generator: g, metrics: metrics}
}

// Ask answers question with the given history. It always returns text.
func (p *Pipeline) Ask(ctx context.Context, question string, history []memory.Turn) Outcome {
	start := time.Now()
	out := Outcome{Trace: []State{StateStart, StateRetrieving}}
	defer func() {
		out.Duration = time.Since(start)
		p.metrics.ObserveAnswer(string(out.Final), out.Duration)
	}()

	kbContext, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		stage := "unknown"
		var re *retrieval.RetrievalError
		if errors.As(err, &re) {
			stage = re.Stage
		}
		slog.Error("knowledge base retrieval failed", "stage", stage, "error", err)
		p.metrics.ObserveRetrievalFailure(stage)
		out.finish(StateRetrievalFailed)
		out.Text = KnowledgeBaseUnavailableMessage
		return out
	}
	out.Trace = append(out.Trace, StateContextReady)

	ans := p.generator.Answer(ctx, question, kbContext, history)
	out.Tiers = ans.Tiers
	out.Text = ans.Text
	for _, tr := range ans.Tiers {
		switch tr.Tier {
		case TierPrimary:
			if tr.Err == nil && !tr.OK() {
				// Skipped: no usable key.
				continue
			}
			out.Trace = append(out.Trace, StatePrimaryAttempt)
			if tr.OK() {
				out.finish(StatePrimaryOK)
				return out
			}
		case TierFallback:
			out.Trace = append(out.Trace, StateFallbackAttempt)
			if tr.OK() {
				out.finish(StateFallbackOK)
			} else {
				out.finish(StateFallbackFailed)
			}
		}
	}
	return out
}

func (o *Outcome) finish(s State) {
	o.Final = s
	o.Trace = append(o.Trace, s)
}

// Conversation is a turn log the pipeline reads history from and records to.
// *memory.Memory satisfies it.
type Conversation interface {
	Append(sender memory.Sender, message string) memory.Turn
	Recent() []memory.Turn
}

// Respond records question in conv, answers it with conv's recent history
// (which then includes the question itself), and records the answer.
func (p *Pipeline) Respond(ctx context.Context, conv Conversation, question string) Outcome {
	conv.Append(memory.User, question)
	out := p.Ask(ctx, question, conv.Recent())
	conv.Append(memory.System, out.Text)
	return out
}
