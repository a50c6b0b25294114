package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/campusdesk/internal/composer"
	"github.com/kalambet/campusdesk/internal/llm"
	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/ollama"
)

// MaintenanceMessage is answered when neither model produced text.
const MaintenanceMessage = "Chatbot under maintenance"

// Tier names.
const (
	TierPrimary  = "primary"
	TierFallback = "fallback"
)

// PrimaryModel answers from role-tagged history.
type PrimaryModel interface {
	Available() bool
	Generate(ctx context.Context, msgs []composer.Message, temperature float64) (string, error)
}

// FallbackModel answers from a single flattened prompt.
type FallbackModel interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// OllamaFallback binds an Ollama client to one model.
type OllamaFallback struct {
	Client *ollama.Client
	Model  string
}

func (o OllamaFallback) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return o.Client.Generate(ctx, o.Model, prompt, temperature)
}

// AIConfig holds generation settings read on every call.
type AIConfig struct {
	Temperature float64
}

// AISettings is a concurrency-safe holder for AIConfig.
type AISettings struct {
	mu  sync.RWMutex
	cfg AIConfig
}

func NewAISettings(cfg AIConfig) *AISettings {
	return &AISettings{cfg: cfg}
}

func (s *AISettings) Get() AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *AISettings) Set(cfg AIConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// TierResult records one model attempt. Err is nil when Reason is ok or
// unavailable.
type TierResult struct {
	Tier     string
	Reason   llm.Reason
	Text     string
	Err      error
	Duration time.Duration
}

// OK reports whether the tier produced an answer.
func (r TierResult) OK() bool { return r.Reason == llm.ReasonOK }

// Answer is the generator's verdict: Text is never empty.
type Answer struct {
	Text  string
	Tiers []TierResult
}

// Generator tries the primary model, then the fallback, never both in parallel.
type Generator struct {
	primary  PrimaryModel
	fallback FallbackModel
	composer *composer.Composer
	settings *AISettings
	metrics  *observability.Metrics

	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
}

// NewGenerator wires the two tiers. primary may be nil to run fallback-only.
func NewGenerator(primary PrimaryModel, fallback FallbackModel, comp *composer.Composer, settings *AISettings, metrics *observability.Metrics) *Generator {
	if comp == nil {
		comp = composer.New("")
	}
	if settings == nil {
		settings = NewAISettings(AIConfig{Temperature: 0.5})
	}
	return &Generator{
		primary:  primary,
		fallback: fallback,
		composer: comp,
		settings: settings,
		metrics:  metrics,
	}
}

// Answer produces a reply to question given retrieved context and recent
// history. The primary tier is skipped without a usable key; any primary
// failure falls through to exactly one fallback attempt; a fallback failure
// yields MaintenanceMessage.
func (g *Generator) Answer(ctx context.Context, question, kbContext string, history []memory.Turn) Answer {
	temp := g.settings.Get().Temperature
	var ans Answer

	primary := g.tryPrimary(ctx, question, kbContext, history, temp)
	ans.Tiers = append(ans.Tiers, primary)
	if primary.OK() {
		ans.Text = primary.Text
		return ans
	}

	fallback := g.tryFallback(ctx, question, kbContext, history, temp)
	ans.Tiers = append(ans.Tiers, fallback)
	if fallback.OK() {
		ans.Text = fallback.Text
		return ans
	}
	ans.Text = MaintenanceMessage
	return ans
}

func (g *Generator) tryPrimary(ctx context.Context, question, kbContext string, history []memory.Turn, temp float64) TierResult {
	res := TierResult{Tier: TierPrimary}
	if g.primary == nil || !g.primary.Available() {
		res.Reason = llm.ReasonUnavailable
		g.metrics.ObserveTier(TierPrimary, string(res.Reason))
		return res
	}

	ctx, cancel := withTimeout(ctx, g.PrimaryTimeout)
	defer cancel()

	start := time.Now()
	text, err := g.primary.Generate(ctx, g.composer.PrimaryMessages(question, kbContext, history), temp)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmpty
	}
	res.Duration = time.Since(start)
	res.Text, res.Err, res.Reason = text, err, llm.Classify(err)
	if err != nil {
		slog.Warn("primary model failed, falling back", "reason", res.Reason, "error", err)
	}
	g.metrics.ObserveTier(TierPrimary, string(res.Reason))
	return res
}

func (g *Generator) tryFallback(ctx context.Context, question, kbContext string, history []memory.Turn, temp float64) TierResult {
	res := TierResult{Tier: TierFallback}
	if g.fallback == nil {
		res.Reason = llm.ReasonUnavailable
		g.metrics.ObserveTier(TierFallback, string(res.Reason))
		return res
	}

	ctx, cancel := withTimeout(ctx, g.FallbackTimeout)
	defer cancel()

	start := time.Now()
	text, err := g.fallback.Generate(ctx, g.composer.FallbackPrompt(question, kbContext, history), temp)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmpty
	}
	res.Duration = time.Since(start)
	res.Text, res.Err, res.Reason = text, err, llm.Classify(err)
	if err != nil {
		slog.Error("fallback model failed", "reason", res.Reason, "error", err)
	}
	g.metrics.ObserveTier(TierFallback, string(res.Reason))
	return res
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
