// Package intent implements the classification and completion collaborators
// on top of an LLM provider.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"petassist/internal/catalog"
	"petassist/internal/domain"
	"petassist/internal/metrics"
)

const (
	defaultMaxTokens   = 512
	defaultTemperature = 0.2
)

type Config struct {
	Provider    domain.Provider
	Catalog     *catalog.Catalog
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Catalog == nil {
		cfg.Catalog, _ = catalog.New(nil)
	}
}

// Classifier implements domain.IntentClassifier.
type Classifier struct {
	provider    domain.Provider
	prompt      *PromptBuilder
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewClassifier(cfg Config) *Classifier {
	cfg.applyDefaults()
	return &Classifier{
		provider:    cfg.Provider,
		prompt:      NewPromptBuilder(cfg.Catalog),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Classify asks the model for a label. A reply that is neither a JSON envelope
// nor a bare label, or that names an unknown label, is an ErrUnknownLabel error.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	resp, err := chat(ctx, c.provider, "classify", domain.ChatRequest{
		Messages:    messages(c.prompt.Classify(), text),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSONOutput:  true,
	})
	if err != nil {
		return domain.ClassificationResult{}, err
	}

	raw := resp.Content
	env, ok := parseEnvelope(raw)
	name := env.Classification
	if !ok {
		name = firstWord(raw)
	}
	label, err := domain.ParseLabel(name)
	if err != nil {
		c.logger.Warn("classifier returned unusable label", "provider", c.provider.Name(), "content", truncate(raw, 200))
		return domain.ClassificationResult{}, err
	}

	return domain.ClassificationResult{
		Label:    label,
		Response: strings.TrimSpace(env.Response),
	}, nil
}

// chat runs one provider call and records request metrics.
func chat(ctx context.Context, p domain.Provider, kind string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	metrics.Collector.Counter("petassist_llm_requests_total", "LLM requests by purpose", `kind="`+kind+`"`).Inc()
	resp, err := p.Chat(ctx, req)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMErrorsTotal.Inc()
		return nil, fmt.Errorf("%s %s: %w", p.Name(), kind, err)
	}
	return resp, nil
}

func firstWord(s string) string {
	fields := strings.Fields(strings.Trim(strings.TrimSpace(s), "`\"'."))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "`\"'.:,")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
