package intent

import (
	"context"
	"log/slog"
	"strings"

	"petassist/internal/catalog"
	"petassist/internal/domain"
)

// Completer implements domain.CompletionClient.
type Completer struct {
	provider    domain.Provider
	catalog     *catalog.Catalog
	prompt      *PromptBuilder
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewCompleter(cfg Config) *Completer {
	cfg.applyDefaults()
	return &Completer{
		provider:    cfg.Provider,
		catalog:     cfg.Catalog,
		prompt:      NewPromptBuilder(cfg.Catalog),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Complete produces a reply for text under label. For product searches the
// returned ids are limited to the catalog; a model reply that is not JSON is
// used verbatim with no product ids.
func (c *Completer) Complete(ctx context.Context, text string, label domain.Label) (domain.ClassificationResult, error) {
	resp, err := chat(ctx, c.provider, "complete", domain.ChatRequest{
		Messages:    messages(c.prompt.Complete(label), text),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSONOutput:  true,
	})
	if err != nil {
		return domain.ClassificationResult{}, err
	}

	result := domain.ClassificationResult{Label: label}
	env, ok := parseEnvelope(resp.Content)
	if !ok {
		result.Response = strings.TrimSpace(stripRolePrefix(resp.Content))
		return result, nil
	}

	result.Response = strings.TrimSpace(env.Response)
	if label == domain.LabelSearchProducts {
		result.ProductIDs = c.catalog.Known(env.ProductIDs)
		if dropped := len(env.ProductIDs) - len(result.ProductIDs); dropped > 0 {
			c.logger.Debug("dropped product ids not in catalog", "dropped", dropped)
		}
	}
	return result, nil
}
