package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"petassist/internal/config"
	"petassist/internal/domain"
)

// ProviderConstructor builds a provider from its config entry.
type ProviderConstructor func(ctx context.Context, name string, pc config.ProviderConfig, retries int, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds or replaces the constructor for a provider mode.
func (f *Factory) RegisterConstructor(mode string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[mode] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(_ context.Context, _ string, pc config.ProviderConfig, retries int, logger *slog.Logger) (domain.Provider, error) {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Retries: retries, Logger: logger}), nil
	}
	f.constructors["openai"] = func(_ context.Context, name string, pc config.ProviderConfig, retries int, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Retries: retries, Logger: logger}), nil
	}
	f.constructors["azure"] = func(_ context.Context, name string, pc config.ProviderConfig, retries int, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{
			Name:       name,
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			Deployment: pc.Deployment,
			APIVersion: pc.APIVersion,
			Retries:    retries,
			Logger:     logger,
		}), nil
	}
	f.constructors["gemini"] = func(ctx context.Context, _ string, pc config.ProviderConfig, _ int, logger *slog.Logger) (domain.Provider, error) {
		return NewGemini(ctx, GeminiConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// Get returns the provider with the given name, or the default if name is
// empty. Instances are cached.
func (f *Factory) Get(ctx context.Context, name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	mode := pc.ModeOrName(name)
	ctor, found := f.constructors[mode]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor for mode %q", name, mode)
	}
	p, err := ctor(ctx, name, pc, f.cfg.General.ProviderRetries, f.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	f.cache[name] = p
	return p, nil
}

// ForRole resolves the provider for one collaborator. An explicit name wins;
// otherwise a configured failover chain is used, then the default provider.
func (f *Factory) ForRole(ctx context.Context, name string) (domain.Provider, error) {
	if name != "" || len(f.cfg.General.FailoverChain) == 0 {
		return f.Get(ctx, name)
	}

	var chain []domain.Provider
	for _, n := range f.cfg.General.FailoverChain {
		p, err := f.Get(ctx, n)
		if err != nil {
			f.logger.Warn("skipping provider in failover chain", "provider", n, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain")
	case 1:
		return chain[0], nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// Names lists configured providers in a stable order.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
