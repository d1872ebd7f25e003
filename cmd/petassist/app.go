package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"petassist/internal/audit"
	"petassist/internal/bot"
	"petassist/internal/bus"
	"petassist/internal/catalog"
	"petassist/internal/commerce"
	"petassist/internal/config"
	"petassist/internal/dispatch"
	"petassist/internal/intent"
	"petassist/internal/provider"
)

// app is the wired assistant shared by chat and gateway.
type app struct {
	cfg      *config.Config
	bus      *bus.InMemoryBus
	events   *bus.EventBus
	loop     *bot.Loop
	catalog  *catalog.Catalog
	commerce *commerce.Client
	audit    *audit.Store
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	factory := provider.NewFactory(cfg, logger)
	classifierProv, err := factory.ForRole(ctx, cfg.Assistant.ClassifierProvider)
	if err != nil {
		return nil, fmt.Errorf("classifier provider: %w", err)
	}
	completionProv, err := factory.ForRole(ctx, cfg.Assistant.CompletionProvider)
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}

	store := commerce.New(commerce.Config{
		BaseURL: cfg.Commerce.BaseURL,
		Timeout: time.Duration(cfg.Commerce.TimeoutSeconds) * time.Second,
		Catalog: cat,
		Logger:  logger.With("component", "commerce"),
	})

	dispatcher := dispatch.New(dispatch.Config{
		Classifier: intent.NewClassifier(intent.Config{
			Provider:    classifierProv,
			Catalog:     cat,
			MaxTokens:   cfg.Assistant.MaxTokens,
			Temperature: cfg.Assistant.Temperature,
			Logger:      logger.With("component", "classifier"),
		}),
		Completer: intent.NewCompleter(intent.Config{
			Provider:    completionProv,
			Catalog:     cat,
			MaxTokens:   cfg.Assistant.MaxTokens,
			Temperature: cfg.Assistant.Temperature,
			Logger:      logger.With("component", "completer"),
		}),
		Commerce: store,
		Logger:   logger.With("component", "dispatch"),
	})

	a := &app{
		cfg:      cfg,
		bus:      bus.New(100, logger),
		events:   bus.NewEventBus(logger),
		catalog:  cat,
		commerce: store,
	}
	a.closers = append(a.closers, a.bus.Close)

	if cfg.Audit.Enabled {
		st, err := audit.Open(cfg.Audit.DBPath, logger.With("component", "audit"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.audit = st
		unsubscribe := st.Subscribe(a.events)
		a.closers = append(a.closers, unsubscribe, func() { st.Close() })
	}

	var diagnostics *dispatch.Diagnostics
	if cfg.Assistant.Diagnostics {
		diagnostics = dispatch.NewDiagnostics(logger.With("component", "diagnostics"))
	}

	a.loop = bot.NewLoop(bot.LoopConfig{
		Bus:           a.bus,
		Events:        a.events,
		Dispatcher:    dispatcher,
		Greeter:       dispatch.NewGreeter(cfg.Assistant.Greeting),
		Diagnostics:   diagnostics,
		Logger:        logger,
		Concurrency:   cfg.General.MaxConcurrentMessages,
		RateBurst:     cfg.General.RateBurst,
		RatePerMinute: float64(cfg.General.RateLimitPerMinute),
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newLogger builds the process logger from config. A log file, when set,
// receives a copy of everything written to stderr.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.General.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	w := stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(stderr, f)
		closeFn = func() { f.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
