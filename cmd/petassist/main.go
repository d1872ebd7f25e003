package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"petassist/internal/channel"
	"petassist/internal/config"
	"petassist/internal/domain"
	"petassist/internal/metrics"
	"petassist/internal/provider"
)

var (
	version    = "0.1.0"
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	configPath string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "petassist",
		Short:         "Pet store chat assistant",
		Long:          "petassist answers shoppers over the CLI, Telegram and a Bot Framework style webhook.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.petassist/config.json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(smokeCmd())

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the gateway as a system service"}
	daemon.AddCommand(installDaemonCmd(), uninstallDaemonCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist and lenient is set.
func loadConfig(lenient bool) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if lenient && errors.Is(err, os.ErrNotExist) {
		logger.Warn("config not found, using defaults", "path", cfgPath)
		return config.Defaults(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// useConfigLogger swaps the package logger for one built from cfg.
func useConfigLogger(cfg *config.Config) (func(), error) {
	l, closeFn, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger = l
	return closeFn, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func chatCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long:  "Starts an interactive session. With --message, answers one message and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			// Keep the REPL readable unless debugging.
			if cfg.General.LogLevel == "" || cfg.General.LogLevel == "info" {
				cfg.General.LogLevel = "warn"
			}
			closeLog, err := useConfigLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if message != "" {
				reply, err := a.loop.ProcessDirect(ctx, message, "cli", "direct")
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			}

			loopCtx, cancelLoop := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				a.loop.Run(loopCtx)
				close(done)
			}()
			defer func() {
				cancelLoop()
				<-done
			}()

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger, User: cfg.Channels.CLI.User})
			return cli.Start(ctx, a.bus)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "answer a single message and exit")
	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (Telegram + webhook + assistant loop)",
		Long:  "Starts every enabled network channel and the assistant loop. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	closeLog, err := useConfigLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	tg, wh := cfg.Channels.Telegram, cfg.Channels.Webhook
	if !tg.Enabled && !wh.Enabled {
		return fmt.Errorf("no network channel enabled (channels.telegram or channels.webhook)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.commerce.Healthy(ctx); err != nil {
		logger.Warn("store unreachable at startup", "url", cfg.Commerce.BaseURL, "err", err)
	}

	loopDone := make(chan struct{})
	go func() {
		a.loop.Run(ctx)
		close(loopDone)
	}()

	var channels []domain.Channel
	if tg.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     tg.Token,
			AllowFrom: tg.AllowFrom,
			ParseMode: tg.ParseMode,
			Logger:    logger.With("channel", "telegram"),
		}))
	}
	if wh.Enabled {
		whCfg := channel.WebhookConfig{
			Host:         wh.Host,
			Port:         wh.Port,
			Path:         wh.Path,
			Secret:       wh.Secret,
			ServiceToken: wh.ServiceToken,
			ReplyTimeout: time.Duration(wh.ReplyTimeoutSeconds) * time.Second,
			Logger:       logger.With("channel", "webhook"),
		}
		if cfg.Metrics.Enabled {
			whCfg.Metrics = metrics.Collector.Handler()
			whCfg.MetricsPath = cfg.Metrics.Path
		}
		channels = append(channels, channel.NewWebhook(whCfg))
	}

	errCh := make(chan error, len(channels))
	for _, ch := range channels {
		go func(ch domain.Channel) {
			if err := ch.Start(ctx, a.bus); err != nil {
				errCh <- fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("channel failed, shutting down", "err", runErr)
		stop()
	}

	logger.Info("shutting down gateway...")
	const shutdownTimeout = 10 * time.Second
	select {
	case <-loopDone:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}
	for _, ch := range channels {
		_ = ch.Stop()
	}
	return runErr
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider and store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			factory := provider.NewFactory(cfg, logger)
			for _, name := range factory.Names() {
				p, err := factory.Get(ctx, name)
				if err != nil {
					logger.Info("provider", "name", name, "available", false, "reason", err)
					continue
				}
				herr := p.Healthy(ctx)
				logger.Info("provider", "name", name, "default", name == cfg.General.DefaultProvider,
					"healthy", herr == nil, "err", herr)
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			herr := a.commerce.Healthy(ctx)
			logger.Info("store", "url", cfg.Commerce.BaseURL, "healthy", herr == nil, "err", herr)
			logger.Info("catalog", "products", a.catalog.Len())
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. assistant.diagnostics false)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
