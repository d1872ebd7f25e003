package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"petassist/internal/catalog"
	"petassist/internal/commerce"
	"petassist/internal/config"
	"petassist/internal/provider"
)

// doctorReport tallies check results.
type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, providers, the store and the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("petassist doctor v%s\n\n", version)
			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'petassist init' to create a default configuration.\n")
				return fmt.Errorf("config missing")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			cat, err := catalog.Load(cfg.Catalog.Path)
			switch {
			case err != nil:
				r.fail("Catalog", err.Error())
			case cat.Len() == 0:
				r.warn("Catalog", "no products; product search will find nothing")
			default:
				src := cfg.Catalog.Path
				if src == "" {
					src = "built-in"
				}
				r.pass("Catalog", fmt.Sprintf("%d products (%s)", cat.Len(), src))
			}

			factory := provider.NewFactory(cfg, logger)
			enabled := 0
			for _, name := range factory.Names() {
				if !cfg.Providers[name].Enabled {
					continue
				}
				enabled++
				p, err := factory.Get(ctx, name)
				if err != nil {
					r.fail("Provider: "+name, err.Error())
					continue
				}
				if err := p.Healthy(ctx); err != nil {
					r.warn("Provider: "+name, "unhealthy: "+err.Error())
					continue
				}
				r.pass("Provider: "+name, "healthy")
			}
			if enabled == 0 {
				r.fail("Providers", "no providers enabled")
			}

			store := commerce.New(commerce.Config{
				BaseURL: cfg.Commerce.BaseURL,
				Timeout: time.Duration(cfg.Commerce.TimeoutSeconds) * time.Second,
				Logger:  logger,
			})
			if err := store.Healthy(ctx); err != nil {
				r.warn("Store", err.Error())
			} else {
				r.pass("Store", cfg.Commerce.BaseURL)
			}

			if cfg.Audit.Enabled {
				if err := checkDatabase(ctx, cfg.Audit.DBPath); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					r.pass("Audit database", cfg.Audit.DBPath)
				}
			}

			if wh := cfg.Channels.Webhook; wh.Enabled {
				addr := net.JoinHostPort(wh.Host, strconv.Itoa(wh.Port))
				if err := checkPort(addr); err != nil {
					r.warn("Webhook port", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("Webhook port", addr+" available")
				}
			}
			if tg := cfg.Channels.Telegram; tg.Enabled && len(tg.AllowFrom) == 0 {
				r.warn("Telegram", "allowFrom is empty; anyone can talk to the bot")
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func checkDatabase(ctx context.Context, dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
