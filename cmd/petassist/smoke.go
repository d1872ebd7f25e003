package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"petassist/internal/browser"
)

func smokeCmd() *cobra.Command {
	var url, proxy string
	var headful bool
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Add a toy to the cart through the store front end in Chrome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			sc := cfg.Smoke
			if url != "" {
				sc.URL = url
			}
			if proxy != "" {
				sc.ProxyServer = proxy
			}
			if headful {
				sc.Headless = false
			}

			check, err := browser.NewCartCheck(browser.CartCheckConfig{
				URL:            sc.URL,
				ProxyServer:    sc.ProxyServer,
				Headless:       sc.Headless,
				ExpectedBreeds: sc.ExpectedBreeds,
				Breed:          sc.Breed,
				Timeout:        time.Duration(sc.TimeoutSeconds) * time.Second,
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			report, runErr := check.Run(context.Background())
			for _, s := range report.Steps {
				status := "PASS"
				if s.Err != nil {
					status = "FAIL"
				}
				fmt.Printf("  [%s] %-24s %s\n", status, s.Name, s.Duration.Round(time.Millisecond))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "store URL (overrides smoke.url)")
	cmd.Flags().StringVar(&proxy, "proxy", "", "proxy server, e.g. socks5://127.0.0.1:4444")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	return cmd
}
