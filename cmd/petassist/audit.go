package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"petassist/internal/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the turn audit log",
	}

	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAudit()
			if err != nil {
				return err
			}
			defer st.Close()

			turns, err := st.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCHANNEL\tCHAT\tLABEL\tBRANCH\tPRODUCT\tLATENCY\tERROR")
			for _, t := range turns {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
					t.At.Local().Format(time.DateTime), t.Channel, t.ChatID, t.Label, t.Branch,
					t.ProductID, t.LatencyMs, t.Error)
			}
			return tw.Flush()
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of turns to show")

	var since time.Duration
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count turns per intent label",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAudit()
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.CountByLabel(context.Background(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			labels := make([]string, 0, len(counts))
			for l := range counts {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			for _, l := range labels {
				name := l
				if name == "" {
					name = "(failed)"
				}
				fmt.Printf("%-16s %d\n", name, counts[l])
			}
			return nil
		},
	}
	stats.Flags().DurationVar(&since, "since", 24*time.Hour, "look-back window")

	cmd.AddCommand(tail, stats)
	return cmd
}

func openAudit() (*audit.Store, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	if !cfg.Audit.Enabled {
		logger.Warn("audit is disabled in config; showing whatever was recorded before")
	}
	return audit.Open(cfg.Audit.DBPath, logger)
}
