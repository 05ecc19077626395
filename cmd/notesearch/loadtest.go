package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/loadtest"
)

func (a *app) loadtestCmd() *cobra.Command {
	cfg := loadtest.Config{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive a running server with searches and ingests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.WriteRatio < 0 || cfg.WriteRatio > 1 {
				return errors.New("--write-ratio must be between 0 and 1")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target %s, %d workers for %s\n\n", cfg.BaseURL, cfg.Concurrency, cfg.Duration)
			report, err := loadtest.Run(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			report.Print(out)
			if report.Total() == 0 {
				return errors.New("no requests completed; is the server running?")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the server")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 10, "concurrent workers")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	cmd.Flags().Float64Var(&cfg.WriteRatio, "write-ratio", 0.1, "fraction of requests that ingest")
	cmd.Flags().StringSliceVar(&cfg.Queries, "query", nil, "queries to issue (repeatable)")
	return cmd
}
