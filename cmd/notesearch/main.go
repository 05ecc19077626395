// Command notesearch runs the notes search API and offers offline commands
// against the configured document store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := a.rootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notesearch",
		Short:         "Full-text search over versioned notes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			a.cfg = cfg
			logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(
		a.serveCmd(),
		a.ingestCmd(),
		a.searchCmd(),
		a.getCmd(),
		a.deleteCmd(),
		a.historyCmd(),
		a.statsCmd(),
		a.backupCmd(),
		a.restoreCmd(),
		a.loadtestCmd(),
	)
	return root
}

// openEngine opens the configured backend and rebuilds the index. m may be
// nil.
func (a *app) openEngine(ctx context.Context, m *metrics.Metrics) (*indexer.Engine, error) {
	backend, err := indexer.OpenBackend(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", a.cfg.Store.Backend, err)
	}
	engine, err := indexer.Open(ctx, a.cfg.Index, backend, m)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return engine, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
