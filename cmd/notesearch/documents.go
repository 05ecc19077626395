package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
)

func (a *app) ingestCmd() *cobra.Command {
	var req ingestion.IngestRequest
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a note from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				content []byte
				err     error
			)
			if len(args) == 1 && args[0] != "-" {
				content, err = os.ReadFile(args[0])
			} else {
				content, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}
			req.Content = string(content)

			engine, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			p := pipeline.New(engine.Store(), engine.Index(), engine.Tokenizer(), nil, a.cfg.Ingest, nil)
			resp, err := p.Ingest(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "document id (generated when empty)")
	cmd.Flags().StringVar(&req.Format, "format", "", "content format: text or markdown")
	cmd.Flags().BoolVar(&req.CreateOnly, "create-only", false, "fail if the id already exists")
	cmd.Flags().StringToStringVarP(&req.Metadata, "meta", "m", nil, "metadata key=value pairs")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a query against the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			exec := executor.New(engine.Index(), parser.New(engine.Tokenizer()), a.cfg.Search)
			result, err := exec.Search(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (0 selects the configured default)")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			doc, err := engine.Store().Get(args[0], version)
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version to read (0 for latest)")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document, keeping its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			p := pipeline.New(engine.Store(), engine.Index(), engine.Tokenizer(), nil, a.cfg.Ingest, nil)
			deleted, err := p.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("document %q not found", args[0])
			}
			return printJSON(cmd, ingestion.DeleteResponse{DocumentID: args[0], Deleted: true})
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List every version of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			versions, err := engine.Store().History(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, versions)
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index and store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()
			return printJSON(cmd, engine.Stats())
		},
	}
}
