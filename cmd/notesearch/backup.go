package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/backup"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
)

func (a *app) backupCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export every document version to a file or to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if out == "" && a.cfg.Backup.Bucket == "" {
				return errors.New("either --out or backup.bucket must be set")
			}
			engine, err := a.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			if out != "" {
				n, err := backup.ToFile(ctx, engine.Store(), out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d versions to %s\n", n, out)
				return nil
			}

			dst, err := backup.NewS3(ctx, a.cfg.Backup)
			if err != nil {
				return err
			}
			key, n, err := dst.Upload(ctx, engine.Store(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d versions to s3://%s/%s\n", n, a.cfg.Backup.Bucket, key)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the export to this file instead of S3")
	return cmd
}

func (a *app) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Load an export into an empty store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			backend, err := indexer.OpenBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			errNotEmpty := fmt.Errorf("refusing to restore into a non-empty %s store", a.cfg.Store.Backend)
			if err := backend.Replay(ctx, func(store.Record) error { return errNotEmpty }); err != nil {
				return err
			}
			n, err := backup.Restore(ctx, f, backend)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d versions\n", n)
			return nil
		},
	}
}
