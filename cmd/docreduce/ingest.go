package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Extract, chunk and index every document under a directory",
		Long: `Extracts every supported file under dir, saves extracted text and chunk
JSON to the output directory, then embeds all chunks into a new vector index.
Files that cannot be extracted are logged and skipped. An existing index is
left untouched; use add to extend it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, "ingest", func(ctx context.Context, a *app) error {
				report, err := a.orch.IngestDir(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Files: %d (%d skipped)\n", len(report.Files), report.Failed())
				cmd.Printf("Chunks: %d\n", report.Chunks)
				if report.IndexSkipped {
					cmd.Println("Vector database already exists; skipped creation.")
					return nil
				}
				cmd.Printf("Indexed: %d (%d failed to embed)\n", report.Indexed, report.EmbedFailed)
				return nil
			})
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Add one document to an existing index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, "add", func(ctx context.Context, a *app) error {
				report, err := a.orch.AddDocument(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Added %s (%d chunks)\n", report.Path, report.Chunks)
				return nil
			})
		},
	}
}
