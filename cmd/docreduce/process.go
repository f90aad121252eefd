package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docreduce/internal/pipeline"
)

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var p pipeline.ProcessOptions
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Translate and/or summarize a single document",
		Long: `Extracts one document, truncates it to --max-chars characters and runs the
requested steps. When both are set the translation is summarized. Results are
written under the output directory's translated/ and summaries/ folders.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !p.Translate && !p.Summarize {
				return errors.New("nothing to do: pass --translate and/or --summarize")
			}
			return run(cmd, opts, "process", func(ctx context.Context, a *app) error {
				res, err := a.orch.ProcessFile(ctx, args[0], p)
				if err != nil {
					return err
				}
				if t := res.Translation; t != nil {
					cmd.Printf("Translation (%s):\n%s\n\n", t.Path, t.Text)
					if t.Degraded {
						cmd.Printf("Warning: %d unit(s) failed to translate\n\n", t.Failures)
					}
				}
				if s := res.Summary; s != nil {
					cmd.Printf("Summary (%s):\n%s\n", s.Path, s.Text)
					if s.Degraded {
						cmd.Printf("Warning: summary is degraded: %s\n", s.Reason)
					}
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&p.Translate, "translate", false, "translate the document")
	f.StringVar(&p.TargetLang, "target-lang", "en", "translation target language (en or ar)")
	f.BoolVar(&p.Summarize, "summarize", false, "summarize the document")
	f.StringVar(&p.Strategy, "strategy", "abstractive", "summary strategy (abstractive or extractive)")
	f.IntVar(&p.MaxChars, "max-chars", 5000, "maximum characters of input to process")
	return cmd
}
