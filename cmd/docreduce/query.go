package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dgallion1/docreduce/internal/tui"
)

func newQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query",
		Short: "Ask questions about indexed documents interactively",
		Long:  "Opens an interactive session over the vector index. Type exit or quit to leave.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, "query", func(ctx context.Context, a *app) error {
				// Fail before taking over the terminal when there is no index.
				if _, err := a.orch.Retriever(ctx); err != nil {
					return err
				}
				_, err := tea.NewProgram(tui.New(ctx, a.orch), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			})
		},
	}
}
