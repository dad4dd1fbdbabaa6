package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/ui"
	"thoreinstein.com/fel/pkg/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status [stack...]",
	Short: "Show stacks with their pull requests and mergeability",
	Long: `Show each stack from tip to upstream with the pull request of every
entry and whether it can be merged now. Nothing is pushed or changed.

Examples:
  fel status
  fel status feature other -o yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return felerrors.NewConfigErrorWithCause("", "failed to load configuration", err)
		}

		ctx := cmd.Context()
		s, err := openSession(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer s.Close()

		return runStatus(ctx, cmd.OutOrStdout(), s, args)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context, out io.Writer, s *session, args []string) error {
	stacks, err := s.stacks(ctx, args)
	if err != nil {
		return err
	}
	g, err := s.graph(ctx, stacks)
	if err != nil {
		return err
	}

	report, err := workflow.CollectStatus(ctx, g, s.github, s.cfg.RetryPolicy(), s.logger)
	if err != nil {
		return err
	}
	return ui.RenderStatus(out, outputFormat(), report)
}
