package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/ui"
	"thoreinstein.com/fel/pkg/workflow"
)

// SubmitFlags are command-line overrides of the submit configuration.
type SubmitFlags struct {
	Draft        bool
	Reviewers    []string
	BranchNaming string
	NoFooter     bool
	NoComments   bool
}

var submitFlags SubmitFlags

var submitCmd = &cobra.Command{
	Use:   "submit [stack...]",
	Short: "Push stacks and open or update their pull requests",
	Long: `Push every commit of the given stacks (local branches) to its own remote
branch and make sure each has a pull request based on the commit below it.
Without arguments the checked out branch is submitted.

Commits that were amended or rebased keep their pull request. When the
content of a commit changed, a comment summarizing the change is posted.

Examples:
  fel submit                    # Submit the current branch
  fel submit feature other      # Submit two stacks; shared commits get one PR
  fel submit --draft -r alice   # Open new PRs as drafts and request a review
  fel submit -o json            # Machine-readable report`,
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

		return runSubmit(ctx, cmd.OutOrStdout(), s, args, submitFlags)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().BoolVarP(&submitFlags.Draft, "draft", "d", false, "Open new pull requests as drafts")
	submitCmd.Flags().StringSliceVarP(&submitFlags.Reviewers, "reviewer", "r", nil, "Request a review on new pull requests (repeatable)")
	submitCmd.Flags().StringVar(&submitFlags.BranchNaming, "naming", "", "Branch naming for new entries: index or hash")
	submitCmd.Flags().BoolVar(&submitFlags.NoFooter, "no-footer", false, "Do not maintain the stack list in PR descriptions")
	submitCmd.Flags().BoolVar(&submitFlags.NoComments, "no-comments", false, "Do not comment on content changes")
}

// submitOptions merges flags over the configuration.
func submitOptions(cfg *config.Config, flags SubmitFlags) workflow.SubmitOptions {
	opts := workflow.SubmitOptionsFromConfig(cfg)
	if flags.Draft {
		opts.Draft = true
	}
	if len(flags.Reviewers) > 0 {
		opts.Reviewers = flags.Reviewers
	}
	if flags.BranchNaming != "" {
		opts.BranchNaming = flags.BranchNaming
	}
	if flags.NoFooter {
		opts.StackFooter = false
	}
	if flags.NoComments {
		opts.DiffComments = false
	}
	return opts
}

func runSubmit(ctx context.Context, out io.Writer, s *session, args []string, flags SubmitFlags) error {
	if flags.BranchNaming != "" && flags.BranchNaming != config.BranchNamingIndex && flags.BranchNaming != config.BranchNamingHash {
		return felerrors.NewConfigError("naming", "must be index or hash, got "+flags.BranchNaming)
	}

	stacks, err := s.stacks(ctx, args)
	if err != nil {
		return err
	}
	g, err := s.graph(ctx, stacks)
	if err != nil {
		return err
	}

	sync := workflow.NewSynchronizer(s.repo, s.github, s.store, submitOptions(s.cfg, flags), s.logger)
	report, err := sync.Submit(ctx, g)
	if report != nil {
		if rerr := ui.RenderSubmitReport(out, outputFormat(), report); rerr != nil && err == nil {
			err = rerr
		}
	}
	if err != nil {
		return err
	}
	return report.Err()
}
