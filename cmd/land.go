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

// LandFlags are command-line overrides of the land configuration.
type LandFlags struct {
	MergeMethod   string
	NoUpdateLocal bool
	// With lists other stacks to load so their pull requests are retargeted
	// when a shared entry lands.
	With []string
}

var landFlags LandFlags

var landCmd = &cobra.Command{
	Use:   "land [stack]",
	Short: "Merge a stack into upstream, bottom first",
	Long: `Merge the pull requests of a stack into upstream one at a time, starting
with the commit closest to upstream. Each entry is rebased onto the current
upstream, checked for mergeability and merged without a merge commit. Its
branches are then removed and its children retargeted onto upstream.

Landing stops at the first entry that cannot be merged. Entries landed
before it stay landed, and the rest of the stack is rebased locally onto
the new upstream tip. Run land again once the problem is fixed.

Merge methods:
  rebase        GitHub rebase merge (default)
  squash        GitHub squash merge, titled "<subject> (#N)"
  fast-forward  push the rebased commit to upstream directly

Examples:
  fel land                      # Land the current branch
  fel land feature --method squash
  fel land feature --with other # Also retarget PRs of "other" that build on feature`,
	Args: cobra.MaximumNArgs(1),
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

		return runLand(ctx, cmd.OutOrStdout(), s, args, landFlags)
	},
}

func init() {
	rootCmd.AddCommand(landCmd)

	landCmd.Flags().StringVarP(&landFlags.MergeMethod, "method", "m", "", "Merge method: rebase, squash or fast-forward")
	landCmd.Flags().BoolVar(&landFlags.NoUpdateLocal, "no-update-local", false, "Leave the local stack branch where it is")
	landCmd.Flags().StringSliceVar(&landFlags.With, "with", nil, "Other stacks sharing commits with this one")
}

func landOptions(cfg *config.Config, flags LandFlags) workflow.LandOptions {
	opts := workflow.LandOptionsFromConfig(cfg)
	if flags.MergeMethod != "" {
		opts.MergeMethod = flags.MergeMethod
	}
	if flags.NoUpdateLocal {
		opts.UpdateLocal = false
	}
	return opts
}

func runLand(ctx context.Context, out io.Writer, s *session, args []string, flags LandFlags) error {
	opts := landOptions(s.cfg, flags)
	if err := config.ValidateMergeMethod(opts.MergeMethod); err != nil {
		return err
	}

	stacks, err := s.stacks(ctx, args)
	if err != nil {
		return err
	}
	target := stacks[0]
	for _, other := range flags.With {
		if other != target {
			stacks = append(stacks, other)
		}
	}

	g, err := s.graph(ctx, stacks)
	if err != nil {
		return err
	}

	report, err := workflow.NewLander(s.repo, s.github, s.store, opts, s.logger).Land(ctx, g, target)
	if report != nil {
		if rerr := ui.RenderLandReport(out, outputFormat(), report); rerr != nil && err == nil {
			err = rerr
		}
	}
	if err != nil {
		return err
	}
	return report.Err()
}
