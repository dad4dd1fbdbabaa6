package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/identity"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the repository for fel",
	Long: `Configure git to carry fel's notes across amend and rebase
(notes.rewriteRef) and create the identity store. Submit and land do this
on their own; init is useful to check the setup or to prepare a clone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return felerrors.NewConfigErrorWithCause("", "failed to load configuration", err)
		}

		ctx := cmd.Context()
		s, err := openSession(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer s.Close()

		return runInit(ctx, cmd.OutOrStdout(), s)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(ctx context.Context, out io.Writer, s *session) error {
	// openSession already ran the setup; report the resulting state.
	refs, err := s.repo.ConfigGetAll(ctx, identity.RewriteRefKey)
	if err != nil {
		return err
	}
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %v\n", identity.RewriteRefKey, refs)
	fmt.Fprintf(out, "notes ref: %s\n", s.store.NotesRef())
	fmt.Fprintf(out, "tracked entries: %d\n", len(entries))
	return nil
}
