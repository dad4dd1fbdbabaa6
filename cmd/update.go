package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

const (
	repoOwner = "thoreinstein"
	repoName  = "fel"
)

var (
	updateCheck bool
	updateForce bool
	updatePre   bool
	updateYes   bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update fel to the latest release",
	Long: `Download the latest fel release from GitHub releases and replace the
running binary. The downloaded archive is verified against the release
checksums before the binary is swapped.

Examples:
  fel update           # Update after confirmation
  fel update --check   # Only report whether a newer release exists
  fel update --yes     # Update without asking
  fel update --force   # Reinstall even when already up to date
  fel update --pre     # Consider pre-releases`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpdateCommand(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().BoolVarP(&updateCheck, "check", "c", false, "Check for updates without installing")
	updateCmd.Flags().BoolVarP(&updateForce, "force", "f", false, "Force update even if already at the latest version")
	updateCmd.Flags().BoolVarP(&updatePre, "pre", "p", false, "Include pre-release versions")
	updateCmd.Flags().BoolVarP(&updateYes, "yes", "y", false, "Skip confirmation prompt")
}

func runUpdateCommand(ctx context.Context) error {
	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Prerelease: updatePre,
		Validator:  &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"},
	})
	if err != nil {
		return felerrors.Wrap(err, "failed to create updater")
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return felerrors.Wrap(err, "failed to detect latest release")
	}
	if !found {
		fmt.Println("No release found for this platform.")
		return nil
	}

	current := GetVersion()
	if upToDate(current, latest.LessOrEqual(current), updateForce) {
		fmt.Printf("fel %s is already the latest version.\n", current)
		return nil
	}

	if updateCheck {
		fmt.Printf("A new release is available: %s (current: %s)\n", latest.Version(), current)
		return nil
	}

	if !updateYes && !confirmUpdate(current, latest.Version()) {
		fmt.Println("Update cancelled.")
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return felerrors.Wrap(err, "failed to locate executable")
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return felerrors.Wrap(err, "failed to install update")
	}

	fmt.Printf("Updated fel to %s.\n", latest.Version())
	return nil
}

// upToDate reports whether an update can be skipped. Local builds always
// update.
func upToDate(current string, latestLessOrEqual, force bool) bool {
	return !isDevVersion(current) && latestLessOrEqual && !force
}

// isDevVersion reports whether v is a local build rather than a release.
// Anything that does not parse as a semantic version counts as one.
func isDevVersion(v string) bool {
	if v == "" {
		return false
	}
	_, err := semver.NewVersion(v)
	return err != nil
}

// confirmUpdate asks on stdin and returns true for "y" or "yes".
func confirmUpdate(current, next string) bool {
	if isDevVersion(current) {
		fmt.Printf("Update fel from %s to %s? [y/N]: ", current, next)
	} else {
		fmt.Printf("Update fel from %s to %s? [y/N]: ", strings.TrimPrefix(current, "v"), next)
	}

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
