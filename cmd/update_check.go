package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/go-selfupdate"

	"thoreinstein.com/fel/pkg/ui"
)

const (
	updateCheckInterval = 24 * time.Hour
	updateCheckTimeout  = 3 * time.Second
)

// updateCheckStamp is the file whose mtime records the last release check.
func updateCheckStamp() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fel", "last-update-check"), nil
}

// updateCheckDue reports whether the last check recorded at stamp is older
// than the check interval.
func updateCheckDue(stamp string, now time.Time) bool {
	info, err := os.Stat(stamp)
	if err != nil {
		return true
	}
	return now.Sub(info.ModTime()) >= updateCheckInterval
}

func touchStamp(stamp string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(stamp), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(stamp, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(stamp, now, now)
}

// notifyUpdate prints a one-line notice to w when a newer release exists.
// It runs at most once per interval, only for release builds writing to a
// terminal, and never fails the command.
func notifyUpdate(ctx context.Context, w io.Writer) {
	cfg, err := loadConfig()
	if err != nil || !cfg.Update.Check || isDevVersion(Version) || !ui.IsTerminal(w) {
		return
	}

	stamp, err := updateCheckStamp()
	if err != nil || !updateCheckDue(stamp, time.Now()) {
		return
	}
	if err := touchStamp(stamp, time.Now()); err != nil {
		slog.Debug("could not record update check", "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, updateCheckTimeout)
	defer cancel()

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		slog.Debug("update check failed", "error", err)
		return
	}
	if found && !latest.LessOrEqual(Version) {
		fmt.Fprintf(w, "A new release of fel is available: %s -> %s (run \"fel update\")\n", Version, latest.Version())
	}
}
