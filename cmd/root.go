package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"thoreinstein.com/fel/pkg/bootstrap"
	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/ui"
)

var cfgFile string
var verbose bool
var outputFlag string
var appConfig *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fel",
	Short: "Fel - stacked pull requests for GitHub",
	Long: `Fel turns each commit of a local branch into its own pull request, stacked
so that every pull request targets the branch of the commit below it.

Amend or rebase commits as usual and run "fel submit" again: fel recognizes
rewritten commits, force-updates their branches and comments on what changed.
When the bottom of a stack is approved, "fel land" merges it into upstream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		bootstrap.InitLogger(os.Stderr, verbose)
		_, err := ui.ParseFormat(outputFlag)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		switch cmd.Name() {
		case "update", "version":
			return
		}
		notifyUpdate(cmd.Context(), cmd.ErrOrStderr())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cfgFile, verbose = bootstrap.PreParseGlobalFlags(os.Args)

	if err := initConfig(); err != nil {
		fmt.Fprintln(os.Stderr, felerrors.FormatUserError(err))
		os.Exit(1)
	}

	// Interrupts cancel the command context; submit and land finish the
	// entry in progress and stop before the next one.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, felerrors.FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		_ = initConfig()
	})

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "C", "", "config file (default is $HOME/.config/fel/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "output format: text, json or yaml")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	var err error
	appConfig, verbose, err = bootstrap.InitConfig(cfgFile, verbose)
	return err
}

// loadConfig returns the already loaded configuration or loads it if it hasn't been yet.
func loadConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	return config.Load()
}

// outputFormat returns the validated --output value.
func outputFormat() ui.Format {
	f, err := ui.ParseFormat(outputFlag)
	if err != nil {
		return ui.FormatText
	}
	return f
}

// resetConfig clears the cached configuration.
// This is primarily used in tests to ensure each test starts with a fresh config.
func resetConfig() {
	appConfig = nil
	bootstrap.Reset()
	viper.Reset()
}
