package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ErrRunFailed is returned when a pipeline ran but did not succeed. The
// failure has already been reported.
var ErrRunFailed = errors.New("pipeline failed")

type globalOptions struct {
	logLevel   string
	verbose    bool
	jsonOutput bool
	noColor    bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cheshire",
		Short: "Cheshire - cross-platform pipeline runner",
		Long: `Cheshire runs pipelines of shell commands on the local machine or over SSH.

A pipeline has three phases:
  - pre-conditions, which must all pass before anything changes
  - steps, optionally retried, timed out, or run in parallel groups
  - tests, which verify the result

Each operation may be restricted to a platform (fedora, ubuntu, debian,
centos, rhel, mac, windows, linux, unix); operations for other platforms
are skipped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel != "" {
				level, err := zerolog.ParseLevel(opts.logLevel)
				if err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				zerolog.SetGlobalLevel(level)
			}
			if opts.noColor {
				color.NoColor = true
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "stream command output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newPlatformCommand(opts))
	rootCmd.AddCommand(newFactsCommand(opts))

	return rootCmd
}
