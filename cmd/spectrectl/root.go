package main

import (
	"os"
	"strings"

	"github.com/danmuck/spectre/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	LogLevel string
	NoColor  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "spectrectl",
		Short:         "Run a replicated object broker group",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.NoColor {
				_ = os.Setenv(logging.EnvLogNoColor, "true")
			}
			logging.ConfigureRuntime()
			if strings.TrimSpace(opts.LogLevel) == "" {
				return nil
			}
			return wrapExit(exitUsage, "invalid --log-level", logging.SetLevel(opts.LogLevel))
		},
	}
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error|off)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored log output")

	cmd.AddCommand(newHeadCommand())
	cmd.AddCommand(newParticipantCommand())
	cmd.AddCommand(newDemoCommand())
	cmd.AddCommand(newConfigCommand())
	return cmd
}
