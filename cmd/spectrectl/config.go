package main

import (
	"fmt"
	"path/filepath"

	"github.com/danmuck/spectre/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage head, participant and script files",
	}
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		dir       string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:       "init [head|participant|script]...",
		Short:     "Write starter config files",
		ValidArgs: []string{"head", "participant", "script"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := args
			if len(kinds) == 0 {
				kinds = []string{"head", "participant", "script"}
			}
			for _, kind := range kinds {
				path := filepath.Join(dir, kind+".toml")
				if err := config.WriteTemplate(path, kind, overwrite); err != nil {
					return wrapExit(exitFailure, "config init", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	return cmd
}
