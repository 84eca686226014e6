package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/danmuck/spectre/internal/config"
	"github.com/danmuck/spectre/internal/head"
	"github.com/danmuck/spectre/internal/participant"
	"github.com/spf13/cobra"
)

func newHeadCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "head",
		Short: "Run rank 0: form the group and drive the script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadHeadConfig(path)
			if err != nil {
				return wrapExit(exitUsage, "head config", err)
			}
			svc, err := head.NewService(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&path, "config", "head.toml", "head config file")
	return cmd
}

func newParticipantCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "participant",
		Short: "Run one non-head rank and serve the head's calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadParticipantConfig(path)
			if err != nil {
				return wrapExit(exitUsage, "participant config", err)
			}
			svc, err := participant.NewService(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&path, "config", "participant.toml", "participant config file")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
