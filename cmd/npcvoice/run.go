package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var opts app.RunOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tail the game log and voice every recognised line",
		Long: `Run tails the *.log files in the game log directory and renders each
speech or achievement line with the speaker's assigned voice. Without
--npc and --achievements both kinds of line are voiced.

The observability listener (server.listen_addr) serves /healthz, /readyz and
/metrics while running. Changes to the configuration file are picked up
without a restart where possible.`,
		Example: `npcvoice run --log-dir ~/.game/logs --npc`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, closeFn, err := root.openApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			opts.ConfigPath = root.configPath
			slog.Info("npcvoice starting",
				"config", root.configPath,
				"listen_addr", a.Config().Server.ListenAddr,
				"engines", a.Config().Providers.Names(),
			)
			if err := a.Run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("shutdown signal received, stopping")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "", "game log directory (default logtail.dir)")
	cmd.Flags().BoolVar(&opts.Speech, "npc", false, "voice NPC speech lines")
	cmd.Flags().BoolVar(&opts.Achievements, "achievements", false, "voice achievement announcements")
	return cmd
}
