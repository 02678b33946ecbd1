package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/config"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigCheckCommand(root))
	return cmd
}

func newConfigCheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and construct every engine",
		Long: `Check loads the configuration file with NPCVOICE_* environment overrides
applied, validates it and constructs each configured engine without
synthesizing anything. A summary is printed on success.

Example configuration:

  server:
    log_level: info
    listen_addr: ":9090"
  paths:
    identities: identities.json
    aliases: aliases.json
    presets: presets.json
    clip_library: clips
  store:
    driver: sqlite
    dsn: npcvoice.db
  providers:
    tts:
      - name: piper
        model: /models/en_GB-vctk-medium.onnx
      - name: polly
        options:
          region: eu-west-1
  voice:
    default_engine: piper
  logtail:
    dir: ~/.game/logs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			reg := app.NewRegistry()
			var errs []error
			for _, entry := range cfg.Providers.TTS {
				if _, err := reg.Create(entry); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), root.configPath, cfg)
			return nil
		},
	}
}

func printSummary(w io.Writer, path string, cfg *config.Config) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "config\t%s\tok\n", path)
	fmt.Fprintf(tw, "log level\t%s\n", cfg.Server.LogLevel)
	fmt.Fprintf(tw, "listen addr\t%s\n", orNone(cfg.Server.ListenAddr))
	fmt.Fprintf(tw, "store\t%s\n", cfg.Store.Driver)
	fmt.Fprintf(tw, "clip library\t%s\n", cfg.Paths.ClipLibrary)
	fmt.Fprintf(tw, "log dir\t%s\n", orNone(cfg.Logtail.Dir))
	fmt.Fprintf(tw, "playback\t%s\n", orNone(cfg.Playback.Command))
	for _, e := range cfg.Providers.TTS {
		marker := ""
		if e.Name == cfg.DefaultEngine() {
			marker = "(default)"
		}
		fmt.Fprintf(tw, "engine\t%s\t%s\n", e.Name, marker)
	}
	_ = tw.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
