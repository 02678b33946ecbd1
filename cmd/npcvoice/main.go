// Command npcvoice voices game dialogue: it tails the game log, assigns every
// speaker a persistent voice and renders each line to a cached Ogg/Opus clip.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/app"
	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/observe"
)

// shutdownTimeout bounds the graceful shutdown after a command finishes.
const shutdownTimeout = 15 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "npcvoice: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "npcvoice",
		Short:         "Voice game NPC dialogue with persistent per-character voices",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "npcvoice.yaml", "path to the YAML configuration file")

	cmd.AddCommand(
		newRunCommand(opts),
		newSayCommand(opts),
		newPresetCommand(opts),
		newIdentitiesCommand(),
		newConfigCommand(opts),
	)
	return cmd
}

// loadConfig reads the configuration and installs the default logger at the
// configured level. The returned LevelVar follows hot reloads.
func (o *rootOptions) loadConfig(stderr io.Writer) (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file %q not found, see npcvoice config check --help", o.configPath)
		}
		return nil, nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(stderr, levelVar))
	return cfg, levelVar, nil
}

// openApp loads the configuration, sets up telemetry and builds the
// application. The caller must call the returned close function.
func (o *rootOptions) openApp(ctx context.Context, stderr io.Writer, opts ...app.Option) (*app.App, func(), error) {
	cfg, levelVar, err := o.loadConfig(stderr)
	if err != nil {
		return nil, nil, err
	}
	tel, err := observe.Setup(ctx, observe.SetupConfig{ServiceVersion: version})
	if err != nil {
		return nil, nil, err
	}
	opts = append([]app.Option{
		app.WithLevelVar(levelVar),
		app.WithMetrics(tel.Metrics),
		app.WithGatherer(tel.Registry),
	}, opts...)
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, nil, err
	}
	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}
	return a, closeFn, nil
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
