// Package app wires the npcvoice subsystems into a running application.
//
// New opens the character store, builds the engines and creates the voice
// assigner, render pipeline and speech queue. Run drives the queue worker,
// the optional log tail, the observability listener and the config watcher
// in one errgroup. Shutdown releases what New opened.
//
// For tests, inject doubles through the functional options (WithStore,
// WithRegistry, WithRenderOptions, ...). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/npcvoice/internal/clipcache"
	"github.com/MrWong99/npcvoice/internal/config"
	"github.com/MrWong99/npcvoice/internal/engine"
	"github.com/MrWong99/npcvoice/internal/health"
	"github.com/MrWong99/npcvoice/internal/identity"
	"github.com/MrWong99/npcvoice/internal/logtail"
	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/internal/preset"
	"github.com/MrWong99/npcvoice/internal/render"
	"github.com/MrWong99/npcvoice/internal/speech"
	"github.com/MrWong99/npcvoice/internal/voice"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// shutdownTimeout bounds the HTTP listener's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	registry   *config.Registry
	metrics    *observe.Metrics
	gatherer   prometheus.Gatherer
	levelVar   *slog.LevelVar
	player     speech.Player
	renderOpts []render.Option

	store      npcstore.Store
	engines    *engine.Set
	presets    *preset.PresetStore
	aliases    *preset.AliasStore
	identities *identity.Resolver
	assigner   *voice.Assigner
	pipeline   *render.Pipeline
	queue      *speech.Queue
	health     *health.Handler

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a migrated character store instead of opening one from
// config. The caller keeps ownership and closes it.
func WithStore(s npcstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry replaces the built-in engine registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets what /metrics serves. Default: the Prometheus default
// gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithPlayer injects a playback sink instead of the one built from
// playback.command.
func WithPlayer(p speech.Player) Option {
	return func(a *App) { a.player = p }
}

// WithRenderOptions passes extra options to the render pipeline.
func WithRenderOptions(opts ...render.Option) Option {
	return func(a *App) { a.renderOpts = append(a.renderOpts, opts...) }
}

// New creates an App from cfg. It opens and migrates the store, creates
// every configured engine and loads the identity dataset if present.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = NewRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	engines, err := BuildEngines(cfg, a.registry, a.metrics)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.engines = engines

	a.presets = preset.NewPresetStore(cfg.Paths.Presets)
	a.aliases = preset.NewAliasStore(cfg.Paths.Aliases, a.presets, preset.WithFallbackAlias(cfg.Voice.FallbackAlias))
	a.identities = loadIdentities(cfg.Paths.Identities)
	a.assigner = voice.New(a.store, a.aliases, a.presets, a.engines, voice.WithIdentities(a.identities))

	renderOpts := []render.Option{render.WithMetrics(a.metrics)}
	if cfg.Paths.WorkDir != "" {
		renderOpts = append(renderOpts, render.WithWorkDir(cfg.Paths.WorkDir))
	}
	a.pipeline = render.New(a.store, a.engines, clipcache.New(cfg.Paths.ClipLibrary), append(renderOpts, a.renderOpts...)...)

	if a.player == nil && cfg.Playback.Command != "" {
		p, err := speech.NewCommandPlayer(cfg.Playback.Command)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.player = p
	}
	queueOpts := []speech.Option{
		speech.WithMetrics(a.metrics),
		speech.WithDefaultCategory(cfg.Voice.DefaultCategory),
	}
	if a.player != nil {
		queueOpts = append(queueOpts, speech.WithPlayer(a.player))
	}
	a.queue = speech.NewQueue(cfg.Queue.Size, a.pipeline, a.assigner, queueOpts...)

	a.health = health.New(
		health.PingCheck("store", a.store),
		health.Checker{Name: "engines", Check: func(context.Context) error {
			_, err := a.engines.Get("")
			return err
		}},
	)
	a.health.SetReady(false)

	slog.Info("app: initialised",
		"store", cfg.Store.Driver,
		"engines", a.engines.Names(),
		"default_engine", a.engines.Default(),
		"identities", a.identities.Len(),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	var (
		s   npcstore.Store
		err error
	)
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		s, err = npcstore.OpenPostgres(ctx, a.cfg.Store.DSN)
	default:
		s, err = npcstore.OpenSQLite(a.cfg.Store.DSN)
	}
	if err != nil {
		return err
	}
	a.closers = append(a.closers, s.Close)
	if err := s.Migrate(ctx); err != nil {
		a.closeAll()
		return err
	}
	a.store = s
	return nil
}

// loadIdentities returns nil when the dataset is missing or unreadable.
// Characters are then onboarded without a group or gender.
func loadIdentities(path string) *identity.Resolver {
	if path == "" {
		return nil
	}
	r, err := identity.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("app: identity dataset not found, run \"identities build\" to create it", "path", path)
		} else {
			slog.Warn("app: identity dataset unusable", "path", path, "err", err)
		}
		return nil
	}
	return r
}

// Config returns the config the App was created with.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the character store.
func (a *App) Store() npcstore.Store { return a.store }

// Engines returns the configured engines.
func (a *App) Engines() *engine.Set { return a.engines }

// Assigner returns the voice assigner.
func (a *App) Assigner() *voice.Assigner { return a.assigner }

// Queue returns the speech queue.
func (a *App) Queue() *speech.Queue { return a.queue }

// Health returns the probe handler.
func (a *App) Health() *health.Handler { return a.health }

// Say renders one line synchronously and returns the clip path, playing it
// when a player is configured. An empty category means
// voice.default_category.
func (a *App) Say(ctx context.Context, speaker, message, rank string, category types.Category) (string, error) {
	if category == "" {
		category = a.cfg.Voice.DefaultCategory
	}
	ch, err := a.assigner.Onboard(ctx, speaker, category)
	if err != nil {
		return "", err
	}
	ch.Category = category
	path, err := a.pipeline.Render(ctx, ch, message, clipcache.Key(message, rank))
	if err != nil {
		return "", err
	}
	if a.player != nil {
		if err := a.player.Play(ctx, path); err != nil {
			slog.Warn("app: playback failed", "path", path, "err", err)
		}
	}
	return path, nil
}

// RunOptions selects what Run drives besides the queue worker.
type RunOptions struct {
	// LogDir enables the log tail. Empty means logtail.dir from the config;
	// if both are empty no log is tailed.
	LogDir string

	// Speech and Achievements select which log lines are spoken. When both
	// are false, both are enabled.
	Speech       bool
	Achievements bool

	// ConfigPath is watched for changes when non-empty.
	ConfigPath string

	// WatchInterval overrides the config polling period.
	WatchInterval time.Duration
}

// Run executes the application until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	logDir := opts.LogDir
	if logDir == "" {
		logDir = a.cfg.Logtail.Dir
	}
	var tl *logtail.Tailer
	if logDir != "" {
		speechOn, achievementsOn := opts.Speech, opts.Achievements
		if !speechOn && !achievementsOn {
			speechOn, achievementsOn = true, true
		}
		var err error
		tl, err = logtail.New(logtail.Config{
			Dir:                logDir,
			Speech:             speechOn,
			SpeechPattern:      a.cfg.Logtail.SpeechPattern,
			Achievements:       achievementsOn,
			AchievementPattern: a.cfg.Logtail.AchievementPattern,
			PollInterval:       a.cfg.Logtail.PollInterval,
		}, func(ctx context.Context, u types.Utterance) {
			a.queue.Enqueue(ctx, u)
		}, logtail.WithMetrics(a.metrics))
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	var w *config.Watcher
	if opts.ConfigPath != "" {
		var wopts []config.WatcherOption
		if opts.WatchInterval > 0 {
			wopts = append(wopts, config.WithInterval(opts.WatchInterval))
		}
		var err error
		w, err = config.NewWatcher(opts.ConfigPath, a.applyConfig, wopts...)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	var ln net.Listener
	if a.cfg.Server.ListenAddr != "" {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.queue.Run(ctx) })
	if tl != nil {
		g.Go(func() error { return tl.Run(ctx) })
	}
	if w != nil {
		g.Go(func() error { return w.Run(ctx) })
	}
	if ln != nil {
		srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		slog.Info("app: observability listener started", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.health.SetReady(true)
	slog.Info("app: running", "log_dir", logDir, "playback", a.player != nil)
	err := g.Wait()
	a.health.SetReady(false)
	return err
}

// Handler returns the observability routes: /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.gatherer))
	return observe.Middleware(a.metrics)(mux)
}

// applyConfig applies the hot-reloadable part of a changed config.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.PresetsChanged {
		if err := a.presets.SetPath(new.Paths.Presets); err != nil {
			slog.Warn("app: switch preset file", "path", new.Paths.Presets, "err", err)
		}
	}
	if d.AliasesChanged {
		if err := a.aliases.SetPath(new.Paths.Aliases); err != nil {
			slog.Warn("app: switch alias file", "path", new.Paths.Aliases, "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown releases what New opened. It respects the context deadline: if
// ctx expires before all closers finish, the remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
