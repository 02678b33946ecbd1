// Package logtail follows a game's log directory and turns dialogue and
// achievement lines into utterances.
//
// Files present when tailing starts are read from their current end, so old
// sessions are not replayed; files created later are read from the start.
// Changes are picked up from fsnotify events, with a periodic rescan for
// file systems that do not deliver them.
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/npcvoice/internal/npcstore"
	"github.com/MrWong99/npcvoice/internal/observe"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// Default patterns. A speech pattern must capture "speaker" and "message"
// and may capture "rank"; an achievement pattern must capture "message".
const (
	DefaultSpeechPattern      = `Dialogue: (?P<speaker>[^|]*)\|(?P<rank>[^|]*)\|(?P<message>.+)$`
	DefaultAchievementPattern = `Achievement unlocked: (?P<message>.+)$`
	DefaultGlob               = "*.log"
	DefaultPollInterval       = 2 * time.Second
)

// Utterance sources, used as the metrics "source" attribute.
const (
	SourceSpeech      = "speech"
	SourceAchievement = "achievement"
)

// Sink receives every parsed utterance. It must not block for long;
// speech.Queue.Enqueue is the intended sink.
type Sink func(ctx context.Context, u types.Utterance)

// Config selects what is tailed.
type Config struct {
	// Dir is the log directory.
	Dir string

	// Glob selects log files inside Dir. Default: [DefaultGlob].
	Glob string

	// Speech enables dialogue lines, spoken by their speaker.
	Speech bool
	// SpeechPattern overrides [DefaultSpeechPattern].
	SpeechPattern string

	// Achievements enables achievement lines, announced by the default
	// character in the system category.
	Achievements bool
	// AchievementPattern overrides [DefaultAchievementPattern].
	AchievementPattern string

	// PollInterval is the rescan period. Default: [DefaultPollInterval].
	PollInterval time.Duration
}

// Parser turns log lines into utterances.
type Parser struct {
	speech      *regexp.Regexp
	achievement *regexp.Regexp
}

// NewParser compiles the enabled patterns of cfg.
func NewParser(cfg Config) (*Parser, error) {
	var p Parser
	var errs []error
	if cfg.Speech {
		re, err := compile(cfg.SpeechPattern, DefaultSpeechPattern, "speaker", "message")
		if err != nil {
			errs = append(errs, fmt.Errorf("logtail: speech pattern: %w", err))
		}
		p.speech = re
	}
	if cfg.Achievements {
		re, err := compile(cfg.AchievementPattern, DefaultAchievementPattern, "message")
		if err != nil {
			errs = append(errs, fmt.Errorf("logtail: achievement pattern: %w", err))
		}
		p.achievement = re
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if p.speech == nil && p.achievement == nil {
		return nil, errors.New("logtail: neither speech nor achievements enabled")
	}
	return &p, nil
}

func compile(pattern, def string, groups ...string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = def
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if re.SubexpIndex(g) < 0 {
			return nil, fmt.Errorf("missing named group %q in %q", g, pattern)
		}
	}
	return re, nil
}

// Parse returns the utterance in line and its source. Achievement lines are
// checked first.
func (p *Parser) Parse(line string) (u types.Utterance, source string, ok bool) {
	if p.achievement != nil {
		if m := p.achievement.FindStringSubmatch(line); m != nil {
			msg := strings.TrimSpace(m[p.achievement.SubexpIndex("message")])
			if msg != "" {
				return types.Utterance{
					Speaker:  npcstore.DefaultCharacter,
					Message:  msg,
					Category: types.CategorySystem,
				}, SourceAchievement, true
			}
		}
	}
	if p.speech != nil {
		if m := p.speech.FindStringSubmatch(line); m != nil {
			u := types.Utterance{
				Speaker:  strings.TrimSpace(m[p.speech.SubexpIndex("speaker")]),
				Message:  strings.TrimSpace(m[p.speech.SubexpIndex("message")]),
				Category: types.CategoryNPC,
			}
			if i := p.speech.SubexpIndex("rank"); i >= 0 {
				u.Rank = strings.TrimSpace(m[i])
			}
			if u.Message != "" {
				return u, SourceSpeech, true
			}
		}
	}
	return types.Utterance{}, "", false
}

type fileState struct {
	offset  int64
	partial []byte
}

// Tailer follows the log files in a directory.
type Tailer struct {
	dir     string
	glob    string
	poll    time.Duration
	parser  *Parser
	sink    Sink
	metrics *observe.Metrics

	files map[string]*fileState
	ready func()
}

// Option configures a [Tailer].
type Option func(*Tailer)

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tailer) { t.metrics = m }
}

// New creates a Tailer for cfg that delivers utterances to sink.
func New(cfg Config, sink Sink, opts ...Option) (*Tailer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("logtail: log directory is required")
	}
	if _, err := filepath.Match(cfg.Glob, "x"); err != nil {
		return nil, fmt.Errorf("logtail: glob %q: %w", cfg.Glob, err)
	}
	parser, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	t := &Tailer{
		dir:    cfg.Dir,
		glob:   cfg.Glob,
		poll:   cfg.PollInterval,
		parser: parser,
		sink:   sink,
		files:  make(map[string]*fileState),
	}
	if t.glob == "" {
		t.glob = DefaultGlob
	}
	if t.poll <= 0 {
		t.poll = DefaultPollInterval
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t, nil
}

// Run tails the directory until ctx is done. It returns an error only if
// the directory cannot be watched.
func (t *Tailer) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("logtail: create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(t.dir); err != nil {
		return fmt.Errorf("logtail: watch %q: %w", t.dir, err)
	}

	t.prime()
	slog.Info("logtail: watching log directory", "dir", t.dir, "glob", t.glob, "files", len(t.files))
	if t.ready != nil {
		t.ready()
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			t.handleEvent(ctx, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("logtail: watcher error", "dir", t.dir, "err", err)
		case <-ticker.C:
			t.scan(ctx)
		}
	}
}

// prime records the current size of every existing log file.
func (t *Tailer) prime() {
	for _, path := range t.matches() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		t.files[path] = &fileState{offset: info.Size()}
	}
}

func (t *Tailer) matches() []string {
	paths, err := filepath.Glob(filepath.Join(t.dir, t.glob))
	if err != nil {
		slog.Warn("logtail: list log files", "dir", t.dir, "err", err)
	}
	return paths
}

func (t *Tailer) wanted(path string) bool {
	ok, _ := filepath.Match(t.glob, filepath.Base(path))
	return ok
}

func (t *Tailer) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !t.wanted(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(t.files, ev.Name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		t.read(ctx, ev.Name)
	}
}

func (t *Tailer) scan(ctx context.Context) {
	for _, path := range t.matches() {
		t.read(ctx, path)
	}
}

// read consumes everything appended to path since the last read. A file
// that shrank is assumed truncated and read again from the start.
func (t *Tailer) read(ctx context.Context, path string) {
	st, ok := t.files[path]
	if !ok {
		st = &fileState{}
		t.files[path] = st
	}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("logtail: open log file", "path", path, "err", err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		slog.Warn("logtail: stat log file", "path", path, "err", err)
		return
	}
	if info.Size() < st.offset {
		slog.Info("logtail: log file truncated, reading from start", "path", path)
		st.offset, st.partial = 0, nil
	}
	if info.Size() == st.offset {
		return
	}
	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		slog.Warn("logtail: seek log file", "path", path, "err", err)
		return
	}
	data, err := io.ReadAll(f)
	st.offset += int64(len(data))
	if err != nil {
		slog.Warn("logtail: read log file", "path", path, "err", err)
	}

	data = append(st.partial, data...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.line(ctx, string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	st.partial = bytes.Clone(data)
}

func (t *Tailer) line(ctx context.Context, line string) {
	u, source, ok := t.parser.Parse(line)
	if !ok {
		return
	}
	t.metrics.Utterances.Add(ctx, 1, metric.WithAttributes(observe.Attr("source", source)))
	t.sink(ctx, u)
}
