package npcstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/npcvoice/pkg/types"
)

// SQLiteSchema is the DDL applied by [SQLiteStore.Migrate].
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS characters (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL UNIQUE,
    engine           TEXT NOT NULL DEFAULT '',
    engine_secondary TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL DEFAULT 'npc',
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS base_tts_config (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    character_id INTEGER NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    key          TEXT NOT NULL,
    value        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_base_tts_config_character ON base_tts_config(character_id);
CREATE TABLE IF NOT EXISTS effects (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    character_id INTEGER NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    effect_name  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_effects_character ON effects(character_id);
CREATE TABLE IF NOT EXISTS effect_settings (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    effect_id INTEGER NOT NULL REFERENCES effects(id) ON DELETE CASCADE,
    position  INTEGER NOT NULL,
    key       TEXT NOT NULL,
    value     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_effect_settings_effect ON effect_settings(effect_id);
CREATE TABLE IF NOT EXISTS phrases (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    character_id INTEGER NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
    text         TEXT NOT NULL,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (character_id, text)
);
INSERT INTO characters (name, category) VALUES ('default', 'system') ON CONFLICT (name) DO NOTHING;
`

// SQLiteStore is a [Store] backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the SQLite database at path. The
// caller must call [SQLiteStore.Migrate] before use.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("npcstore: sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("npcstore: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("npcstore: ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies [SQLiteSchema].
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("npcstore: migrate: %w", err)
	}
	return nil
}

// EnsureCharacter implements [Store].
func (s *SQLiteStore) EnsureCharacter(ctx context.Context, name string, category types.Category) (Character, bool, error) {
	if err := validateName(name); err != nil {
		return Character{}, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (name, category) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		name, string(defaultCategory(category)))
	if err != nil {
		return Character{}, false, fmt.Errorf("npcstore: ensure %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Character{}, false, fmt.Errorf("npcstore: ensure %q: %w", name, err)
	}
	c, err := s.Character(ctx, name)
	if err != nil {
		return Character{}, false, err
	}
	return c, n == 1, nil
}

// Character implements [Store].
func (s *SQLiteStore) Character(ctx context.Context, name string) (Character, error) {
	const query = `SELECT id, name, engine, engine_secondary, category FROM characters WHERE name = ?`
	var c Character
	var category string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&c.ID, &c.Name, &c.Engine, &c.EngineSecondary, &category)
	if errors.Is(err, sql.ErrNoRows) {
		return Character{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Character{}, fmt.Errorf("npcstore: get %q: %w", name, err)
	}
	c.Category = types.Category(category)
	return c, nil
}

// List implements [Store].
func (s *SQLiteStore) List(ctx context.Context) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, engine, engine_secondary, category FROM characters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("npcstore: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		var c Character
		var category string
		if err := rows.Scan(&c.ID, &c.Name, &c.Engine, &c.EngineSecondary, &category); err != nil {
			return nil, fmt.Errorf("npcstore: list scan: %w", err)
		}
		c.Category = types.Category(category)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("npcstore: list: %w", err)
	}
	return out, nil
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BaseConfig implements [Store].
func (s *SQLiteStore) BaseConfig(ctx context.Context, characterID int64) ([]ConfigEntry, error) {
	return sqliteBaseConfig(ctx, s.db, characterID)
}

func sqliteBaseConfig(ctx context.Context, q sqlQuerier, characterID int64) ([]ConfigEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM base_tts_config WHERE character_id = ? ORDER BY position, id`, characterID)
	if err != nil {
		return nil, fmt.Errorf("npcstore: base config: %w", err)
	}
	defer rows.Close()

	var out []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("npcstore: base config scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("npcstore: base config: %w", err)
	}
	return out, nil
}

// Effects implements [Store]. Effects and settings are read with a single
// join so a concurrent [SQLiteStore.ReplaceConfig] is never observed half
// applied.
func (s *SQLiteStore) Effects(ctx context.Context, characterID int64) ([]Effect, error) {
	return sqliteEffects(ctx, s.db, characterID)
}

func sqliteEffects(ctx context.Context, q sqlQuerier, characterID int64) ([]Effect, error) {
	const query = `
		SELECT e.id, e.effect_name, s.key, s.value
		FROM effects e
		LEFT JOIN effect_settings s ON s.effect_id = e.id
		WHERE e.character_id = ?
		ORDER BY e.position, e.id, s.position, s.id`
	rows, err := q.QueryContext(ctx, query, characterID)
	if err != nil {
		return nil, fmt.Errorf("npcstore: effects: %w", err)
	}
	defer rows.Close()

	var out []Effect
	for rows.Next() {
		var (
			id         int64
			name       string
			key, value sql.NullString
		)
		if err := rows.Scan(&id, &name, &key, &value); err != nil {
			return nil, fmt.Errorf("npcstore: effects scan: %w", err)
		}
		out = appendEffectRow(out, id, name, key.String, value.String, key.Valid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("npcstore: effects: %w", err)
	}
	return out, nil
}

// Snapshot implements [Store]. The reads share one deferred read
// transaction, which in WAL mode pins a single database snapshot.
func (s *SQLiteStore) Snapshot(ctx context.Context, characterID int64) (Config, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Config{}, fmt.Errorf("npcstore: snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	var cfg Config
	err = tx.QueryRowContext(ctx,
		`SELECT engine, engine_secondary FROM characters WHERE id = ?`, characterID).
		Scan(&cfg.Engine, &cfg.EngineSecondary)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, fmt.Errorf("%w: id %d", ErrNotFound, characterID)
	}
	if err != nil {
		return Config{}, fmt.Errorf("npcstore: snapshot: %w", err)
	}
	if cfg.BaseConfig, err = sqliteBaseConfig(ctx, tx, characterID); err != nil {
		return Config{}, err
	}
	if cfg.Effects, err = sqliteEffects(ctx, tx, characterID); err != nil {
		return Config{}, err
	}
	if err := tx.Commit(); err != nil {
		return Config{}, fmt.Errorf("npcstore: snapshot: commit: %w", err)
	}
	return cfg, nil
}

// appendEffectRow folds one row of the effects/settings join into out.
func appendEffectRow(out []Effect, id int64, name, key, value string, hasSetting bool) []Effect {
	if len(out) == 0 || out[len(out)-1].ID != id {
		out = append(out, Effect{ID: id, Name: name})
	}
	if hasSetting {
		last := &out[len(out)-1]
		last.Settings = append(last.Settings, Setting{Key: key, Value: value})
	}
	return out
}

// ReplaceConfig implements [Store].
func (s *SQLiteStore) ReplaceConfig(ctx context.Context, characterID int64, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("npcstore: replace config: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE characters SET engine = ?, engine_secondary = ? WHERE id = ?`,
		cfg.Engine, cfg.EngineSecondary, characterID)
	if err != nil {
		return fmt.Errorf("npcstore: replace config: set engine: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("npcstore: replace config: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, characterID)
	}

	for _, stmt := range []string{
		`DELETE FROM effect_settings WHERE effect_id IN (SELECT id FROM effects WHERE character_id = ?)`,
		`DELETE FROM effects WHERE character_id = ?`,
		`DELETE FROM base_tts_config WHERE character_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, characterID); err != nil {
			return fmt.Errorf("npcstore: replace config: clear: %w", err)
		}
	}

	for i, e := range cfg.BaseConfig {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO base_tts_config (character_id, position, key, value) VALUES (?, ?, ?, ?)`,
			characterID, i, e.Key, e.Value); err != nil {
			return fmt.Errorf("npcstore: replace config: insert %q: %w", e.Key, err)
		}
	}

	for i, e := range cfg.Effects {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO effects (character_id, position, effect_name) VALUES (?, ?, ?)`,
			characterID, i, e.Name)
		if err != nil {
			return fmt.Errorf("npcstore: replace config: insert effect %q: %w", e.Name, err)
		}
		effectID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("npcstore: replace config: effect id: %w", err)
		}
		for j, st := range e.Settings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO effect_settings (effect_id, position, key, value) VALUES (?, ?, ?, ?)`,
				effectID, j, st.Key, st.Value); err != nil {
				return fmt.Errorf("npcstore: replace config: insert setting %s.%s: %w", e.Name, st.Key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("npcstore: replace config: commit: %w", err)
	}
	return nil
}

// AddPhrase implements [Store].
func (s *SQLiteStore) AddPhrase(ctx context.Context, characterID int64, text string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO phrases (character_id, text) VALUES (?, ?) ON CONFLICT (character_id, text) DO NOTHING`,
		characterID, text)
	if err != nil {
		return false, fmt.Errorf("npcstore: add phrase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("npcstore: add phrase: %w", err)
	}
	return n == 1, nil
}
