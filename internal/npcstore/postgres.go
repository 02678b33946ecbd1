package npcstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/npcvoice/pkg/types"
)

// PostgresSchema is the SQL DDL for the character tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS characters (
    id               BIGSERIAL PRIMARY KEY,
    name             TEXT NOT NULL UNIQUE,
    engine           TEXT NOT NULL DEFAULT '',
    engine_secondary TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL DEFAULT 'npc',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS base_tts_config (
    id           BIGSERIAL PRIMARY KEY,
    character_id BIGINT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    key          TEXT NOT NULL,
    value        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_base_tts_config_character ON base_tts_config(character_id);
CREATE TABLE IF NOT EXISTS effects (
    id           BIGSERIAL PRIMARY KEY,
    character_id BIGINT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    effect_name  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_effects_character ON effects(character_id);
CREATE TABLE IF NOT EXISTS effect_settings (
    id        BIGSERIAL PRIMARY KEY,
    effect_id BIGINT NOT NULL REFERENCES effects(id) ON DELETE CASCADE,
    position  INTEGER NOT NULL,
    key       TEXT NOT NULL,
    value     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_effect_settings_effect ON effect_settings(effect_id);
CREATE TABLE IF NOT EXISTS phrases (
    id           BIGSERIAL PRIMARY KEY,
    character_id BIGINT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
    text         TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (character_id, text)
);
INSERT INTO characters (name, category) VALUES ('default', 'system') ON CONFLICT (name) DO NOTHING;
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling [PostgresStore.Migrate]
// to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn and returns a store using it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("npcstore: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("npcstore: ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// Close closes the underlying pool if the store owns one.
func (s *PostgresStore) Close() error {
	if c, ok := s.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate executes the [PostgresSchema] DDL against the database, creating
// the tables and the default character if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, PostgresSchema)
	if err != nil {
		return fmt.Errorf("npcstore: migrate: %w", err)
	}
	return nil
}

// EnsureCharacter implements [Store].
func (s *PostgresStore) EnsureCharacter(ctx context.Context, name string, category types.Category) (Character, bool, error) {
	if err := validateName(name); err != nil {
		return Character{}, false, err
	}
	const query = `
		INSERT INTO characters (name, category) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, engine, engine_secondary, category`

	var c Character
	var cat string
	err := s.db.QueryRow(ctx, query, name, string(defaultCategory(category))).Scan(
		&c.ID, &c.Name, &c.Engine, &c.EngineSecondary, &cat,
	)
	if err == nil {
		c.Category = types.Category(cat)
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Character{}, false, fmt.Errorf("npcstore: ensure %q: %w", name, err)
	}
	// Conflict: the character already exists.
	c, err = s.Character(ctx, name)
	if err != nil {
		return Character{}, false, err
	}
	return c, false, nil
}

// Character implements [Store].
func (s *PostgresStore) Character(ctx context.Context, name string) (Character, error) {
	const query = `SELECT id, name, engine, engine_secondary, category FROM characters WHERE name = $1`
	var c Character
	var cat string
	err := s.db.QueryRow(ctx, query, name).Scan(&c.ID, &c.Name, &c.Engine, &c.EngineSecondary, &cat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Character{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return Character{}, fmt.Errorf("npcstore: get %q: %w", name, err)
	}
	c.Category = types.Category(cat)
	return c, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Character, error) {
	const query = `SELECT id, name, engine, engine_secondary, category FROM characters ORDER BY name`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("npcstore: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		var c Character
		var cat string
		if err := rows.Scan(&c.ID, &c.Name, &c.Engine, &c.EngineSecondary, &cat); err != nil {
			return nil, fmt.Errorf("npcstore: list scan: %w", err)
		}
		c.Category = types.Category(cat)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("npcstore: list: %w", err)
	}
	return out, nil
}

// pgQuerier is satisfied by [DB] and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BaseConfig implements [Store].
func (s *PostgresStore) BaseConfig(ctx context.Context, characterID int64) ([]ConfigEntry, error) {
	return pgBaseConfig(ctx, s.db, characterID)
}

func pgBaseConfig(ctx context.Context, q pgQuerier, characterID int64) ([]ConfigEntry, error) {
	const query = `SELECT key, value FROM base_tts_config WHERE character_id = $1 ORDER BY position, id`
	rows, err := q.Query(ctx, query, characterID)
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

// Effects implements [Store].
func (s *PostgresStore) Effects(ctx context.Context, characterID int64) ([]Effect, error) {
	return pgEffects(ctx, s.db, characterID)
}

func pgEffects(ctx context.Context, q pgQuerier, characterID int64) ([]Effect, error) {
	const query = `
		SELECT e.id, e.effect_name, s.key, s.value
		FROM effects e
		LEFT JOIN effect_settings s ON s.effect_id = e.id
		WHERE e.character_id = $1
		ORDER BY e.position, e.id, s.position, s.id`
	rows, err := q.Query(ctx, query, characterID)
	if err != nil {
		return nil, fmt.Errorf("npcstore: effects: %w", err)
	}
	defer rows.Close()

	var out []Effect
	for rows.Next() {
		var (
			id         int64
			name       string
			key, value *string
		)
		if err := rows.Scan(&id, &name, &key, &value); err != nil {
			return nil, fmt.Errorf("npcstore: effects scan: %w", err)
		}
		out = appendEffectRow(out, id, name, deref(key), deref(value), key != nil)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("npcstore: effects: %w", err)
	}
	return out, nil
}

// Snapshot implements [Store] with a read-only REPEATABLE READ transaction.
func (s *PostgresStore) Snapshot(ctx context.Context, characterID int64) (Config, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Config{}, fmt.Errorf("npcstore: snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cfg Config
	err = tx.QueryRow(ctx,
		`SELECT engine, engine_secondary FROM characters WHERE id = $1`, characterID).
		Scan(&cfg.Engine, &cfg.EngineSecondary)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, fmt.Errorf("%w: id %d", ErrNotFound, characterID)
	}
	if err != nil {
		return Config{}, fmt.Errorf("npcstore: snapshot: %w", err)
	}
	if cfg.BaseConfig, err = pgBaseConfig(ctx, tx, characterID); err != nil {
		return Config{}, err
	}
	if cfg.Effects, err = pgEffects(ctx, tx, characterID); err != nil {
		return Config{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Config{}, fmt.Errorf("npcstore: snapshot: commit: %w", err)
	}
	return cfg, nil
}

// ReplaceConfig implements [Store]. Everything runs in one transaction; on
// any error the transaction is rolled back and the previous configuration
// stays in place.
func (s *PostgresStore) ReplaceConfig(ctx context.Context, characterID int64, cfg Config) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("npcstore: replace config: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE characters SET engine = $1, engine_secondary = $2 WHERE id = $3`,
		cfg.Engine, cfg.EngineSecondary, characterID)
	if err != nil {
		return fmt.Errorf("npcstore: replace config: set engine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, characterID)
	}

	for _, stmt := range []string{
		`DELETE FROM effect_settings WHERE effect_id IN (SELECT id FROM effects WHERE character_id = $1)`,
		`DELETE FROM effects WHERE character_id = $1`,
		`DELETE FROM base_tts_config WHERE character_id = $1`,
	} {
		if _, err = tx.Exec(ctx, stmt, characterID); err != nil {
			return fmt.Errorf("npcstore: replace config: clear: %w", err)
		}
	}

	for i, e := range cfg.BaseConfig {
		if _, err = tx.Exec(ctx,
			`INSERT INTO base_tts_config (character_id, position, key, value) VALUES ($1, $2, $3, $4)`,
			characterID, i, e.Key, e.Value); err != nil {
			return fmt.Errorf("npcstore: replace config: insert %q: %w", e.Key, err)
		}
	}

	for i, e := range cfg.Effects {
		var effectID int64
		if err = tx.QueryRow(ctx,
			`INSERT INTO effects (character_id, position, effect_name) VALUES ($1, $2, $3) RETURNING id`,
			characterID, i, e.Name).Scan(&effectID); err != nil {
			return fmt.Errorf("npcstore: replace config: insert effect %q: %w", e.Name, err)
		}
		for j, st := range e.Settings {
			if _, err = tx.Exec(ctx,
				`INSERT INTO effect_settings (effect_id, position, key, value) VALUES ($1, $2, $3, $4)`,
				effectID, j, st.Key, st.Value); err != nil {
				return fmt.Errorf("npcstore: replace config: insert setting %s.%s: %w", e.Name, st.Key, err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("npcstore: replace config: commit: %w", err)
	}
	return nil
}

// AddPhrase implements [Store].
func (s *PostgresStore) AddPhrase(ctx context.Context, characterID int64, text string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO phrases (character_id, text) VALUES ($1, $2) ON CONFLICT (character_id, text) DO NOTHING`,
		characterID, text)
	if err != nil {
		return false, fmt.Errorf("npcstore: add phrase: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
