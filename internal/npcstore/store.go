// Package npcstore persists characters and their voice configuration: the
// engine binding, ordered base TTS settings, the ordered effect chain with its
// settings, and the phrases each character has spoken.
//
// Two backends are provided: [SQLiteStore] (default, a single local file) and
// [PostgresStore] for shared deployments. Both replace a character's
// configuration in a single transaction.
package npcstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/npcvoice/pkg/types"
)

// DefaultCharacter is the character that exists after migration. It speaks
// system announcements.
const DefaultCharacter = "default"

// ErrNotFound is returned when a character does not exist.
var ErrNotFound = errors.New("npcstore: character not found")

// Character is a named speaker with its engine binding.
type Character struct {
	ID              int64
	Name            string
	Engine          string
	EngineSecondary string
	Category        types.Category
}

// ConfigEntry is one base TTS setting. Order is preserved.
type ConfigEntry struct {
	Key   string
	Value string
}

// Setting is one effect parameter. Order is preserved.
type Setting struct {
	Key   string
	Value string
}

// Effect is one persisted entry of a character's effect chain.
type Effect struct {
	ID       int64
	Name     string
	Settings []Setting
}

// Config is the full replaceable voice configuration of a character.
type Config struct {
	Engine          string
	EngineSecondary string
	BaseConfig      []ConfigEntry
	Effects         []Effect
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	for i, e := range c.BaseConfig {
		if strings.TrimSpace(e.Key) == "" {
			errs = append(errs, fmt.Errorf("npcstore: base_config[%d]: key is required", i))
		}
	}
	for i, e := range c.Effects {
		if strings.TrimSpace(e.Name) == "" {
			errs = append(errs, fmt.Errorf("npcstore: effects[%d]: name is required", i))
		}
		for j, s := range e.Settings {
			if strings.TrimSpace(s.Key) == "" {
				errs = append(errs, fmt.Errorf("npcstore: effects[%d] %q setting %d: key is required", i, e.Name, j))
			}
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the value of the first base-config entry with key.
func Lookup(entries []ConfigEntry, key string) (string, bool) {
	for _, e := range entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Store persists characters and their configuration.
// Implementations must be safe for concurrent use.
type Store interface {
	// Migrate creates the schema if needed and ensures the default character
	// exists.
	Migrate(ctx context.Context) error

	// EnsureCharacter returns the character called name, creating it with
	// category if it does not exist. created reports whether it was created.
	EnsureCharacter(ctx context.Context, name string, category types.Category) (c Character, created bool, err error)

	// Character returns the character called name, or [ErrNotFound].
	Character(ctx context.Context, name string) (Character, error)

	// List returns all characters ordered by name.
	List(ctx context.Context) ([]Character, error)

	// BaseConfig returns the character's base TTS settings in order.
	BaseConfig(ctx context.Context, characterID int64) ([]ConfigEntry, error)

	// Effects returns the character's effect chain in order, each with its
	// settings in order.
	Effects(ctx context.Context, characterID int64) ([]Effect, error)

	// Snapshot returns the character's engines, base config and effect
	// chain as read in a single transaction, so a concurrent ReplaceConfig
	// is seen either entirely or not at all. A missing character yields
	// [ErrNotFound].
	Snapshot(ctx context.Context, characterID int64) (Config, error)

	// ReplaceConfig atomically replaces the character's engines, base
	// config and effect chain. On error nothing changes.
	ReplaceConfig(ctx context.Context, characterID int64, cfg Config) error

	// AddPhrase records text as spoken by the character. created is false
	// when the phrase was already known.
	AddPhrase(ctx context.Context, characterID int64, text string) (created bool, err error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("npcstore: character name is required")
	}
	return nil
}

func defaultCategory(c types.Category) types.Category {
	if c == "" {
		return types.CategoryNPC
	}
	return c
}
