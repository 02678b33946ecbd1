// Package identity maps NPC display names to their group, gender and
// description using a dataset built offline from game data (see [Build]).
package identity

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/MrWong99/npcvoice/pkg/types"
)

// Dataset gender values.
const (
	GenderMale   = "GENDER_MALE"
	GenderFemale = "GENDER_FEMALE"
)

// Identity is what is known about a named NPC. Identities are immutable once
// loaded.
type Identity struct {
	DisplayName string
	Group       string
	Gender      types.Gender
	Description string
}

// Entry is the on-disk form of one dataset record. Gender is nil when the
// source record has no recognised gender.
type Entry struct {
	Gender      *string `json:"gender"`
	GroupName   string  `json:"group_name"`
	Description string  `json:"description"`
}

// Dataset is the identity dataset file: a JSON object keyed by display name.
type Dataset map[string]Entry

// Resolver looks up identities by exact, case-sensitive display name.
// It is safe for concurrent use; the table is never modified after
// construction.
type Resolver struct {
	byName map[string]Identity
}

// NewResolver builds a Resolver from an in-memory dataset.
func NewResolver(ds Dataset) *Resolver {
	r := &Resolver{byName: make(map[string]Identity, len(ds))}
	for name, e := range ds {
		g := types.GenderNeuter
		if e.Gender != nil {
			switch *e.Gender {
			case GenderMale:
				g = types.GenderMale
			case GenderFemale:
				g = types.GenderFemale
			}
		}
		r.byName[name] = Identity{
			DisplayName: name,
			Group:       e.GroupName,
			Gender:      g,
			Description: e.Description,
		}
	}
	return r
}

// Load reads a dataset file and returns a Resolver for it.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("identity: parse dataset %q: %w", path, err)
	}
	return NewResolver(ds), nil
}

// Resolve returns the identity for displayName. When the name is unknown the
// returned identity carries only the display name and [types.GenderNeuter],
// and ok is false.
func (r *Resolver) Resolve(displayName string) (id Identity, ok bool) {
	if r != nil {
		if id, ok = r.byName[displayName]; ok {
			return id, true
		}
	}
	return Identity{DisplayName: displayName, Gender: types.GenderNeuter}, false
}

// Len returns the number of known identities.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byName)
}
