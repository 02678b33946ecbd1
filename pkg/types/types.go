// Package types defines the shared types used across all npcvoice packages.
//
// These types form the lingua franca between TTS engines, the character store,
// the render pipeline, and the log tail producer. Each package defines its own
// domain types; cross-cutting data structures live here to avoid circular
// imports.
package types

import "strings"

// Gender is the grammatical voice gender used for voice selection.
type Gender string

const (
	// GenderMale selects male voices.
	GenderMale Gender = "Male"

	// GenderFemale selects female voices.
	GenderFemale Gender = "Female"

	// GenderNeuter means the gender is unknown; no gender-based filtering
	// is applied.
	GenderNeuter Gender = "Neuter"
)

// ParseGender maps free-form gender text to a [Gender] by substring match.
// "female" is checked before "male" because the former contains the latter.
// ok is false when the text mentions neither.
func ParseGender(s string) (g Gender, ok bool) {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "female"):
		return GenderFemale, true
	case strings.Contains(lower, "male"):
		return GenderMale, true
	}
	return GenderNeuter, false
}

// Category classifies who is speaking a line. It selects the top-level
// directory in the clip library.
type Category string

const (
	CategoryNPC    Category = "npc"
	CategoryPlayer Category = "player"
	CategorySystem Category = "system"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNPC, CategoryPlayer, CategorySystem:
		return true
	}
	return false
}

// Utterance is a single line of dialogue observed by a producer (the log tail
// or a CLI invocation) and handed to the speech worker.
type Utterance struct {
	// ID is a unique job identifier assigned when the utterance is enqueued.
	ID string

	// Speaker is the raw display name as it appeared in the source.
	Speaker string

	// Message is the line of dialogue, unmodified.
	Message string

	// Rank distinguishes otherwise-identical messages (e.g. delivery variant).
	Rank string

	// Category selects the clip library section and the character category
	// used when the speaker is seen for the first time.
	Category Category
}

// VoiceProfile describes a TTS voice configuration for a character.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	// Engines that know a voice's gender store it under the "gender" key.
	Metadata map[string]string
}

// Gender returns the gender recorded in the profile metadata, or
// [GenderNeuter] when the provider does not report one.
func (v VoiceProfile) Gender() Gender {
	g, _ := ParseGender(v.Metadata["gender"])
	return g
}
