// Package clipcache derives cache keys for rendered utterances and stores the
// rendered clips on disk.
//
// The presence of a non-empty file at a key's path is the only record that a
// line has been rendered; there is no separate index. Files are written to a
// temporary name in the target directory and renamed into place, so a reader
// never observes a partially written clip.
package clipcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// Ext is the file extension of every rendered clip.
	Ext = ".ogg"

	// Nameless is the directory used for speakers whose name is empty after
	// normalization.
	Nameless = "nameless"

	hashPrefixLen = 5
	fragmentLen   = 10
	defaultRank   = "0"
)

// isWord reports whether r is a word rune: a letter, a digit, or underscore.
func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// StripNonWord removes every rune that is not a letter, digit, or underscore.
func StripNonWord(s string) string {
	return strings.Map(func(r rune) rune {
		if isWord(r) {
			return r
		}
		return -1
	}, s)
}

// Key returns the cache key for message spoken at the given rank.
//
// The key is the first five hex digits of the SHA-256 of the original message,
// an underscore, the first ten word runes of the message, the first word rune
// of rank ("0" when rank has none) and [Ext]. The key is always a single
// path element. The speaker is not part of the key;
// it only selects the directory (see [NormalizeName]).
//
// Distinct messages that share the readable fragment collide only when their
// hash prefixes also collide, which is accepted as best-effort caching.
func Key(message, rank string) string {
	sum := sha256.Sum256([]byte(message))
	prefix := hex.EncodeToString(sum[:])[:hashPrefixLen]

	fragment := []rune(StripNonWord(message))
	if len(fragment) > fragmentLen {
		fragment = fragment[:fragmentLen]
	}

	discriminator := defaultRank
	for _, r := range StripNonWord(rank) {
		discriminator = string(r)
		break
	}

	var b strings.Builder
	b.Grow(len(prefix) + 1 + len(string(fragment)) + len(discriminator) + len(Ext))
	b.WriteString(prefix)
	b.WriteByte('_')
	b.WriteString(string(fragment))
	b.WriteString(discriminator)
	b.WriteString(Ext)
	return b.String()
}

// NormalizeName cleans a speaker name for use as a directory name. Non-word
// runes are removed; an empty result maps to [Nameless].
func NormalizeName(speaker string) string {
	name := StripNonWord(speaker)
	if name == "" {
		return Nameless
	}
	return name
}
