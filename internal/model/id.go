// Package model holds the opaque identifier and enumeration types shared
// by every layer of bones: the event codec, the CRDT aggregate, and the
// projection cache.
package model

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefix is the item-id prefix used when the caller does not
// configure one (teacher parity: bd defaults to "bd-").
const DefaultPrefix = "bn"

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9]*-[a-z0-9]{4,12}$`)

const syllableConsonants = "bcdfghjklmnprstvwxz"
const syllableVowels = "aeiou"

// ItemID is an opaque, short, human-pronounceable work-item handle, e.g.
// "bn-kavo3t". Equality and ordering are plain string comparison.
type ItemID string

// String returns the id text.
func (id ItemID) String() string { return string(id) }

// Valid reports whether id matches the bones id grammar: a lowercase
// alnum prefix, a hyphen, and a 4-12 character lowercase-alnum suffix.
func (id ItemID) Valid() bool {
	return idPattern.MatchString(string(id))
}

// NewItemID generates a new random, pronounceable item id under prefix.
// Pronounceability comes from alternating consonant/vowel syllables,
// matching the intent of the teacher's hierarchical short-id scheme
// without the hierarchy: bones ids are always flat opaque handles.
func NewItemID(prefix string) (ItemID, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	suffix, err := randomSyllables(3)
	if err != nil {
		return "", err
	}
	id := ItemID(prefix + "-" + suffix)
	if !id.Valid() {
		return "", fmt.Errorf("model: generated id %q failed validation", id)
	}
	return id, nil
}

func randomSyllables(n int) (string, error) {
	var b strings.Builder
	buf := make([]byte, n*2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("model: reading random bytes: %w", err)
	}
	for i := 0; i < n; i++ {
		b.WriteByte(syllableConsonants[int(buf[i*2])%len(syllableConsonants)])
		b.WriteByte(syllableVowels[int(buf[i*2+1])%len(syllableVowels)])
	}
	return b.String(), nil
}
