package canon

import (
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// HashPrefix is the fixed prefix every event_hash carries on the wire.
const HashPrefix = "blake3:"

// HashFields computes the event_hash contract from spec.md §6:
//
//	blake3:hex(blake3(f1 "\t" f2 "\t" f3 "\t" f4 "\t" f5 "\t" f6 "\t" canonical(data) "\n"))
//
// data must already be canonicalized (see CanonicalizeBytes); callers
// pass the canonical bytes directly so that hashing never re-derives
// canonical form from a value that might not round-trip identically.
func HashFields(wallTSUs string, agent string, itc string, parents string, eventType string, itemID string, canonicalData []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(wallTSUs))
	h.Write([]byte{'\t'})
	h.Write([]byte(agent))
	h.Write([]byte{'\t'})
	h.Write([]byte(itc))
	h.Write([]byte{'\t'})
	h.Write([]byte(parents))
	h.Write([]byte{'\t'})
	h.Write([]byte(eventType))
	h.Write([]byte{'\t'})
	h.Write([]byte(itemID))
	h.Write([]byte{'\t'})
	h.Write(canonicalData)
	h.Write([]byte{'\n'})
	sum := h.Sum(nil)
	return HashPrefix + hex.EncodeToString(sum)
}

// HashFile computes the blake3 hash of an entire shard file's bytes, for
// sealed-shard manifests (spec.md §4.3, §6).
func HashFile(content []byte) string {
	h := blake3.New(32, nil)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidHashToken reports whether s is a well-formed "blake3:<hex>" token
// (64 hex characters after the prefix, matching a 32-byte sum). Hex digits
// of either case are accepted.
func ValidHashToken(s string) bool {
	rest, ok := strings.CutPrefix(s, HashPrefix)
	if !ok || len(rest) != 64 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// FormatHashError renders a hash-mismatch message with both sides, used
// by the codec's structured parse errors.
func FormatHashError(expected, computed string) string {
	return fmt.Sprintf("expected %s, computed %s", expected, computed)
}
