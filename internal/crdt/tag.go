// Package crdt implements the field-level CRDT primitives spec.md §4.5
// names — LWW register, OR-Set, G-Set, Epoch+Phase — and the composite
// WorkItemState aggregate that folds an item's event stream into a
// mergeable, commutative/associative/idempotent state.
//
// Grounded on the original Rust implementation's
// crates/bones-core/src/crdt/item_state.rs, reworked into idiomatic Go:
// generic register/set types instead of per-field hand duplication, and
// a directly-constructed (wall_ts, agent, hash) tie-break tuple in place
// of the Rust prototype's synthetic ITC-stamp derivation (SPEC_FULL.md
// §4.11 explains why the simpler tuple gives the same guarantee).
package crdt

// Tag is the deterministic witness attached to every LWW write and every
// OR-Set add: the event's wall-clock time, writer identity, and content
// hash. Comparing two tags lexicographically on (WallTSUs, Agent, Hash)
// gives the total order spec.md §4.5 specifies for LWW tie-breaking.
type Tag struct {
	WallTSUs int64
	Agent    string
	Hash     string
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after o.
func (t Tag) Compare(o Tag) int {
	if t.WallTSUs != o.WallTSUs {
		if t.WallTSUs < o.WallTSUs {
			return -1
		}
		return 1
	}
	if t.Agent != o.Agent {
		if t.Agent < o.Agent {
			return -1
		}
		return 1
	}
	if t.Hash != o.Hash {
		if t.Hash < o.Hash {
			return -1
		}
		return 1
	}
	return 0
}

// After reports whether t strictly follows o in the tie-break order.
func (t Tag) After(o Tag) bool { return t.Compare(o) > 0 }
