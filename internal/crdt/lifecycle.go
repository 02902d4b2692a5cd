package crdt

import "github.com/bobisme/bones/internal/model"

// Lifecycle is the Epoch+Phase lattice spec.md §4.5 names for item
// lifecycle state: Phase advances open < doing < done < archived within
// an epoch, and moving "backward" (e.g. done -> doing, a reopen) instead
// increments Epoch and resets Phase, so two replicas that both reopen
// independently still converge instead of racing over which backward
// move wins.
//
// Grounded on the Rust original's apply_phase_transition
// (crates/bones-core/src/crdt/item_state.rs): a move to a phase that is
// not strictly forward within the current epoch starts a new epoch at
// that phase rather than rejecting or silently dropping the event.
type Lifecycle struct {
	Epoch uint64
	Phase model.Phase
	Tag   Tag
	Set   bool
}

// Transition applies a requested move to phase, tagged by tag, following
// the forward-within-epoch / reopen-bumps-epoch rule. It does not
// consult Tag for ordering (unlike LWW) because every move is meaningful
// regardless of arrival order: a move is a state-lattice advance, not an
// overwrite, so Transition is applied once per event in event order, and
// the result already merges correctly with Merge's per-field max.
func (l Lifecycle) Transition(phase model.Phase, tag Tag) Lifecycle {
	if !l.Set {
		return Lifecycle{Epoch: 0, Phase: phase, Tag: tag, Set: true}
	}
	if phase.Ord() > l.Phase.Ord() {
		return Lifecycle{Epoch: l.Epoch, Phase: phase, Tag: tag, Set: true}
	}
	if phase.Ord() == l.Phase.Ord() {
		// Same phase re-asserted (e.g. replay, or two writers moving to
		// the same state): keep the later tag but don't bump the epoch.
		if tag.After(l.Tag) {
			return Lifecycle{Epoch: l.Epoch, Phase: phase, Tag: tag, Set: true}
		}
		return l
	}
	// Backward move: reopen. Start a new epoch at the requested phase.
	return Lifecycle{Epoch: l.Epoch + 1, Phase: phase, Tag: tag, Set: true}
}

// Merge resolves two lifecycle replicas to the one that is "further
// along": the higher epoch wins outright (a reopen dominates any
// same-epoch progress, since it represents strictly more information);
// within the same epoch, the higher phase wins; ties use Tag to stay
// deterministic. This ordering is a total order over (Epoch, Phase.Ord),
// so Merge is commutative, associative, and idempotent (spec.md §8).
func (l Lifecycle) Merge(o Lifecycle) Lifecycle {
	if !l.Set {
		return o
	}
	if !o.Set {
		return l
	}
	if l.Epoch != o.Epoch {
		if l.Epoch > o.Epoch {
			return l
		}
		return o
	}
	if l.Phase.Ord() != o.Phase.Ord() {
		if l.Phase.Ord() > o.Phase.Ord() {
			return l
		}
		return o
	}
	if o.Tag.After(l.Tag) {
		return o
	}
	return l
}
