package crdt

// ORSet is an add-wins observed-remove set: every add is witnessed by a
// unique tag, and a local remove only deletes the tags the remover has
// actually observed. Merging two replicas unions their per-element tag
// sets, so a concurrent add the remover never saw survives the merge —
// the "add wins" property spec.md §4.5 requires for labels, assignees,
// and link edges.
type ORSet[T comparable] struct {
	tags map[T]map[Tag]struct{}
}

// NewORSet returns an empty OR-Set.
func NewORSet[T comparable]() ORSet[T] {
	return ORSet[T]{tags: make(map[T]map[Tag]struct{})}
}

// Add records a witnessed add of elem under tag.
func (s ORSet[T]) Add(elem T, tag Tag) ORSet[T] {
	next := s.clone()
	if next.tags[elem] == nil {
		next.tags[elem] = make(map[Tag]struct{})
	}
	next.tags[elem][tag] = struct{}{}
	return next
}

// Remove deletes every tag this replica currently knows for elem. A
// concurrent add observed by another replica but not yet merged into
// this one is untouched, and reappears once merged — the defining OR-Set
// behavior.
func (s ORSet[T]) Remove(elem T) ORSet[T] {
	next := s.clone()
	delete(next.tags, elem)
	return next
}

// Has reports whether elem currently has any live witnessing tag.
func (s ORSet[T]) Has(elem T) bool {
	return len(s.tags[elem]) > 0
}

// Elements returns every element with at least one live tag, in no
// particular order.
func (s ORSet[T]) Elements() []T {
	out := make([]T, 0, len(s.tags))
	for elem, tagset := range s.tags {
		if len(tagset) > 0 {
			out = append(out, elem)
		}
	}
	return out
}

// Merge unions each element's tag set across both replicas. Union is
// commutative, associative, and idempotent, so ORSet.Merge inherits those
// properties directly (spec.md §8).
func (s ORSet[T]) Merge(o ORSet[T]) ORSet[T] {
	next := s.clone()
	for elem, tagset := range o.tags {
		if next.tags[elem] == nil {
			next.tags[elem] = make(map[Tag]struct{})
		}
		for tag := range tagset {
			next.tags[elem][tag] = struct{}{}
		}
	}
	return next
}

func (s ORSet[T]) clone() ORSet[T] {
	next := NewORSet[T]()
	for elem, tagset := range s.tags {
		cp := make(map[Tag]struct{}, len(tagset))
		for tag := range tagset {
			cp[tag] = struct{}{}
		}
		next.tags[elem] = cp
	}
	return next
}
