package dag

import (
	"fmt"
	"sort"

	"github.com/bobisme/bones/internal/event"
)

// LCA returns the lowest common ancestor of a and b: among the hashes
// that are ancestors-or-self of both, the one that is itself not an
// ancestor of any other such candidate (i.e. the most recent common
// ancestor). spec.md §4.4 requires "a post-merge fork must resolve to a
// post-merge LCA, not the root" — excluding candidates that are
// ancestors of other candidates is exactly what promotes a later merge
// point over the root it descends from. Ties among multiple maximal
// candidates (possible in a general DAG with more than one merge point
// at the same depth) are broken with tieBreakLess, picking the most
// recent by (wall_ts, hash) so the result is deterministic.
func (d *DAG) LCA(a, b string) (string, error) {
	if a == b {
		return a, nil
	}
	if _, ok := d.nodes[a]; !ok {
		return "", fmt.Errorf("dag: unknown hash %s", a)
	}
	if _, ok := d.nodes[b]; !ok {
		return "", fmt.Errorf("dag: unknown hash %s", b)
	}

	ancA := d.Ancestors(a)
	ancA[a] = true
	ancB := d.Ancestors(b)
	ancB[b] = true

	var common []string
	for h := range ancA {
		if ancB[h] {
			common = append(common, h)
		}
	}
	if len(common) == 0 {
		return "", fmt.Errorf("dag: no common ancestor between %s and %s", a, b)
	}

	commonSet := make(map[string]bool, len(common))
	for _, h := range common {
		commonSet[h] = true
	}

	var maximal []string
	for _, h := range common {
		isAncestorOfOther := false
		for _, other := range common {
			if other == h {
				continue
			}
			if d.Ancestors(other)[h] {
				isAncestorOfOther = true
				break
			}
		}
		if !isAncestorOfOther {
			maximal = append(maximal, h)
		}
	}

	sort.Slice(maximal, func(i, j int) bool {
		return tieBreakLess(d.nodes[maximal[j]], d.nodes[maximal[i]]) // descending: most recent first
	})
	return maximal[0], nil
}

// DivergentReplay is the result of reconciling two tip hashes on the same
// DAG (spec.md §4.4).
type DivergentReplay struct {
	LCA     string
	Merged  []*event.Event // deterministic merged order of both branches' unique events
}

// ReplayDivergent finds the LCA of a and b, then returns the events
// unique to each branch (excluding the LCA's own history) in one
// deterministic merged order. The operation is symmetric:
// ReplayDivergent(d,a,b).Merged == ReplayDivergent(d,b,a).Merged, and
// both report the same LCA, because the branch sets are computed as set
// differences and the final ordering is a pure function of the resulting
// set (spec.md §8).
func (d *DAG) ReplayDivergent(a, b string) (*DivergentReplay, error) {
	lca, err := d.LCA(a, b)
	if err != nil {
		return nil, err
	}

	excluded := d.Ancestors(lca)
	excluded[lca] = true

	branchA := d.Ancestors(a)
	branchA[a] = true
	branchB := d.Ancestors(b)
	branchB[b] = true

	unique := make(map[string]*event.Event)
	for h := range branchA {
		if !excluded[h] {
			unique[h] = d.nodes[h]
		}
	}
	for h := range branchB {
		if !excluded[h] {
			unique[h] = d.nodes[h]
		}
	}

	events := make([]*event.Event, 0, len(unique))
	for _, e := range unique {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return tieBreakLess(events[i], events[j]) })

	return &DivergentReplay{LCA: lca, Merged: events}, nil
}
