// Package dag builds the in-memory hash-keyed graph of events and
// provides the deterministic derived views spec.md §3/§4.4 require:
// topological order, tips, lowest-common-ancestor, and divergent-branch
// replay.
//
// Grounded on the teacher's edge-table modeling of graph data (the
// dependencies table in internal/storage/sqlite/schema.go represents
// issue-to-issue edges as rows rather than pointers) and spec.md §9's
// explicit redesign note: "store events in a flat table keyed by hash and
// represent edges as (child_hash, parent_hash) pairs; walks are index
// lookups, not pointer chases."
package dag

import (
	"fmt"
	"sort"

	"github.com/bobisme/bones/internal/event"
)

// DAG is the event graph: nodes keyed by event_hash, edges child→parent
// derived from each event's Parents field.
type DAG struct {
	nodes    map[string]*event.Event
	children map[string][]string // parent_hash -> child hashes
}

// Build constructs a DAG from a set of events. Duplicate hashes (the same
// event observed twice) collapse to one node, per spec.md §3's identity
// rule. Parents referencing a hash not present in events are kept as
// dangling edges (the node simply has no corresponding entry in nodes);
// callers that require closure should pass a complete event set.
func Build(events []*event.Event) *DAG {
	d := &DAG{
		nodes:    make(map[string]*event.Event, len(events)),
		children: make(map[string][]string),
	}
	for _, e := range events {
		if _, exists := d.nodes[e.EventHash]; exists {
			continue
		}
		d.nodes[e.EventHash] = e
		for _, p := range e.Parents {
			d.children[p] = append(d.children[p], e.EventHash)
		}
	}
	return d
}

// Len returns the number of distinct event nodes.
func (d *DAG) Len() int { return len(d.nodes) }

// Event returns the event for hash, if present.
func (d *DAG) Event(hash string) (*event.Event, bool) {
	e, ok := d.nodes[hash]
	return e, ok
}

// Tips returns the hashes of every node with no children, i.e. events
// that are not a parent of any other known event.
func (d *DAG) Tips() []string {
	var tips []string
	for hash := range d.nodes {
		if len(d.children[hash]) == 0 {
			tips = append(tips, hash)
		}
	}
	sort.Strings(tips)
	return tips
}

// tieBreakLess orders events by (wall_ts, event_hash), the stable
// tie-break tuple spec.md §4.4 and §9 require for deterministic
// linearization across machines.
func tieBreakLess(a, b *event.Event) bool {
	if a.WallTSUs != b.WallTSUs {
		return a.WallTSUs < b.WallTSUs
	}
	return a.EventHash < b.EventHash
}

// TopologicalOrder returns a deterministic linearization of every node
// via Kahn's algorithm, breaking ties among concurrently-ready nodes with
// tieBreakLess (spec.md §4.4). It is computed purely from the hash/parent
// structure, so two DAGs built from the same event multiset always
// produce identical output (spec.md §8's determinism property).
func (d *DAG) TopologicalOrder() ([]*event.Event, error) {
	indegree := make(map[string]int, len(d.nodes))
	for hash, e := range d.nodes {
		n := 0
		for _, p := range e.Parents {
			if _, ok := d.nodes[p]; ok {
				n++
			}
		}
		indegree[hash] = n
	}

	ready := make([]*event.Event, 0)
	for hash, n := range indegree {
		if n == 0 {
			ready = append(ready, d.nodes[hash])
		}
	}
	sort.Slice(ready, func(i, j int) bool { return tieBreakLess(ready[i], ready[j]) })

	order := make([]*event.Event, 0, len(d.nodes))
	for len(ready) > 0 {
		// Pop the smallest by tie-break (ready stays sorted by re-sorting
		// after each insertion; event counts here are bounded by log
		// size, not hot-path throughput, so O(n log n) is acceptable).
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []*event.Event
		for _, childHash := range d.children[next.EventHash] {
			indegree[childHash]--
			if indegree[childHash] == 0 {
				newlyReady = append(newlyReady, d.nodes[childHash])
			}
		}
		if len(newlyReady) > 0 {
			ready = append(ready, newlyReady...)
			sort.Slice(ready, func(i, j int) bool { return tieBreakLess(ready[i], ready[j]) })
		}
	}

	if len(order) != len(d.nodes) {
		return nil, fmt.Errorf("dag: cycle detected (processed %d of %d nodes)", len(order), len(d.nodes))
	}
	return order, nil
}

// Ancestors returns the set of hashes reachable from hash by following
// Parents edges, not including hash itself.
func (d *DAG) Ancestors(hash string) map[string]bool {
	seen := make(map[string]bool)
	var visit func(h string)
	visit = func(h string) {
		e, ok := d.nodes[h]
		if !ok {
			return
		}
		for _, p := range e.Parents {
			if !seen[p] {
				seen[p] = true
				visit(p)
			}
		}
	}
	visit(hash)
	return seen
}
