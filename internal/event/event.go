// Package event implements the TSJSON event record and its codec
// (spec.md §3, §4.2): an immutable, content-addressed record of a
// work-item state change, and the parser/writer that give it full-fidelity
// round-trip to the on-disk line format.
package event

import (
	"encoding/json"

	"github.com/bobisme/bones/internal/model"
)

// Event is an immutable record of a work-item state change. Fields mirror
// spec.md §3's table exactly; EventHash is the blake3 content address of the
// first 7 fields.
type Event struct {
	WallTSUs  int64           // microseconds, signed, monotonic per-repo
	Agent     string          // writer identity; no tab/newline bytes
	ITC       string          // opaque causal-clock stamp text
	Parents   []string        // "blake3:<hex>" tokens, ordered
	Type      model.EventType // one of the 11 catalog verbs
	ItemID    model.ItemID
	Data      json.RawMessage // canonical JSON; schema depends on Type
	EventHash string          // "blake3:" + hex(blake3(fields 1-7))
}

// Clone returns a deep copy safe to mutate independently of e.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Parents != nil {
		cp.Parents = append([]string(nil), e.Parents...)
	}
	if e.Data != nil {
		cp.Data = append(json.RawMessage(nil), e.Data...)
	}
	return &cp
}

// CreateData is the payload for model.EventCreate.
type CreateData struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Kind        model.Kind    `json:"kind"`
	Size        *model.Size   `json:"size,omitempty"`
	Urgency     model.Urgency `json:"urgency"`
	Parent      *model.ItemID `json:"parent,omitempty"`
	Labels      []string      `json:"labels,omitempty"`
}

// UpdateData is the payload for model.EventUpdate. Value's shape depends
// on Field: a JSON string for title/description/kind/size/urgency/parent,
// or {"action":"add"|"remove","label":"..."} for labels.
type UpdateData struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// LabelUpdateValue is UpdateData.Value's shape when Field == "labels".
type LabelUpdateValue struct {
	Action model.LabelAction `json:"action"`
	Label  string            `json:"label"`
}

// MoveData is the payload for model.EventMove.
type MoveData struct {
	State model.Phase `json:"state"`
}

// AssignData is the payload for model.EventAssign.
type AssignData struct {
	Action model.AssignAction `json:"action"`
	Agent  string              `json:"agent"`
}

// CommentData is the payload for model.EventComment.
type CommentData struct {
	Body string `json:"body"`
}

// LinkData is the payload for model.EventLink.
type LinkData struct {
	Target   model.ItemID  `json:"target"`
	LinkType model.LinkType `json:"link_type"`
}

// UnlinkData is the payload for model.EventUnlink. LinkType is optional:
// when absent, blocked_by, blocks and related_to are all cleared for Target
// (original_source bones-core crdt/item_state.rs's is_none_or behavior).
type UnlinkData struct {
	Target   model.ItemID    `json:"target"`
	LinkType *model.LinkType `json:"link_type,omitempty"`
}

// DeleteData is the payload for model.EventDelete.
type DeleteData struct {
	Reason string `json:"reason,omitempty"`
}

// CompactData is the payload for model.EventCompact.
type CompactData struct {
	Summary string `json:"summary"`
}

// SnapshotData is the payload for model.EventSnapshot: an opaque,
// projector-consumed materialization used to bound replay cost after log
// compaction. The core engine treats it as a no-op at the CRDT layer
// (spec.md §4.5) and hands it to the projector unexamined.
type SnapshotData struct {
	AsOfWallTSUs int64           `json:"as_of_wall_ts_us"`
	State        json.RawMessage `json:"state"`
}

// RedactData is the payload for model.EventRedact.
type RedactData struct {
	Target string `json:"target"` // event_hash of the redacted event
	Reason string `json:"reason,omitempty"`
}
