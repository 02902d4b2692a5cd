// Package crdt's aggregate.go folds a work item's event stream into a
// single mergeable WorkItemState, the composite CRDT spec.md §4.5
// describes as "one LWW/OR-Set/lattice per field, merged field-wise."
//
// Grounded on crates/bones-core/src/crdt/item_state.rs's apply_event: the
// same per-event-type dispatch, reworked as a Go switch over
// model.EventType instead of a Rust match over an enum.
package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/model"
)

// Comment is one append-only comment, keyed by the hash of the event that
// created it so duplicate application (e.g. replaying the same comment
// event twice) does not double-insert it.
type Comment struct {
	EventHash string
	Tag       Tag
	Body      string
}

// WorkItemState is the fully-merged CRDT state of one work item: every
// field is its own register or set, composed so the whole struct merges
// field-by-field and therefore inherits commutativity, associativity,
// and idempotence from its parts (spec.md §8).
type WorkItemState struct {
	ItemID model.ItemID

	Title       LWW[string]
	Description LWW[string]
	Kind        LWW[model.Kind]
	Size        LWW[*model.Size]
	Urgency     LWW[model.Urgency]
	Parent      LWW[*model.ItemID]
	Deleted     LWW[bool]
	DeleteReason LWW[string]

	Lifecycle Lifecycle

	Labels    ORSet[string]
	Assignees ORSet[string]
	BlockedBy ORSet[model.ItemID]
	Blocks    ORSet[model.ItemID]
	RelatedTo ORSet[model.ItemID]

	Comments GSet[Comment]

	// applied tracks event hashes already folded in, so ApplyEvent is
	// idempotent on exact duplicates even though most of its component
	// operations (LWW.Assign, Lifecycle.Transition) are not inherently
	// safe to run twice with a stamp strictly equal to the current one.
	applied GSet[string]
}

// NewWorkItemState returns an empty, mergeable state for id.
func NewWorkItemState(id model.ItemID) WorkItemState {
	return WorkItemState{
		ItemID:    id,
		Labels:    NewORSet[string](),
		Assignees: NewORSet[string](),
		BlockedBy: NewORSet[model.ItemID](),
		Blocks:    NewORSet[model.ItemID](),
		RelatedTo: NewORSet[model.ItemID](),
		Comments:  NewGSet[Comment](),
		applied:   NewGSet[string](),
	}
}

// ApplyEvent folds e into s and returns the updated state. e must already
// be validated (internal/event.Parse or schema.ValidateData) and must
// belong to this item (e.ItemID == s.ItemID), which callers are expected
// to enforce before dispatch.
func (s WorkItemState) ApplyEvent(e *event.Event) (WorkItemState, error) {
	if s.applied.Has(e.EventHash) {
		return s, nil
	}
	tag := Tag{WallTSUs: e.WallTSUs, Agent: e.Agent, Hash: e.EventHash}
	next := s
	next.applied = s.applied.Insert(e.EventHash)

	switch e.Type {
	case model.EventCreate:
		var d event.CreateData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding create data: %w", err)
		}
		next.Title = next.Title.Assign(d.Title, tag)
		next.Description = next.Description.Assign(d.Description, tag)
		next.Kind = next.Kind.Assign(d.Kind, tag)
		next.Size = next.Size.Assign(d.Size, tag)
		next.Urgency = next.Urgency.Assign(d.Urgency, tag)
		next.Parent = next.Parent.Assign(d.Parent, tag)
		next.Lifecycle = next.Lifecycle.Transition(model.PhaseOpen, tag)
		for _, label := range d.Labels {
			next.Labels = next.Labels.Add(label, tag)
		}

	case model.EventUpdate:
		var d event.UpdateData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding update data: %w", err)
		}
		if err := next.applyUpdate(d, tag); err != nil {
			return s, err
		}

	case model.EventMove:
		var d event.MoveData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding move data: %w", err)
		}
		next.Lifecycle = next.Lifecycle.Transition(d.State, tag)

	case model.EventAssign:
		var d event.AssignData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding assign data: %w", err)
		}
		switch d.Action {
		case model.AssignAdd:
			next.Assignees = next.Assignees.Add(d.Agent, tag)
		case model.AssignRemove:
			next.Assignees = next.Assignees.Remove(d.Agent)
		default:
			return s, fmt.Errorf("crdt: unknown assign action %q", d.Action)
		}

	case model.EventComment:
		var d event.CommentData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding comment data: %w", err)
		}
		next.Comments = next.Comments.Insert(Comment{EventHash: e.EventHash, Tag: tag, Body: d.Body})

	case model.EventLink:
		var d event.LinkData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding link data: %w", err)
		}
		next.addLink(d.LinkType, d.Target, tag)

	case model.EventUnlink:
		var d event.UnlinkData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding unlink data: %w", err)
		}
		next.removeLink(d.LinkType, d.Target)

	case model.EventDelete:
		var d event.DeleteData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding delete data: %w", err)
		}
		next.Deleted = next.Deleted.Assign(true, tag)
		if d.Reason != "" {
			next.DeleteReason = next.DeleteReason.Assign(d.Reason, tag)
		}

	case model.EventCompact:
		var d event.CompactData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return s, fmt.Errorf("crdt: decoding compact data: %w", err)
		}
		next.Description = next.Description.Assign(d.Summary, tag)

	case model.EventSnapshot, model.EventRedact:
		// No-op at the CRDT layer (SPEC_FULL.md §4.11): snapshots are a
		// projector-level replay shortcut and redactions are handled by
		// the projector rewriting cache rows, not by altering CRDT state.

	default:
		return s, fmt.Errorf("crdt: unknown event type %q", e.Type)
	}

	return next, nil
}

func (s *WorkItemState) applyUpdate(d event.UpdateData, tag Tag) error {
	if d.Field == "labels" {
		var lv event.LabelUpdateValue
		if err := json.Unmarshal(d.Value, &lv); err != nil {
			return fmt.Errorf("crdt: decoding label update value: %w", err)
		}
		switch lv.Action {
		case model.LabelAdd:
			s.Labels = s.Labels.Add(lv.Label, tag)
		case model.LabelRemove:
			s.Labels = s.Labels.Remove(lv.Label)
		default:
			return fmt.Errorf("crdt: unknown label action %q", lv.Action)
		}
		return nil
	}

	switch d.Field {
	case "title":
		var v string
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return fmt.Errorf("crdt: decoding title update: %w", err)
		}
		s.Title = s.Title.Assign(v, tag)
	case "description":
		var v string
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return fmt.Errorf("crdt: decoding description update: %w", err)
		}
		s.Description = s.Description.Assign(v, tag)
	case "kind":
		var v model.Kind
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return fmt.Errorf("crdt: decoding kind update: %w", err)
		}
		s.Kind = s.Kind.Assign(v, tag)
	case "size":
		var v *model.Size
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return fmt.Errorf("crdt: decoding size update: %w", err)
		}
		s.Size = s.Size.Assign(v, tag)
	case "urgency":
		var v model.Urgency
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return fmt.Errorf("crdt: decoding urgency update: %w", err)
		}
		s.Urgency = s.Urgency.Assign(v, tag)
	case "parent":
		var v *model.ItemID
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return fmt.Errorf("crdt: decoding parent update: %w", err)
		}
		s.Parent = s.Parent.Assign(v, tag)
	default:
		return fmt.Errorf("crdt: unknown update field %q", d.Field)
	}
	return nil
}

func (s *WorkItemState) addLink(lt model.LinkType, target model.ItemID, tag Tag) {
	switch lt {
	case model.LinkBlockedBy:
		s.BlockedBy = s.BlockedBy.Add(target, tag)
	case model.LinkBlocks:
		s.Blocks = s.Blocks.Add(target, tag)
	case model.LinkRelatedTo, model.LinkRelated:
		s.RelatedTo = s.RelatedTo.Add(target, tag)
	}
}

func (s *WorkItemState) removeLink(lt *model.LinkType, target model.ItemID) {
	if lt == nil {
		// original_source bones-core's is_none_or: an absent link_type
		// clears every edge kind this item holds toward target.
		s.BlockedBy = s.BlockedBy.Remove(target)
		s.Blocks = s.Blocks.Remove(target)
		s.RelatedTo = s.RelatedTo.Remove(target)
		return
	}
	switch *lt {
	case model.LinkBlockedBy:
		s.BlockedBy = s.BlockedBy.Remove(target)
	case model.LinkBlocks:
		s.Blocks = s.Blocks.Remove(target)
	case model.LinkRelatedTo, model.LinkRelated:
		s.RelatedTo = s.RelatedTo.Remove(target)
	}
}

// Merge combines two replicas of the same item's state field-by-field.
// Because every field type's own Merge is commutative, associative, and
// idempotent, the composite inherits all three properties: the order two
// branches are merged in, and how many times, never changes the result
// (spec.md §8).
func (s WorkItemState) Merge(o WorkItemState) WorkItemState {
	if s.ItemID == "" {
		return o
	}
	if o.ItemID == "" {
		return s
	}
	return WorkItemState{
		ItemID:       s.ItemID,
		Title:        s.Title.Merge(o.Title),
		Description:  s.Description.Merge(o.Description),
		Kind:         s.Kind.Merge(o.Kind),
		Size:         s.Size.Merge(o.Size),
		Urgency:      s.Urgency.Merge(o.Urgency),
		Parent:       s.Parent.Merge(o.Parent),
		Deleted:      s.Deleted.Merge(o.Deleted),
		DeleteReason: s.DeleteReason.Merge(o.DeleteReason),
		Lifecycle:    s.Lifecycle.Merge(o.Lifecycle),
		Labels:       s.Labels.Merge(o.Labels),
		Assignees:    s.Assignees.Merge(o.Assignees),
		BlockedBy:    s.BlockedBy.Merge(o.BlockedBy),
		Blocks:       s.Blocks.Merge(o.Blocks),
		RelatedTo:    s.RelatedTo.Merge(o.RelatedTo),
		Comments:     s.Comments.Merge(o.Comments),
		applied:      s.applied.Merge(o.applied),
	}
}

// Replay folds an ordered sequence of events (e.g. from dag.TopologicalOrder)
// into a fresh state for id, applying each in turn. Replay is
// order-independent on the *result* as long as the input is a valid
// topological order of the item's events, since every per-field merge
// already tolerates arbitrary application order via Merge; Replay simply
// gives a convenient single-pass construction path for the common case
// of one linear or already-ordered event list.
func Replay(id model.ItemID, events []*event.Event) (WorkItemState, error) {
	s := NewWorkItemState(id)
	for _, e := range events {
		var err error
		s, err = s.ApplyEvent(e)
		if err != nil {
			return s, err
		}
	}
	return s, nil
}
