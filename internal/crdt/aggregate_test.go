package crdt

import (
	"encoding/json"
	"testing"

	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/model"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func createEvent(t *testing.T, ts int64, agent, hash string, id model.ItemID) *event.Event {
	t.Helper()
	return &event.Event{
		WallTSUs:  ts,
		Agent:     agent,
		ITC:       "itc",
		Type:      model.EventCreate,
		ItemID:    id,
		EventHash: hash,
		Data: mustJSON(t, event.CreateData{
			Title:   "first",
			Kind:    model.KindBug,
			Urgency: model.UrgencyNormal,
		}),
	}
}

func TestApplyEventCreateSeedsFields(t *testing.T) {
	id := model.ItemID("bn-aaaa")
	e := createEvent(t, 100, "alice", "blake3:aaaa", id)

	s, err := NewWorkItemState(id).ApplyEvent(e)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if s.Title.Value != "first" {
		t.Fatalf("Title = %q, want %q", s.Title.Value, "first")
	}
	if s.Lifecycle.Phase != model.PhaseOpen {
		t.Fatalf("Phase = %v, want open", s.Lifecycle.Phase)
	}
}

func TestApplyEventIdempotentOnDuplicate(t *testing.T) {
	id := model.ItemID("bn-aaaa")
	e := createEvent(t, 100, "alice", "blake3:aaaa", id)

	s1, err := NewWorkItemState(id).ApplyEvent(e)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	s2, err := s1.ApplyEvent(e)
	if err != nil {
		t.Fatalf("ApplyEvent (dup): %v", err)
	}
	if s2.Title != s1.Title {
		t.Fatalf("applying the same event twice changed Title: %+v vs %+v", s1.Title, s2.Title)
	}
}

func TestUpdateTitleLWWLaterWins(t *testing.T) {
	id := model.ItemID("bn-aaaa")
	create := createEvent(t, 100, "alice", "blake3:aaaa", id)

	update1 := &event.Event{
		WallTSUs: 200, Agent: "alice", Type: model.EventUpdate, ItemID: id, EventHash: "blake3:bbbb",
		Data: mustJSON(t, event.UpdateData{Field: "title", Value: mustJSON(t, "second")}),
	}
	update2 := &event.Event{
		WallTSUs: 150, Agent: "bob", Type: model.EventUpdate, ItemID: id, EventHash: "blake3:cccc",
		Data: mustJSON(t, event.UpdateData{Field: "title", Value: mustJSON(t, "earlier-but-applied-later")}),
	}

	// Apply the later-timestamped update first, then the earlier one:
	// the earlier one must not override, regardless of apply order.
	s, err := Replay(id, []*event.Event{create, update1, update2})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if s.Title.Value != "second" {
		t.Fatalf("Title = %q, want %q (later wall_ts wins)", s.Title.Value, "second")
	}

	s2, err := Replay(id, []*event.Event{create, update2, update1})
	if err != nil {
		t.Fatalf("Replay (reordered): %v", err)
	}
	if s2.Title.Value != "second" {
		t.Fatalf("reordered Title = %q, want %q", s2.Title.Value, "second")
	}
}

func TestLabelsORSetAddRemoveConcurrent(t *testing.T) {
	id := model.ItemID("bn-aaaa")
	create := createEvent(t, 100, "alice", "blake3:aaaa", id)

	addURGENT := &event.Event{
		WallTSUs: 200, Agent: "alice", Type: model.EventUpdate, ItemID: id, EventHash: "blake3:bbbb",
		Data: mustJSON(t, event.UpdateData{
			Field: "labels",
			Value: mustJSON(t, event.LabelUpdateValue{Action: model.LabelAdd, Label: "urgent"}),
		}),
	}
	removeURGENT := &event.Event{
		WallTSUs: 150, Agent: "bob", Type: model.EventUpdate, ItemID: id, EventHash: "blake3:cccc",
		Data: mustJSON(t, event.UpdateData{
			Field: "labels",
			Value: mustJSON(t, event.LabelUpdateValue{Action: model.LabelRemove, Label: "urgent"}),
		}),
	}

	// Two independent branches: one saw only the add, one saw only the
	// remove (concurrent), merged together. Add wins.
	branchA, err := Replay(id, []*event.Event{create, addURGENT})
	if err != nil {
		t.Fatalf("Replay branchA: %v", err)
	}
	branchB, err := Replay(id, []*event.Event{create, removeURGENT})
	if err != nil {
		t.Fatalf("Replay branchB: %v", err)
	}
	merged := branchA.Merge(branchB)
	if !merged.Labels.Has("urgent") {
		t.Fatalf("expected add-wins OR-Set semantics to keep urgent label after merge")
	}
}

func TestMergeCommutativeAssociativeIdempotent(t *testing.T) {
	id := model.ItemID("bn-aaaa")
	create := createEvent(t, 100, "alice", "blake3:aaaa", id)
	move := &event.Event{
		WallTSUs: 200, Agent: "alice", Type: model.EventMove, ItemID: id, EventHash: "blake3:bbbb",
		Data: mustJSON(t, event.MoveData{State: model.PhaseDoing}),
	}
	comment := &event.Event{
		WallTSUs: 150, Agent: "bob", Type: model.EventComment, ItemID: id, EventHash: "blake3:cccc",
		Data: mustJSON(t, event.CommentData{Body: "hello"}),
	}

	a, err := Replay(id, []*event.Event{create, move})
	if err != nil {
		t.Fatalf("Replay a: %v", err)
	}
	b, err := Replay(id, []*event.Event{create, comment})
	if err != nil {
		t.Fatalf("Replay b: %v", err)
	}
	c, err := Replay(id, []*event.Event{create})
	if err != nil {
		t.Fatalf("Replay c: %v", err)
	}

	ab := a.Merge(b)
	ba := b.Merge(a)
	if ab.Lifecycle.Phase != ba.Lifecycle.Phase || ab.Comments.Len() != ba.Comments.Len() {
		t.Fatalf("Merge not commutative: a.Merge(b)=%+v b.Merge(a)=%+v", ab, ba)
	}

	abc1 := a.Merge(b).Merge(c)
	abc2 := a.Merge(b.Merge(c))
	if abc1.Lifecycle.Phase != abc2.Lifecycle.Phase || abc1.Comments.Len() != abc2.Comments.Len() {
		t.Fatalf("Merge not associative")
	}

	idem := ab.Merge(ab)
	if idem.Lifecycle.Phase != ab.Lifecycle.Phase || idem.Comments.Len() != ab.Comments.Len() {
		t.Fatalf("Merge not idempotent")
	}
}

func TestLifecycleReopenIncrementsEpoch(t *testing.T) {
	var l Lifecycle
	l = l.Transition(model.PhaseOpen, Tag{WallTSUs: 1, Hash: "a"})
	l = l.Transition(model.PhaseDoing, Tag{WallTSUs: 2, Hash: "b"})
	l = l.Transition(model.PhaseDone, Tag{WallTSUs: 3, Hash: "c"})
	if l.Epoch != 0 {
		t.Fatalf("Epoch = %d before any reopen, want 0", l.Epoch)
	}

	// Reopen: move "backward" from done to doing.
	l = l.Transition(model.PhaseDoing, Tag{WallTSUs: 4, Hash: "d"})
	if l.Epoch != 1 {
		t.Fatalf("Epoch = %d after reopen, want 1", l.Epoch)
	}
	if l.Phase != model.PhaseDoing {
		t.Fatalf("Phase = %v after reopen, want doing", l.Phase)
	}
}

func TestLifecycleMergeHigherEpochWins(t *testing.T) {
	base := Lifecycle{Epoch: 0, Phase: model.PhaseDone, Tag: Tag{WallTSUs: 1}, Set: true}
	reopened := Lifecycle{Epoch: 1, Phase: model.PhaseOpen, Tag: Tag{WallTSUs: 2}, Set: true}

	merged := base.Merge(reopened)
	if merged.Epoch != 1 || merged.Phase != model.PhaseOpen {
		t.Fatalf("Merge = %+v, want the higher-epoch reopened state", merged)
	}
	// Order independence.
	merged2 := reopened.Merge(base)
	if merged2 != merged {
		t.Fatalf("Lifecycle.Merge not commutative: %+v vs %+v", merged, merged2)
	}
}

func TestUnlinkWithoutLinkTypeClearsBothEdges(t *testing.T) {
	id := model.ItemID("bn-aaaa")
	target := model.ItemID("bn-bbbb")
	create := createEvent(t, 100, "alice", "blake3:aaaa", id)
	blockedBy := &event.Event{
		WallTSUs: 150, Agent: "alice", Type: model.EventLink, ItemID: id, EventHash: "blake3:bbbb",
		Data: mustJSON(t, event.LinkData{Target: target, LinkType: model.LinkBlockedBy}),
	}
	related := &event.Event{
		WallTSUs: 160, Agent: "alice", Type: model.EventLink, ItemID: id, EventHash: "blake3:cccc",
		Data: mustJSON(t, event.LinkData{Target: target, LinkType: model.LinkRelatedTo}),
	}
	unlink := &event.Event{
		WallTSUs: 200, Agent: "alice", Type: model.EventUnlink, ItemID: id, EventHash: "blake3:dddd",
		Data: mustJSON(t, event.UnlinkData{Target: target}),
	}

	s, err := Replay(id, []*event.Event{create, blockedBy, related, unlink})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if s.BlockedBy.Has(target) || s.RelatedTo.Has(target) {
		t.Fatalf("unlink without link_type should clear both edges, got BlockedBy=%v RelatedTo=%v",
			s.BlockedBy.Has(target), s.RelatedTo.Has(target))
	}
}
