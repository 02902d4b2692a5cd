package projector

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/bobisme/bones/internal/cache"
	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/model"
)

func openTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	ctx := context.Background()
	c, err := cache.Open(ctx, filepath.Join(t.TempDir(), "bones.db"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// buildEvent assembles a fully-hashed *event.Event via the real codec, so
// tests exercise the same Write/Parse contract the shard layer uses rather
// than hand-rolled hashes.
func buildEvent(t *testing.T, wallTS int64, agent string, eventType model.EventType, itemID model.ItemID, data map[string]any) *event.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	e := &event.Event{
		WallTSUs: wallTS,
		Agent:    agent,
		ITC:      "itc1",
		Type:     eventType,
		ItemID:   itemID,
		Data:     raw,
	}
	line, err := event.Write(e)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	parsed, err := event.Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return parsed
}

func TestApplyProjectsCreateEvent(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	id := model.ItemID("bn-aaaa")
	e := buildEvent(t, 100, "alice", model.EventCreate, id, map[string]any{
		"title": "first item", "kind": "task", "urgency": "normal",
	})

	res, err := Apply(ctx, c, []*event.Event{e}, 42, e.EventHash)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("Applied = %d, want 1", res.Applied)
	}
	if len(res.SoftErrors) != 0 {
		t.Fatalf("unexpected soft errors: %+v", res.SoftErrors)
	}

	item, err := c.Get(ctx, id, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil || item.Title != "first item" {
		t.Fatalf("expected a projected item with title %q, got %+v", "first item", item)
	}
	if item.Phase != model.PhaseOpen {
		t.Fatalf("Phase = %q, want %q", item.Phase, model.PhaseOpen)
	}

	cur, err := c.ReadCursor(ctx)
	if err != nil {
		t.Fatalf("ReadCursor: %v", err)
	}
	if cur.LastEventOffset != 42 || cur.LastEventHash != e.EventHash {
		t.Fatalf("cursor not advanced correctly: %+v", cur)
	}
}

func TestApplyIsIdempotentOnOverlappingBatches(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	id := model.ItemID("bn-aaaa")
	e1 := buildEvent(t, 100, "alice", model.EventCreate, id, map[string]any{"title": "v1"})
	e2 := buildEvent(t, 200, "alice", model.EventUpdate, id, map[string]any{"field": "title", "value": "v2"})

	if _, err := Apply(ctx, c, []*event.Event{e1}, 10, e1.EventHash); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	// Replay the same window again plus one new event, simulating a resume
	// after a crash mid-batch: e1 must not be double-counted.
	res, err := Apply(ctx, c, []*event.Event{e1, e2}, 20, e2.EventHash)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("Applied = %d, want 1 (only e2 is new)", res.Applied)
	}

	item, err := c.Get(ctx, id, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Title != "v2" {
		t.Fatalf("Title = %q, want %q", item.Title, "v2")
	}
}

func TestApplyRecordsSoftErrorWithoutAbortingBatch(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	good := model.ItemID("bn-aaaa")
	bad := model.ItemID("bn-bbbb")

	okEvent := buildEvent(t, 100, "alice", model.EventCreate, good, map[string]any{"title": "fine"})
	createBad := buildEvent(t, 100, "alice", model.EventCreate, bad, map[string]any{"title": "also fine"})
	badUpdate := buildEvent(t, 200, "alice", model.EventUpdate, bad, map[string]any{"field": "not_a_real_field", "value": "x"})

	res, err := Apply(ctx, c, []*event.Event{okEvent, createBad, badUpdate}, 99, badUpdate.EventHash)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.SoftErrors) != 1 || res.SoftErrors[0].EventHash != badUpdate.EventHash {
		t.Fatalf("expected exactly one soft error for the bad update, got %+v", res.SoftErrors)
	}

	goodItem, err := c.Get(ctx, good, false)
	if err != nil {
		t.Fatalf("Get good: %v", err)
	}
	if goodItem == nil || goodItem.Title != "fine" {
		t.Fatalf("expected the unrelated good item to still project cleanly, got %+v", goodItem)
	}

	badItem, err := c.Get(ctx, bad, false)
	if err != nil {
		t.Fatalf("Get bad: %v", err)
	}
	if badItem == nil || badItem.Title != "also fine" {
		t.Fatalf("expected the create to still apply even though the later update failed: %+v", badItem)
	}
}

func TestApplyCreatesPlaceholderForUpdateBeforeCreate(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	id := model.ItemID("bn-aaaa")
	update := buildEvent(t, 100, "alice", model.EventUpdate, id, map[string]any{"field": "title", "value": "orphan update"})

	if _, err := Apply(ctx, c, []*event.Event{update}, 1, update.EventHash); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	item, err := c.Get(ctx, id, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil {
		t.Fatalf("expected a placeholder row for an update that arrived before its create")
	}
	if !item.IsPlaceholder {
		t.Fatalf("expected IsPlaceholder = true, got %+v", item)
	}
	if item.Title != "orphan update" {
		t.Fatalf("expected the update to still apply its field: Title = %q", item.Title)
	}
}

func TestApplyRedactionOverwritesCommentBody(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	id := model.ItemID("bn-aaaa")
	create := buildEvent(t, 100, "alice", model.EventCreate, id, map[string]any{"title": "x"})
	comment := buildEvent(t, 200, "alice", model.EventComment, id, map[string]any{"body": "secret sauce"})

	if _, err := Apply(ctx, c, []*event.Event{create, comment}, 1, comment.EventHash); err != nil {
		t.Fatalf("Apply create+comment: %v", err)
	}

	comments, err := c.Comments(ctx, id)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "secret sauce" {
		t.Fatalf("expected the comment to be projected as-is, got %+v", comments)
	}

	redact := buildEvent(t, 300, "alice", model.EventRedact, id, map[string]any{
		"target": comment.EventHash, "reason": "pii",
	})
	if _, err := Apply(ctx, c, []*event.Event{redact}, 2, redact.EventHash); err != nil {
		t.Fatalf("Apply redact: %v", err)
	}

	comments, err = c.Comments(ctx, id)
	if err != nil {
		t.Fatalf("Comments after redact: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "[redacted]" || !comments[0].IsRedacted {
		t.Fatalf("expected the comment body to be redacted, got %+v", comments)
	}
}

func TestApplyEmptyBatchIsNoop(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	res, err := Apply(ctx, c, nil, 0, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 0 {
		t.Fatalf("Applied = %d, want 0", res.Applied)
	}
	cur, err := c.ReadCursor(ctx)
	if err != nil {
		t.Fatalf("ReadCursor: %v", err)
	}
	if cur.LastEventOffset != 0 {
		t.Fatalf("expected an empty batch to leave the cursor untouched, got %+v", cur)
	}
}
