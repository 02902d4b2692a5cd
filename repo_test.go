package bones

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/bobisme/bones/internal/model"
)

func createPayload(t *testing.T, title string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"title":   title,
		"kind":    "task",
		"urgency": "normal",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestAppendSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(ctx, t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()

	id := model.ItemID("bn-abcd")
	res, err := repo.Append(ctx, "alice", "itc1", nil, model.EventCreate, id, createPayload(t, "first item"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Event.EventHash == "" {
		t.Fatalf("expected computed event hash")
	}

	if _, err := repo.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	item, err := repo.Cache().Get(ctx, id, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil {
		t.Fatalf("expected item %s to be projected after Sync", id)
	}
	if item.Title != "first item" {
		t.Fatalf("Title = %q, want %q", item.Title, "first item")
	}
}

func TestRebuildMatchesIncrementalSync(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()

	id := model.ItemID("bn-efgh")
	if _, err := repo.Append(ctx, "alice", "itc1", nil, model.EventCreate, id, createPayload(t, "rebuild me")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := repo.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	before, err := repo.Cache().Get(ctx, id, false)
	if err != nil {
		t.Fatalf("Get before rebuild: %v", err)
	}

	if err := repo.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	after, err := repo.Cache().Get(ctx, id, false)
	if err != nil {
		t.Fatalf("Get after rebuild: %v", err)
	}
	if before == nil || after == nil || before.Title != after.Title {
		t.Fatalf("full rebuild produced different state: before=%+v after=%+v", before, after)
	}
}

// TestSyncSkipsUnknownEventType exercises spec.md §3/§7's forward-compat
// rule: a line whose event type is outside the known catalog is skipped
// with a warning during replay, not treated as a hard parse error, so a
// future writer's new event types don't break an older reader mid-log.
func TestSyncSkipsUnknownEventType(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()

	id := model.ItemID("bn-ijkl")
	if _, err := repo.Append(ctx, "alice", "itc1", nil, model.EventCreate, id, createPayload(t, "before unknown")); err != nil {
		t.Fatalf("Append create: %v", err)
	}

	shards, err := repo.shard.Shards()
	if err != nil {
		t.Fatalf("Shards: %v", err)
	}
	activePath := shards[len(shards)-1].Path
	f, err := os.OpenFile(activePath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening active shard: %v", err)
	}
	unknownLine := "999999\talice\titc-future\t\titem.from_the_future\t" + string(id) + "\t{}\tblake3:deadbeef\n"
	if _, err := f.WriteString(unknownLine); err != nil {
		t.Fatalf("writing unknown-type line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing shard: %v", err)
	}

	if _, err := repo.Append(ctx, "alice", "itc2", nil, model.EventUpdate, id,
		mustJSON(t, map[string]any{"field": "title", "value": "after unknown"})); err != nil {
		t.Fatalf("Append update: %v", err)
	}

	if _, err := repo.Sync(ctx); err != nil {
		t.Fatalf("Sync should skip the unknown event type, not fail: %v", err)
	}

	item, err := repo.Cache().Get(ctx, id, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil || item.Title != "after unknown" {
		t.Fatalf("expected known events around the unknown line to still project, got %+v", item)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
