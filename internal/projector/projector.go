// Package projector implements the pure (cache state, event batch) ->
// updated cache state pipeline spec.md §4.7 describes: it folds ordered
// events into internal/crdt.WorkItemState per item, then flushes each
// item's resulting state into internal/cache's relational tables inside
// one batch transaction.
//
// Grounded on the teacher's batched-write style (internal/storage/sqlite's
// withTx helper and its dirty_issues incremental-export bookkeeping),
// generalized from "issue changed, mark dirty" to "event applied, record
// its hash" so replay can resume from a byte offset instead of rescanning
// a dirty-row queue.
package projector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/cache"
	"github.com/bobisme/bones/internal/crdt"
	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/model"
)

// Result reports what one Apply call did, including any events that
// failed individually without aborting the whole batch (spec.md §4.7's
// "soft per-event errors vs hard commit errors" split).
type Result struct {
	Applied     int
	SoftErrors  []SoftError
	NewOffset   int64
	NewHash     string
}

// SoftError pairs an event that could not be projected with the reason,
// without rolling back the rest of the batch: a single malformed payload
// should not block projecting every other event around it.
type SoftError struct {
	EventHash string
	Err       error
}

// Apply folds events (already in deterministic replay order, e.g. from
// dag.TopologicalOrder or a plain shard scan) into c. endOffset/endHash
// identify the byte offset and hash of the last event in the batch, and
// become the new cursor on success. Apply is idempotent: events whose
// hash is already in projected_events are skipped, so replaying an
// overlapping window (e.g. after a crash mid-batch) is always safe.
func Apply(ctx context.Context, c *cache.Cache, events []*event.Event, endOffset int64, endHash string) (*Result, error) {
	res := &Result{}
	if len(events) == 0 {
		return res, nil
	}

	tx, err := c.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindProjection, "beginning projection batch", err)
	}
	defer tx.Rollback()

	byItem := make(map[model.ItemID][]*event.Event)
	order := make([]model.ItemID, 0)
	for _, e := range events {
		already, err := alreadyProjected(ctx, tx, e.EventHash)
		if err != nil {
			return nil, err
		}
		if already {
			continue
		}
		if _, ok := byItem[e.ItemID]; !ok {
			order = append(order, e.ItemID)
		}
		byItem[e.ItemID] = append(byItem[e.ItemID], e)
	}

	for _, item := range order {
		itemEvents := byItem[item]
		if err := projectItem(ctx, tx, item, itemEvents, res); err != nil {
			return nil, boneserr.Wrap(boneserr.KindProjectionCommit, "projecting item "+string(item), err)
		}
		for _, e := range itemEvents {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO projected_events (event_hash, event_type, agent, applied_at_us) VALUES (?, ?, ?, ?)",
				e.EventHash, string(e.Type), e.Agent, e.WallTSUs); err != nil {
				return nil, boneserr.Wrap(boneserr.KindProjectionCommit, "recording projected event", err)
			}
			res.Applied++
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE projection_meta SET last_event_offset = ?, last_event_hash = ? WHERE id = 1",
		endOffset, endHash); err != nil {
		return nil, boneserr.Wrap(boneserr.KindProjectionCommit, "advancing projection cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, boneserr.Wrap(boneserr.KindProjectionCommit, "committing projection batch", err)
	}
	res.NewOffset = endOffset
	res.NewHash = endHash
	return res, nil
}

func alreadyProjected(ctx context.Context, tx *sql.Tx, hash string) (bool, error) {
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM projected_events WHERE event_hash = ?", hash).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, boneserr.Wrap(boneserr.KindProjection, "checking dedup table", err)
	}
	return true, nil
}

// projectItem loads the item's current CRDT state from whatever rows
// already exist (if any), replays the new events on top, and rewrites the
// item's rows to match. A row that does not exist yet is treated as a
// fresh, empty WorkItemState — so an update arriving before its create
// (e.g. divergent replay merging branches that raced) still produces a
// usable placeholder row instead of a foreign-key failure.
func projectItem(ctx context.Context, tx *sql.Tx, item model.ItemID, events []*event.Event, res *Result) error {
	state, existed, existingCreatedAt, existingUpdatedAt, err := loadState(ctx, tx, item)
	if err != nil {
		return err
	}
	placeholder := true
	if !existed {
		state = crdt.NewWorkItemState(item)
	} else if err := tx.QueryRowContext(ctx, "SELECT is_placeholder FROM items WHERE id = ?", string(item)).Scan(&placeholder); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "loading placeholder flag", err)
	}

	createdAt := existingCreatedAt
	updatedAt := existingUpdatedAt
	for _, e := range events {
		next, err := state.ApplyEvent(e)
		if err != nil {
			res.SoftErrors = append(res.SoftErrors, SoftError{EventHash: e.EventHash, Err: err})
			continue
		}
		state = next
		if e.Type == model.EventCreate {
			placeholder = false
		}
		if !existed && createdAt == 0 {
			createdAt = e.WallTSUs
		}
		if e.WallTSUs > updatedAt {
			updatedAt = e.WallTSUs
		}
		if e.Type == model.EventRedact {
			if err := applyRedaction(ctx, tx, e); err != nil {
				return err
			}
		}
	}

	if err := writeState(ctx, tx, state, createdAt, updatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE items SET is_placeholder = ? WHERE id = ?", placeholder, string(item)); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "updating placeholder flag", err)
	}
	return nil
}

// loadState reconstructs a WorkItemState's externally-visible shape from
// the cache rows sufficiently to merge new events on top. The CRDT layer
// keeps no durable representation of its own; the cache rows ARE the
// durable state. Re-deriving tags is unnecessary because every write this
// function performs goes through ApplyEvent/LWW.Assign with fresh event
// tags, which always looks only at (WallTSUs, Agent, Hash) relative
// ordering — so treating existing row values as already-applied facts
// with the row's own recorded timestamps as their tag is sufficient to
// preserve "later wins" against new incoming events.
func loadState(ctx context.Context, tx *sql.Tx, item model.ItemID) (crdt.WorkItemState, bool, int64, int64, error) {
	state := crdt.NewWorkItemState(item)
	row := tx.QueryRowContext(ctx, `SELECT title, description, kind, size, urgency, parent_id,
		phase, epoch, is_deleted, delete_reason, created_at_us, updated_at_us
		FROM items WHERE id = ?`, string(item))

	var title, description, kind, size, urgency, parentID, phase, deleteReason sql.NullString
	var epoch sql.NullInt64
	var isDeleted sql.NullBool
	var createdAt, updatedAt sql.NullInt64
	err := row.Scan(&title, &description, &kind, &size, &urgency, &parentID, &phase, &epoch,
		&isDeleted, &deleteReason, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return state, false, 0, 0, nil
	}
	if err != nil {
		return state, false, 0, 0, boneserr.Wrap(boneserr.KindProjection, "loading existing item row", err)
	}

	tag := crdt.Tag{WallTSUs: updatedAt.Int64}
	if title.Valid {
		state.Title = state.Title.Assign(title.String, tag)
	}
	if description.Valid {
		state.Description = state.Description.Assign(description.String, tag)
	}
	if kind.Valid {
		state.Kind = state.Kind.Assign(model.Kind(kind.String), tag)
	}
	if size.Valid {
		s := model.Size(size.String)
		state.Size = state.Size.Assign(&s, tag)
	}
	if urgency.Valid {
		state.Urgency = state.Urgency.Assign(model.Urgency(urgency.String), tag)
	}
	if parentID.Valid {
		p := model.ItemID(parentID.String)
		state.Parent = state.Parent.Assign(&p, tag)
	}
	if phase.Valid {
		state.Lifecycle = crdt.Lifecycle{
			Epoch: uint64(epoch.Int64), Phase: model.Phase(phase.String), Tag: tag, Set: true,
		}
	}
	if isDeleted.Valid {
		state.Deleted = state.Deleted.Assign(isDeleted.Bool, tag)
	}
	if deleteReason.Valid && deleteReason.String != "" {
		state.DeleteReason = state.DeleteReason.Assign(deleteReason.String, tag)
	}

	if err := loadEdgeState(ctx, tx, item, &state); err != nil {
		return state, true, 0, 0, err
	}
	return state, true, createdAt.Int64, updatedAt.Int64, nil
}

func loadEdgeState(ctx context.Context, tx *sql.Tx, item model.ItemID, state *crdt.WorkItemState) error {
	labelRows, err := tx.QueryContext(ctx, "SELECT label FROM item_labels WHERE item_id = ?", string(item))
	if err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "loading existing labels", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var l string
		if err := labelRows.Scan(&l); err != nil {
			return err
		}
		state.Labels = state.Labels.Add(l, crdt.Tag{})
	}

	assigneeRows, err := tx.QueryContext(ctx, "SELECT agent FROM item_assignees WHERE item_id = ?", string(item))
	if err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "loading existing assignees", err)
	}
	defer assigneeRows.Close()
	for assigneeRows.Next() {
		var a string
		if err := assigneeRows.Scan(&a); err != nil {
			return err
		}
		state.Assignees = state.Assignees.Add(a, crdt.Tag{})
	}

	depRows, err := tx.QueryContext(ctx, "SELECT target_id, link_type FROM item_dependencies WHERE item_id = ?", string(item))
	if err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "loading existing dependencies", err)
	}
	defer depRows.Close()
	for depRows.Next() {
		var target, lt string
		if err := depRows.Scan(&target, &lt); err != nil {
			return err
		}
		switch model.LinkType(lt) {
		case model.LinkBlockedBy:
			state.BlockedBy = state.BlockedBy.Add(model.ItemID(target), crdt.Tag{})
		case model.LinkBlocks:
			state.Blocks = state.Blocks.Add(model.ItemID(target), crdt.Tag{})
		case model.LinkRelatedTo, model.LinkRelated:
			state.RelatedTo = state.RelatedTo.Add(model.ItemID(target), crdt.Tag{})
		}
	}
	return nil
}

func applyRedaction(ctx context.Context, tx *sql.Tx, e *event.Event) error {
	var d event.RedactData
	if err := unmarshalData(e, &d); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO event_redactions (event_hash, reason, redacted_at_us) VALUES (?, ?, ?)",
		d.Target, d.Reason, e.WallTSUs); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "recording redaction", err)
	}
	// Redaction only overwrites comment bodies; other event types are
	// bookkeeping-only at the projection layer (SPEC_FULL.md §4.11).
	if _, err := tx.ExecContext(ctx,
		"UPDATE item_comments SET body = '[redacted]', is_redacted = 1 WHERE event_hash = ?",
		d.Target); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "redacting comment", err)
	}
	return nil
}

func unmarshalData(e *event.Event, v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("projector: decoding %s data: %w", e.Type, err)
	}
	return nil
}
