package projector

import (
	"context"
	"database/sql"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/crdt"
	"github.com/bobisme/bones/internal/model"
)

// writeState replaces an item's row and edge tables with the contents of
// state. It is a full overwrite rather than a diff: the CRDT state is
// already the merged truth, so re-deriving every row from it each time
// keeps the write path simple and trivially correct on replay, at the
// cost of rewriting edge tables that may not have changed — acceptable
// since per-item event volume is small (spec.md's Non-goals exclude
// high-churn/bulk-import workloads from this core).
func writeState(ctx context.Context, tx *sql.Tx, state crdt.WorkItemState, createdAtUs, updatedAtUs int64) error {
	var size, parentID, deleteReason sql.NullString
	if state.Size.Set && state.Size.Value != nil {
		size = sql.NullString{String: string(*state.Size.Value), Valid: true}
	}
	if state.Parent.Set && state.Parent.Value != nil {
		parentID = sql.NullString{String: string(*state.Parent.Value), Valid: true}
	}
	if state.DeleteReason.Set {
		deleteReason = sql.NullString{String: state.DeleteReason.Value, Valid: true}
	}

	isDeleted := state.Deleted.Set && state.Deleted.Value
	var deletedAtUs sql.NullInt64
	if isDeleted {
		deletedAtUs = sql.NullInt64{Int64: state.Deleted.Tag.WallTSUs, Valid: true}
	}

	isPlaceholder := !state.Title.Set

	phase := state.Lifecycle.Phase
	if !state.Lifecycle.Set {
		phase = model.PhaseOpen
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO items (id, title, description, kind, size, urgency, parent_id, phase, epoch,
			is_placeholder, is_deleted, deleted_at_us, delete_reason, original_type,
			created_at_us, updated_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, description = excluded.description, kind = excluded.kind,
			size = excluded.size, urgency = excluded.urgency, parent_id = excluded.parent_id,
			phase = excluded.phase, epoch = excluded.epoch, is_placeholder = excluded.is_placeholder,
			is_deleted = excluded.is_deleted, deleted_at_us = excluded.deleted_at_us,
			delete_reason = excluded.delete_reason, updated_at_us = excluded.updated_at_us`,
		string(state.ItemID), state.Title.Value, state.Description.Value, string(state.Kind.Value),
		size, string(state.Urgency.Value), parentID, string(phase), state.Lifecycle.Epoch,
		isPlaceholder, isDeleted, deletedAtUs, deleteReason, "", createdAtUs, updatedAtUs)
	if err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "upserting item row", err)
	}

	if err := rewriteLabels(ctx, tx, state); err != nil {
		return err
	}
	if err := rewriteAssignees(ctx, tx, state); err != nil {
		return err
	}
	if err := rewriteDependencies(ctx, tx, state); err != nil {
		return err
	}
	if err := rewriteComments(ctx, tx, state); err != nil {
		return err
	}
	return rewriteSearchDoc(ctx, tx, state)
}

func rewriteLabels(ctx context.Context, tx *sql.Tx, state crdt.WorkItemState) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM item_labels WHERE item_id = ?", string(state.ItemID)); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "clearing labels", err)
	}
	for _, label := range state.Labels.Elements() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO item_labels (item_id, label) VALUES (?, ?)",
			string(state.ItemID), label); err != nil {
			return boneserr.Wrap(boneserr.KindProjection, "inserting label", err)
		}
	}
	return nil
}

func rewriteAssignees(ctx context.Context, tx *sql.Tx, state crdt.WorkItemState) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM item_assignees WHERE item_id = ?", string(state.ItemID)); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "clearing assignees", err)
	}
	for _, agent := range state.Assignees.Elements() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO item_assignees (item_id, agent) VALUES (?, ?)",
			string(state.ItemID), agent); err != nil {
			return boneserr.Wrap(boneserr.KindProjection, "inserting assignee", err)
		}
	}
	return nil
}

func rewriteDependencies(ctx context.Context, tx *sql.Tx, state crdt.WorkItemState) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM item_dependencies WHERE item_id = ?", string(state.ItemID)); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "clearing dependencies", err)
	}
	insert := func(targets []string, linkType string) error {
		for _, t := range targets {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO item_dependencies (item_id, target_id, link_type) VALUES (?, ?, ?)",
				string(state.ItemID), t, linkType); err != nil {
				return boneserr.Wrap(boneserr.KindProjection, "inserting dependency", err)
			}
		}
		return nil
	}
	if err := insert(itemIDsToStrings(state.BlockedBy.Elements()), "blocked_by"); err != nil {
		return err
	}
	if err := insert(itemIDsToStrings(state.Blocks.Elements()), "blocks"); err != nil {
		return err
	}
	return insert(itemIDsToStrings(state.RelatedTo.Elements()), "related_to")
}

func rewriteComments(ctx context.Context, tx *sql.Tx, state crdt.WorkItemState) error {
	for _, c := range state.Comments.Items() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_comments (event_hash, item_id, agent, body, wall_ts_us, is_redacted)
			SELECT ?, ?, ?, CASE WHEN r.n > 0 THEN '[redacted]' ELSE ? END, ?, r.n > 0
			FROM (SELECT COUNT(*) AS n FROM event_redactions WHERE event_hash = ?) r
			WHERE true
			ON CONFLICT (event_hash) DO NOTHING`,
			c.EventHash, string(state.ItemID), c.Tag.Agent, c.Body, c.Tag.WallTSUs, c.EventHash); err != nil {
			return boneserr.Wrap(boneserr.KindProjection, "inserting comment", err)
		}
	}
	return nil
}

func rewriteSearchDoc(ctx context.Context, tx *sql.Tx, state crdt.WorkItemState) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM item_search WHERE item_id = ?", string(state.ItemID)); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "clearing search doc", err)
	}
	labels := ""
	for i, l := range state.Labels.Elements() {
		if i > 0 {
			labels += " "
		}
		labels += l
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO item_search (item_id, title, description, labels) VALUES (?, ?, ?, ?)",
		string(state.ItemID), state.Title.Value, state.Description.Value, labels); err != nil {
		return boneserr.Wrap(boneserr.KindProjection, "inserting search doc", err)
	}
	return nil
}

func itemIDsToStrings[T ~string](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
