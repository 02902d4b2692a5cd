package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/model"
)

// Item is one row of the items table, denormalized with its label and
// assignee edges for convenient read access.
type Item struct {
	ID            model.ItemID
	Title         string
	Description   string
	Kind          model.Kind
	Size          *model.Size
	Urgency       model.Urgency
	ParentID      *model.ItemID
	Phase         model.Phase
	Epoch         uint64
	IsPlaceholder bool
	IsDeleted     bool
	DeletedAtUs   *int64
	DeleteReason  string
	OriginalType  string
	CreatedAtUs   int64
	UpdatedAtUs   int64
	Labels        []string
	Assignees     []string
}

// Get returns one item by id. includeDeleted controls whether a
// soft-deleted item is still returned (spec.md §4.6's "deleted items stay
// queryable by direct lookup" rule).
func (c *Cache) Get(ctx context.Context, id model.ItemID, includeDeleted bool) (*Item, error) {
	q := `SELECT id, title, description, kind, size, urgency, parent_id, phase, epoch,
		is_placeholder, is_deleted, deleted_at_us, delete_reason, original_type,
		created_at_us, updated_at_us FROM items WHERE id = ?`
	if !includeDeleted {
		q += " AND is_deleted = 0"
	}
	row := c.db.QueryRowContext(ctx, q, string(id))
	item, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning item "+string(id), err)
	}
	if err := c.loadEdges(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func scanItem(row *sql.Row) (*Item, error) {
	it := &Item{}
	var size, parentID sql.NullString
	var deletedAtUs sql.NullInt64
	if err := row.Scan(&it.ID, &it.Title, &it.Description, &it.Kind, &size, &it.Urgency,
		&parentID, &it.Phase, &it.Epoch, &it.IsPlaceholder, &it.IsDeleted, &deletedAtUs,
		&it.DeleteReason, &it.OriginalType, &it.CreatedAtUs, &it.UpdatedAtUs); err != nil {
		return nil, err
	}
	if size.Valid {
		s := model.Size(size.String)
		it.Size = &s
	}
	if parentID.Valid {
		p := model.ItemID(parentID.String)
		it.ParentID = &p
	}
	if deletedAtUs.Valid {
		it.DeletedAtUs = &deletedAtUs.Int64
	}
	return it, nil
}

func (c *Cache) loadEdges(ctx context.Context, it *Item) error {
	labelRows, err := c.db.QueryContext(ctx, "SELECT label FROM item_labels WHERE item_id = ? ORDER BY label", string(it.ID))
	if err != nil {
		return boneserr.Wrap(boneserr.KindCacheCorrupt, "loading labels", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var l string
		if err := labelRows.Scan(&l); err != nil {
			return boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning label", err)
		}
		it.Labels = append(it.Labels, l)
	}

	assigneeRows, err := c.db.QueryContext(ctx, "SELECT agent FROM item_assignees WHERE item_id = ? ORDER BY agent", string(it.ID))
	if err != nil {
		return boneserr.Wrap(boneserr.KindCacheCorrupt, "loading assignees", err)
	}
	defer assigneeRows.Close()
	for assigneeRows.Next() {
		var a string
		if err := assigneeRows.Scan(&a); err != nil {
			return boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning assignee", err)
		}
		it.Assignees = append(it.Assignees, a)
	}
	return nil
}

// SortOrder names the listing sort modes spec.md §4.6/§4.7 require:
// created/updated ascending or descending, plus a priority (urgency) sort.
// Every mode appends a stable id tie-break so paginated results never
// reorder between pages (spec.md §4.7 "stable id tie-break").
type SortOrder int

const (
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
	SortByCreatedDesc
	SortByCreatedAsc
	SortByUrgency
)

// ListFilter composes a predicate over the items table; zero-value fields
// mean "don't filter on this dimension." Fields mirror spec.md §4.7's
// composable predicate set {state, kind, urgency, label, assignee,
// parent_id, include_deleted}.
type ListFilter struct {
	Phase          *model.Phase
	Kind           *model.Kind
	Urgency        *model.Urgency
	Label          string
	Assignee       string
	ParentID       *model.ItemID
	IncludeDeleted bool
	Sort           SortOrder
	Limit          int
	Offset         int
}

func (f ListFilter) whereClause() (string, []any) {
	args := make([]any, 0, 8)
	var where []string
	if !f.IncludeDeleted {
		where = append(where, "i.is_deleted = 0")
	}
	if f.Phase != nil {
		where = append(where, "i.phase = ?")
		args = append(args, string(*f.Phase))
	}
	if f.Kind != nil {
		where = append(where, "i.kind = ?")
		args = append(args, string(*f.Kind))
	}
	if f.Urgency != nil {
		where = append(where, "i.urgency = ?")
		args = append(args, string(*f.Urgency))
	}
	if f.ParentID != nil {
		where = append(where, "i.parent_id = ?")
		args = append(args, string(*f.ParentID))
	}
	if f.Label != "" {
		where = append(where, "i.id IN (SELECT item_id FROM item_labels WHERE label = ?)")
		args = append(args, f.Label)
	}
	if f.Assignee != "" {
		where = append(where, "i.id IN (SELECT item_id FROM item_assignees WHERE agent = ?)")
		args = append(args, f.Assignee)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	return clause, args
}

// List returns items matching f, denormalized with labels/assignees.
func (c *Cache) List(ctx context.Context, f ListFilter) ([]*Item, error) {
	var b strings.Builder
	b.WriteString(`SELECT i.id, i.title, i.description, i.kind, i.size, i.urgency, i.parent_id,
		i.phase, i.epoch, i.is_placeholder, i.is_deleted, i.deleted_at_us, i.delete_reason,
		i.original_type, i.created_at_us, i.updated_at_us FROM items i`)

	where, args := f.whereClause()
	b.WriteString(where)

	switch f.Sort {
	case SortByCreatedDesc:
		b.WriteString(" ORDER BY i.created_at_us DESC, i.id ASC")
	case SortByCreatedAsc:
		b.WriteString(" ORDER BY i.created_at_us ASC, i.id ASC")
	case SortByUpdatedAsc:
		b.WriteString(" ORDER BY i.updated_at_us ASC, i.id ASC")
	case SortByUrgency:
		b.WriteString(` ORDER BY CASE i.urgency
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
			i.id ASC`)
	default:
		b.WriteString(" ORDER BY i.updated_at_us DESC, i.id ASC")
	}

	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	}

	rows, err := c.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "listing items", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it := &Item{}
		var size, parentID sql.NullString
		var deletedAtUs sql.NullInt64
		if err := rows.Scan(&it.ID, &it.Title, &it.Description, &it.Kind, &size, &it.Urgency,
			&parentID, &it.Phase, &it.Epoch, &it.IsPlaceholder, &it.IsDeleted, &deletedAtUs,
			&it.DeleteReason, &it.OriginalType, &it.CreatedAtUs, &it.UpdatedAtUs); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning listed item", err)
		}
		if size.Valid {
			s := model.Size(size.String)
			it.Size = &s
		}
		if parentID.Valid {
			p := model.ItemID(parentID.String)
			it.ParentID = &p
		}
		if deletedAtUs.Valid {
			it.DeletedAtUs = &deletedAtUs.Int64
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "iterating listed items", err)
	}
	for _, it := range items {
		if err := c.loadEdges(ctx, it); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// ListTotal returns the exact count of items matching f, ignoring Limit
// and Offset — the total a paginated caller needs alongside one page of
// List results (spec.md §4.7 "offset+limit pagination with exact total").
func (c *Cache) ListTotal(ctx context.Context, f ListFilter) (int, error) {
	where, args := f.whereClause()
	row := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items i"+where, args...)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, boneserr.Wrap(boneserr.KindCacheCorrupt, "counting matching items", err)
	}
	return total, nil
}

// SearchResult is one FTS5 hit.
type SearchResult struct {
	ItemID model.ItemID
	Rank   float64
}

// Search runs a full-text query against title/description/labels,
// ranked by bm25 with title weighted above description above labels
// (spec.md §4.7).
func (c *Cache) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT item_id, %s AS rank FROM item_search
		WHERE item_search MATCH ?
		ORDER BY rank LIMIT ?`, searchWeights), query, limit)
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "running search query", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var id string
		if err := rows.Scan(&id, &r.Rank); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning search result", err)
		}
		r.ItemID = model.ItemID(id)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Dependencies returns every (target_id, link_type) edge item holds.
func (c *Cache) Dependencies(ctx context.Context, item model.ItemID) (map[model.LinkType][]model.ItemID, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT target_id, link_type FROM item_dependencies WHERE item_id = ?", string(item))
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "loading dependencies", err)
	}
	defer rows.Close()
	out := make(map[model.LinkType][]model.ItemID)
	for rows.Next() {
		var target, lt string
		if err := rows.Scan(&target, &lt); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning dependency", err)
		}
		out[model.LinkType(lt)] = append(out[model.LinkType(lt)], model.ItemID(target))
	}
	return out, rows.Err()
}

// ReverseDependencies returns every item that holds an edge of some
// link_type pointing at target, i.e. the incoming-edge view of
// Dependencies (spec.md §4.7 "edge walks: dependencies (both
// directions)") — e.g. "which items have target as blocked_by".
func (c *Cache) ReverseDependencies(ctx context.Context, target model.ItemID) (map[model.LinkType][]model.ItemID, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT item_id, link_type FROM item_dependencies WHERE target_id = ?", string(target))
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "loading reverse dependencies", err)
	}
	defer rows.Close()
	out := make(map[model.LinkType][]model.ItemID)
	for rows.Next() {
		var source, lt string
		if err := rows.Scan(&source, &lt); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning reverse dependency", err)
		}
		out[model.LinkType(lt)] = append(out[model.LinkType(lt)], model.ItemID(source))
	}
	return out, rows.Err()
}

// Children returns every item whose parent_id is item.
func (c *Cache) Children(ctx context.Context, item model.ItemID, includeDeleted bool) ([]*Item, error) {
	p := item
	return c.List(ctx, ListFilter{ParentID: &p, IncludeDeleted: includeDeleted, Sort: SortByCreatedDesc})
}

// Comment is one row of item_comments.
type Comment struct {
	EventHash  string
	ItemID     model.ItemID
	Agent      string
	Body       string
	WallTSUs   int64
	IsRedacted bool
}

// Comments returns every (non-redacted-aware) comment on item in wall-clock order.
func (c *Cache) Comments(ctx context.Context, item model.ItemID) ([]*Comment, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT event_hash, item_id, agent, body, wall_ts_us, is_redacted
		FROM item_comments WHERE item_id = ? ORDER BY wall_ts_us`, string(item))
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "loading comments", err)
	}
	defer rows.Close()
	var out []*Comment
	for rows.Next() {
		cm := &Comment{}
		var id string
		if err := rows.Scan(&cm.EventHash, &id, &cm.Agent, &cm.Body, &cm.WallTSUs, &cm.IsRedacted); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning comment", err)
		}
		cm.ItemID = model.ItemID(id)
		out = append(out, cm)
	}
	return out, rows.Err()
}

// Counts aggregates item totals by phase, for dashboard-style summaries.
func (c *Cache) Counts(ctx context.Context) (map[model.Phase]int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT phase, COUNT(*) FROM items WHERE is_deleted = 0 GROUP BY phase")
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "counting items by phase", err)
	}
	defer rows.Close()
	out := make(map[model.Phase]int)
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning phase count", err)
		}
		out[model.Phase(phase)] = n
	}
	return out, rows.Err()
}

// CountsByKind aggregates item totals by kind (spec.md §4.7's "counts
// grouped by state/kind/urgency").
func (c *Cache) CountsByKind(ctx context.Context) (map[model.Kind]int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM items WHERE is_deleted = 0 GROUP BY kind")
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "counting items by kind", err)
	}
	defer rows.Close()
	out := make(map[model.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning kind count", err)
		}
		out[model.Kind(kind)] = n
	}
	return out, rows.Err()
}

// CountsByUrgency aggregates item totals by urgency.
func (c *Cache) CountsByUrgency(ctx context.Context) (map[model.Urgency]int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT urgency, COUNT(*) FROM items WHERE is_deleted = 0 GROUP BY urgency")
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "counting items by urgency", err)
	}
	defer rows.Close()
	out := make(map[model.Urgency]int)
	for rows.Next() {
		var urgency string
		var n int
		if err := rows.Scan(&urgency, &n); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning urgency count", err)
		}
		out[model.Urgency(urgency)] = n
	}
	return out, rows.Err()
}

// EventCountsByType aggregates the projector's applied-event tracker by
// event type, from the projected_events bookkeeping table (spec.md §4.7's
// "event counts by type and agent from the tracker").
func (c *Cache) EventCountsByType(ctx context.Context) (map[model.EventType]int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT event_type, COUNT(*) FROM projected_events GROUP BY event_type")
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "counting events by type", err)
	}
	defer rows.Close()
	out := make(map[model.EventType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning event type count", err)
		}
		out[model.EventType(t)] = n
	}
	return out, rows.Err()
}

// EventCountsByAgent aggregates the projector's applied-event tracker by
// writer agent.
func (c *Cache) EventCountsByAgent(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT agent, COUNT(*) FROM projected_events GROUP BY agent")
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "counting events by agent", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "scanning event agent count", err)
		}
		out[agent] = n
	}
	return out, rows.Err()
}
