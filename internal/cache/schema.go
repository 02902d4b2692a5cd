// Package cache is the relational projection target spec.md §4.6/§4.7
// describes: an embedded SQLite database rebuildable at any time from the
// event log, used for fast indexed/FTS queries that the append-only log
// itself cannot serve efficiently.
//
// Grounded on internal/storage/sqlite/schema.go's table layout and
// migration style, narrowed to the columns a work-item cache actually
// needs and extended with the projector bookkeeping tables
// (projected_events, projection_meta) spec.md §4.7 requires for
// incremental, idempotent projection.
package cache

const schemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	size TEXT,
	urgency TEXT NOT NULL DEFAULT '',
	parent_id TEXT,
	phase TEXT NOT NULL DEFAULT 'open',
	epoch INTEGER NOT NULL DEFAULT 0,
	is_placeholder INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at_us INTEGER,
	delete_reason TEXT NOT NULL DEFAULT '',
	original_type TEXT NOT NULL DEFAULT '',
	created_at_us INTEGER NOT NULL DEFAULT 0,
	updated_at_us INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_items_phase ON items(phase);
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id);
CREATE INDEX IF NOT EXISTS idx_items_deleted ON items(is_deleted);
CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at_us);

CREATE TABLE IF NOT EXISTS item_labels (
	item_id TEXT NOT NULL,
	label TEXT NOT NULL,
	PRIMARY KEY (item_id, label),
	FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_item_labels_label ON item_labels(label);

CREATE TABLE IF NOT EXISTS item_assignees (
	item_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	PRIMARY KEY (item_id, agent),
	FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_item_assignees_agent ON item_assignees(agent);

CREATE TABLE IF NOT EXISTS item_dependencies (
	item_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	link_type TEXT NOT NULL,
	PRIMARY KEY (item_id, target_id, link_type),
	FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_item_dependencies_target ON item_dependencies(target_id, link_type);

CREATE TABLE IF NOT EXISTS item_comments (
	event_hash TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	body TEXT NOT NULL,
	wall_ts_us INTEGER NOT NULL,
	is_redacted INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_item_comments_item ON item_comments(item_id, wall_ts_us);

CREATE TABLE IF NOT EXISTS event_redactions (
	event_hash TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT '',
	redacted_at_us INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS item_search USING fts5(
	item_id UNINDEXED,
	title,
	description,
	labels,
	tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS projected_events (
	event_hash TEXT PRIMARY KEY,
	event_type TEXT NOT NULL DEFAULT '',
	agent TEXT NOT NULL DEFAULT '',
	applied_at_us INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projected_events_type ON projected_events(event_type);
CREATE INDEX IF NOT EXISTS idx_projected_events_agent ON projected_events(agent);

CREATE TABLE IF NOT EXISTS projection_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_event_offset INTEGER NOT NULL DEFAULT 0,
	last_event_hash TEXT NOT NULL DEFAULT ''
);
INSERT OR IGNORE INTO projection_meta (id, last_event_offset, last_event_hash) VALUES (1, 0, '');
`

// searchWeights assigns title > description > labels relevance for FTS5
// bm25 ranking, per spec.md §4.7's "title weighted highest, then
// description, then labels" requirement.
const searchWeights = "bm25(item_search, 3.0, 2.0, 1.0)"
