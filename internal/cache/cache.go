package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bobisme/bones/internal/boneserr"
)

// Cache is the embedded SQLite projection target. It is always
// reconstructible from the event log, so any open/read failure on it is
// recoverable by rebuilding rather than fatal (spec.md §4.6 "absent cache"
// behavior).
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the cache database at path and ensures
// its schema exists. Pragmas mirror the teacher's sqlite test harness:
// foreign keys on, a busy timeout so a concurrent writer doesn't surface
// as a hard error under light contention.
func Open(ctx context.Context, path string) (*Cache, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindCacheAbsent, "opening cache database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, boneserr.Wrap(boneserr.KindCacheAbsent, "pinging cache database", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, boneserr.Wrap(boneserr.KindCacheCorrupt, "applying cache schema", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// DB exposes the raw handle for the projector, which needs transactional
// control the typed query surface doesn't.
func (c *Cache) DB() *sql.DB { return c.db }

// Absent reports whether path does not exist (spec.md §4.6). It checks
// existence only: a file that exists but is not a usable SQLite database
// is not reported as absent.
func Absent(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

// Rebuild drops every projected table's contents and resets the
// projection cursor to the start of the log, so the next projector pass
// replays from scratch. It does not drop the schema itself, so indexes
// and the FTS5 virtual table survive (spec.md §4.7's full-rebuild path).
func (c *Cache) Rebuild(ctx context.Context) error {
	tables := []string{
		"items", "item_labels", "item_assignees", "item_dependencies",
		"item_comments", "event_redactions", "item_search", "projected_events",
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return boneserr.Wrap(boneserr.KindCacheCorrupt, "beginning rebuild transaction", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return boneserr.Wrap(boneserr.KindCacheCorrupt, fmt.Sprintf("clearing table %s", t), err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE projection_meta SET last_event_offset = 0, last_event_hash = '' WHERE id = 1"); err != nil {
		return boneserr.Wrap(boneserr.KindCacheCorrupt, "resetting projection cursor", err)
	}
	if err := tx.Commit(); err != nil {
		return boneserr.Wrap(boneserr.KindCacheCorrupt, "committing rebuild", err)
	}
	return nil
}

// Cursor is the projector's resume point: the log offset and hash of the
// last event it has folded in.
type Cursor struct {
	LastEventOffset int64
	LastEventHash   string
}

// ReadCursor returns the projector's current resume point.
func (c *Cache) ReadCursor(ctx context.Context) (Cursor, error) {
	var cur Cursor
	row := c.db.QueryRowContext(ctx, "SELECT last_event_offset, last_event_hash FROM projection_meta WHERE id = 1")
	if err := row.Scan(&cur.LastEventOffset, &cur.LastEventHash); err != nil {
		return Cursor{}, boneserr.Wrap(boneserr.KindCacheCorrupt, "reading projection cursor", err)
	}
	return cur, nil
}
