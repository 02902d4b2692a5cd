// Package bones is the top-level entry point wiring the append-only
// event log (internal/shard), the event codec (internal/event), the
// CRDT reconciliation layer (internal/crdt and internal/dag), and the
// relational query cache (internal/projector, internal/cache) into the
// three external primitives spec.md §6 names for a repo: append, query,
// and cache administration.
//
// Grounded on the teacher's top-level beads.go, which played the same
// role of wiring its storage, sync, and daemon layers behind a small
// public surface; this module drops the sync/daemon/CLI concerns
// (spec.md §1 Non-goals) and keeps only the event-log/CRDT/cache core.
package bones

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/cache"
	"github.com/bobisme/bones/internal/dag"
	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/model"
	"github.com/bobisme/bones/internal/projector"
	"github.com/bobisme/bones/internal/repoconfig"
	"github.com/bobisme/bones/internal/shard"
)

// Repo is one opened bones repository: its event log plus its derived
// query cache.
type Repo struct {
	shard  *shard.Manager
	cache  *cache.Cache
	cfg    *repoconfig.Config
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	Logger *slog.Logger
}

// Open opens (and initializes, if absent) the bones repo rooted at dir.
// It loads .bones/config.yaml via internal/repoconfig, opens the shard
// manager (creating the event log directory structure on first use), and
// opens the relational cache, rebuilding it from scratch if the cache
// file does not exist (spec.md §4.6). A cache file that exists but fails
// to open is returned as an error; it is not rebuilt.
func Open(ctx context.Context, dir string, opts Options) (*Repo, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := repoconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("bones: loading config: %w", err)
	}

	sm, err := shard.Open(dir, shard.Options{
		LockTimeout: cfg.LockTimeout(),
		Fsync:       cfg.Fsync(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bones: opening event log: %w", err)
	}

	dbPath := sm.DBPath()
	needsRebuild := cache.Absent(dbPath)
	c, err := cache.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("bones: opening cache: %w", err)
	}

	r := &Repo{shard: sm, cache: c, cfg: cfg, logger: logger}
	if needsRebuild {
		logger.Info("bones: cache absent, rebuilding from event log")
		if err := r.Rebuild(ctx); err != nil {
			return nil, fmt.Errorf("bones: initial cache rebuild: %w", err)
		}
	}
	return r, nil
}

// Close releases the repo's open resources.
func (r *Repo) Close() error {
	return r.cache.Close()
}

// Cache exposes the typed query surface (internal/cache.Cache) for
// reads. Returned rows may lag the latest appended event until Sync is
// called; callers needing read-your-writes consistency should call Sync
// after Append.
func (r *Repo) Cache() *cache.Cache { return r.cache }

// Agent resolves this process's writer identity for event attribution.
func (r *Repo) Agent(flagValue string) string { return r.cfg.Agent(flagValue) }

// AppendResult reports the outcome of an Append call.
type AppendResult struct {
	Event    *event.Event
	WallTSUs int64
}

// Append is the repo's append primitive (spec.md §6): it validates and
// writes one new event to the active shard, returning the event (with
// its computed hash) and the monotonic timestamp the shard clock
// assigned it. Append does not update the cache; callers that need the
// cache to reflect the new event immediately should call Sync.
func (r *Repo) Append(ctx context.Context, agent, itc string, parents []string, eventType model.EventType, itemID model.ItemID, data []byte) (*AppendResult, error) {
	e, err := r.shard.AppendEvent(ctx, agent, itc, parents, eventType, itemID, data)
	if err != nil {
		return nil, err
	}
	return &AppendResult{Event: e, WallTSUs: e.WallTSUs}, nil
}

// Sync replays every event appended since the cache's last known cursor
// position and projects it into the relational cache (spec.md §4.3's
// incremental replay combined with §4.7's projection). It is the query
// primitive's consistency lever: call it before Cache() reads whenever
// freshness matters.
func (r *Repo) Sync(ctx context.Context) (*projector.Result, error) {
	cursor, err := r.cache.ReadCursor(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := r.shard.ReplayFrom(cursor.LastEventOffset)
	if err != nil {
		return nil, fmt.Errorf("bones: opening incremental replay: %w", err)
	}
	defer reader.Close()

	events, endOffset, endHash, err := decodeEventStream(reader, cursor.LastEventOffset, r.logger)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &projector.Result{}, nil
	}

	ordered, err := orderForProjection(events)
	if err != nil {
		return nil, err
	}

	return projector.Apply(ctx, r.cache, ordered, endOffset, endHash)
}

// Rebuild clears the cache and replays the entire event log from the
// start, the repo's cache-administration primitive (spec.md §6, §4.7's
// full-rebuild path). A full rebuild must produce the same cache state
// as incremental Sync calls covering the same log (spec.md §8).
//
// Before replaying, every sealed shard's manifest hash is checked against
// its current on-disk content, bounding the concurrent verification work
// so a long-lived repo with many sealed months doesn't open them all at
// once (internal/shard.VerifyManifests).
func (r *Repo) Rebuild(ctx context.Context) error {
	results, err := r.shard.VerifyManifests(ctx)
	if err != nil {
		return fmt.Errorf("bones: verifying sealed shards: %w", err)
	}
	for _, res := range results {
		if !res.OK {
			return boneserr.Newf(boneserr.KindCacheCorrupt,
				"sealed shard %s failed manifest verification: %s", res.Month, res.Mismatch)
		}
	}

	if err := r.cache.Rebuild(ctx); err != nil {
		return err
	}
	_, err = r.Sync(ctx)
	return err
}

// orderForProjection linearizes a batch of newly-read events using the
// DAG's deterministic topological order, so projection always sees
// parents before children even when a shard contains interleaved,
// divergent branches merged out of log order (spec.md §4.4).
func orderForProjection(events []*event.Event) ([]*event.Event, error) {
	d := dag.Build(events)
	order, err := d.TopologicalOrder()
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindProjection, "ordering events for projection", err)
	}
	return order, nil
}
