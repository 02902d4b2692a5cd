package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/canon"
	"github.com/bobisme/bones/internal/event"
	"github.com/bobisme/bones/internal/model"
)

// AppendEvent assembles and durably appends one event (spec.md §4.3
// "Append"). The caller supplies every field except wall_ts_us and
// event_hash, which the manager derives: wall_ts_us from the monotonic
// clock, event_hash from the codec's hash contract. Returns the
// fully-formed event as written, including its assigned timestamp.
//
// Event type and data are validated before the lock is taken, so a
// validation failure leaves the shard and the clock file untouched. Once
// the lock is held, the clock file is advanced before the line is
// written, so a write that fails afterwards still uses up a timestamp; a
// partially written line is truncated by RecoverTornWrite on the next
// Open.
func (m *Manager) AppendEvent(ctx context.Context, agent, itc string, parents []string, eventType model.EventType, itemID model.ItemID, data json.RawMessage) (*event.Event, error) {
	if !eventType.Valid() {
		return nil, boneserr.Newf(boneserr.KindFormatEventType, "unknown event type %q", eventType)
	}
	canonicalData, err := canon.CanonicalizeBytes(data)
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindFormatDataJSON, "invalid data json", err)
	}
	if err := event.ValidateData(eventType, canonicalData); err != nil {
		return nil, boneserr.Wrap(boneserr.KindFormatDataSchema, err.Error(), err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.opts.LockTimeout)
	defer cancel()
	locked, err := m.lock.TryLockContext(lockCtx, 20*time.Millisecond)
	if !locked && errors.Is(err, context.DeadlineExceeded) {
		return nil, boneserr.Wrap(boneserr.KindLockTimeout, "timed out acquiring repo lock", err)
	}
	if err != nil {
		return nil, boneserr.Wrap(boneserr.KindIO, "acquiring lock", err)
	}
	if !locked {
		return nil, boneserr.New(boneserr.KindLockTimeout, "timed out acquiring repo lock")
	}
	defer func() { _ = m.lock.Unlock() }()

	wallTS, err := m.nextTimestamp()
	if err != nil {
		return nil, err
	}

	if err := m.rotateIfNeeded(wallTS); err != nil {
		return nil, err
	}

	e := &event.Event{
		WallTSUs: wallTS,
		Agent:    agent,
		ITC:      itc,
		Parents:  parents,
		Type:     eventType,
		ItemID:   itemID,
		Data:     canonicalData,
	}
	line, err := event.Write(e)
	if err != nil {
		return nil, err
	}
	// Recover e.EventHash (Write computes it but doesn't mutate e).
	parsedBack, err := event.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("shard: internal: wrote an unparseable line: %w", err)
	}
	e.EventHash = parsedBack.EventHash

	month, err := m.activeMonth()
	if err != nil {
		return nil, err
	}
	if err := m.appendLine(m.shardPath(month), line); err != nil {
		return nil, err
	}
	return e, nil
}

func (m *Manager) appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return boneserr.Wrap(boneserr.KindIO, "opening active shard", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return boneserr.Wrap(boneserr.KindIO, "writing event line", err)
	}
	if !m.opts.Fsync {
		return nil
	}
	if err := f.Sync(); err != nil {
		return boneserr.Wrap(boneserr.KindIO, "fsyncing active shard", err)
	}
	return nil
}

// rotateIfNeeded seals the active shard and opens a fresh one when the
// system month differs from the active shard's month (spec.md §4.3
// "Rotation"). Caller must hold the repo lock.
func (m *Manager) rotateIfNeeded(wallTS int64) error {
	currentMonth, err := m.activeMonth()
	if err != nil {
		return err
	}
	wantMonth := monthKey(time.UnixMicro(wallTS))
	if wantMonth == currentMonth {
		return nil
	}
	if err := m.sealShard(currentMonth); err != nil {
		return err
	}
	return m.initShard(time.UnixMicro(wallTS))
}

// sealShard writes the manifest for a past-month shard. Sealed shards are
// never modified afterward.
func (m *Manager) sealShard(month string) error {
	path := m.shardPath(month)
	content, err := os.ReadFile(path)
	if err != nil {
		return boneserr.Wrap(boneserr.KindIO, "reading shard to seal", err)
	}
	count, err := countEventLines(content)
	if err != nil {
		return err
	}
	manifest := fmt.Sprintf("shard: %s\nevent_count: %d\nbyte_len: %d\nfile_hash: %s\n",
		monthFileName(month), count, len(content), canon.HashFile(content))
	return os.WriteFile(m.manifestPath(month), []byte(manifest), 0o644)
}

func countEventLines(content []byte) (int, error) {
	n := 0
	for _, line := range splitLines(content) {
		if event.Classify(line) == event.LineData {
			n++
		}
	}
	return n, nil
}
