package shard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// nextTimestamp implements spec.md §4.3's monotonic clock:
// next = max(system_time_us, last + 1), persisted before returning. The
// clock file never decreases. Caller must hold the repo lock.
func (m *Manager) nextTimestamp() (int64, error) {
	last, err := m.readClock()
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMicro()
	next := now
	if last+1 > next {
		next = last + 1
	}
	if err := m.writeClock(next); err != nil {
		return 0, err
	}
	return next, nil
}

func (m *Manager) readClock() (int64, error) {
	raw, err := os.ReadFile(m.clockPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("shard: reading clock file: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("shard: corrupt clock file %q: %w", text, err)
	}
	return v, nil
}

func (m *Manager) writeClock(v int64) error {
	tmp := m.clockPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(v, 10)), 0o644); err != nil {
		return fmt.Errorf("shard: writing clock file: %w", err)
	}
	if err := os.Rename(tmp, m.clockPath()); err != nil {
		return fmt.Errorf("shard: committing clock file: %w", err)
	}
	return nil
}

// ReadClock returns the last issued timestamp without advancing it
// (exposed for tests asserting shard monotonicity, spec.md §8).
func (m *Manager) ReadClock() (int64, error) { return m.readClock() }
