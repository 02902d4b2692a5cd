package shard

import (
	"bytes"
	"os"
	"strings"

	"github.com/bobisme/bones/internal/boneserr"
)

// RecoverTornWrite scans the active shard for a trailing partial line (no
// terminating LF) and truncates it away, per spec.md §4.3 "Torn-write
// recovery". Sealed shards are never touched. Returns the number of bytes
// discarded (0 if the shard already ended cleanly).
func (m *Manager) RecoverTornWrite() (int64, error) {
	month, err := m.activeMonth()
	if err != nil {
		return 0, err
	}
	path := m.shardPath(month)
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, boneserr.Wrap(boneserr.KindIO, "reading active shard for recovery", err)
	}
	if len(content) == 0 || content[len(content)-1] == '\n' {
		return 0, nil
	}
	lastNL := bytes.LastIndexByte(content, '\n')
	keep := lastNL + 1 // 0 when no newline at all (entirely partial file)
	discarded := int64(len(content) - keep)

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, boneserr.Wrap(boneserr.KindIO, "opening active shard for truncation", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(keep)); err != nil {
		return 0, boneserr.Wrap(boneserr.KindIO, "truncating torn write", err)
	}
	return discarded, nil
}

// splitLines splits shard file content into lines without the trailing
// empty element a well-formed (LF-terminated) file would otherwise yield.
func splitLines(content []byte) []string {
	text := string(content)
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
