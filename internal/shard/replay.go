package shard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bobisme/bones/internal/boneserr"
)

// ShardInfo describes one shard file's position in the virtual
// concatenation that spans every shard in chronological order.
type ShardInfo struct {
	Month   string
	Path    string
	Sealed  bool
	ByteLen int64
}

// Shards lists every shard (sealed and active) in chronological order
// with its byte length, resolving sealed shards' length from their
// manifest when available (avoiding a stat/read of immutable files) and
// falling back to stat otherwise.
func (m *Manager) Shards() ([]ShardInfo, error) {
	months, err := m.allMonths()
	if err != nil {
		return nil, err
	}
	active, err := m.activeMonth()
	if err != nil {
		return nil, err
	}

	infos := make([]ShardInfo, 0, len(months))
	for _, month := range months {
		path := m.shardPath(month)
		sealed := month != active
		var size int64
		if sealed {
			if mf, err := m.readManifest(month); err == nil {
				size = mf.ByteLen
			}
		}
		if size == 0 {
			fi, err := os.Stat(path)
			if err != nil {
				return nil, boneserr.Wrap(boneserr.KindIO, "stat shard "+path, err)
			}
			size = fi.Size()
		}
		infos = append(infos, ShardInfo{Month: month, Path: path, Sealed: sealed, ByteLen: size})
	}
	return infos, nil
}

// Manifest is the parsed content of a sealed shard's *.manifest sidecar.
type Manifest struct {
	Shard      string
	EventCount int64
	ByteLen    int64
	FileHash   string
}

func (m *Manager) readManifest(month string) (*Manifest, error) {
	raw, err := os.ReadFile(m.manifestPath(month))
	if err != nil {
		return nil, err
	}
	mf := &Manifest{}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch k {
		case "shard":
			mf.Shard = v
		case "event_count":
			mf.EventCount, _ = strconv.ParseInt(v, 10, 64)
		case "byte_len":
			mf.ByteLen, _ = strconv.ParseInt(v, 10, 64)
		case "file_hash":
			mf.FileHash = v
		}
	}
	return mf, nil
}

// ReplayAll returns the full concatenated shard content across all
// shards, in chronological order (spec.md §4.3 "Replay").
func (m *Manager) ReplayAll() (io.ReadCloser, error) {
	infos, err := m.Shards()
	if err != nil {
		return nil, err
	}
	return newMultiShardReader(infos, 0)
}

// ReplayFrom returns a reader over the virtual concatenation starting at
// absoluteOffset bytes in, skipping sealed shards that end at or before
// the cursor without reading them (stat-only), so incremental replay
// costs O(new bytes) rather than O(log size).
func (m *Manager) ReplayFrom(absoluteOffset int64) (io.ReadCloser, error) {
	infos, err := m.Shards()
	if err != nil {
		return nil, err
	}
	return newMultiShardReader(infos, absoluteOffset)
}

// TotalBytes returns the current length of the virtual concatenation.
func (m *Manager) TotalBytes() (int64, error) {
	infos, err := m.Shards()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, i := range infos {
		total += i.ByteLen
	}
	return total, nil
}

// multiShardReader presents a sequence of shard files as one stream,
// seeking into the first file that straddles the requested offset and
// reading the rest in full.
type multiShardReader struct {
	infos  []ShardInfo
	idx    int
	offset int64 // remaining bytes to skip in infos[idx]
	cur    *os.File
	br     *bufio.Reader
}

func newMultiShardReader(infos []ShardInfo, startOffset int64) (*multiShardReader, error) {
	r := &multiShardReader{infos: infos}
	remaining := startOffset
	for i, info := range infos {
		if remaining < info.ByteLen {
			r.idx = i
			r.offset = remaining
			return r, r.openCurrent()
		}
		remaining -= info.ByteLen
	}
	// Offset is at or beyond the end of the log: empty reader.
	r.idx = len(infos)
	return r, nil
}

func (r *multiShardReader) openCurrent() error {
	if r.idx >= len(r.infos) {
		r.cur = nil
		r.br = nil
		return nil
	}
	f, err := os.Open(r.infos[r.idx].Path)
	if err != nil {
		return boneserr.Wrap(boneserr.KindIO, "opening shard for replay", err)
	}
	if r.offset > 0 {
		if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
			f.Close()
			return boneserr.Wrap(boneserr.KindIO, "seeking into shard", err)
		}
		r.offset = 0
	}
	r.cur = f
	r.br = bufio.NewReader(f)
	return nil
}

func (r *multiShardReader) Read(p []byte) (int, error) {
	for {
		if r.br == nil {
			return 0, io.EOF
		}
		n, err := r.br.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			if cerr := r.cur.Close(); cerr != nil {
				return 0, fmt.Errorf("shard: closing shard during replay: %w", cerr)
			}
			r.idx++
			if err := r.openCurrent(); err != nil {
				return 0, err
			}
			continue
		}
		return n, err
	}
}

func (r *multiShardReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}
