package shard

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/bobisme/bones/internal/boneserr"
	"github.com/bobisme/bones/internal/canon"
)

// VerifyResult reports whether one sealed shard's on-disk content still
// hashes to the value recorded in its manifest at seal time.
type VerifyResult struct {
	Month    string
	OK       bool
	Mismatch string // empty when OK
}

// VerifyManifests checks every sealed shard's file_hash against its
// current on-disk content, bounding concurrency to 4 in-flight reads so a
// repo with many months of history doesn't open hundreds of files at
// once during a full rebuild (spec.md §4.7's rebuild path). The active
// (unsealed) shard is skipped, since it is expected to keep growing.
//
// Grounded on the teacher's bounded-worker-pool pattern for concurrent
// I/O (steveyegge-beads's go.mod pulls in golang.org/x/sync for the same
// reason: capping fan-out with errgroup.Group.SetLimit rather than
// hand-rolling a semaphore channel).
func (m *Manager) VerifyManifests(ctx context.Context) ([]VerifyResult, error) {
	infos, err := m.Shards()
	if err != nil {
		return nil, err
	}

	results := make([]VerifyResult, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, info := range infos {
		i, info := i, info
		if !info.Sealed {
			results[i] = VerifyResult{Month: info.Month, OK: true}
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			mf, err := m.readManifest(info.Month)
			if err != nil {
				return boneserr.Wrap(boneserr.KindIO, "reading manifest for "+info.Month, err)
			}
			content, err := os.ReadFile(info.Path)
			if err != nil {
				return boneserr.Wrap(boneserr.KindIO, "reading sealed shard "+info.Month, err)
			}
			computed := canon.HashFile(content)
			if computed != mf.FileHash {
				results[i] = VerifyResult{
					Month: info.Month, OK: false,
					Mismatch: fmt.Sprintf("manifest says %s, computed %s", mf.FileHash, computed),
				}
				return nil
			}
			results[i] = VerifyResult{Month: info.Month, OK: true}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
