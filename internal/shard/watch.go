package shard

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch installs an fsnotify watch on the events directory and returns a
// channel that receives a (coalesced) tick whenever the active shard
// changes on disk — appended to, rotated, or sealed by any writer,
// including one in another process. This is optional ambient plumbing
// (SPEC_FULL.md §4.10) for a long-lived query consumer deciding when to
// re-run the projector; no correctness property in spec.md §8 depends on
// it, so callers must tolerate missed or coalesced ticks.
//
// Grounded on cmd/bd/daemon_watcher.go's fsnotify debounce pattern.
func (m *Manager) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(m.eventsDir()); err != nil {
		watcher.Close()
		return nil, err
	}

	ticks := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		defer close(ticks)
		const debounce = 50 * time.Millisecond
		var timer *time.Timer
		pending := make(chan struct{})
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.AfterFunc(debounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				} else {
					timer.Reset(debounce)
				}
			case <-pending:
				select {
				case ticks <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ticks, nil
}
