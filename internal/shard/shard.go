// Package shard implements the month-bucketed, append-only event log:
// directory layout, the advisory lock, the monotonic wall clock, shard
// rotation and sealing, torn-write recovery, and full/offset replay
// (spec.md §3 "Shard layout", §4.3, §6).
//
// Grounded on the teacher's on-disk layout conventions (`.beads/` with a
// lock file, a JSONL log, and a sqlite cache — see internal/config and
// cmd/bd/sync.go's flock usage) generalized to bones's month-sharded,
// hash-chained log.
package shard

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// CurrentVersion is the event log format version this build understands.
const CurrentVersion = 1

// HeaderPrefix is the fixed prefix of the first line of every shard file.
const HeaderPrefix = "# bones event log v"

// Header is the exact first line written to a freshly created shard.
var Header = fmt.Sprintf("%s%d", HeaderPrefix, CurrentVersion)

// FieldComment is the exact second line written to a freshly created
// shard (spec.md §6).
const FieldComment = `# fields: wall_ts_us \t agent \t itc \t parents \t type \t item_id \t data \t event_hash`

const (
	dirName        = ".bones"
	eventsDirName  = "events"
	cacheDirName   = "cache"
	lockFileName   = "lock"
	clockFileName  = "clock"
	currentSymlink = "current.events"
	dbFileName     = "bones.db"
)

// Options configures a Manager.
type Options struct {
	// LockTimeout bounds how long Append waits to acquire the repo-wide
	// advisory lock before failing with KindLockTimeout.
	LockTimeout time.Duration
	// Fsync forces a data sync after every append (durability over
	// throughput). The zero value leaves it off; bones.Open takes the
	// value from the repo config, whose default is true.
	Fsync bool
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Manager owns one repo's event log: the shard directory, the advisory
// lock, and the monotonic clock file. It encapsulates all ambient state
// the spec's design notes (§9) require NOT leak as process-global state.
type Manager struct {
	rootDir string
	opts    Options
	lock    *flock.Flock
}

// RootDir returns the repo root this manager was opened against.
func (m *Manager) RootDir() string { return m.rootDir }

// BonesDir returns the `<root>/.bones` directory.
func (m *Manager) BonesDir() string { return filepath.Join(m.rootDir, dirName) }

func (m *Manager) eventsDir() string { return filepath.Join(m.BonesDir(), eventsDirName) }
func (m *Manager) cacheDir() string  { return filepath.Join(m.BonesDir(), cacheDirName) }
func (m *Manager) lockPath() string  { return filepath.Join(m.BonesDir(), lockFileName) }
func (m *Manager) clockPath() string { return filepath.Join(m.cacheDir(), clockFileName) }
func (m *Manager) currentSymlinkPath() string {
	return filepath.Join(m.eventsDir(), currentSymlink)
}

// DBPath returns the path to the derived relational cache file.
func (m *Manager) DBPath() string { return filepath.Join(m.BonesDir(), dbFileName) }

// Open initializes (if needed) and opens the event log rooted at
// <root>/.bones. If no shard exists yet, the current-month shard is
// created with the header lines and the symlink is pointed at it. The
// active shard is scanned for a torn trailing write and repaired.
func Open(root string, opts Options) (*Manager, error) {
	opts = opts.withDefaults()
	m := &Manager{rootDir: root, opts: opts}

	for _, dir := range []string{m.BonesDir(), m.eventsDir(), m.cacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("shard: creating %s: %w", dir, err)
		}
	}
	m.lock = flock.New(m.lockPath())

	if _, err := os.Lstat(m.currentSymlinkPath()); os.IsNotExist(err) {
		if err := m.initShard(time.Now()); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("shard: stat %s: %w", m.currentSymlinkPath(), err)
	}

	if discarded, err := m.RecoverTornWrite(); err != nil {
		return nil, err
	} else if discarded > 0 {
		m.opts.Logger.Warn("shard: repaired torn write", "bytes_discarded", discarded)
	}

	return m, nil
}

// initShard creates the shard file for the month containing t and points
// the symlink at it. Caller must already hold (or not yet need) the lock;
// it is only called from Open (pre-concurrency) and rotate (lock held).
func (m *Manager) initShard(t time.Time) error {
	month := monthKey(t)
	path := m.shardPath(month)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		content := Header + "\n" + FieldComment + "\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("shard: creating shard %s: %w", path, err)
		}
	} else if err != nil {
		return fmt.Errorf("shard: stat %s: %w", path, err)
	}
	return m.relinkCurrent(month)
}

func (m *Manager) relinkCurrent(month string) error {
	link := m.currentSymlinkPath()
	_ = os.Remove(link)
	// Relative target so the .bones directory stays relocatable.
	return os.Symlink(monthFileName(month), link)
}

func (m *Manager) shardPath(month string) string {
	return filepath.Join(m.eventsDir(), monthFileName(month))
}

func (m *Manager) manifestPath(month string) string {
	return filepath.Join(m.eventsDir(), month+".manifest")
}

func monthFileName(month string) string { return month + ".events" }

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// activeMonth reads the current symlink target and returns its month key.
func (m *Manager) activeMonth() (string, error) {
	target, err := os.Readlink(m.currentSymlinkPath())
	if err != nil {
		return "", fmt.Errorf("shard: reading current symlink: %w", err)
	}
	name := filepath.Base(target)
	return strings.TrimSuffix(name, ".events"), nil
}

// allMonths returns every *.events shard's month key, sorted chronologically.
func (m *Manager) allMonths() ([]string, error) {
	entries, err := os.ReadDir(m.eventsDir())
	if err != nil {
		return nil, fmt.Errorf("shard: reading events dir: %w", err)
	}
	var months []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".events") {
			months = append(months, strings.TrimSuffix(name, ".events"))
		}
	}
	sort.Strings(months)
	return months, nil
}
