// Package index implements the persisted full-text search index over
// knowledge items. The index is an SQLite FTS5 database kept in its own
// directory, separate from the item store: entries are denormalized snapshots
// of items, kept in sync by the syncer package, never by this one.
//
// Concurrency model: any number of queries may run concurrently; writers are
// mutually exclusive and admitted through a timed slot so a stuck writer
// surfaces as a retriable error instead of hanging callers. Rebuilds create a
// whole new index generation and swap a pointer, so a concurrent query sees
// either the old or the new index, never a partial one.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/kbvault/kbvault/internal/logging"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// currentFile names the generation pointer inside the index directory.
const currentFile = "CURRENT"

// lockFile guards the directory against a second writing process.
const lockFile = "index.lock"

// schema is applied to every generation database. All entry fields live in
// the FTS5 table itself so a hit carries its stored-field snapshot; id, seq,
// and created_at are UNINDEXED so they are stored but never matched.
const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS entries USING fts5(
	id UNINDEXED,
	seq UNINDEXED,
	created_at UNINDEXED,
	title,
	description,
	content,
	category,
	tags,
	author,
	tokenize = 'porter unicode61'
);
`

// Entry is the denormalized, queryable projection of one knowledge item.
type Entry struct {
	ID          int64
	Title       string
	Description string
	Content     string
	Category    string
	Tags        string
	Author      string
	CreatedAt   time.Time
}

// Hit is one query result: the entry id, its relevance score (higher is more
// relevant), and the stored snapshot.
type Hit struct {
	ID    int64
	Score float64
	Entry Entry
}

// IndexError is a typed error with a stable code.
type IndexError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *IndexError) Error() string {
	return e.Message
}

// Common index errors.
var (
	// ErrUnavailable signals that the index storage is inaccessible or the
	// writer lock could not be acquired in time. Retriable.
	ErrUnavailable = &IndexError{Code: "INDEX_UNAVAILABLE", Message: "search index unavailable"}

	// ErrLocked signals that another process holds the index directory.
	ErrLocked = &IndexError{Code: "INDEX_LOCKED", Message: "index directory locked by another process"}
)

// Index is the process-wide handle on the search index. It is initialized
// once at startup and torn down on shutdown; storage is never reopened per
// call.
type Index struct {
	dir          string
	writeTimeout time.Duration
	dirLock      *flock.Flock
	log          zerolog.Logger

	// writeSlot admits one writer at a time; acquisition is bounded by
	// writeTimeout.
	writeSlot chan struct{}

	// mu guards the generation swap: queries hold the read lock for their
	// whole execution, Rebuild takes the write lock only for the pointer
	// swap.
	mu  sync.RWMutex
	db  *sql.DB
	gen int
}

// Open opens (or creates) the index in dir. The directory is locked with an
// advisory flock so two processes cannot write the same index.
func Open(dir string, writeTimeout time.Duration) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dirLock := flock.New(filepath.Join(dir, lockFile))
	locked, err := dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock index directory: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	idx := &Index{
		dir:          dir,
		writeTimeout: writeTimeout,
		dirLock:      dirLock,
		log:          logging.Component("index"),
		writeSlot:    make(chan struct{}, 1),
	}
	idx.writeSlot <- struct{}{}

	gen, err := idx.currentGeneration()
	if err != nil {
		dirLock.Unlock()
		return nil, err
	}

	db, err := openGeneration(dir, gen)
	if err != nil {
		dirLock.Unlock()
		return nil, err
	}

	idx.db = db
	idx.gen = gen
	idx.log.Debug().Int("generation", gen).Str("dir", dir).Msg("index opened")
	return idx, nil
}

// Close releases the database handle and the directory lock.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var firstErr error
	if x.db != nil {
		if err := x.db.Close(); err != nil {
			firstErr = fmt.Errorf("close index database: %w", err)
		}
		x.db = nil
	}
	if err := x.dirLock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unlock index directory: %w", err)
	}
	return firstErr
}

// currentGeneration reads the CURRENT pointer, initializing generation 1 with
// an empty index when the directory is fresh.
func (x *Index) currentGeneration() (int, error) {
	data, err := os.ReadFile(filepath.Join(x.dir, currentFile))
	if os.IsNotExist(err) {
		if err := writeCurrent(x.dir, 1); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation pointer: %w", err)
	}

	var gen int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &gen); err != nil || gen < 1 {
		return 0, fmt.Errorf("corrupt generation pointer %q", strings.TrimSpace(string(data)))
	}
	return gen, nil
}

// acquireWriter takes the writer slot, waiting at most writeTimeout.
func (x *Index) acquireWriter(ctx context.Context) error {
	select {
	case <-x.writeSlot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(x.writeTimeout):
		return ErrUnavailable
	}
}

func (x *Index) releaseWriter() {
	x.writeSlot <- struct{}{}
}

// generationPath returns the database file for a generation.
func generationPath(dir string, gen int) string {
	return filepath.Join(dir, fmt.Sprintf("search-%06d.db", gen))
}

// openGeneration opens one generation database and ensures its schema.
func openGeneration(dir string, gen int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", generationPath(dir, gen))
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}

	return db, nil
}

// writeCurrent atomically updates the generation pointer.
func writeCurrent(dir string, gen int) error {
	tmp := filepath.Join(dir, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", gen)), 0o644); err != nil {
		return fmt.Errorf("write generation pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, currentFile)); err != nil {
		return fmt.Errorf("swap generation pointer: %w", err)
	}
	return nil
}
