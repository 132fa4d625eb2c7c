package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// Upsert inserts or atomically replaces the entry for entry.ID. The
// delete+insert runs in one transaction, so a concurrent query sees the old
// entry or the new one, never both and never neither.
func (x *Index) Upsert(ctx context.Context, entry Entry) error {
	if err := x.acquireWriter(ctx); err != nil {
		return err
	}
	defer x.releaseWriter()

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.db == nil {
		return ErrUnavailable
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, entry.ID); err != nil {
		return fmt.Errorf("clear previous entry: %w", err)
	}

	if err := insertEntry(ctx, tx, entry, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index write: %w", err)
	}

	x.log.Debug().Int64("item", entry.ID).Msg("entry upserted")
	return nil
}

// Delete removes the entry for id. A missing entry is a no-op, not an error:
// deletes must be idempotent so the syncer can retry them freely.
func (x *Index) Delete(ctx context.Context, id int64) error {
	if err := x.acquireWriter(ctx); err != nil {
		return err
	}
	defer x.releaseWriter()

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.db == nil {
		return ErrUnavailable
	}

	if _, err := x.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	x.log.Debug().Int64("item", id).Msg("entry deleted")
	return nil
}

// Rebuild clears the index and re-inserts every supplied entry by building a
// fresh generation database and swapping the generation pointer. Queries
// running concurrently see the old generation until the swap, the new one
// after; never a mix. Returns the number of entries indexed.
func (x *Index) Rebuild(ctx context.Context, entries []Entry) (int, error) {
	if err := x.acquireWriter(ctx); err != nil {
		return 0, err
	}
	defer x.releaseWriter()

	x.mu.RLock()
	oldGen := x.gen
	x.mu.RUnlock()

	newGen := oldGen + 1
	newDB, err := openGeneration(x.dir, newGen)
	if err != nil {
		return 0, err
	}

	if err := bulkLoad(ctx, newDB, entries); err != nil {
		newDB.Close()
		os.Remove(generationPath(x.dir, newGen))
		return 0, err
	}

	if err := writeCurrent(x.dir, newGen); err != nil {
		newDB.Close()
		os.Remove(generationPath(x.dir, newGen))
		return 0, err
	}

	// Swap the live handle. The write lock excludes in-flight queries, so no
	// reader ever observes the half-switched state.
	x.mu.Lock()
	oldDB := x.db
	x.db = newDB
	x.gen = newGen
	x.mu.Unlock()

	if oldDB != nil {
		oldDB.Close()
	}
	removeGeneration(x.dir, oldGen)

	x.log.Info().Int("entries", len(entries)).Int("generation", newGen).Msg("index rebuilt")
	return len(entries), nil
}

// bulkLoad fills a fresh generation with entries in one transaction.
func bulkLoad(ctx context.Context, db *sql.DB, entries []Entry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild load: %w", err)
	}
	defer tx.Rollback()

	for i, entry := range entries {
		if err := insertEntry(ctx, tx, entry, int64(i+1)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild load: %w", err)
	}
	return nil
}

// insertEntry writes one row. A zero seq means "next": the sequence is the
// recency tie-breaker for equally scored hits, so it must only ever grow.
func insertEntry(ctx context.Context, tx *sql.Tx, entry Entry, seq int64) error {
	if seq == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM entries`).Scan(&seq); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
	}

	var createdAt string
	if !entry.CreatedAt.IsZero() {
		createdAt = entry.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, seq, created_at, title, description, content, category, tags, author)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, seq, createdAt,
		entry.Title, entry.Description, entry.Content,
		entry.Category, entry.Tags, entry.Author,
	)
	if err != nil {
		return fmt.Errorf("insert entry %d: %w", entry.ID, err)
	}
	return nil
}

// removeGeneration deletes a superseded generation file and its WAL sidecars.
func removeGeneration(dir string, gen int) {
	base := generationPath(dir, gen)
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		os.Remove(path)
	}
}
