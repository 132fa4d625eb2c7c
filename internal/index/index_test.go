package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func entry(id int64, title, content string) Entry {
	return Entry{
		ID:        id,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func TestOpen(t *testing.T) {
	t.Run("fresh directory initializes generation 1", func(t *testing.T) {
		dir := t.TempDir()

		idx, err := Open(dir, time.Second)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer idx.Close()

		data, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
		if err != nil {
			t.Fatalf("CURRENT pointer missing: %v", err)
		}
		if string(data) != "1\n" {
			t.Errorf("CURRENT = %q, want \"1\\n\"", data)
		}
		if _, err := os.Stat(filepath.Join(dir, "search-000001.db")); err != nil {
			t.Errorf("generation file missing: %v", err)
		}
	})

	t.Run("second opener is rejected", func(t *testing.T) {
		dir := t.TempDir()

		idx, err := Open(dir, time.Second)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer idx.Close()

		if _, err := Open(dir, time.Second); !errors.Is(err, ErrLocked) {
			t.Errorf("second Open = %v, want ErrLocked", err)
		}
	})

	t.Run("lock released on close", func(t *testing.T) {
		dir := t.TempDir()

		idx, err := Open(dir, time.Second)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := idx.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		idx2, err := Open(dir, time.Second)
		if err != nil {
			t.Fatalf("reopen after close failed: %v", err)
		}
		idx2.Close()
	})

	t.Run("corrupt generation pointer rejected", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "CURRENT"), []byte("banana"), 0o644); err != nil {
			t.Fatal(err)
		}

		if _, err := Open(dir, time.Second); err == nil {
			t.Error("expected error for corrupt pointer")
		}
	})
}

func TestUpsertAndQuery(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, entry(1, "Gradient Descent", "iterative optimization method")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, entry(2, "Tea Brewing", "steep leaves in hot water")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	t.Run("matches by content", func(t *testing.T) {
		hits, err := idx.Query(ctx, "optimization", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != 1 {
			t.Fatalf("hits = %+v, want single hit for id 1", hits)
		}
		if hits[0].Entry.Title != "Gradient Descent" {
			t.Errorf("stored title = %q", hits[0].Entry.Title)
		}
	})

	t.Run("stemming matches inflected forms", func(t *testing.T) {
		hits, err := idx.Query(ctx, "optimizing", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != 1 {
			t.Errorf("stemmed query hits = %+v, want id 1", hits)
		}
	})

	t.Run("upsert replaces instead of duplicating", func(t *testing.T) {
		if err := idx.Upsert(ctx, entry(1, "Gradient Descent", "updated text about optimization")); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		count, err := idx.Count(ctx)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}

		hits, err := idx.Query(ctx, "updated", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != 1 {
			t.Errorf("hits = %+v, want updated entry for id 1", hits)
		}
	})

	t.Run("limit respected", func(t *testing.T) {
		if err := idx.Upsert(ctx, entry(3, "More Tea", "green tea and black tea")); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		hits, err := idx.Query(ctx, "tea", 1)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 1 {
			t.Errorf("len(hits) = %d, want 1", len(hits))
		}
	})
}

func TestDelete(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, entry(1, "Ephemeral", "soon gone")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := idx.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	hits, err := idx.Query(ctx, "ephemeral", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted entry still matches: %+v", hits)
	}

	// Idempotent: retried and never-indexed deletes succeed.
	if err := idx.Delete(ctx, 1); err != nil {
		t.Errorf("repeated Delete failed: %v", err)
	}
	if err := idx.Delete(ctx, 42); err != nil {
		t.Errorf("Delete of unknown id failed: %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := Open(dir, time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := idx.Upsert(ctx, entry(7, "Durable Entry", "survives restarts")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	idx2, err := Open(dir, time.Second)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer idx2.Close()

	hits, err := idx2.Query(ctx, "durable", 10)
	if err != nil {
		t.Fatalf("Query after reopen failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 7 {
		t.Errorf("hits after reopen = %+v, want id 7", hits)
	}
}

func TestRebuild(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := Open(dir, time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer idx.Close()

	if err := idx.Upsert(ctx, entry(1, "Stale", "will be dropped")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	count, err := idx.Rebuild(ctx, []Entry{
		entry(10, "Fresh One", "first rebuilt entry"),
		entry(11, "Fresh Two", "second rebuilt entry"),
	})
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Rebuild count = %d, want 2", count)
	}

	t.Run("old entries are gone", func(t *testing.T) {
		hits, err := idx.Query(ctx, "stale", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("stale entry survived rebuild: %+v", hits)
		}
	})

	t.Run("new entries are queryable", func(t *testing.T) {
		ids, err := idx.IDs(ctx)
		if err != nil {
			t.Fatalf("IDs failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != 10 || ids[1] != 11 {
			t.Errorf("ids = %v, want [10 11]", ids)
		}
	})

	t.Run("generation pointer advanced and old file removed", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
		if err != nil {
			t.Fatalf("read CURRENT: %v", err)
		}
		if string(data) != "2\n" {
			t.Errorf("CURRENT = %q, want \"2\\n\"", data)
		}
		if _, err := os.Stat(filepath.Join(dir, "search-000001.db")); !os.IsNotExist(err) {
			t.Error("superseded generation file not removed")
		}
		if _, err := os.Stat(filepath.Join(dir, "search-000002.db")); err != nil {
			t.Errorf("new generation file missing: %v", err)
		}
	})

	t.Run("rebuilt index survives reopen", func(t *testing.T) {
		if err := idx.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		idx2, err := Open(dir, time.Second)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer idx2.Close()

		hits, err := idx2.Query(ctx, "fresh", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 2 {
			t.Errorf("len(hits) = %d, want 2", len(hits))
		}
	})
}

func TestRebuildConcurrentQueries(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	smaller := []Entry{
		entry(1, "Granite One", "granite sample"),
		entry(2, "Granite Two", "granite sample"),
	}
	larger := append(append([]Entry{}, smaller...),
		entry(3, "Granite Three", "granite sample"))

	if _, err := idx.Rebuild(ctx, smaller); err != nil {
		t.Fatalf("seed Rebuild failed: %v", err)
	}

	// Readers racing the generation swap must see a complete snapshot,
	// either the 2-entry set or the 3-entry set, never a partial one.
	done := make(chan struct{})
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				hits, err := idx.Query(ctx, "granite", 10)
				if err != nil {
					errs <- fmt.Errorf("Query during rebuild: %w", err)
					return
				}
				if len(hits) != 2 && len(hits) != 3 {
					errs <- fmt.Errorf("saw %d hits, want a complete set of 2 or 3", len(hits))
					return
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		entries := smaller
		if i%2 == 0 {
			entries = larger
		}
		if _, err := idx.Rebuild(ctx, entries); err != nil {
			t.Fatalf("Rebuild %d failed: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestQueryEdgeCases(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, entry(1, "Plain Entry", "nothing fancy here")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	t.Run("empty query returns empty list", func(t *testing.T) {
		for _, q := range []string{"", "   ", "\t\n", "!!! ---"} {
			hits, err := idx.Query(ctx, q, 10)
			if err != nil {
				t.Errorf("Query(%q) failed: %v", q, err)
			}
			if hits == nil || len(hits) != 0 {
				t.Errorf("Query(%q) = %v, want empty non-nil slice", q, hits)
			}
		}
	})

	t.Run("zero limit returns empty list", func(t *testing.T) {
		hits, err := idx.Query(ctx, "plain", 0)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("hits = %v, want none", hits)
		}
	})

	t.Run("operator lookalikes degrade to plain terms", func(t *testing.T) {
		queries := []string{
			`"unbalanced quote`,
			`title:plain`,
			`plain AND`,
			`NEAR(plain entry)`,
			`plain*`,
			`(plain OR`,
		}
		for _, q := range queries {
			if _, err := idx.Query(ctx, q, 10); err != nil {
				t.Errorf("Query(%q) failed: %v", q, err)
			}
		}
	})

	t.Run("all terms must match", func(t *testing.T) {
		hits, err := idx.Query(ctx, "nothing fancy", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != 1 {
			t.Errorf("hits = %+v, want id 1 for both terms present", hits)
		}

		hits, err = idx.Query(ctx, "fancy zeppelin", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("hits = %+v, want none when one term is absent", hits)
		}
	})

	t.Run("terms may match across fields", func(t *testing.T) {
		hits, err := idx.Query(ctx, "plain fancy", 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != 1 {
			t.Errorf("hits = %+v, want id 1 with terms split over title and content", hits)
		}
	})
}

func TestQueryOrdering(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	// Heavier term frequency should rank first.
	if err := idx.Upsert(ctx, Entry{ID: 1, Title: "One mention", Content: "zeppelin appears just once in prose"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, Entry{ID: 2, Title: "Many mentions", Content: "zeppelin zeppelin zeppelin zeppelin zeppelin"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := idx.Query(ctx, "zeppelin", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].ID != 2 {
		t.Errorf("first hit = %d, want the denser document 2", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestWriterTimeout(t *testing.T) {
	idx := setupIndex(t)
	idx.writeTimeout = 50 * time.Millisecond
	ctx := context.Background()

	// Hold the writer slot so the next write times out.
	if err := idx.acquireWriter(ctx); err != nil {
		t.Fatalf("acquireWriter failed: %v", err)
	}

	err := idx.Upsert(ctx, entry(1, "Blocked", "writer slot is taken"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Upsert under held slot = %v, want ErrUnavailable", err)
	}

	// Queries are unaffected by the held writer slot.
	if _, err := idx.Query(ctx, "anything", 10); err != nil {
		t.Errorf("Query under held slot failed: %v", err)
	}

	idx.releaseWriter()
	if err := idx.Upsert(ctx, entry(1, "Unblocked", "slot released")); err != nil {
		t.Errorf("Upsert after release failed: %v", err)
	}
}

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple word", "hello", `"hello"`},
		{"multiple words", "hello world", `"hello" AND "world"`},
		{"punctuation stripped", "c'est-la-vie", `"c" AND "est" AND "la" AND "vie"`},
		{"operators quoted away", `title:foo AND bar`, `"title" AND "foo" AND "AND" AND "bar"`},
		{"embedded quotes removed", `say "cheese"`, `"say" AND "cheese"`},
		{"numbers kept", "sqlite3 fts5", `"sqlite3" AND "fts5"`},
		{"only punctuation", "!!! ???", ""},
		{"empty", "", ""},
		{"whitespace", "  \t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.input); got != tt.expected {
				t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
