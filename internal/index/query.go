package index

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Query tokenizes text, matches it against all indexed fields with stemming,
// and returns up to limit hits ordered by descending relevance. Every term
// must match somewhere in the document. Ties are broken by descending index
// sequence, so the most recently indexed entry wins; the ordering is fully
// deterministic.
//
// An empty or blank query returns an empty result list. User-supplied text is
// never parsed as FTS5 syntax: the sanitizer reduces it to plain quoted
// terms, so unbalanced quotes, stray operators, and column filters degrade to
// ordinary words instead of failing.
func (x *Index) Query(ctx context.Context, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		return []Hit{}, nil
	}

	match := sanitizeQuery(text)
	if match == "" {
		return []Hit{}, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.db == nil {
		return nil, ErrUnavailable
	}

	// bm25() is smaller for more relevant rows.
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, seq, created_at, title, description, content, category, tags, author,
		       bm25(entries) AS rank
		FROM entries
		WHERE entries MATCH ?
		ORDER BY bm25(entries) ASC, seq DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, limit)
	for rows.Next() {
		var hit Hit
		var seq int64
		var createdAt string
		var rank float64

		if err := rows.Scan(
			&hit.Entry.ID, &seq, &createdAt,
			&hit.Entry.Title, &hit.Entry.Description, &hit.Entry.Content,
			&hit.Entry.Category, &hit.Entry.Tags, &hit.Entry.Author,
			&rank,
		); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}

		hit.ID = hit.Entry.ID
		hit.Score = -rank
		if createdAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
				hit.Entry.CreatedAt = t
			}
		}
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}

	return hits, nil
}

// IDs returns every indexed entry id in ascending order, for the
// reconciliation job's store/index diff.
func (x *Index) IDs(ctx context.Context) ([]int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.db == nil {
		return nil, ErrUnavailable
	}

	rows, err := x.db.QueryContext(ctx, `SELECT id FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query entry ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Count returns the number of indexed entries.
func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.db == nil {
		return 0, ErrUnavailable
	}

	var count int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// sanitizeQuery reduces arbitrary user text to a safe FTS5 MATCH expression:
// every punctuation run becomes a separator, every surviving term is wrapped
// in double quotes, and terms are AND-joined so a multi-term query only
// matches documents containing all terms.
func sanitizeQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " AND ")
}
