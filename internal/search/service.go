// Package search composes the full-text index with the permission resolver:
// raw index hits are filtered through the same access checks used everywhere
// else before a caller ever sees them.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kbvault/kbvault/internal/access"
	"github.com/kbvault/kbvault/internal/index"
	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/store"
)

// Querier is the slice of the index the service needs.
type Querier interface {
	Query(ctx context.Context, text string, limit int) ([]index.Hit, error)
}

// ItemGetter resolves candidate ids back to live items.
type ItemGetter interface {
	GetItem(ctx context.Context, id int64) (*store.KnowledgeItem, error)
}

// Result is one access-checked search result. Score carries the index's
// relevance ranking unchanged; access filtering never reorders results.
type Result struct {
	Item  *store.KnowledgeItem `json:"item"`
	Score float64              `json:"score"`
}

// Options tunes the over-fetch strategy. The index is asked for
// limit*OverfetchFactor candidates to compensate for candidates removed by
// access filtering; when a full batch still filters down below limit, the
// query is reissued up to MaxRetries times with the factor doubled.
type Options struct {
	DefaultLimit    int
	OverfetchFactor int
	MaxRetries      int
}

// DefaultOptions returns the tested defaults: 3x over-fetch, one escalated
// retry.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:    20,
		OverfetchFactor: 3,
		MaxRetries:      1,
	}
}

// Service executes access-filtered searches.
type Service struct {
	index   Querier
	items   ItemGetter
	checker *access.Checker
	opts    Options
	log     zerolog.Logger
}

// NewService creates a search service. Zero fields in opts fall back to
// DefaultOptions.
func NewService(idx Querier, items ItemGetter, grants *access.Store, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaults.DefaultLimit
	}
	if opts.OverfetchFactor < 1 {
		opts.OverfetchFactor = defaults.OverfetchFactor
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaults.MaxRetries
	}

	return &Service{
		index:   idx,
		items:   items,
		checker: access.NewChecker(grants),
		opts:    opts,
		log:     logging.Component("search"),
	}
}

// Search queries the index and returns up to limit results the user is
// allowed to read, in the index's relevance order. Candidates whose item has
// vanished from the store are dropped silently: a stale index entry is
// expected transient noise that the syncer's reconciliation repairs.
//
// The call returns a complete result list or an error, never a partial list.
func (s *Service) Search(ctx context.Context, user *store.User, text string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	results := make([]Result, 0, limit)
	seen := make(map[int64]bool)
	factor := s.opts.OverfetchFactor

	for attempt := 0; ; attempt++ {
		fetch := limit * factor
		hits, err := s.index.Query(ctx, text, fetch)
		if err != nil {
			return nil, fmt.Errorf("index query: %w", err)
		}

		for _, hit := range hits {
			if len(results) >= limit {
				break
			}
			if seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true

			item, err := s.items.GetItem(ctx, hit.ID)
			if err != nil {
				if errors.Is(err, store.ErrItemNotFound) {
					s.log.Debug().Int64("item", hit.ID).Msg("dropping stale index hit")
					continue
				}
				return nil, fmt.Errorf("resolve candidate %d: %w", hit.ID, err)
			}

			ok, err := s.checker.Check(ctx, user, item, access.PermissionRead)
			if err != nil {
				return nil, fmt.Errorf("check candidate %d: %w", hit.ID, err)
			}
			if !ok {
				continue
			}

			results = append(results, Result{Item: item, Score: hit.Score})
		}

		if len(results) >= limit {
			break
		}
		// A short batch means the index is exhausted; a full batch means
		// filtering may have hidden results that a wider query would find.
		if len(hits) < fetch || attempt >= s.opts.MaxRetries {
			break
		}
		factor *= 2
		s.log.Debug().
			Int("kept", len(results)).
			Int("limit", limit).
			Int("next_factor", factor).
			Msg("over-fetch exhausted by filtering, widening query")
	}

	return results, nil
}
