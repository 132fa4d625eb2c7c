package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/store"
)

// reconcileParallelism bounds concurrent repair writes against the index.
const reconcileParallelism = 4

// Reconciler periodically diffs the item store against the index and repairs
// drift in place: items missing from the index are re-indexed, entries whose
// item no longer exists are removed. It is the safety net behind the async
// coordinator's at-least-once delivery and behind crashes that lose queued
// writes.
type Reconciler struct {
	source   ItemSource
	index    Writer
	interval time.Duration
	log      zerolog.Logger
}

// NewReconciler creates a reconciler that runs every interval.
func NewReconciler(source ItemSource, idx Writer, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		source:   source,
		index:    idx,
		interval: interval,
		log:      logging.Component("reconciler"),
	}
}

// Run reconciles on the configured interval until the context is cancelled.
// Individual pass failures are logged, never fatal.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// Reconcile runs a single repair pass and reports how much drift it fixed.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	storeIDs, err := r.source.ItemIDs(ctx)
	if err != nil {
		return fmt.Errorf("list store ids: %w", err)
	}
	indexIDs, err := r.index.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list index ids: %w", err)
	}

	inStore := make(map[int64]bool, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = true
	}
	inIndex := make(map[int64]bool, len(indexIDs))
	for _, id := range indexIDs {
		inIndex[id] = true
	}

	var missing, orphaned []int64
	for _, id := range storeIDs {
		if !inIndex[id] {
			missing = append(missing, id)
		}
	}
	for _, id := range indexIDs {
		if !inStore[id] {
			orphaned = append(orphaned, id)
		}
	}

	if len(missing) == 0 && len(orphaned) == 0 {
		r.log.Debug().Msg("reconciliation found no drift")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)

	proj := projector{source: r.source}
	names := make(map[string]string)
	for _, id := range missing {
		// Project serially: the names cache is not safe for concurrent use
		// and the store read is cheap next to the index write.
		item, err := r.source.GetItem(gctx, id)
		if errors.Is(err, store.ErrItemNotFound) {
			continue // deleted between the two listings
		}
		if err != nil {
			return fmt.Errorf("load item %d: %w", id, err)
		}
		entry, err := proj.entryFor(gctx, item, names)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := r.index.Upsert(gctx, entry); err != nil {
				return fmt.Errorf("repair missing item %d: %w", entry.ID, err)
			}
			return nil
		})
	}
	for _, id := range orphaned {
		g.Go(func() error {
			if err := r.index.Delete(gctx, id); err != nil {
				return fmt.Errorf("remove orphaned entry %d: %w", id, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.log.Info().
		Int("missing", len(missing)).
		Int("orphaned", len(orphaned)).
		Msg("reconciliation repaired drift")
	return nil
}
