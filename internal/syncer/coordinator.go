// Package syncer keeps the search index consistent with the item store: every
// committed item mutation is mirrored into the index exactly once, in commit
// order. Two coordinators are provided. Sync blocks the mutation until the
// index write lands, giving read-your-writes search at the cost of coupling
// the mutation path to index availability. Async queues the write and retries
// independently, accepting a bounded staleness window that the reconciliation
// job closes.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kbvault/kbvault/internal/index"
	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/store"
)

// Coordinator mirrors item mutations into the search index. The outer layer
// calls these hooks after every committed store mutation; the coordinator
// never owns the store's transaction boundary.
type Coordinator interface {
	// ItemUpserted indexes the post-commit state of a created or updated item.
	ItemUpserted(ctx context.Context, item *store.KnowledgeItem) error

	// ItemDeleted removes the item's index entry.
	ItemDeleted(ctx context.Context, id int64) error

	// ReindexAll rebuilds the whole index from the item store. This is the
	// authoritative repair path after any detected drift.
	ReindexAll(ctx context.Context) (int, error)

	// Close flushes pending work and stops background processing.
	Close() error
}

// ItemSource is the slice of the item store the syncer reads.
type ItemSource interface {
	GetItem(ctx context.Context, id int64) (*store.KnowledgeItem, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListItems(ctx context.Context) ([]*store.KnowledgeItem, error)
	ItemIDs(ctx context.Context) ([]int64, error)
}

// Writer is the slice of the index the syncer writes.
type Writer interface {
	Upsert(ctx context.Context, entry index.Entry) error
	Delete(ctx context.Context, id int64) error
	Rebuild(ctx context.Context, entries []index.Entry) (int, error)
	IDs(ctx context.Context) ([]int64, error)
}

// projector builds index entries from items, resolving author display names
// through a small per-operation cache.
type projector struct {
	source ItemSource
}

// entryFor denormalizes one item. A missing author is projected with an empty
// display name rather than failing the whole index write.
func (p *projector) entryFor(ctx context.Context, item *store.KnowledgeItem, names map[string]string) (index.Entry, error) {
	name, ok := names[item.AuthorID]
	if !ok {
		user, err := p.source.GetUser(ctx, item.AuthorID)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			name = ""
		case err != nil:
			return index.Entry{}, fmt.Errorf("resolve author %s: %w", item.AuthorID, err)
		default:
			name = user.DisplayName
			if name == "" {
				name = user.Username
			}
		}
		names[item.AuthorID] = name
	}

	return index.Entry{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Content:     item.Content,
		Category:    item.Category,
		Tags:        item.Tags,
		Author:      name,
		CreatedAt:   item.CreatedAt,
	}, nil
}

// Sync is the synchronous coordinator: index writes happen on the caller's
// goroutine and their errors surface to the caller, who may retry or roll the
// store mutation back.
type Sync struct {
	proj  projector
	index Writer
	log   zerolog.Logger
}

// NewSync creates a synchronous coordinator.
func NewSync(source ItemSource, idx Writer) *Sync {
	return &Sync{
		proj:  projector{source: source},
		index: idx,
		log:   logging.Component("syncer"),
	}
}

// ItemUpserted projects the item and writes it to the index before returning.
func (s *Sync) ItemUpserted(ctx context.Context, item *store.KnowledgeItem) error {
	entry, err := s.proj.entryFor(ctx, item, map[string]string{})
	if err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("index upsert %d: %w", item.ID, err)
	}
	return nil
}

// ItemDeleted removes the index entry before returning.
func (s *Sync) ItemDeleted(ctx context.Context, id int64) error {
	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("index delete %d: %w", id, err)
	}
	return nil
}

// ReindexAll rebuilds the index from the full item list.
func (s *Sync) ReindexAll(ctx context.Context) (int, error) {
	return reindexAll(ctx, &s.proj, s.index)
}

// Close is a no-op; the synchronous coordinator holds no background state.
func (s *Sync) Close() error {
	return nil
}

// reindexAll is shared by both coordinators.
func reindexAll(ctx context.Context, proj *projector, idx Writer) (int, error) {
	items, err := proj.source.ListItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list items for reindex: %w", err)
	}

	names := map[string]string{}
	entries := make([]index.Entry, 0, len(items))
	for _, item := range items {
		entry, err := proj.entryFor(ctx, item, names)
		if err != nil {
			return 0, err
		}
		entries = append(entries, entry)
	}

	count, err := idx.Rebuild(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	return count, nil
}
