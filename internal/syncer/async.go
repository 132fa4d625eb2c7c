package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kbvault/kbvault/internal/index"
	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/store"
)

type opKind int

const (
	opUpsert opKind = iota
	opDelete
	opRebuild
)

type operation struct {
	kind  opKind
	entry index.Entry
	id    int64

	// reply is set for rebuilds, which callers wait on even in async mode.
	reply chan rebuildResult
}

type rebuildResult struct {
	count int
	err   error
}

// AsyncConfig tunes the asynchronous coordinator.
type AsyncConfig struct {
	// QueueSize is the pending-operation capacity. Submission blocks when the
	// queue is full rather than dropping mutations.
	QueueSize int
	// MaxAttempts is how many times a failed index write is retried before it
	// is abandoned to reconciliation.
	MaxAttempts int
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
}

// Async is the asynchronous coordinator: mutations return as soon as the
// operation is queued, and a single consumer goroutine applies index writes
// in submission order. One consumer means per-item ordering always matches
// commit order; a failed write is retried with backoff and finally left to
// the reconciliation job.
type Async struct {
	proj  projector
	index Writer
	cfg   AsyncConfig
	log   zerolog.Logger

	queue chan operation
	done  chan struct{}

	// mu is held shared by submitters for the duration of their queue send,
	// exclusively by Close; this keeps a send from racing the channel close.
	mu     sync.RWMutex
	closed bool
}

// NewAsync creates and starts an asynchronous coordinator.
func NewAsync(source ItemSource, idx Writer, cfg AsyncConfig) *Async {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	a := &Async{
		proj:  projector{source: source},
		index: idx,
		cfg:   cfg,
		log:   logging.Component("syncer"),
		queue: make(chan operation, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go a.consume()
	return a
}

// ItemUpserted projects the item and queues the index write. The projection
// happens here, on the mutation path, so the queued entry carries the
// post-commit field values even if the item changes again before the write
// applies; the later mutation queues its own, newer entry behind this one.
func (a *Async) ItemUpserted(ctx context.Context, item *store.KnowledgeItem) error {
	entry, err := a.proj.entryFor(ctx, item, map[string]string{})
	if err != nil {
		return err
	}
	return a.submit(ctx, operation{kind: opUpsert, entry: entry})
}

// ItemDeleted queues removal of the item's index entry.
func (a *Async) ItemDeleted(ctx context.Context, id int64) error {
	return a.submit(ctx, operation{kind: opDelete, id: id})
}

// ReindexAll queues a rebuild and waits for it. Routing the rebuild through
// the queue keeps it ordered against pending upserts and deletes, so an older
// queued write can never resurrect state the rebuild already repaired.
func (a *Async) ReindexAll(ctx context.Context) (int, error) {
	reply := make(chan rebuildResult, 1)
	if err := a.submit(ctx, operation{kind: opRebuild, reply: reply}); err != nil {
		return 0, err
	}

	select {
	case res := <-reply:
		return res.count, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops accepting work, drains the queue, and waits for the consumer.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}

func (a *Async) submit(ctx context.Context, op operation) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("syncer closed")
	}

	select {
	case a.queue <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consume applies queued operations one at a time, preserving FIFO order.
func (a *Async) consume() {
	defer close(a.done)

	for op := range a.queue {
		switch op.kind {
		case opUpsert:
			a.apply(op.entry.ID, func(ctx context.Context) error {
				return a.index.Upsert(ctx, op.entry)
			})
		case opDelete:
			a.apply(op.id, func(ctx context.Context) error {
				return a.index.Delete(ctx, op.id)
			})
		case opRebuild:
			count, err := reindexAll(context.Background(), &a.proj, a.index)
			op.reply <- rebuildResult{count: count, err: err}
		}
	}
}

// apply runs one index write with bounded retries. Exhausted attempts are
// logged and dropped; the reconciliation job repairs whatever was missed.
func (a *Async) apply(id int64, write func(context.Context) error) {
	var err error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if err = write(context.Background()); err == nil {
			return
		}
		a.log.Warn().
			Int64("item", id).
			Int("attempt", attempt).
			Err(err).
			Msg("index write failed")
		if attempt < a.cfg.MaxAttempts {
			time.Sleep(a.cfg.RetryBackoff)
		}
	}
	a.log.Error().Int64("item", id).Err(err).Msg("index write abandoned, awaiting reconciliation")
}
