package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/config"
	"github.com/kbvault/kbvault/internal/index"
	"github.com/kbvault/kbvault/internal/store"
)

// memSource is an in-memory ItemSource.
type memSource struct {
	mu    sync.Mutex
	items map[int64]*store.KnowledgeItem
	users map[string]*store.User
}

func newMemSource() *memSource {
	return &memSource{
		items: make(map[int64]*store.KnowledgeItem),
		users: make(map[string]*store.User),
	}
}

func (m *memSource) GetItem(ctx context.Context, id int64) (*store.KnowledgeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	return item, nil
}

func (m *memSource) GetUser(ctx context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return user, nil
}

func (m *memSource) ListItems(ctx context.Context) ([]*store.KnowledgeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	items := make([]*store.KnowledgeItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.items[id])
	}
	return items, nil
}

func (m *memSource) ItemIDs(ctx context.Context) ([]int64, error) {
	items, _ := m.ListItems(ctx)
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (m *memSource) add(item *store.KnowledgeItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *memSource) addUser(user *store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// memWriter records index writes in order and can be told to fail.
type memWriter struct {
	mu       sync.Mutex
	entries  map[int64]index.Entry
	ops      []string
	failures int
}

func newMemWriter() *memWriter {
	return &memWriter{entries: make(map[int64]index.Entry)}
}

func (w *memWriter) Upsert(ctx context.Context, entry index.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("injected write failure")
	}
	w.entries[entry.ID] = entry
	w.ops = append(w.ops, fmt.Sprintf("upsert %d %s", entry.ID, entry.Title))
	return nil
}

func (w *memWriter) Delete(ctx context.Context, id int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("injected write failure")
	}
	delete(w.entries, id)
	w.ops = append(w.ops, fmt.Sprintf("delete %d", id))
	return nil
}

func (w *memWriter) Rebuild(ctx context.Context, entries []index.Entry) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[int64]index.Entry)
	for _, entry := range entries {
		w.entries[entry.ID] = entry
	}
	w.ops = append(w.ops, fmt.Sprintf("rebuild %d", len(entries)))
	return len(entries), nil
}

func (w *memWriter) IDs(ctx context.Context) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (w *memWriter) opLog() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ops...)
}

func (w *memWriter) entry(id int64) (index.Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	return e, ok
}

func testItem(id int64, title, authorID string) *store.KnowledgeItem {
	return &store.KnowledgeItem{
		ID:         id,
		Title:      title,
		Visibility: store.VisibilityPublic,
		AuthorID:   authorID,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestSyncCoordinator(t *testing.T) {
	ctx := context.Background()
	source := newMemSource()
	writer := newMemWriter()
	coord := NewSync(source, writer)

	source.addUser(&store.User{ID: "u1", Username: "alice", DisplayName: "Alice A."})

	t.Run("upsert projects author display name", func(t *testing.T) {
		item := testItem(1, "First", "u1")
		source.add(item)
		require.NoError(t, coord.ItemUpserted(ctx, item))

		entry, ok := writer.entry(1)
		require.True(t, ok)
		assert.Equal(t, "First", entry.Title)
		assert.Equal(t, "Alice A.", entry.Author)
	})

	t.Run("missing author projects empty name", func(t *testing.T) {
		item := testItem(2, "Orphaned", "ghost")
		source.add(item)
		require.NoError(t, coord.ItemUpserted(ctx, item))

		entry, ok := writer.entry(2)
		require.True(t, ok)
		assert.Equal(t, "", entry.Author)
	})

	t.Run("username fallback when display name empty", func(t *testing.T) {
		source.addUser(&store.User{ID: "u2", Username: "bob"})
		item := testItem(3, "Bob's item", "u2")
		source.add(item)
		require.NoError(t, coord.ItemUpserted(ctx, item))

		entry, ok := writer.entry(3)
		require.True(t, ok)
		assert.Equal(t, "bob", entry.Author)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, coord.ItemDeleted(ctx, 2))
		_, ok := writer.entry(2)
		assert.False(t, ok)
	})

	t.Run("reindex all rebuilds from source", func(t *testing.T) {
		count, err := coord.ReindexAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		ids, err := writer.IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids)
	})

	require.NoError(t, coord.Close())
}

func TestAsyncCoordinatorOrdering(t *testing.T) {
	ctx := context.Background()
	source := newMemSource()
	writer := newMemWriter()
	source.addUser(&store.User{ID: "u1", Username: "alice"})

	coord := NewAsync(source, writer, AsyncConfig{QueueSize: 64})

	// Interleave updates and a delete on the same item; after drain the
	// writer must have applied them in submission order.
	item := testItem(1, "v1", "u1")
	source.add(item)
	require.NoError(t, coord.ItemUpserted(ctx, item))

	item2 := testItem(1, "v2", "u1")
	require.NoError(t, coord.ItemUpserted(ctx, item2))
	require.NoError(t, coord.ItemDeleted(ctx, 1))

	item3 := testItem(1, "v3", "u1")
	require.NoError(t, coord.ItemUpserted(ctx, item3))

	require.NoError(t, coord.Close())

	assert.Equal(t, []string{
		"upsert 1 v1",
		"upsert 1 v2",
		"delete 1",
		"upsert 1 v3",
	}, writer.opLog())

	entry, ok := writer.entry(1)
	require.True(t, ok)
	assert.Equal(t, "v3", entry.Title)
}

func TestAsyncCoordinatorRetries(t *testing.T) {
	ctx := context.Background()
	source := newMemSource()
	writer := newMemWriter()
	source.addUser(&store.User{ID: "u1", Username: "alice"})

	coord := NewAsync(source, writer, AsyncConfig{
		QueueSize:    8,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})

	writer.mu.Lock()
	writer.failures = 2
	writer.mu.Unlock()

	item := testItem(1, "Persistent", "u1")
	source.add(item)
	require.NoError(t, coord.ItemUpserted(ctx, item))
	require.NoError(t, coord.Close())

	entry, ok := writer.entry(1)
	require.True(t, ok, "write should land on the third attempt")
	assert.Equal(t, "Persistent", entry.Title)
}

func TestAsyncCoordinatorAbandonsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	source := newMemSource()
	writer := newMemWriter()
	source.addUser(&store.User{ID: "u1", Username: "alice"})

	coord := NewAsync(source, writer, AsyncConfig{
		QueueSize:    8,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	})

	writer.mu.Lock()
	writer.failures = 5
	writer.mu.Unlock()

	item := testItem(1, "Doomed", "u1")
	source.add(item)
	require.NoError(t, coord.ItemUpserted(ctx, item))

	// A later write must still go through once the fault clears.
	item2 := testItem(2, "Healthy", "u1")
	source.add(item2)
	require.NoError(t, coord.ItemUpserted(ctx, item2))
	require.NoError(t, coord.Close())

	_, ok := writer.entry(1)
	assert.False(t, ok, "abandoned write must not land")
	_, ok = writer.entry(2)
	assert.True(t, ok)
}

func TestAsyncCoordinatorReindex(t *testing.T) {
	ctx := context.Background()
	source := newMemSource()
	writer := newMemWriter()
	source.addUser(&store.User{ID: "u1", Username: "alice"})

	for i := int64(1); i <= 3; i++ {
		source.add(testItem(i, fmt.Sprintf("item %d", i), "u1"))
	}

	coord := NewAsync(source, writer, AsyncConfig{QueueSize: 8})
	defer coord.Close()

	count, err := coord.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ids, err := writer.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestAsyncCoordinatorRejectsAfterClose(t *testing.T) {
	source := newMemSource()
	writer := newMemWriter()
	coord := NewAsync(source, writer, AsyncConfig{QueueSize: 8})

	require.NoError(t, coord.Close())
	require.NoError(t, coord.Close(), "closing twice is fine")

	err := coord.ItemDeleted(context.Background(), 1)
	assert.Error(t, err)
}

func TestNewSelectsCoordinator(t *testing.T) {
	source := newMemSource()
	writer := newMemWriter()

	blocking := New(config.SyncerConfig{Mode: "sync"}, source, writer)
	_, ok := blocking.(*Sync)
	assert.True(t, ok)
	blocking.Close()

	queued := New(config.SyncerConfig{Mode: "async", QueueSize: 8}, source, writer)
	_, ok = queued.(*Async)
	assert.True(t, ok)
	queued.Close()

	fallback := New(config.SyncerConfig{}, source, writer)
	_, ok = fallback.(*Sync)
	assert.True(t, ok)
	fallback.Close()
}

func TestReconciler(t *testing.T) {
	ctx := context.Background()
	source := newMemSource()
	writer := newMemWriter()
	source.addUser(&store.User{ID: "u1", Username: "alice"})

	// Store has 1,2,3. Index has 2,3,4: 1 is missing, 4 is orphaned.
	for i := int64(1); i <= 3; i++ {
		source.add(testItem(i, fmt.Sprintf("item %d", i), "u1"))
	}
	for i := int64(2); i <= 4; i++ {
		require.NoError(t, writer.Upsert(ctx, index.Entry{ID: i, Title: "pre-existing"}))
	}

	rec := NewReconciler(source, writer, time.Minute)
	require.NoError(t, rec.Reconcile(ctx))

	ids, err := writer.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	entry, ok := writer.entry(1)
	require.True(t, ok)
	assert.Equal(t, "item 1", entry.Title)

	t.Run("second pass finds nothing to do", func(t *testing.T) {
		before := len(writer.opLog())
		require.NoError(t, rec.Reconcile(ctx))
		assert.Equal(t, before, len(writer.opLog()))
	})
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	source := newMemSource()
	writer := newMemWriter()
	rec := NewReconciler(source, writer, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
