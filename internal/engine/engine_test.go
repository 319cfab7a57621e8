package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/satchelhq/satchel/internal/analytics"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/retry"
	"github.com/satchelhq/satchel/internal/schema"
)

// memStore is an in-memory store.Local with a switchable Save failure.
type memStore struct {
	mu      sync.Mutex
	items   []schema.Item
	failing bool
	saves   int
	changes chan struct{}
}

func newMemStore() *memStore {
	return &memStore{changes: make(chan struct{}, 1)}
}

func (m *memStore) Load(ctx context.Context) []schema.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Item, len(m.items))
	copy(out, m.items)
	return out
}

func (m *memStore) Save(ctx context.Context, items []schema.Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failing {
		return false
	}
	m.items = make([]schema.Item, len(items))
	copy(m.items, items)
	return true
}

func (m *memStore) Changes() <-chan struct{} { return m.changes }
func (m *memStore) Close() error            { return nil }

// fakeRemote scripts the remote adapter. Each op delegates to an
// optional hook; nil hooks succeed.
type fakeRemote struct {
	mu       sync.Mutex
	onUpdate func(id string, patch schema.Patch) error
	onCreate func(item schema.Item) error
	onDelete func(id string) error
	onBatch  func(items []schema.Item) error
	puts     []schema.Meta
	updates  int
}

func (f *fakeRemote) Subscribe(ctx context.Context, owner string, cb remote.Callbacks) (func(), error) {
	return func() {}, nil
}

func (f *fakeRemote) Create(ctx context.Context, item schema.Item) (string, error) {
	if f.onCreate != nil {
		if err := f.onCreate(item); err != nil {
			return "", err
		}
	}
	return item.ID, nil
}

func (f *fakeRemote) Update(ctx context.Context, id string, patch schema.Patch) error {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
	if f.onUpdate != nil {
		return f.onUpdate(id, patch)
	}
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	if f.onDelete != nil {
		return f.onDelete(id)
	}
	return nil
}

func (f *fakeRemote) Get(ctx context.Context, id string) (*schema.Item, error) {
	return nil, nil
}

func (f *fakeRemote) ApplyBatch(ctx context.Context, items []schema.Item) error {
	if f.onBatch != nil {
		return f.onBatch(items)
	}
	return nil
}

func (f *fakeRemote) PutMeta(ctx context.Context, owner string, meta schema.Meta) error {
	f.mu.Lock()
	f.puts = append(f.puts, meta)
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) GetMeta(ctx context.Context, owner string) (*schema.Meta, error) {
	return nil, nil
}

func (f *fakeRemote) Close() error { return nil }

// recordSink captures emitted events.
type recordSink struct {
	mu     sync.Mutex
	events []analytics.Kind
}

func (r *recordSink) Emit(kind analytics.Kind, item schema.Item, extra map[string]string) {
	r.mu.Lock()
	r.events = append(r.events, kind)
	r.mu.Unlock()
}

func (r *recordSink) kinds() []analytics.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analytics.Kind(nil), r.events...)
}

func newTestEngine(t *testing.T, local *memStore, sink analytics.Sink) *Engine {
	t.Helper()
	return New(Config{
		Local: local,
		Sink:  sink,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Logger:      log.New(io.Discard, "", 0),
		},
		Logger: log.New(io.Discard, "", 0),
	})
}

func seed(t *testing.T, eng *Engine, titles ...string) []schema.Item {
	t.Helper()
	items := make([]schema.Item, 0, len(titles))
	for i, title := range titles {
		it := schema.Normalize(schema.Item{
			Title:     title,
			Type:      schema.TypeTask,
			Status:    schema.StatusActive,
			CreatedAt: int64(i + 1),
			UpdatedAt: int64(i + 1),
		})
		items = append(items, it)
	}
	eng.Collection().ReplaceAll(items)
	return items
}

func TestCreateItemLocalMode(t *testing.T) {
	local := newMemStore()
	sink := &recordSink{}
	eng := newTestEngine(t, local, sink)
	ctx := context.Background()

	id, err := eng.CreateItem(ctx, map[string]any{"title": "buy milk", "type": "task"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if id == "" {
		t.Fatal("CreateItem returned empty id")
	}

	it, ok := eng.Collection().Get(id)
	if !ok {
		t.Fatal("created item not in collection")
	}
	if it.Title != "buy milk" {
		t.Errorf("Title = %q", it.Title)
	}
	if got := local.Load(ctx); len(got) != 1 {
		t.Errorf("local store holds %d items, want 1", len(got))
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != analytics.KindCreated {
		t.Errorf("events = %v, want exactly one %s", kinds, analytics.KindCreated)
	}
}

func TestCreateItemRollbackRemovesOnlyCreated(t *testing.T) {
	local := newMemStore()
	eng := newTestEngine(t, local, nil)
	pre := seed(t, eng, "existing")

	eng.SetRemote(&fakeRemote{
		onCreate: func(schema.Item) error { return remote.ErrTransient },
	}, "ana")

	_, err := eng.CreateItem(context.Background(), map[string]any{"title": "doomed"})
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("err = %v, want ErrPersistenceFailure", err)
	}

	items := eng.Collection().Items()
	if len(items) != 1 || items[0].ID != pre[0].ID {
		t.Errorf("collection = %v, want only the pre-existing item", items)
	}
}

func TestCreateItemWithCollidingIDMintsFreshOne(t *testing.T) {
	local := newMemStore()
	eng := newTestEngine(t, local, nil)
	pre := seed(t, eng, "precious")

	id, err := eng.CreateItem(context.Background(), map[string]any{
		"id":    pre[0].ID,
		"title": "newcomer",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if id == pre[0].ID {
		t.Fatal("create reused a live id")
	}
	if it, ok := eng.Collection().Get(pre[0].ID); !ok || it.Title != "precious" {
		t.Errorf("pre-existing item = %+v, %v; want untouched", it, ok)
	}
	if eng.Collection().Len() != 2 {
		t.Errorf("collection holds %d items, want 2", eng.Collection().Len())
	}
}

func TestCreateItemCollisionRollbackKeepsExisting(t *testing.T) {
	local := newMemStore()
	eng := newTestEngine(t, local, nil)
	pre := seed(t, eng, "precious")

	eng.SetRemote(&fakeRemote{
		onCreate: func(schema.Item) error { return remote.ErrTransient },
	}, "ana")

	_, err := eng.CreateItem(context.Background(), map[string]any{
		"id":    pre[0].ID,
		"title": "doomed",
	})
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("err = %v, want ErrPersistenceFailure", err)
	}

	it, ok := eng.Collection().Get(pre[0].ID)
	if !ok {
		t.Fatal("rollback removed the pre-existing item")
	}
	if it.Title != "precious" {
		t.Errorf("Title = %q, want pre-existing item untouched", it.Title)
	}
	if eng.Collection().Len() != 1 {
		t.Errorf("collection holds %d items, want 1", eng.Collection().Len())
	}
}

func TestUpdateItemAppliesPatchAndEmitsOneEvent(t *testing.T) {
	local := newMemStore()
	sink := &recordSink{}
	eng := newTestEngine(t, local, sink)
	pre := seed(t, eng, "write report")

	err := eng.UpdateItem(context.Background(), pre[0].ID, schema.Patch{
		"status": schema.Set("done"),
	})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	it, _ := eng.Collection().Get(pre[0].ID)
	if it.Status != schema.StatusDone {
		t.Errorf("Status = %q, want done", it.Status)
	}
	if it.CompletedAt == nil {
		t.Error("completing an item must stamp completed_at")
	}
	if it.UpdatedAt <= pre[0].UpdatedAt {
		t.Error("update must bump updated_at")
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != analytics.KindCompleted {
		t.Errorf("events = %v, want exactly one %s", kinds, analytics.KindCompleted)
	}
}

func TestCompletionStampWithTypedStatus(t *testing.T) {
	sink := &recordSink{}
	eng := newTestEngine(t, newMemStore(), sink)
	pre := seed(t, eng, "write report")

	// Callers may patch status with the typed constant rather than a
	// plain string; completed_at must be stamped either way.
	err := eng.UpdateItem(context.Background(), pre[0].ID, schema.Patch{
		"status": schema.Set(schema.StatusDone),
	})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	it, _ := eng.Collection().Get(pre[0].ID)
	if it.Status != schema.StatusDone {
		t.Errorf("Status = %q, want done", it.Status)
	}
	if it.CompletedAt == nil {
		t.Error("completing an item must stamp completed_at")
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != analytics.KindCompleted {
		t.Errorf("events = %v, want exactly one %s", kinds, analytics.KindCompleted)
	}
}

func TestUpdateMissingItemIsNoop(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), nil)
	seed(t, eng, "only one")

	if err := eng.UpdateItem(context.Background(), "ghost", schema.Patch{
		"title": schema.Set("boo"),
	}); err != nil {
		t.Fatalf("updating a missing item must be a no-op, got %v", err)
	}
}

func TestUpdateRollbackRestoresFullSnapshot(t *testing.T) {
	local := newMemStore()
	eng := newTestEngine(t, local, nil)
	pre := seed(t, eng, "target", "sibling")
	before := eng.Collection().Items()

	// The remote fails terminally, and while the retries burn down, a
	// sibling mutation lands in the collection. Rollback restores the
	// full pre-mutation snapshot: the sibling's change is clobbered too.
	r := &fakeRemote{}
	r.onUpdate = func(id string, patch schema.Patch) error {
		sibling, _ := eng.Collection().Get(pre[1].ID)
		sibling.Title = "interleaved edit"
		eng.Collection().Put(sibling)
		return remote.ErrTransient
	}
	eng.SetRemote(r, "ana")

	err := eng.UpdateItem(context.Background(), pre[0].ID, schema.Patch{
		"title": schema.Set("new title"),
	})
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("err = %v, want ErrPersistenceFailure", err)
	}
	if r.updates != 3 {
		t.Errorf("remote.Update called %d times, want the full retry budget of 3", r.updates)
	}

	after := eng.Collection().Items()
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("post-rollback collection differs from pre-mutation state (-before +after):\n%s", diff)
	}
}

func TestUpdateNotFoundRemotelyIsNoop(t *testing.T) {
	local := newMemStore()
	eng := newTestEngine(t, local, nil)
	pre := seed(t, eng, "target")

	r := &fakeRemote{
		onUpdate: func(string, schema.Patch) error { return remote.ErrNotFound },
	}
	eng.SetRemote(r, "ana")

	if err := eng.UpdateItem(context.Background(), pre[0].ID, schema.Patch{
		"title": schema.Set("renamed"),
	}); err != nil {
		t.Fatalf("remote not-found must not fail the mutation, got %v", err)
	}
	if r.updates != 1 {
		t.Errorf("remote.Update called %d times, not-found must not be retried", r.updates)
	}
	// The optimistic change stands; the item will vanish with the next
	// snapshot if it is truly gone.
	it, _ := eng.Collection().Get(pre[0].ID)
	if it.Title != "renamed" {
		t.Errorf("Title = %q, want optimistic value kept", it.Title)
	}
}

func TestDeleteItemRollback(t *testing.T) {
	local := newMemStore()
	eng := newTestEngine(t, local, nil)
	pre := seed(t, eng, "keeper")

	eng.SetRemote(&fakeRemote{
		onDelete: func(string) error { return remote.ErrTransient },
	}, "ana")

	err := eng.DeleteItem(context.Background(), pre[0].ID)
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("err = %v, want ErrPersistenceFailure", err)
	}
	if _, ok := eng.Collection().Get(pre[0].ID); !ok {
		t.Error("rolled-back delete must restore the item")
	}
}

func TestDeleteMissingItemIsNoop(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), nil)
	if err := eng.DeleteItem(context.Background(), "ghost"); err != nil {
		t.Fatalf("deleting a missing item must be a no-op, got %v", err)
	}
}

func TestLocalSaveFailureSurfacesAsPersistenceFailure(t *testing.T) {
	local := newMemStore()
	local.failing = true
	eng := newTestEngine(t, local, nil)

	_, err := eng.CreateItem(context.Background(), map[string]any{"title": "doomed"})
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("err = %v, want ErrPersistenceFailure", err)
	}
	if eng.Collection().Len() != 0 {
		t.Error("failed local create must be rolled back")
	}
}

func TestHabitCheckEmitsHabitEvent(t *testing.T) {
	local := newMemStore()
	sink := &recordSink{}
	eng := newTestEngine(t, local, sink)

	habit := schema.Normalize(schema.Item{
		Title: "meditate", Type: schema.TypeHabit, Status: schema.StatusActive,
		CreatedAt: 1, UpdatedAt: 1,
	})
	eng.Collection().ReplaceAll([]schema.Item{habit})

	err := eng.UpdateItem(context.Background(), habit.ID, schema.Patch{
		"completions": schema.Set(map[string]bool{"2026-08-31": true}),
	})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != analytics.KindHabitChecked {
		t.Errorf("events = %v, want exactly one %s", kinds, analytics.KindHabitChecked)
	}
}
