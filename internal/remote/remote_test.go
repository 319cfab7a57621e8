package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satchelhq/satchel/internal/docstore"
	"github.com/satchelhq/satchel/internal/schema"
)

func startServer(t *testing.T) *docstore.Server {
	t.Helper()
	db, err := docstore.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	srv := docstore.NewServer(db, docstore.Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		srv.Stop()
		db.Close()
	})
	return srv
}

func dialTest(t *testing.T, srv *docstore.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.URL(), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testItem(owner, title string) schema.Item {
	return schema.Normalize(schema.Item{
		Title:   title,
		Type:    schema.TypeTask,
		Status:  schema.StatusActive,
		OwnerID: owner,
	})
}

func TestCreateGetDelete(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv)
	ctx := context.Background()

	it := testItem("ana", "pack bags")
	id, err := c.Create(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, it.ID, id)

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pack bags", got.Title)

	require.NoError(t, c.Delete(ctx, id))

	got, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got, "missing item is nil, not an error")
}

func TestUpdateDeleteMarkerTravelsTheWire(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv)
	ctx := context.Background()

	it := testItem("ana", "draft")
	emoji := "📦"
	it.Emoji = &emoji
	_, err := c.Create(ctx, it)
	require.NoError(t, err)

	err = c.Update(ctx, it.ID, schema.Patch{
		"title": schema.Set("final"),
		"emoji": schema.Delete(),
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.Nil(t, got.Emoji)
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv)

	err := c.Update(context.Background(), "nope", schema.Patch{"title": schema.Set("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsRetryable(err), "missing documents are not worth retrying")
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	srv := startServer(t)
	writer := dialTest(t, srv)
	watcher := dialTest(t, srv)
	ctx := context.Background()

	snapshots := make(chan []schema.Item, 8)
	stop, err := watcher.Subscribe(ctx, "ana", Callbacks{
		OnItems: func(items []schema.Item) { snapshots <- items },
	})
	require.NoError(t, err)
	defer stop()

	// The initial snapshot is empty.
	select {
	case items := <-snapshots:
		assert.Empty(t, items)
	case <-time.After(3 * time.Second):
		t.Fatal("no initial snapshot")
	}

	_, err = writer.Create(ctx, testItem("ana", "new arrival"))
	require.NoError(t, err)

	select {
	case items := <-snapshots:
		require.Len(t, items, 1)
		assert.Equal(t, "new arrival", items[0].Title)
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot after a write")
	}

	// Writes for another owner do not leak into this feed.
	_, err = writer.Create(ctx, testItem("bob", "not hers"))
	require.NoError(t, err)
	select {
	case items := <-snapshots:
		t.Fatalf("unexpected snapshot for another owner's write: %v", items)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSubscribeDeliversMeta(t *testing.T) {
	srv := startServer(t)
	writer := dialTest(t, srv)
	watcher := dialTest(t, srv)
	ctx := context.Background()

	metas := make(chan schema.Meta, 8)
	stop, err := watcher.Subscribe(ctx, "ana", Callbacks{
		OnMeta: func(m schema.Meta) { metas <- m },
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, writer.PutMeta(ctx, "ana", schema.Meta{
		Tags:      []string{"home"},
		UpdatedAt: schema.NowMillis(),
	}))

	select {
	case m := <-metas:
		assert.Equal(t, []string{"home"}, m.Tags)
	case <-time.After(3 * time.Second):
		t.Fatal("no meta push after PutMeta")
	}
}

func TestSubscriptionErrorFiresOnceOnServerStop(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv)

	errs := make(chan error, 8)
	_, err := c.Subscribe(context.Background(), "ana", Callbacks{
		OnError: func(err error) { errs <- err },
	})
	require.NoError(t, err)

	srv.Stop()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrTransient))
	case <-time.After(3 * time.Second):
		t.Fatal("no error callback after server stop")
	}
	select {
	case err := <-errs:
		t.Fatalf("OnError fired twice: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListNewestFirst(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv)
	ctx := context.Background()

	older := testItem("ana", "older")
	older.UpdatedAt = 100
	newer := testItem("ana", "newer")
	newer.UpdatedAt = 200
	require.NoError(t, c.ApplyBatch(ctx, []schema.Item{older, newer}))

	items, err := c.List(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].Title)
}

func TestCallsFailAfterClose(t *testing.T) {
	srv := startServer(t)
	c := dialTest(t, srv)
	require.NoError(t, c.Close())

	_, err := c.Get(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrClosed)
}
