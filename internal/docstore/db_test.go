package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satchelhq/satchel/internal/schema"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testItem(owner, title string) schema.Item {
	return schema.Normalize(schema.Item{
		Title:   title,
		Type:    schema.TypeTask,
		Status:  schema.StatusActive,
		OwnerID: owner,
	})
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := testItem("ana", "review budget")
	require.NoError(t, db.PutItem(ctx, it))

	got, err := db.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it.Title, got.Title)
	assert.Equal(t, "ana", got.OwnerID)
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetItem(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyPatchSetAndDeleteMarker(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := testItem("ana", "draft")
	emoji := "✏️"
	it.Emoji = &emoji
	require.NoError(t, db.PutItem(ctx, it))

	owner, err := db.ApplyPatch(ctx, it.ID, schema.Patch{
		"title": schema.Set("final"),
		"emoji": schema.Delete(),
	})
	require.NoError(t, err)
	assert.Equal(t, "ana", owner)

	got, err := db.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.Nil(t, got.Emoji, "delete-marker must remove the field")
}

func TestApplyPatchMissing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ApplyPatch(context.Background(), "nope", schema.Patch{"title": schema.Set("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteItem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it := testItem("ana", "temp")
	require.NoError(t, db.PutItem(ctx, it))

	owner, err := db.DeleteItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", owner)

	_, err = db.GetItem(ctx, it.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.DeleteItem(ctx, it.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByOwnerOrderAndIsolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	oldTask := testItem("ana", "older")
	oldTask.UpdatedAt = 100
	newTask := testItem("ana", "newer")
	newTask.UpdatedAt = 200
	other := testItem("bob", "not hers")

	for _, it := range []schema.Item{oldTask, newTask, other} {
		require.NoError(t, db.PutItem(ctx, it))
	}

	items, err := db.ListByOwner(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].Title, "newest first")
	assert.Equal(t, "older", items[1].Title)

	empty, err := db.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty, "an empty collection is [], not null")
	assert.Empty(t, empty)
}

func TestApplyBatchIsAtomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := testItem("ana", "left")
	b := testItem("ana", "right")
	a.LinkedIDs = []string{b.ID}
	b.LinkedIDs = []string{a.ID}

	require.NoError(t, db.ApplyBatch(ctx, []schema.Item{a, b}))

	gotA, err := db.GetItem(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := db.GetItem(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Linked(b.ID) && gotB.Linked(a.ID),
		"both halves of the link must land together")
}

func TestMetaRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetMeta(ctx, "ana")
	assert.ErrorIs(t, err, ErrNotFound)

	meta := schema.Meta{
		Tags:      []string{"home", "work"},
		Settings:  map[string]string{"theme": "dark"},
		UpdatedAt: schema.NowMillis(),
	}
	require.NoError(t, db.PutMeta(ctx, "ana", meta))

	got, err := db.GetMeta(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, meta.Tags, got.Tags)
	assert.Equal(t, "dark", got.Settings["theme"])
}

func TestItemCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.ItemCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.PutItem(ctx, testItem("ana", "one")))
	n, err = db.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
