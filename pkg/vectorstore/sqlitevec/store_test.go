package sqlitevec_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore/sqlitevec"
)

func openTestStore(t *testing.T) *sqlitevec.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_vectors.db")
	store, err := sqlitevec.Open(dbPath, "proj1", 4, observability.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitializeCollections(context.Background()))
	return store
}

func TestCollectionName_ScopedByProject(t *testing.T) {
	store := openTestStore(t)
	name := store.CollectionName("Function")
	assert.Contains(t, name, "proj1")
	assert.Contains(t, name, "function")
}

func TestUpsertGet_RoundTrips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	collection := store.CollectionName("Function")

	err := store.Upsert(ctx, collection, vectorstore.Point{
		ID:      "id-1",
		Vector:  []float32{0.1, 0.2, 0.3, 0.4},
		Payload: map[string]interface{}{"content": "hello", "project_id": "proj1", "deleted": false},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, collection, "id-1", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Payload["content"])
	assert.Len(t, got.Vector, 4)
}

func TestGet_MissingID_ReturnsNilNotError(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Get(context.Background(), store.CollectionName("Function"), "nope", false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdatePayload_MergesFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	collection := store.CollectionName("Session")

	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{
		ID: "s1", Vector: []float32{1, 2, 3, 4}, Payload: map[string]interface{}{"content": "a", "deleted": false},
	}))
	require.NoError(t, store.UpdatePayload(ctx, collection, "s1", map[string]interface{}{"deleted": true}))

	got, err := store.Get(ctx, collection, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, true, got.Payload["deleted"])
	assert.Equal(t, "a", got.Payload["content"], "update_payload must merge, not replace, the payload")
}

func TestDelete_RemovesPoint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	collection := store.CollectionName("Session")

	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{ID: "d1", Vector: []float32{1, 2, 3, 4}, Payload: map[string]interface{}{}}))
	require.NoError(t, store.Delete(ctx, collection, "d1"))

	got, err := store.Get(ctx, collection, "d1", false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearch_FiltersAndOrdersByScoreDescending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	collection := store.CollectionName("Function")

	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{
		ID: "near", Vector: []float32{1, 0, 0, 0}, Payload: map[string]interface{}{"project_id": "proj1", "deleted": false},
	}))
	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{
		ID: "far", Vector: []float32{0, 1, 0, 0}, Payload: map[string]interface{}{"project_id": "proj1", "deleted": false},
	}))
	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{
		ID: "other-project", Vector: []float32{1, 0, 0, 0}, Payload: map[string]interface{}{"project_id": "proj2", "deleted": false},
	}))

	hits, err := store.Search(ctx, collection, []float32{1, 0, 0, 0}, 10, vectorstore.Filter{
		Equals: map[string]interface{}{"project_id": "proj1", "deleted": false},
	}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestScroll_PaginatesWithOffsetToken(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	collection := store.CollectionName("Function")

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{ID: id, Vector: []float32{1, 2, 3, 4}, Payload: map[string]interface{}{}}))
	}

	page1, err := store.Scroll(ctx, collection, vectorstore.Filter{}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, page1.Points, 2)
	require.NotNil(t, page1.NextOffset)

	page2, err := store.Scroll(ctx, collection, vectorstore.Filter{}, 2, page1.NextOffset)
	require.NoError(t, err)
	assert.Len(t, page2.Points, 1)
	assert.Nil(t, page2.NextOffset)
}

func TestRenameCollection_SwapsContents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	shadow := store.CollectionName("Function") + "__shadow_job1"
	primary := store.CollectionName("Function")

	require.NoError(t, store.Upsert(ctx, shadow, vectorstore.Point{ID: "x", Vector: []float32{1, 2, 3, 4}, Payload: map[string]interface{}{"content": "shadow"}}))
	require.NoError(t, store.RenameCollection(ctx, shadow, primary))

	got, err := store.Get(ctx, primary, "x", false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "shadow", got.Payload["content"])
}

func TestCount_ReflectsFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	collection := store.CollectionName("Session")

	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{ID: "c1", Payload: map[string]interface{}{"deleted": false}}))
	require.NoError(t, store.Upsert(ctx, collection, vectorstore.Point{ID: "c2", Payload: map[string]interface{}{"deleted": true}}))

	n, err := store.Count(ctx, collection, vectorstore.Filter{Equals: map[string]interface{}{"deleted": false}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHealthCheck_OK(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
