package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/embedding/cache"
	"github.com/S-Corkum/projectmemory/pkg/embedding/providers/fallback"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/idlock"
	"github.com/S-Corkum/projectmemory/pkg/memory"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"time"
)

// failingGraph always fails CreateNode, exercising the "vector write
// succeeds, graph write fails -> PENDING" path from spec section 4.1.
type failingGraph struct{ fakeGraph }

func (failingGraph) CreateNode(ctx context.Context, label string, properties map[string]interface{}) error {
	return errors.New("graph unavailable")
}

func newManagerWithGraph(t *testing.T, vector *fakeVector, graph graphstore.Store) *memory.Manager {
	t.Helper()
	c, err := cache.New("", 100, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)
	svc := embedding.New(embedding.Config{
		Cache: c, Primary: fallback.New(), Fallback: fallback.New(),
		FallbackEnabled: true, ModelName: "fallback-sha256", Logger: observability.NewNoopLogger(),
	})
	return memory.New(vector, graph, svc, "proj1", observability.NewNoopLogger(), idlock.New())
}

func TestAdd_PersistsAndGetRoundTrips(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	id, conflicts, err := mgr.Add(ctx, &models.Memory{
		Type:    models.TypeRequirements,
		Content: "The system shall authenticate users via OAuth2",
		Payload: map[string]interface{}{"requirement_id": "REQ-AUTH-TEST-001"},
	}, false)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	require.NotEmpty(t, id)

	got, err := mgr.Get(ctx, id, models.TypeRequirements, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "The system shall authenticate users via OAuth2", got.Content)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
	assert.Len(t, got.Embedding, models.EmbeddingDim)
}

func TestAdd_RejectsOversizedContent(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)

	huge := make([]byte, models.MaxContentBytes+1)
	_, _, err := mgr.Add(context.Background(), &models.Memory{Type: models.TypeSession, Content: string(huge)}, false)
	require.Error(t, err)
}

func TestAdd_RejectsUnknownType(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)

	_, _, err := mgr.Add(context.Background(), &models.Memory{Type: "NotAType", Content: "x"}, false)
	require.Error(t, err)
}

func TestAdd_ConflictDetection(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	_, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeFunction, Content: "identical content for dedup"}, false)
	require.NoError(t, err)

	_, conflicts, err := mgr.Add(ctx, &models.Memory{Type: models.TypeFunction, Content: "identical content for dedup"}, true)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestGraphFailure_LeavesRecordPending(t *testing.T) {
	vector := newFakeVector()
	mgr := newManagerWithGraph(t, vector, failingGraph{})
	ctx := context.Background()

	id, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeComponent, Content: "some component"}, false)
	require.NoError(t, err, "graph failure must not fail the overall Add call")

	got, err := mgr.Get(ctx, id, models.TypeComponent, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SyncPending, got.SyncStatus)
}

func TestSoftDelete_HidesFromGet(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	id, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeSession, Content: "XYZ123 deletion marker"}, false)
	require.NoError(t, err)

	ok, err := mgr.Delete(ctx, id, models.TypeSession, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mgr.Get(ctx, id, models.TypeSession, false)
	require.NoError(t, err)
	assert.Nil(t, got, "soft-deleted record must never be returned by Get")

	ok2, err := mgr.Delete(ctx, id, models.TypeSession, true)
	require.NoError(t, err)
	assert.True(t, ok2, "second soft-delete is idempotent, not an error")
}

func TestHardDelete_RemovesFromStore(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	id, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeSession, Content: "to be hard deleted"}, false)
	require.NoError(t, err)

	ok, err := mgr.Delete(ctx, id, models.TypeSession, false)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mgr.Get(ctx, id, models.TypeSession, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_UnknownID_ReturnsFalseNotError(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)

	ok, err := mgr.Delete(context.Background(), "does-not-exist", models.TypeSession, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_RegeneratesEmbeddingOnContentChange(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	id, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeDesign, Content: "original design text"}, false)
	require.NoError(t, err)
	before, err := mgr.Get(ctx, id, models.TypeDesign, false)
	require.NoError(t, err)

	updated, err := mgr.Update(ctx, id, models.TypeDesign, map[string]interface{}{"content": "revised design text"}, false)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "revised design text", updated.Content)
	assert.NotEqual(t, before.ContentHash, updated.ContentHash)
	assert.True(t, updated.UpdatedAt.After(before.UpdatedAt) || updated.UpdatedAt.Equal(before.UpdatedAt))
}

func TestUpdate_UnknownID_ReturnsNilNotError(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)

	got, err := mgr.Update(context.Background(), "missing", models.TypeDesign, map[string]interface{}{"content": "x"}, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBulkAdd_PerItemErrorsDoNotAbortBatch(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	huge := make([]byte, models.MaxContentBytes+1)
	mems := []*models.Memory{
		{Type: models.TypeFunction, Content: "func one"},
		{Type: "NotAType", Content: "bad type"},
		{Type: models.TypeFunction, Content: string(huge)},
		{Type: models.TypeFunction, Content: "func two"},
	}

	ids, errs := mgr.BulkAdd(ctx, mems, false)
	require.Len(t, ids, 4)
	require.Len(t, errs, 4)

	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.Error(t, errs[2])
	assert.NoError(t, errs[3])
	assert.NotEmpty(t, ids[0])
	assert.NotEmpty(t, ids[3])
}
