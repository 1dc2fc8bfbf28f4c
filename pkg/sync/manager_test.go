package sync_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/idlock"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/sync"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// filteringVector is an in-memory vectorstore.Store that actually honors
// Filter.Equals on Scroll/Count, since the Sync Manager's operations
// select by sync_status and a filter-blind fake (as used in pkg/memory's
// tests) would make every scroll return everything.
type filteringVector struct {
	points map[string][]vectorstore.Point
}

func newFilteringVector() *filteringVector {
	return &filteringVector{points: map[string][]vectorstore.Point{}}
}

func (f *filteringVector) InitializeCollections(ctx context.Context) error { return nil }
func (f *filteringVector) CollectionName(memType string) string            { return "proj_" + memType }

func (f *filteringVector) Upsert(ctx context.Context, collection string, p vectorstore.Point) error {
	for i, existing := range f.points[collection] {
		if existing.ID == p.ID {
			f.points[collection][i] = p
			return nil
		}
	}
	f.points[collection] = append(f.points[collection], p)
	return nil
}

func (f *filteringVector) Get(ctx context.Context, collection, id string, withVector bool) (*vectorstore.Point, error) {
	for _, p := range f.points[collection] {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *filteringVector) Delete(ctx context.Context, collection, id string) error { return nil }

func (f *filteringVector) UpdatePayload(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	for i, p := range f.points[collection] {
		if p.ID == id {
			for k, v := range partial {
				p.Payload[k] = v
			}
			f.points[collection][i] = p
			return nil
		}
	}
	return nil
}

func matches(payload map[string]interface{}, filter vectorstore.Filter) bool {
	for k, v := range filter.Equals {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func (f *filteringVector) filtered(collection string, filter vectorstore.Filter) []vectorstore.Point {
	var out []vectorstore.Point
	for _, p := range f.points[collection] {
		if matches(p.Payload, filter) {
			out = append(out, p)
		}
	}
	return out
}

func (f *filteringVector) Search(ctx context.Context, collection string, vector []float32, limit int, filter vectorstore.Filter, scoreThreshold *float32) ([]vectorstore.ScoredPoint, error) {
	return nil, nil
}

func (f *filteringVector) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, limit int, offset *string) (vectorstore.ScrollPage, error) {
	all := f.filtered(collection, filter)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return vectorstore.ScrollPage{Points: all}, nil
}

func (f *filteringVector) Count(ctx context.Context, collection string, filter vectorstore.Filter) (int64, error) {
	return int64(len(f.filtered(collection, filter))), nil
}

func (f *filteringVector) RenameCollection(ctx context.Context, src, dst string) error { return nil }
func (f *filteringVector) DropCollection(ctx context.Context, collection string) error { return nil }
func (f *filteringVector) HealthCheck(ctx context.Context) error                       { return nil }
func (f *filteringVector) Close() error                                               { return nil }

func (f *filteringVector) seedPending(collection, id string) {
	f.points[collection] = append(f.points[collection], vectorstore.Point{
		ID:      id,
		Payload: map[string]interface{}{"id": id, "content": "c-" + id, "sync_status": string(models.SyncPending)},
	})
}

// graphStub lets CreateNode fail for a chosen id, to exercise the
// PENDING -> FAILED transition.
type graphStub struct {
	failIDs map[string]bool
	nodes   map[string]map[string]interface{}
	labels  map[string]string
}

func newGraphStub() *graphStub {
	return &graphStub{failIDs: map[string]bool{}, nodes: map[string]map[string]interface{}{}, labels: map[string]string{}}
}

// addNode seeds a node directly, bypassing CreateNode, for tests that set
// up graph state without going through ProcessPending.
func (g *graphStub) addNode(id, label string, props map[string]interface{}) {
	g.nodes[id] = props
	g.labels[id] = label
}

func (g *graphStub) InitializeSchema(ctx context.Context) error { return nil }
func (g *graphStub) NodeLabel(memType string) string            { return memType }

func (g *graphStub) CreateNode(ctx context.Context, label string, properties map[string]interface{}) error {
	id, _ := properties["id"].(string)
	if g.failIDs[id] {
		return errors.New("graph write failed")
	}
	g.nodes[id] = properties
	g.labels[id] = label
	return nil
}

func (g *graphStub) GetNode(ctx context.Context, id, label string) (*graphstore.Node, error) {
	props, ok := g.nodes[id]
	if !ok {
		return nil, nil
	}
	return &graphstore.Node{ID: id, Label: label, Properties: props}, nil
}

func (g *graphStub) UpdateNode(ctx context.Context, id string, properties map[string]interface{}, label string) error {
	if g.nodes[id] == nil {
		g.nodes[id] = map[string]interface{}{}
	}
	for k, v := range properties {
		g.nodes[id][k] = v
	}
	g.labels[id] = label
	return nil
}

func (g *graphStub) DeleteNode(ctx context.Context, id string, detach bool) error {
	delete(g.nodes, id)
	delete(g.labels, id)
	return nil
}

func (g *graphStub) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, properties map[string]interface{}) error {
	return nil
}

func (g *graphStub) GetRelated(ctx context.Context, nodeID string, types []string, direction graphstore.Direction, depth int) ([]graphstore.Related, error) {
	return nil, nil
}

// ExecuteQuery recognizes the one query shape sampleGraphNodeIDs issues
// (eq(label, "...")) and lists matching node ids, enough to exercise the
// Sync Manager's graph->vector reverse sweep without a real graph backend.
func (g *graphStub) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	const marker = `eq(label, "`
	i := strings.Index(query, marker)
	if i < 0 {
		return nil, nil
	}
	rest := query[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return nil, nil
	}
	label := rest[:j]

	var rows []map[string]interface{}
	for id, l := range g.labels {
		if l == label {
			rows = append(rows, map[string]interface{}{"id": id})
		}
	}
	return rows, nil
}

func (g *graphStub) HealthCheck(ctx context.Context) error { return nil }
func (g *graphStub) Close() error                          { return nil }

func TestProcessPending_SyncsSuccessfulRecords(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	collection := vector.CollectionName(string(models.TypeFunction))
	vector.seedPending(collection, "f1")
	vector.seedPending(collection, "f2")

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	processed, synced, failed, err := mgr.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, synced)
	assert.Equal(t, 0, failed)

	p, _ := vector.Get(context.Background(), collection, "f1", false)
	assert.Equal(t, string(models.SyncSynced), p.Payload["sync_status"])
}

func TestProcessPending_MarksGraphFailureAsFailed(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	graph.failIDs["bad"] = true
	collection := vector.CollectionName(string(models.TypeFunction))
	vector.seedPending(collection, "bad")

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	processed, synced, failed, err := mgr.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, synced)
	assert.Equal(t, 1, failed)

	p, _ := vector.Get(context.Background(), collection, "bad", false)
	assert.Equal(t, string(models.SyncFailed), p.Payload["sync_status"])
	assert.Equal(t, 1, p.Payload["retry_count"])
}

func TestRetryFailed_DeadLettersAtMaxRetries(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	collection := vector.CollectionName(string(models.TypeFunction))
	vector.points[collection] = append(vector.points[collection], vectorstore.Point{
		ID: "exhausted",
		Payload: map[string]interface{}{
			"id": "exhausted", "sync_status": string(models.SyncFailed), "retry_count": 5,
		},
	})

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	_, _, _, deadLettered, err := mgr.RetryFailed(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, deadLettered)

	p, _ := vector.Get(context.Background(), collection, "exhausted", false)
	assert.Equal(t, string(models.SyncFailed), p.Payload["sync_status"], "dead-lettered record stays FAILED, not requeued")
}

func TestRetryFailed_RequeuesBelowMaxRetries(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	collection := vector.CollectionName(string(models.TypeFunction))
	vector.points[collection] = append(vector.points[collection], vectorstore.Point{
		ID: "retryable",
		Payload: map[string]interface{}{
			"id": "retryable", "content": "c", "sync_status": string(models.SyncFailed), "retry_count": 1,
		},
	})

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	_, synced, _, deadLettered, err := mgr.RetryFailed(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, deadLettered)
	assert.Equal(t, 1, synced)

	p, _ := vector.Get(context.Background(), collection, "retryable", false)
	assert.Equal(t, string(models.SyncSynced), p.Payload["sync_status"])
}

func TestVerifyConsistency_DetectsQdrantOnlyAndMismatch(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	label := string(models.TypeDesign)
	collection := vector.CollectionName(label)

	vector.points[collection] = append(vector.points[collection],
		vectorstore.Point{ID: "a", Payload: map[string]interface{}{"id": "a", "content": "same", "sync_status": string(models.SyncSynced)}},
		vectorstore.Point{ID: "b", Payload: map[string]interface{}{"id": "b", "content": "vector-side", "sync_status": string(models.SyncSynced)}},
		vectorstore.Point{ID: "c", Payload: map[string]interface{}{"id": "c", "content": "missing", "sync_status": string(models.SyncSynced)}},
	)
	graph.addNode("a", label, map[string]interface{}{"content": "same"})
	graph.addNode("b", label, map[string]interface{}{"content": "graph-side"})

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	report, err := mgr.VerifyConsistency(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ConsistentCount)
	assert.Contains(t, report.Mismatched, "b")
	assert.Contains(t, report.QdrantOnly, "c", "a vector record with no graph node is qdrant_only, per spec section 4.2")
}

func TestVerifyConsistency_DetectsGraphOnlySweep(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	label := string(models.TypeDesign)
	collection := vector.CollectionName(label)

	vector.points[collection] = append(vector.points[collection],
		vectorstore.Point{ID: "a", Payload: map[string]interface{}{"id": "a", "content": "same", "sync_status": string(models.SyncSynced)}},
	)
	graph.addNode("a", label, map[string]interface{}{"content": "same"})
	graph.addNode("orphan", label, map[string]interface{}{"content": "graph-only"})

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	report, err := mgr.VerifyConsistency(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ConsistentCount)
	assert.Contains(t, report.GraphOnly, "orphan", "a graph node with no vector point is graph_only, per spec section 4.2")
	assert.NotContains(t, report.GraphOnly, "a")
}

func TestGetSyncStats_CountsByStatus(t *testing.T) {
	vector := newFilteringVector()
	graph := newGraphStub()
	collection := vector.CollectionName(string(models.TypeSession))
	vector.seedPending(collection, "p1")
	vector.points[collection] = append(vector.points[collection],
		vectorstore.Point{ID: "s1", Payload: map[string]interface{}{"sync_status": string(models.SyncSynced)}},
		vectorstore.Point{ID: "f1", Payload: map[string]interface{}{"sync_status": string(models.SyncFailed)}},
	)

	mgr := sync.New(vector, graph, idlock.New(), 5, observability.NewNoopLogger())
	stats, err := mgr.GetSyncStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Synced)
	assert.Equal(t, int64(1), stats.Failed)
}
