package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/embedding/cache"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/query"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// fakeVector is an in-memory vectorstore.Store sufficient to exercise the
// Query Engine without a live sqlite-vec database.
type fakeVector struct {
	points map[string][]vectorstore.Point
}

func newFakeVector() *fakeVector { return &fakeVector{points: map[string][]vectorstore.Point{}} }

func (f *fakeVector) InitializeCollections(ctx context.Context) error { return nil }
func (f *fakeVector) CollectionName(memType string) string            { return "proj_" + memType }
func (f *fakeVector) Upsert(ctx context.Context, collection string, p vectorstore.Point) error {
	f.points[collection] = append(f.points[collection], p)
	return nil
}
func (f *fakeVector) Get(ctx context.Context, collection, id string, withVector bool) (*vectorstore.Point, error) {
	for _, p := range f.points[collection] {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}
func (f *fakeVector) Delete(ctx context.Context, collection, id string) error { return nil }
func (f *fakeVector) UpdatePayload(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	return nil
}
func (f *fakeVector) Search(ctx context.Context, collection string, vector []float32, limit int, filter vectorstore.Filter, scoreThreshold *float32) ([]vectorstore.ScoredPoint, error) {
	var out []vectorstore.ScoredPoint
	for _, p := range f.points[collection] {
		if !matches(p.Payload, filter) {
			continue
		}
		score := cosine(vector, p.Vector)
		if scoreThreshold != nil && score < *scoreThreshold {
			continue
		}
		out = append(out, vectorstore.ScoredPoint{Point: p, Score: score})
	}
	return out, nil
}
func (f *fakeVector) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, limit int, offset *string) (vectorstore.ScrollPage, error) {
	return vectorstore.ScrollPage{}, nil
}
func (f *fakeVector) Count(ctx context.Context, collection string, filter vectorstore.Filter) (int64, error) {
	return 0, nil
}
func (f *fakeVector) RenameCollection(ctx context.Context, src, dst string) error { return nil }
func (f *fakeVector) DropCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeVector) HealthCheck(ctx context.Context) error                       { return nil }
func (f *fakeVector) Close() error                                                { return nil }

func matches(payload map[string]interface{}, filter vectorstore.Filter) bool {
	for k, want := range filter.Equals {
		if payload[k] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// fakeGraph is a minimal graphstore.Store for get_related/graph_query tests.
type fakeGraph struct {
	related map[string][]graphstore.Related
}

func (g *fakeGraph) InitializeSchema(ctx context.Context) error { return nil }
func (g *fakeGraph) NodeLabel(memType string) string            { return memType }
func (g *fakeGraph) CreateNode(ctx context.Context, label string, properties map[string]interface{}) error {
	return nil
}
func (g *fakeGraph) GetNode(ctx context.Context, id, label string) (*graphstore.Node, error) {
	return nil, nil
}
func (g *fakeGraph) UpdateNode(ctx context.Context, id string, properties map[string]interface{}, label string) error {
	return nil
}
func (g *fakeGraph) DeleteNode(ctx context.Context, id string, detach bool) error { return nil }
func (g *fakeGraph) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, properties map[string]interface{}) error {
	return nil
}
func (g *fakeGraph) GetRelated(ctx context.Context, nodeID string, types []string, direction graphstore.Direction, depth int) ([]graphstore.Related, error) {
	return g.related[nodeID], nil
}
func (g *fakeGraph) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	return []map[string]interface{}{{"project_id": params["project_id"]}}, nil
}
func (g *fakeGraph) HealthCheck(ctx context.Context) error { return nil }
func (g *fakeGraph) Close() error                          { return nil }

// fakeProvider returns a deterministic unit vector derived from text length
// so cosine similarity is meaningful across test fixtures without a real
// embedding model.
type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }
func (fakeProvider) Embed(ctx context.Context, texts []string, inputType embedding.InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, models.EmbeddingDim)
		for j := range v {
			if j < len(t) {
				v[j] = float32(t[j]) / 255.0
			}
		}
		out[i] = v
	}
	return out, nil
}

func newEngine(t *testing.T, fv *fakeVector, fg *fakeGraph) *query.Engine {
	t.Helper()
	c, err := cache.New("", 100, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)
	svc := embedding.New(embedding.Config{
		Cache: c, Primary: fakeProvider{}, ModelName: "fake", Logger: observability.NewNoopLogger(),
	})
	return query.New(query.Config{
		Vector: fv, Graph: fg, Embedder: svc, ProjectID: "proj1", DefaultLimit: 10, ContentTruncate: 500,
	})
}

func TestSemanticSearch_FiltersDeletedAndProject(t *testing.T) {
	fv := newFakeVector()
	collection := fv.CollectionName(string(models.TypeRequirements))
	vec, _ := fakeProvider{}.Embed(context.Background(), []string{"OAuth2 login"}, embedding.InputDocument)
	fv.points[collection] = []vectorstore.Point{
		{ID: "alive", Vector: vec[0], Payload: map[string]interface{}{"content": "OAuth2 login", "deleted": false, "project_id": "proj1", "updated_at": time.Now().UTC().Format(time.RFC3339Nano)}},
		{ID: "deleted", Vector: vec[0], Payload: map[string]interface{}{"content": "OAuth2 login", "deleted": true, "project_id": "proj1", "updated_at": time.Now().UTC().Format(time.RFC3339Nano)}},
		{ID: "otherproj", Vector: vec[0], Payload: map[string]interface{}{"content": "OAuth2 login", "deleted": false, "project_id": "proj2", "updated_at": time.Now().UTC().Format(time.RFC3339Nano)}},
	}

	eng := newEngine(t, fv, &fakeGraph{})
	results, err := eng.SemanticSearch(context.Background(), "OAuth2 login", query.SearchParams{
		Types: []models.MemoryType{models.TypeRequirements}, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alive", results[0].ID)
}

func TestGetRelated_ExcludesDeleted(t *testing.T) {
	fg := &fakeGraph{related: map[string][]graphstore.Related{
		"R": {
			{NodeID: "D", Label: "Design", Relationship: "IMPLEMENTS", Depth: 1, Properties: map[string]interface{}{"content": "design"}},
			{NodeID: "X", Label: "Design", Relationship: "IMPLEMENTS", Depth: 1, Properties: map[string]interface{}{"deleted": true}},
		},
	}}
	eng := newEngine(t, newFakeVector(), fg)
	related, err := eng.GetRelated(context.Background(), "R", []models.RelationshipType{models.RelImplements}, graphstore.DirectionIncoming, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "D", related[0].ID)
}

func TestGraphQuery_RejectsWrites(t *testing.T) {
	eng := newEngine(t, newFakeVector(), &fakeGraph{})
	_, err := eng.GraphQuery(context.Background(), "CREATE (n) RETURN n", nil)
	require.Error(t, err)
}

func TestGraphQuery_InjectsProjectID(t *testing.T) {
	eng := newEngine(t, newFakeVector(), &fakeGraph{})
	rows, err := eng.GraphQuery(context.Background(), "MATCH (n) RETURN n", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "proj1", rows[0]["project_id"])
}
