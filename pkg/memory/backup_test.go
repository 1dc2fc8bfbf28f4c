package memory_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

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
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// fakeVector is a minimal in-memory vectorstore.Store, sufficient to
// exercise Export/Import's Scroll-paginate-until-exhausted loop and the
// Memory Manager's upsert-by-id semantics, without a live sqlite-vec file.
type fakeVector struct {
	byCollection map[string][]vectorstore.Point
}

func newFakeVector() *fakeVector { return &fakeVector{byCollection: map[string][]vectorstore.Point{}} }

func (f *fakeVector) InitializeCollections(ctx context.Context) error { return nil }
func (f *fakeVector) CollectionName(memType string) string            { return "proj_" + memType }

func (f *fakeVector) Upsert(ctx context.Context, collection string, p vectorstore.Point) error {
	points := f.byCollection[collection]
	for i, existing := range points {
		if existing.ID == p.ID {
			points[i] = p
			return nil
		}
	}
	f.byCollection[collection] = append(points, p)
	return nil
}

func (f *fakeVector) Get(ctx context.Context, collection, id string, withVector bool) (*vectorstore.Point, error) {
	for _, p := range f.byCollection[collection] {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeVector) Delete(ctx context.Context, collection, id string) error {
	points := f.byCollection[collection]
	for i, p := range points {
		if p.ID == id {
			f.byCollection[collection] = append(points[:i], points[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeVector) UpdatePayload(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	points := f.byCollection[collection]
	for i, p := range points {
		if p.ID == id {
			for k, v := range partial {
				p.Payload[k] = v
			}
			points[i] = p
			return nil
		}
	}
	return nil
}

// Search scores every point in the collection by dot product (the
// embedding service's vectors are L2-normalized, so this is cosine
// similarity) and keeps those at or above scoreThreshold.
func (f *fakeVector) Search(ctx context.Context, collection string, vector []float32, limit int, filter vectorstore.Filter, scoreThreshold *float32) ([]vectorstore.ScoredPoint, error) {
	var out []vectorstore.ScoredPoint
	for _, p := range f.byCollection[collection] {
		if len(p.Vector) != len(vector) {
			continue
		}
		var score float32
		for i := range vector {
			score += vector[i] * p.Vector[i]
		}
		if scoreThreshold != nil && score < *scoreThreshold {
			continue
		}
		out = append(out, vectorstore.ScoredPoint{Point: p, Score: score})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Scroll paginates by array index encoded as the offset token, matching
// the contract Export relies on: a non-nil NextOffset means more pages
// remain.
func (f *fakeVector) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, limit int, offset *string) (vectorstore.ScrollPage, error) {
	all := f.byCollection[collection]
	start := 0
	if offset != nil {
		for i, p := range all {
			if p.ID == *offset {
				start = i + 1
				break
			}
		}
	}

	var page []vectorstore.Point
	var next *string
	for i := start; i < len(all); i++ {
		if len(page) == limit {
			id := all[i-1].ID
			next = &id
			break
		}
		page = append(page, all[i])
	}
	return vectorstore.ScrollPage{Points: page, NextOffset: next}, nil
}

func (f *fakeVector) Count(ctx context.Context, collection string, filter vectorstore.Filter) (int64, error) {
	return int64(len(f.byCollection[collection])), nil
}
func (f *fakeVector) RenameCollection(ctx context.Context, src, dst string) error { return nil }
func (f *fakeVector) DropCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeVector) HealthCheck(ctx context.Context) error                      { return nil }
func (f *fakeVector) Close() error                                               { return nil }

// fakeGraph is a no-op graphstore.Store: Export/Import never read it, and
// the Memory Manager's dual-write tolerates graph failure by design, so a
// Store that always succeeds is enough to reach SYNCED on every write.
type fakeGraph struct{}

func (fakeGraph) InitializeSchema(ctx context.Context) error { return nil }
func (fakeGraph) NodeLabel(memType string) string            { return memType }
func (fakeGraph) CreateNode(ctx context.Context, label string, properties map[string]interface{}) error {
	return nil
}
func (fakeGraph) GetNode(ctx context.Context, id, label string) (*graphstore.Node, error) {
	return nil, nil
}
func (fakeGraph) UpdateNode(ctx context.Context, id string, properties map[string]interface{}, label string) error {
	return nil
}
func (fakeGraph) DeleteNode(ctx context.Context, id string, detach bool) error { return nil }
func (fakeGraph) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, properties map[string]interface{}) error {
	return nil
}
func (fakeGraph) GetRelated(ctx context.Context, nodeID string, types []string, direction graphstore.Direction, depth int) ([]graphstore.Related, error) {
	return nil, nil
}
func (fakeGraph) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	return nil, nil
}
func (fakeGraph) HealthCheck(ctx context.Context) error { return nil }
func (fakeGraph) Close() error                          { return nil }

func newTestManager(t *testing.T, vector *fakeVector) *memory.Manager {
	t.Helper()
	c, err := cache.New("", 100, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)
	svc := embedding.New(embedding.Config{
		Cache: c, Primary: fallback.New(), Fallback: fallback.New(),
		FallbackEnabled: true, ModelName: "fallback-sha256", Logger: observability.NewNoopLogger(),
	})
	return memory.New(vector, fakeGraph{}, svc, "proj1", observability.NewNoopLogger(), idlock.New())
}

func TestExportImport_RoundTrips(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	_, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeRequirements, Content: "users can reset their password"}, false)
	require.NoError(t, err)
	_, _, err = mgr.Add(ctx, &models.Memory{Type: models.TypeDesign, Content: "use a token-based reset flow"}, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	count, err := mgr.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 2, lines)

	freshVector := newFakeVector()
	freshMgr := newTestManager(t, freshVector)
	stats := freshMgr.Import(ctx, bytes.NewReader(buf.Bytes()), memory.ConflictSkip)
	assert.Equal(t, 2, stats.Imported)
	assert.Empty(t, stats.Errors)

	got, err := freshMgr.Get(ctx, mustFirstID(t, freshVector, "proj_"+string(models.TypeRequirements)), models.TypeRequirements, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "users can reset their password", got.Content)
}

func TestImport_SkipsExistingByDefault(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)
	ctx := context.Background()

	id, _, err := mgr.Add(ctx, &models.Memory{Type: models.TypeSession, Content: "session one"}, false)
	require.NoError(t, err)

	record := `{"type":"Session","payload":{"id":"` + id + `","type":"Session","content":"replacement content"}}` + "\n"
	stats := mgr.Import(ctx, strings.NewReader(record), memory.ConflictSkip)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Imported)

	got, err := mgr.Get(ctx, id, models.TypeSession, false)
	require.NoError(t, err)
	assert.Equal(t, "session one", got.Content)
}

func TestImport_RejectsUnknownType(t *testing.T) {
	vector := newFakeVector()
	mgr := newTestManager(t, vector)

	stats := mgr.Import(context.Background(), strings.NewReader(`{"type":"NotAType","payload":{}}`+"\n"), memory.ConflictSkip)
	assert.Equal(t, 0, stats.Imported)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "unknown memory type")
}

func mustFirstID(t *testing.T, v *fakeVector, collection string) string {
	t.Helper()
	points := v.byCollection[collection]
	require.NotEmpty(t, points)
	return points[0].ID
}
