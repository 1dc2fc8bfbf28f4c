// Package query implements the Query Engine (spec section 4.3): a
// read-only composition of vector search and graph traversal over the
// same two adapters the Memory Manager writes through.
//
// No api/tools/search.py survived the original_source filter verbatim in
// the retrieved pack's listing, but SPEC_FULL.md's SUPPLEMENTED FEATURES
// section records its tool names (memory_search, code_search,
// graph_query, find_duplicates, get_related); field shaping/truncation
// and the keyword deny-list for write-shaped Cypher follow spec sections
// 4.3/9 directly.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/perr"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// Engine is the Query Engine.
type Engine struct {
	vector          vectorstore.Store
	graph           graphstore.Store
	embedder        *embedding.Service
	projectID       string
	defaultLimit    int
	contentTruncate int
}

// Config bundles Engine dependencies and defaults (spec section 6 [search]
// config section).
type Config struct {
	Vector          vectorstore.Store
	Graph           graphstore.Store
	Embedder        *embedding.Service
	ProjectID       string
	DefaultLimit    int
	ContentTruncate int
}

func New(cfg Config) *Engine {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	truncate := cfg.ContentTruncate
	if truncate <= 0 {
		truncate = 500
	}
	return &Engine{
		vector:          cfg.Vector,
		graph:           cfg.Graph,
		embedder:        cfg.Embedder,
		projectID:       cfg.ProjectID,
		defaultLimit:    limit,
		contentTruncate: truncate,
	}
}

// TimeRange bounds semantic_search results by updated_at (spec section 4.3).
type TimeRange struct {
	Since *time.Time
	Until *time.Time
}

// SearchParams are semantic_search's optional arguments.
type SearchParams struct {
	Types           []models.MemoryType
	Filters         map[string]interface{}
	TimeRange       *TimeRange
	Limit           int
	ScoreThreshold  *float32
	ContentTruncate int
}

// SemanticSearch implements spec section 4.3's semantic_search: embed the
// query, scan every requested type's collection with a filter that always
// includes deleted=false and project_id, merge globally by descending
// score, cap at limit.
func (e *Engine) SemanticSearch(ctx context.Context, queryText string, params SearchParams) ([]models.SearchResult, error) {
	vec, err := e.embedder.EmbedForQuery(ctx, queryText)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "query.SemanticSearch", err)
	}

	types := params.Types
	if len(types) == 0 {
		types = models.AllMemoryTypes
	}
	limit := params.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	truncate := params.ContentTruncate
	if truncate <= 0 {
		truncate = e.contentTruncate
	}

	filter := e.scopedFilter(params.Filters)

	var all []vectorstore.ScoredPoint
	typeByID := map[string]models.MemoryType{}
	for _, t := range types {
		collection := e.vector.CollectionName(string(t))
		hits, err := e.vector.Search(ctx, collection, vec, 0, filter, params.ScoreThreshold)
		if err != nil {
			return nil, perr.Wrap(perr.KindTransient, "query.SemanticSearch", err)
		}
		for _, h := range hits {
			typeByID[h.ID] = t
		}
		all = append(all, hits...)
	}

	all = filterTimeRange(all, params.TimeRange)
	sortScoredPoints(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]models.SearchResult, 0, len(all))
	for _, h := range all {
		content, _ := h.Payload["content"].(string)
		out = append(out, models.SearchResult{
			ID:         h.ID,
			MemoryType: typeByID[h.ID],
			Content:    truncateContent(content, truncate),
			Score:      h.Score,
			UpdatedAt:  payloadUpdatedAt(h.Payload),
			Payload:    h.Payload,
		})
	}
	return out, nil
}

// scopedFilter always applies deleted=false and project_id, regardless of
// caller-supplied filters, per spec section 4.3 and testable properties
// 2/5.
func (e *Engine) scopedFilter(extra map[string]interface{}) vectorstore.Filter {
	equals := map[string]interface{}{"deleted": false, "project_id": e.projectID}
	for k, v := range extra {
		equals[k] = v
	}
	return vectorstore.Filter{Equals: equals}
}

func filterTimeRange(points []vectorstore.ScoredPoint, tr *TimeRange) []vectorstore.ScoredPoint {
	if tr == nil || (tr.Since == nil && tr.Until == nil) {
		return points
	}
	out := points[:0]
	for _, p := range points {
		ts := payloadUpdatedAt(p.Payload)
		if tr.Since != nil && ts < tr.Since.Unix() {
			continue
		}
		if tr.Until != nil && ts > tr.Until.Unix() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func payloadUpdatedAt(payload map[string]interface{}) int64 {
	v, ok := payload["updated_at"].(string)
	if !ok {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// sortScoredPoints implements spec section 4.3's deterministic tie-break:
// score desc, updated_at desc, id bytewise.
func sortScoredPoints(points []vectorstore.ScoredPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		ui, uj := payloadUpdatedAt(points[i].Payload), payloadUpdatedAt(points[j].Payload)
		if ui != uj {
			return ui > uj
		}
		return points[i].ID < points[j].ID
	})
}

func truncateContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max]
}

// GetRelated implements spec section 4.3's get_related: bounded-depth
// graph traversal, tombstoned targets excluded per invariant 2.
func (e *Engine) GetRelated(ctx context.Context, entityID string, relTypes []models.RelationshipType, direction graphstore.Direction, depth int) ([]models.RelatedNode, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	var typeStrs []string
	for _, t := range relTypes {
		typeStrs = append(typeStrs, string(t))
	}

	related, err := e.graph.GetRelated(ctx, entityID, typeStrs, direction, depth)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "query.GetRelated", err)
	}

	out := make([]models.RelatedNode, 0, len(related))
	for _, r := range related {
		if deleted, _ := r.Properties["deleted"].(bool); deleted {
			continue
		}
		content, _ := r.Properties["content"].(string)
		out = append(out, models.RelatedNode{
			ID:           r.NodeID,
			Type:         models.MemoryType(r.Label),
			Relationship: models.RelationshipType(r.Relationship),
			Depth:        r.Depth,
			Content:      content,
		})
	}
	return out, nil
}

// mutatingKeywords rejects write-shaped Cypher per spec section 9's
// trust-model note that a keyword denylist is sufficient.
var mutatingKeywords = []string{"create", "merge", "set ", "delete", "mutation", "alter", "drop"}

// GraphQuery implements spec section 4.3's graph_query: validates the
// query is side-effect free (rejecting create/merge/set/delete) and
// injects the project_id binding before delegating to the adapter.
func (e *Engine) GraphQuery(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	lower := strings.ToLower(cypher)
	for _, kw := range mutatingKeywords {
		if strings.Contains(lower, kw) {
			return nil, perr.New(perr.KindValidation, "query.GraphQuery", "write-shaped query rejected: "+kw)
		}
	}

	scoped := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		scoped[k] = v
	}
	scoped["project_id"] = e.projectID

	rows, err := e.graph.ExecuteQuery(ctx, cypher, scoped)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "query.GraphQuery", err)
	}
	return rows, nil
}

// FindDuplicates implements spec section 4.3's find_duplicates: embed
// code, search the Function collection with score_threshold=threshold,
// optionally filtered by language.
func (e *Engine) FindDuplicates(ctx context.Context, code string, language *string, threshold float32) ([]models.Match, error) {
	if threshold < 0.70 {
		threshold = 0.70
	}
	if threshold > 0.95 {
		threshold = 0.95
	}

	vec, _, err := e.embedder.Embed(ctx, code, true, embedding.InputDocument)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "query.FindDuplicates", err)
	}

	filterMap := map[string]interface{}{"deleted": false, "project_id": e.projectID}
	if language != nil && *language != "" {
		filterMap[models.PayloadLanguage] = *language
	}

	collection := e.vector.CollectionName(string(models.TypeFunction))
	hits, err := e.vector.Search(ctx, collection, vec, 0, vectorstore.Filter{Equals: filterMap}, &threshold)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "query.FindDuplicates", err)
	}
	sortScoredPoints(hits)

	out := make([]models.Match, 0, len(hits))
	for _, h := range hits {
		content, _ := h.Payload["content"].(string)
		out = append(out, models.Match{ID: h.ID, Score: h.Score, Content: content})
	}
	return out, nil
}

// CodeSearch is the SPEC_FULL.md-supplemented convenience wrapper: a
// semantic_search restricted to {Function, CodePattern} with a language
// filter, following original_source's api/tools/search.py code_search
// tool.
func (e *Engine) CodeSearch(ctx context.Context, queryText, language string, limit int) ([]models.SearchResult, error) {
	filters := map[string]interface{}{}
	if language != "" {
		filters[models.PayloadLanguage] = language
	}
	return e.SemanticSearch(ctx, queryText, SearchParams{
		Types:   []models.MemoryType{models.TypeFunction, models.TypeCodePattern},
		Filters: filters,
		Limit:   limit,
	})
}
