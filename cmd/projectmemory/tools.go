package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/memory"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/query"
	"github.com/S-Corkum/projectmemory/pkg/rpc"
)

// decodeArgs round-trips a JSON-RPC tool's loosely-typed arguments map
// into a concrete params struct via JSON, the same approach the teacher's
// HTTP handlers use to bind a decoded request body into a typed DTO.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerTools binds every JSON-RPC tool to the wired app, satisfying
// spec section 6's "_context" capability-injection contract via closures
// over a.manager/a.engine/a.vector/a.graph rather than an untyped argument
// (see pkg/rpc.Handler's doc comment).
func registerTools(a *app, server *rpc.Server) {
	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "memory_add",
			Description: "Add a new memory record, embedding it if no vector is supplied.",
			InputSchema: schema(map[string]interface{}{
				"type":            map[string]interface{}{"type": "string"},
				"content":         map[string]interface{}{"type": "string"},
				"payload":         map[string]interface{}{"type": "object"},
				"check_conflicts": map[string]interface{}{"type": "boolean"},
			}, "type", "content"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Type           string                 `json:"type"`
				Content        string                 `json:"content"`
				Payload        map[string]interface{} `json:"payload"`
				CheckConflicts bool                    `json:"check_conflicts"`
				ImportanceScore float64                `json:"importance_score"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("memory_add: invalid arguments: %w", err)
			}
			mem := &models.Memory{
				Type:            models.MemoryType(p.Type),
				Content:         p.Content,
				Payload:         p.Payload,
				ImportanceScore: p.ImportanceScore,
			}
			id, conflicts, err := a.manager.Add(ctx, mem, p.CheckConflicts)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "conflicts": conflicts}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "memory_get",
			Description: "Fetch a memory by id and type.",
			InputSchema: schema(map[string]interface{}{
				"id":           map[string]interface{}{"type": "string"},
				"type":         map[string]interface{}{"type": "string"},
				"track_access": map[string]interface{}{"type": "boolean"},
			}, "id", "type"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				ID          string `json:"id"`
				Type        string `json:"type"`
				TrackAccess bool   `json:"track_access"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("memory_get: invalid arguments: %w", err)
			}
			mem, err := a.manager.Get(ctx, p.ID, models.MemoryType(p.Type), p.TrackAccess)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"memory": mem}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "memory_update",
			Description: "Apply field updates to a memory, regenerating its embedding if content changed.",
			InputSchema: schema(map[string]interface{}{
				"id":                   map[string]interface{}{"type": "string"},
				"type":                 map[string]interface{}{"type": "string"},
				"updates":              map[string]interface{}{"type": "object"},
				"regenerate_embedding": map[string]interface{}{"type": "boolean"},
			}, "id", "type", "updates"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				ID                  string                 `json:"id"`
				Type                string                 `json:"type"`
				Updates             map[string]interface{} `json:"updates"`
				RegenerateEmbedding bool                   `json:"regenerate_embedding"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("memory_update: invalid arguments: %w", err)
			}
			mem, err := a.manager.Update(ctx, p.ID, models.MemoryType(p.Type), p.Updates, p.RegenerateEmbedding)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"memory": mem}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "memory_delete",
			Description: "Soft- or hard-delete a memory.",
			InputSchema: schema(map[string]interface{}{
				"id":   map[string]interface{}{"type": "string"},
				"type": map[string]interface{}{"type": "string"},
				"soft": map[string]interface{}{"type": "boolean"},
			}, "id", "type"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				ID   string `json:"id"`
				Type string `json:"type"`
				Soft *bool  `json:"soft"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("memory_delete: invalid arguments: %w", err)
			}
			soft := true
			if p.Soft != nil {
				soft = *p.Soft
			}
			ok, err := a.manager.Delete(ctx, p.ID, models.MemoryType(p.Type), soft)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"deleted": ok}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "semantic_search",
			Description: "Embed a query and search across one or more memory types.",
			InputSchema: schema(map[string]interface{}{
				"query":           map[string]interface{}{"type": "string"},
				"types":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"limit":           map[string]interface{}{"type": "integer"},
				"score_threshold": map[string]interface{}{"type": "number"},
			}, "query"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Query          string   `json:"query"`
				Types          []string `json:"types"`
				Limit          int      `json:"limit"`
				ScoreThreshold *float32 `json:"score_threshold"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("semantic_search: invalid arguments: %w", err)
			}
			var types []models.MemoryType
			for _, t := range p.Types {
				types = append(types, models.MemoryType(t))
			}
			results, err := a.engine.SemanticSearch(ctx, p.Query, query.SearchParams{
				Types:          types,
				Limit:          p.Limit,
				ScoreThreshold: p.ScoreThreshold,
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"results": results}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "code_search",
			Description: "semantic_search restricted to Function/CodePattern memories, optionally filtered by language.",
			InputSchema: schema(map[string]interface{}{
				"query":    map[string]interface{}{"type": "string"},
				"language": map[string]interface{}{"type": "string"},
				"limit":    map[string]interface{}{"type": "integer"},
			}, "query"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Query    string `json:"query"`
				Language string `json:"language"`
				Limit    int    `json:"limit"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("code_search: invalid arguments: %w", err)
			}
			results, err := a.engine.CodeSearch(ctx, p.Query, p.Language, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"results": results}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "get_related",
			Description: "Bounded-depth graph traversal from an entity id.",
			InputSchema: schema(map[string]interface{}{
				"entity_id":          map[string]interface{}{"type": "string"},
				"relationship_types": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"direction":          map[string]interface{}{"type": "string", "enum": []string{"incoming", "outgoing", "both"}},
				"depth":              map[string]interface{}{"type": "integer"},
			}, "entity_id"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				EntityID          string   `json:"entity_id"`
				RelationshipTypes []string `json:"relationship_types"`
				Direction         string   `json:"direction"`
				Depth             int      `json:"depth"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("get_related: invalid arguments: %w", err)
			}
			var relTypes []models.RelationshipType
			for _, t := range p.RelationshipTypes {
				relTypes = append(relTypes, models.RelationshipType(t))
			}
			direction := graphstore.DirectionBoth
			if p.Direction != "" {
				direction = graphstore.Direction(p.Direction)
			}
			if p.Depth == 0 {
				p.Depth = 1
			}
			related, err := a.engine.GetRelated(ctx, p.EntityID, relTypes, direction, p.Depth)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"related": related}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "graph_query",
			Description: "Run a read-only traversal in the graph adapter's query language.",
			InputSchema: schema(map[string]interface{}{
				"query":      map[string]interface{}{"type": "string"},
				"parameters": map[string]interface{}{"type": "object"},
			}, "query"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Query      string                 `json:"query"`
				Parameters map[string]interface{} `json:"parameters"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("graph_query: invalid arguments: %w", err)
			}
			rows, err := a.engine.GraphQuery(ctx, p.Query, p.Parameters)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"rows": rows}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "find_duplicates",
			Description: "Search Function memories for near-duplicates of a code snippet.",
			InputSchema: schema(map[string]interface{}{
				"code":      map[string]interface{}{"type": "string"},
				"language":  map[string]interface{}{"type": "string"},
				"threshold": map[string]interface{}{"type": "number"},
			}, "code"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Code      string  `json:"code"`
				Language  *string `json:"language"`
				Threshold float32 `json:"threshold"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("find_duplicates: invalid arguments: %w", err)
			}
			if p.Threshold == 0 {
				p.Threshold = 0.85
			}
			matches, err := a.engine.FindDuplicates(ctx, p.Code, p.Language, p.Threshold)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"matches": matches}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "index_directory",
			Description: "Index a directory in the background and return a job id immediately.",
			InputSchema: schema(map[string]interface{}{
				"path":  map[string]interface{}{"type": "string"},
				"force": map[string]interface{}{"type": "boolean"},
			}, "path"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Path  string `json:"path"`
				Force bool   `json:"force"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("index_directory: invalid arguments: %w", err)
			}
			resolved, err := resolveProjectPath(a, p.Path)
			if err != nil {
				return nil, err
			}
			job := a.jobs.Run(context.Background(), "index_directory", args, func(bgCtx context.Context) (map[string]interface{}, error) {
				return runIndexDirectory(bgCtx, a, resolved, p.Force)
			})
			return map[string]interface{}{"job_id": job.ID, "status": job.Status}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "index_status",
			Description: "Poll an index_directory job by id.",
			InputSchema: schema(map[string]interface{}{"job_id": map[string]interface{}{"type": "string"}}, "job_id"),
		},
		Handler: jobStatusHandler(a),
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "normalize",
			Description: "Run the Normalizer's maintenance phases in the background.",
			InputSchema: schema(map[string]interface{}{
				"phases":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"dry_run": map[string]interface{}{"type": "boolean"},
			}),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Phases []string `json:"phases"`
				DryRun bool     `json:"dry_run"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("normalize: invalid arguments: %w", err)
			}
			phases := parsePhases(p.Phases)
			job := a.jobs.Run(context.Background(), "normalize", args, func(bgCtx context.Context) (map[string]interface{}, error) {
				stats, err := a.normal.Run(bgCtx, models.NewID(), phases, p.DryRun)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"stats": stats}, nil
			})
			return map[string]interface{}{"job_id": job.ID, "status": job.Status}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "normalize_status",
			Description: "Poll a normalize job by id.",
			InputSchema: schema(map[string]interface{}{"job_id": map[string]interface{}{"type": "string"}}, "job_id"),
		},
		Handler: jobStatusHandler(a),
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "verify_consistency",
			Description: "Sample SYNCED vector records and graph nodes per type and report divergence in both directions.",
			InputSchema: schema(map[string]interface{}{"sample_size": map[string]interface{}{"type": "integer"}}),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				SampleSize int `json:"sample_size"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("verify_consistency: invalid arguments: %w", err)
			}
			if p.SampleSize <= 0 {
				p.SampleSize = 100
			}
			report, err := a.syncMgr.VerifyConsistency(ctx, p.SampleSize)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"qdrant_only":      report.QdrantOnly,
				"graph_only":       report.GraphOnly,
				"mismatched":       report.Mismatched,
				"consistent_count": report.ConsistentCount,
			}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "sync_retry",
			Description: "Re-mark FAILED records as PENDING (below max_retries) and process them.",
			InputSchema: schema(map[string]interface{}{"batch_size": map[string]interface{}{"type": "integer"}}),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				BatchSize int `json:"batch_size"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("sync_retry: invalid arguments: %w", err)
			}
			if p.BatchSize <= 0 {
				p.BatchSize = a.cfg.Sync.BatchSize
			}
			processed, synced, failed, deadLettered, err := a.syncMgr.RetryFailed(ctx, p.BatchSize)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"processed": processed, "synced": synced, "failed": failed, "dead_lettered": deadLettered,
			}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "export_memories",
			Description: "Export every memory as newline-delimited JSON.",
			InputSchema: schema(nil),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var buf bytes.Buffer
			count, err := a.manager.Export(ctx, &buf)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"count": count, "data": buf.String()}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "import_memories",
			Description: "Import newline-delimited JSON produced by export_memories.",
			InputSchema: schema(map[string]interface{}{
				"data":                map[string]interface{}{"type": "string"},
				"conflict_resolution": map[string]interface{}{"type": "string", "enum": []string{"skip", "overwrite", "error"}},
			}, "data"),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var p struct {
				Data               string `json:"data"`
				ConflictResolution string `json:"conflict_resolution"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, fmt.Errorf("import_memories: invalid arguments: %w", err)
			}
			resolution := memory.ConflictSkip
			if p.ConflictResolution != "" {
				resolution = memory.ConflictResolution(p.ConflictResolution)
			}
			stats := a.manager.Import(ctx, bytes.NewBufferString(p.Data), resolution)
			return map[string]interface{}{"imported": stats.Imported, "skipped": stats.Skipped, "errors": stats.Errors}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "memory_statistics",
			Description: "Per-status record counts and embedding cache health.",
			InputSchema: schema(nil),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			syncStats, err := a.syncMgr.GetSyncStats(ctx)
			if err != nil {
				return nil, err
			}
			cacheStats := a.embedder.CacheStats()
			return map[string]interface{}{
				"sync":  syncStats,
				"cache": cacheStats,
			}, nil
		},
	})

	server.RegisterTool(rpc.Tool{
		Descriptor: rpc.ToolDescriptor{
			Name:        "health_check",
			Description: "Check connectivity to the vector store and graph store.",
			InputSchema: schema(nil),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			vecErr := a.vector.HealthCheck(ctx)
			graphErr := a.graph.HealthCheck(ctx)
			out := map[string]interface{}{"vector_ok": vecErr == nil, "graph_ok": graphErr == nil}
			if vecErr != nil {
				out["vector_error"] = vecErr.Error()
			}
			if graphErr != nil {
				out["graph_error"] = graphErr.Error()
			}
			return out, nil
		},
	})
}

func jobStatusHandler(a *app) rpc.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		var p struct {
			JobID string `json:"job_id"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, fmt.Errorf("job status: invalid arguments: %w", err)
		}
		job := a.jobs.Get(p.JobID)
		if job == nil {
			return nil, fmt.Errorf("job status: unknown job id %q", p.JobID)
		}
		return job, nil
	}
}
