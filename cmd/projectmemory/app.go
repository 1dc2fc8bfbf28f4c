// Command projectmemory is the CLI/server entrypoint (spec section 6):
// init-config, check-db, index, normalize, backup, restore, stats,
// health, init-schema, plus serve (the JSON-RPC/stdio loop) and the
// SPEC_FULL.md-supplemented project, grounded on cmd/embed/main.go's
// flag-based, manually-dispatched subcommand style.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/S-Corkum/projectmemory/pkg/config"
	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/embedding/cache"
	"github.com/S-Corkum/projectmemory/pkg/embedding/providers/bedrock"
	"github.com/S-Corkum/projectmemory/pkg/embedding/providers/fallback"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/graphstore/dgraph"
	"github.com/S-Corkum/projectmemory/pkg/idlock"
	"github.com/S-Corkum/projectmemory/pkg/indexer"
	"github.com/S-Corkum/projectmemory/pkg/jobs"
	"github.com/S-Corkum/projectmemory/pkg/memory"
	"github.com/S-Corkum/projectmemory/pkg/normalizer"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/query"
	"github.com/S-Corkum/projectmemory/pkg/sync"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore/sqlitevec"
)

// app bundles every constructed component, threaded through the CLI
// subcommands and the RPC tool layer alike (spec section 9's "global
// mutable state -> explicit context": one app value built once at process
// start, never a package-level singleton).
type app struct {
	cfg *config.Config

	logger  observability.Logger
	metrics *observability.Metrics

	vector vectorstore.Store
	graph  graphstore.Store

	embedder *embedding.Service
	manager  *memory.Manager
	syncMgr  *sync.Manager
	engine   *query.Engine
	normal   *normalizer.Normalizer
	indexer  *indexer.Indexer
	jobs     *jobs.Registry
}

// buildApp wires every component from a loaded Config, following the
// data flow in spec section 2 (Parser/Indexer -> Embedding Service ->
// Memory Manager -> both adapters; Sync Manager and Normalizer alongside;
// Query Engine reading the same two adapters).
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.NewLogger("projectmemory")
	metrics := observability.NewMetrics()

	vector, err := sqlitevec.Open(cfg.Vector.Path, cfg.Server.ProjectID, cfg.Embedding.Dimensions, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open vector store: %w", err)
	}
	if err := vector.InitializeCollections(ctx); err != nil {
		return nil, fmt.Errorf("app: initialize vector collections: %w", err)
	}

	graph, err := dgraph.Connect(ctx, cfg.Graph.Address, cfg.Server.ProjectID, logger)
	if err != nil {
		return nil, fmt.Errorf("app: connect graph store: %w", err)
	}
	if err := graph.InitializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("app: initialize graph schema: %w", err)
	}

	embedCache, err := cache.New(cfg.Cache.RedisAddr, cfg.Cache.MaxEntries, cfg.Cache.TTL, cfg.Cache.EvictionBatch, logger)
	if err != nil {
		return nil, fmt.Errorf("app: build embedding cache: %w", err)
	}

	var primary embedding.Provider
	primary, err = bedrock.New(ctx, cfg.Embedding)
	if err != nil {
		logger.Warn("bedrock provider unavailable, relying on fallback only", map[string]interface{}{"error": err.Error()})
		primary = fallback.New()
	}

	embedder := embedding.New(embedding.Config{
		Cache:           embedCache,
		Primary:         primary,
		Fallback:        fallback.New(),
		FallbackEnabled: cfg.Embedding.FallbackEnabled,
		ModelName:       cfg.Embedding.Model,
		Metrics:         metrics,
		Logger:          logger,
	})

	locks := idlock.New()
	manager := memory.New(vector, graph, embedder, cfg.Server.ProjectID, logger, locks)
	syncMgr := sync.New(vector, graph, locks, cfg.Sync.MaxRetries, logger)

	engine := query.New(query.Config{
		Vector:          vector,
		Graph:           graph,
		Embedder:        embedder,
		ProjectID:       cfg.Server.ProjectID,
		DefaultLimit:    cfg.Search.DefaultLimit,
		ContentTruncate: cfg.Search.ContentTruncate,
	})

	normal := normalizer.New(normalizer.Config{
		Vector:         vector,
		Graph:          graph,
		Embedder:       embedder,
		ProjectID:      cfg.Server.ProjectID,
		DedupThreshold: cfg.Search.DedupThreshold,
		Retention:      time.Duration(cfg.Normalization.RetentionDays) * 24 * time.Hour,
		Logger:         logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		vector:   vector,
		graph:    graph,
		embedder: embedder,
		manager:  manager,
		syncMgr:  syncMgr,
		engine:   engine,
		normal:   normal,
		indexer:  indexer.New(),
		jobs:     jobs.NewRegistry(),
	}, nil
}

func (a *app) close() {
	_ = a.vector.Close()
	_ = a.graph.Close()
	_ = a.embedder.Close()
}
