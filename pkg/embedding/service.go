package embedding

import (
	"context"
	"fmt"

	"github.com/S-Corkum/projectmemory/internal/resilience"
	"github.com/S-Corkum/projectmemory/pkg/embedding/cache"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
)

// Service is the Embedding Service with Cache (spec section 4.4),
// grounded on original_source's embedding/service.py for exact operation
// semantics (cache-first embed, embed_batch cached/uncached split,
// embed_for_query cache-bypass without fallback).
type Service struct {
	cache           *cache.Cache
	primary         Provider
	fallback        Provider
	fallbackEnabled bool
	modelName       string
	metrics         MetricsSink
	logger          observability.Logger
}

// MetricsSink is the subset of observability.Metrics the service reports
// into; declared narrowly so tests can supply a stub.
type MetricsSink interface {
	EmbeddingCacheHit(outcome string)
}

// Config bundles the service's dependencies.
type Config struct {
	Cache           *cache.Cache
	Primary         Provider
	Fallback        Provider
	FallbackEnabled bool
	ModelName       string
	Metrics         MetricsSink
	Logger          observability.Logger
}

func New(cfg Config) *Service {
	return &Service{
		cache:           cfg.Cache,
		primary:         cfg.Primary,
		fallback:        cfg.Fallback,
		fallbackEnabled: cfg.FallbackEnabled,
		modelName:       cfg.ModelName,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.EmbeddingCacheHit(outcome)
	}
}

// Embed implements spec section 4.4's embed operation: cache lookup,
// provider call on miss, fallback on provider failure.
func (s *Service) Embed(ctx context.Context, text string, useCache bool, inputType InputType) (vector []float32, isFallback bool, err error) {
	key := cache.Key(text, s.modelName)

	if useCache {
		if e, ok, gerr := s.cache.Get(ctx, key); gerr == nil && ok {
			s.record("hit")
			return e.Vector, e.IsFallback, nil
		}
	}
	s.record("miss")

	vecs, perr := s.callProvider(ctx, s.primary, []string{text}, inputType)
	if perr == nil {
		v := vecs[0]
		if useCache {
			_ = s.cache.Set(ctx, key, cache.Entry{Vector: v, Model: s.modelName, Content: text, ContentHash: models.ContentHash(text)})
		}
		return v, false, nil
	}

	if !s.fallbackEnabled || s.fallback == nil {
		return nil, false, fmt.Errorf("embedding: provider call failed and fallback disabled: %w", perr)
	}

	s.record("fallback")
	fvecs, ferr := s.fallback.Embed(ctx, []string{text}, inputType)
	if ferr != nil {
		return nil, false, fmt.Errorf("embedding: fallback also failed: %w", ferr)
	}
	v := fvecs[0]
	if useCache {
		_ = s.cache.Set(ctx, key, cache.Entry{Vector: v, IsFallback: true, Model: s.modelName, Content: text, ContentHash: models.ContentHash(text)})
	}
	return v, true, nil
}

func (s *Service) callProvider(ctx context.Context, p Provider, texts []string, inputType InputType) ([][]float32, error) {
	var out [][]float32
	err := resilience.Guard(ctx, resilience.EmbeddingCircuitBreaker, func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			v, err := p.Embed(ctx, texts, inputType)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	return out, err
}

// Result pairs a vector with its fallback flag, returned in request order
// by EmbedBatch.
type Result struct {
	Vector     []float32
	IsFallback bool
}

// EmbedBatch implements spec section 4.4's embed_batch: split into cached
// and uncached, call the provider once for the uncached slice, interleave
// results back into the original order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, useCache bool, inputType InputType) ([]Result, error) {
	results := make([]Result, len(texts))
	uncachedIdx := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		key := cache.Key(t, s.modelName)
		if useCache {
			if e, ok, _ := s.cache.Get(ctx, key); ok {
				results[i] = Result{Vector: e.Vector, IsFallback: e.IsFallback}
				s.record("hit")
				continue
			}
		}
		s.record("miss")
		uncachedIdx = append(uncachedIdx, i)
		uncachedTexts = append(uncachedTexts, t)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	vecs, err := s.callProvider(ctx, s.primary, uncachedTexts, inputType)
	if err != nil {
		if !s.fallbackEnabled || s.fallback == nil {
			return nil, fmt.Errorf("embedding: batch provider call failed and fallback disabled: %w", err)
		}
		s.record("fallback")
		vecs, err = s.fallback.Embed(ctx, uncachedTexts, inputType)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch fallback also failed: %w", err)
		}
		for j, idx := range uncachedIdx {
			results[idx] = Result{Vector: vecs[j], IsFallback: true}
			if useCache {
				_ = s.cache.Set(ctx, cache.Key(texts[idx], s.modelName), cache.Entry{
					Vector: vecs[j], IsFallback: true, Model: s.modelName, Content: texts[idx], ContentHash: models.ContentHash(texts[idx]),
				})
			}
		}
		return results, nil
	}

	for j, idx := range uncachedIdx {
		results[idx] = Result{Vector: vecs[j]}
		if useCache {
			_ = s.cache.Set(ctx, cache.Key(texts[idx], s.modelName), cache.Entry{
				Vector: vecs[j], Model: s.modelName, Content: texts[idx], ContentHash: models.ContentHash(texts[idx]),
			})
		}
	}
	return results, nil
}

// EmbedForQuery implements spec section 4.4's embed_for_query: cache
// bypassed, fallback not used, so query vectors are always comparable to
// indexed ones produced by the primary provider.
func (s *Service) EmbedForQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.callProvider(ctx, s.primary, []string{text}, InputQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding: embed_for_query provider call failed: %w", err)
	}
	return vecs[0], nil
}

// RefreshFallbackEmbeddings re-embeds every cache entry currently marked
// is_fallback=true against the primary provider, replacing it in place
// (spec section 4.4's fallback-refresh maintenance operation, also used by
// the Normalizer's embedding_refresh phase for cache-level entries).
func (s *Service) RefreshFallbackEmbeddings(ctx context.Context) (int, error) {
	keys, err := s.cache.FallbackKeys(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, key := range keys {
		e, ok, err := s.cache.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		vecs, err := s.callProvider(ctx, s.primary, []string{e.Content}, InputDocument)
		if err != nil {
			continue
		}
		e.Vector = vecs[0]
		e.IsFallback = false
		if err := s.cache.Set(ctx, key, *e); err == nil {
			refreshed++
		}
	}
	return refreshed, nil
}

func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

// Close releases the cache's underlying connections (the Redis client, if
// configured).
func (s *Service) Close() error { return s.cache.Close() }
