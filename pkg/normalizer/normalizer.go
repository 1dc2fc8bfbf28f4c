// Package normalizer implements the Normalizer (spec section 4.5): an
// offline, multi-phase cleanup pass that tolerates partial failure by
// journaling the payload fields its deduplication and orphan_detection
// phases change, plus the shadow collections it creates, and rolling the
// journal back if a later phase fails.
//
// No normalizer source file survived the original_source filter, so the
// phase bodies are built directly from spec section 4.5's phase list; the
// shadow-table swap is grounded on the sqlite-vec adapter's
// RenameCollection (see SPEC_FULL.md's Open Question resolution and
// pkg/vectorstore/sqlitevec/store.go).
package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/perr"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// Phase names the seven ordered steps from spec section 4.5.
type Phase string

const (
	PhaseSnapshot         Phase = "snapshot"
	PhaseDeduplication    Phase = "deduplication"
	PhaseOrphanDetection  Phase = "orphan_detection"
	PhaseEmbeddingRefresh Phase = "embedding_refresh"
	PhaseCleanup          Phase = "cleanup"
	PhaseValidation       Phase = "validation"
	PhaseSwap             Phase = "swap"
)

// AllPhases is the default execution order when a run does not restrict
// itself to a subset.
var AllPhases = []Phase{
	PhaseSnapshot, PhaseDeduplication, PhaseOrphanDetection,
	PhaseEmbeddingRefresh, PhaseCleanup, PhaseValidation, PhaseSwap,
}

// Stats is a phase's result, a superset of spec section 4.5's minimum
// `{duplicates_found, orphans_found, refreshed, items_deleted, valid}`.
type Stats struct {
	DuplicatesFound int  `json:"duplicates_found"`
	OrphansFound    int  `json:"orphans_found"`
	Refreshed       int  `json:"refreshed"`
	ItemsDeleted    int  `json:"items_deleted"`
	Valid           bool `json:"valid"`
	Snapshotted     int  `json:"snapshotted,omitempty"`
}

// Config bundles the Normalizer's dependencies and thresholds.
type Config struct {
	Vector         vectorstore.Store
	Graph          graphstore.Store
	Embedder       *embedding.Service
	ProjectID      string
	DedupThreshold float32
	Retention      time.Duration
	// ValidationQueries are sample phrases the validation phase embeds and
	// searches for, asserting a non-empty result (spec section 4.5 step 6).
	ValidationQueries []string
	Logger            observability.Logger
}

// Normalizer runs the maintenance pass.
type Normalizer struct {
	vector         vectorstore.Store
	graph          graphstore.Store
	embedder       *embedding.Service
	projectID      string
	dedupThreshold float32
	retention      time.Duration
	validationQs   []string
	logger         observability.Logger
}

func New(cfg Config) *Normalizer {
	threshold := cfg.DedupThreshold
	if threshold <= 0 {
		threshold = 0.95
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Normalizer{
		vector:         cfg.Vector,
		graph:          cfg.Graph,
		embedder:       cfg.Embedder,
		projectID:      cfg.ProjectID,
		dedupThreshold: threshold,
		retention:      retention,
		validationQs:   cfg.ValidationQueries,
		logger:         logger,
	}
}

// fieldChange journals one payload field mutation for rollback.
type fieldChange struct {
	collection string
	id         string
	field      string
	previous   interface{}
}

// journal records every mutation made during one Run, so a later phase's
// failure can be undone (spec section 4.5 "Rollback").
type journal struct {
	changes           []fieldChange
	shadowCollections []string
}

func (j *journal) record(collection, id, field string, previous interface{}) {
	j.changes = append(j.changes, fieldChange{collection: collection, id: id, field: field, previous: previous})
}

func shadowName(collection, jobID string) string {
	return fmt.Sprintf("%s__shadow_%s", collection, jobID)
}

// Run executes phases in order (defaulting to AllPhases), rolling back
// this run's journal if any phase returns an error: journaled payload
// fields are restored and shadow collections dropped. embedding_refresh's
// rewrites and cleanup's hard deletes are not journaled and are not
// undone. Rollback
// itself is best-effort: it is idempotent, so re-running it after a
// partial failure converges rather than compounding damage.
func (n *Normalizer) Run(ctx context.Context, jobID string, phases []Phase, dryRun bool) (map[Phase]Stats, error) {
	if len(phases) == 0 {
		phases = AllPhases
	}
	jr := &journal{}
	results := make(map[Phase]Stats, len(phases))

	for _, p := range phases {
		stats, err := n.runPhase(ctx, p, jobID, dryRun, jr)
		results[p] = stats
		if err != nil {
			if !dryRun {
				n.rollback(ctx, jr)
			}
			return results, perr.Wrap(perr.KindInternal, "normalizer.Run", fmt.Errorf("phase %s: %w", p, err))
		}
	}
	return results, nil
}

func (n *Normalizer) runPhase(ctx context.Context, p Phase, jobID string, dryRun bool, jr *journal) (Stats, error) {
	switch p {
	case PhaseSnapshot:
		return n.snapshot(ctx, jobID, dryRun, jr)
	case PhaseDeduplication:
		return n.deduplication(ctx, dryRun, jr)
	case PhaseOrphanDetection:
		return n.orphanDetection(ctx, dryRun, jr)
	case PhaseEmbeddingRefresh:
		return n.embeddingRefresh(ctx, dryRun)
	case PhaseCleanup:
		return n.cleanup(ctx, dryRun)
	case PhaseValidation:
		return n.validation(ctx)
	case PhaseSwap:
		return n.swap(ctx, jobID, dryRun)
	default:
		return Stats{}, perr.New(perr.KindValidation, "normalizer.runPhase", "unknown phase: "+string(p))
	}
}

// rollback undoes this run's journaled field changes (in reverse order,
// last writer first) and drops any shadow collections it created.
func (n *Normalizer) rollback(ctx context.Context, jr *journal) {
	for i := len(jr.changes) - 1; i >= 0; i-- {
		c := jr.changes[i]
		if err := n.vector.UpdatePayload(ctx, c.collection, c.id, map[string]interface{}{c.field: c.previous}); err != nil {
			n.logger.Warn("normalizer rollback: restore field failed", map[string]interface{}{
				"collection": c.collection, "id": c.id, "field": c.field, "error": err.Error(),
			})
		}
	}
	for _, shadow := range jr.shadowCollections {
		if err := n.vector.DropCollection(ctx, shadow); err != nil {
			n.logger.Warn("normalizer rollback: drop shadow failed", map[string]interface{}{"collection": shadow, "error": err.Error()})
		}
	}
}

func scrollAll(ctx context.Context, store vectorstore.Store, collection string, filter vectorstore.Filter, pageSize int, fn func(vectorstore.Point) error) error {
	var offset *string
	for {
		page, err := store.Scroll(ctx, collection, filter, pageSize, offset)
		if err != nil {
			return err
		}
		for _, p := range page.Points {
			if err := fn(p); err != nil {
				return err
			}
		}
		if page.NextOffset == nil {
			return nil
		}
		offset = page.NextOffset
	}
}

// snapshot implements spec section 4.5 step 1: clone every active
// collection into a parallel shadow collection named after jobID.
func (n *Normalizer) snapshot(ctx context.Context, jobID string, dryRun bool, jr *journal) (Stats, error) {
	var stats Stats
	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))
		shadow := shadowName(collection, jobID)

		err := scrollAll(ctx, n.vector, collection, vectorstore.Filter{}, 200, func(p vectorstore.Point) error {
			full, err := n.vector.Get(ctx, collection, p.ID, true)
			if err != nil || full == nil {
				return err
			}
			stats.Snapshotted++
			if dryRun {
				return nil
			}
			return n.vector.Upsert(ctx, shadow, vectorstore.Point{ID: full.ID, Vector: full.Vector, Payload: full.Payload})
		})
		if err != nil {
			return stats, err
		}
		if !dryRun {
			jr.shadowCollections = append(jr.shadowCollections, shadow)
		}
	}
	return stats, nil
}

// deduplication implements spec section 4.5 step 2: cluster records by
// vector similarity >= dedupThreshold, tombstoning every non-canonical
// member of each cluster with merged_into set to the canonical id.
func (n *Normalizer) deduplication(ctx context.Context, dryRun bool, jr *journal) (Stats, error) {
	var stats Stats
	threshold := n.dedupThreshold

	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))
		visited := map[string]bool{}

		err := scrollAll(ctx, n.vector, collection, vectorstore.Filter{Equals: map[string]interface{}{"deleted": false}}, 200, func(p vectorstore.Point) error {
			if visited[p.ID] {
				return nil
			}
			visited[p.ID] = true

			full, err := n.vector.Get(ctx, collection, p.ID, true)
			if err != nil || full == nil || len(full.Vector) == 0 {
				return nil
			}

			hits, err := n.vector.Search(ctx, collection, full.Vector, 0,
				vectorstore.Filter{Equals: map[string]interface{}{"deleted": false}}, &threshold)
			if err != nil {
				return err
			}

			for _, h := range hits {
				if h.ID == p.ID || visited[h.ID] {
					continue
				}
				visited[h.ID] = true
				stats.DuplicatesFound++
				if dryRun {
					continue
				}
				jr.record(collection, h.ID, models.PayloadMergedInto, h.Payload[models.PayloadMergedInto])
				jr.record(collection, h.ID, "deleted", h.Payload["deleted"])
				now := time.Now().UTC().Format(time.RFC3339Nano)
				if err := n.vector.UpdatePayload(ctx, collection, h.ID, map[string]interface{}{
					models.PayloadMergedInto: p.ID, "deleted": true, "deleted_at": now,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// referenceFields maps a payload key that carries another memory's id to
// the type it targets, used by orphan_detection's first sweep.
var referenceFields = map[string]models.MemoryType{
	models.PayloadRequirementID:   models.TypeRequirements,
	models.PayloadContainingClass: models.TypeComponent,
}

// orphanDetection implements spec section 4.5 step 3. The vector sweep
// clears reference fields that point at an absent or tombstoned record.
// The graph sweep counts edges whose target node is already tombstoned;
// since the Graph Store Adapter contract (spec section 6) exposes
// node-level CRUD and not an edge-delete primitive, actual pruning of
// those edges happens transitively when cleanup hard-deletes the
// tombstoned node with detach=true.
func (n *Normalizer) orphanDetection(ctx context.Context, dryRun bool, jr *journal) (Stats, error) {
	var stats Stats

	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))

		err := scrollAll(ctx, n.vector, collection, vectorstore.Filter{Equals: map[string]interface{}{"deleted": false}}, 200, func(p vectorstore.Point) error {
			for field, targetType := range referenceFields {
				refID, ok := p.Payload[field].(string)
				if !ok || refID == "" {
					continue
				}
				target, err := n.vector.Get(ctx, n.vector.CollectionName(string(targetType)), refID, false)
				if err != nil {
					continue
				}
				orphaned := target == nil
				if target != nil {
					if deleted, _ := target.Payload["deleted"].(bool); deleted {
						orphaned = true
					}
				}
				if !orphaned {
					continue
				}
				stats.OrphansFound++
				if dryRun {
					continue
				}
				jr.record(collection, p.ID, field, p.Payload[field])
				if err := n.vector.UpdatePayload(ctx, collection, p.ID, map[string]interface{}{field: nil}); err != nil {
					return err
				}
			}

			related, err := n.graph.GetRelated(ctx, p.ID, nil, graphstore.DirectionBoth, 1)
			if err != nil {
				return nil
			}
			for _, r := range related {
				if deleted, _ := r.Properties["deleted"].(bool); deleted {
					stats.OrphansFound++
				}
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// embeddingRefresh implements spec section 4.5 step 4: records whose
// embedding came from the fallback provider, or whose content has
// drifted from its stored content_hash, are re-embedded against the
// primary provider and overwritten.
func (n *Normalizer) embeddingRefresh(ctx context.Context, dryRun bool) (Stats, error) {
	var stats Stats

	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))

		err := scrollAll(ctx, n.vector, collection, vectorstore.Filter{Equals: map[string]interface{}{"deleted": false}}, 200, func(p vectorstore.Point) error {
			content, _ := p.Payload["content"].(string)
			isFallback, _ := p.Payload["embedding_is_fallback"].(bool)
			storedHash, _ := p.Payload["content_hash"].(string)
			driftedHash := storedHash != "" && storedHash != models.ContentHash(content)

			if !isFallback && !driftedHash {
				return nil
			}
			stats.Refreshed++
			if dryRun {
				return nil
			}

			vec, wasFallback, err := n.embedder.Embed(ctx, content, false, embedding.InputDocument)
			if err != nil {
				return err
			}

			full, err := n.vector.Get(ctx, collection, p.ID, false)
			if err != nil || full == nil {
				return err
			}
			full.Payload["embedding_is_fallback"] = wasFallback
			full.Payload["content_hash"] = models.ContentHash(content)
			full.Payload["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
			return n.vector.Upsert(ctx, collection, vectorstore.Point{ID: p.ID, Vector: vec, Payload: full.Payload})
		})
		if err != nil {
			return stats, err
		}
	}

	// RefreshFallbackEmbeddings covers the embedding cache's own
	// is_fallback entries (spec section 4.4's fallback-refresh
	// maintenance operation), a layer the vector-store sweep above never
	// touches since a cache hit short-circuits before any vector record
	// is read. RefreshFallbackEmbeddings has no dry-run mode, so it only
	// runs for a real (non-dry-run) pass.
	if !dryRun {
		cacheRefreshed, err := n.embedder.RefreshFallbackEmbeddings(ctx)
		if err != nil {
			return stats, err
		}
		stats.Refreshed += cacheRefreshed
	}
	return stats, nil
}

// cleanup implements spec section 4.5 step 5: tombstoned records past
// retention are hard-deleted from both stores.
func (n *Normalizer) cleanup(ctx context.Context, dryRun bool) (Stats, error) {
	var stats Stats
	now := time.Now().UTC()

	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))

		err := scrollAll(ctx, n.vector, collection, vectorstore.Filter{Equals: map[string]interface{}{"deleted": true}}, 200, func(p vectorstore.Point) error {
			deletedAtStr, _ := p.Payload["deleted_at"].(string)
			if deletedAtStr == "" {
				return nil
			}
			deletedAt, err := time.Parse(time.RFC3339Nano, deletedAtStr)
			if err != nil || now.Sub(deletedAt) < n.retention {
				return nil
			}
			stats.ItemsDeleted++
			if dryRun {
				return nil
			}
			if err := n.vector.Delete(ctx, collection, p.ID); err != nil {
				return err
			}
			return n.graph.DeleteNode(ctx, p.ID, true)
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// validation implements spec section 4.5 step 6: re-count every
// collection, sample validation queries for non-empty results, and
// assert no PENDING sync status remains.
func (n *Normalizer) validation(ctx context.Context) (Stats, error) {
	valid := true

	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))
		pendingCount, err := n.vector.Count(ctx, collection, vectorstore.Filter{Equals: map[string]interface{}{"sync_status": string(models.SyncPending)}})
		if err != nil {
			return Stats{}, err
		}
		if pendingCount > 0 {
			valid = false
		}
	}

	for _, q := range n.validationQs {
		vec, err := n.embedder.EmbedForQuery(ctx, q)
		if err != nil {
			valid = false
			continue
		}
		var found bool
		for _, t := range models.AllMemoryTypes {
			collection := n.vector.CollectionName(string(t))
			hits, err := n.vector.Search(ctx, collection, vec, 1, vectorstore.Filter{Equals: map[string]interface{}{"deleted": false}}, nil)
			if err == nil && len(hits) > 0 {
				found = true
				break
			}
		}
		if !found {
			valid = false
		}
	}

	return Stats{Valid: valid}, nil
}

// swap implements spec section 4.5 step 7: atomically rename each type's
// shadow collection over its primary, per SPEC_FULL.md's Open Question
// resolution (journaled ALTER TABLE cutover in sqlitevec.RenameCollection).
func (n *Normalizer) swap(ctx context.Context, jobID string, dryRun bool) (Stats, error) {
	if dryRun {
		return Stats{}, nil
	}
	for _, t := range models.AllMemoryTypes {
		collection := n.vector.CollectionName(string(t))
		shadow := shadowName(collection, jobID)
		if err := n.vector.RenameCollection(ctx, shadow, collection); err != nil {
			return Stats{}, err
		}
	}
	return Stats{}, nil
}
