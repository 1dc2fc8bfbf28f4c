// Package sync implements the Cross-Store Sync Manager (spec section
// 4.2): drives every record toward SYNCED and reconciles divergence
// between the vector store and graph store under partial failure.
//
// Grounded almost directly on original_source's storage/sync.py
// (process_pending, retry_failed, verify_consistency, get_sync_stats),
// ported operation-for-operation into Go with typed errors and the
// shared per-id lock table from pkg/idlock so Sync Manager operations on
// an id never interleave with a Memory Manager operation on that same id.
package sync

import (
	"context"
	"fmt"

	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/idlock"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// Manager is the Cross-Store Sync Manager.
type Manager struct {
	vector     vectorstore.Store
	graph      graphstore.Store
	locks      *idlock.Table
	maxRetries int
	logger     observability.Logger
}

// New builds a Manager. maxRetries implements the Open Question
// resolution in SPEC_FULL.md ([sync] max_retries, default 5): retries are
// bounded and dead-lettered rather than unbounded as in the source.
func New(vector vectorstore.Store, graph graphstore.Store, locks *idlock.Table, maxRetries int, logger observability.Logger) *Manager {
	return &Manager{vector: vector, graph: graph, locks: locks, maxRetries: maxRetries, logger: logger}
}

// ProcessPending implements spec section 4.2's process_pending: select up
// to batchSize PENDING records per memory type, attempt the graph
// create/update, mark SYNCED on success, FAILED on error.
func (m *Manager) ProcessPending(ctx context.Context, batchSize int) (processed, synced, failed int, err error) {
	for _, memType := range models.AllMemoryTypes {
		collection := m.vector.CollectionName(string(memType))
		page, serr := m.vector.Scroll(ctx, collection, vectorstore.Filter{
			Equals: map[string]interface{}{"sync_status": string(models.SyncPending)},
		}, batchSize, nil)
		if serr != nil {
			return processed, synced, failed, serr
		}

		for _, point := range page.Points {
			processed++
			if m.syncOne(ctx, collection, memType, point) {
				synced++
			} else {
				failed++
			}
			if processed >= batchSize {
				return processed, synced, failed, nil
			}
		}
	}
	return processed, synced, failed, nil
}

func (m *Manager) syncOne(ctx context.Context, collection string, memType models.MemoryType, point vectorstore.Point) bool {
	id := point.ID
	unlock := m.locks.Lock(id)
	defer unlock()

	label := m.graph.NodeLabel(string(memType))
	existing, _ := m.graph.GetNode(ctx, id, label)

	var err error
	if existing == nil {
		err = m.graph.CreateNode(ctx, label, point.Payload)
	} else {
		err = m.graph.UpdateNode(ctx, id, point.Payload, label)
	}

	if err != nil {
		retryCount := 0
		if rc, ok := point.Payload["retry_count"]; ok {
			retryCount = toInt(rc)
		}
		retryCount++
		_ = m.vector.UpdatePayload(ctx, collection, id, map[string]interface{}{
			"sync_status": string(models.SyncFailed),
			"sync_error":  err.Error(),
			"retry_count": retryCount,
		})
		m.logger.Warn("sync: graph write failed", map[string]interface{}{"id": id, "retry_count": retryCount, "error": err.Error()})
		return false
	}

	_ = m.vector.UpdatePayload(ctx, collection, id, map[string]interface{}{"sync_status": string(models.SyncSynced), "sync_error": ""})
	return true
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// RetryFailed implements spec section 4.2's retry_failed: re-mark FAILED
// records as PENDING (skipping those that have exhausted maxRetries, the
// dead-letter classification from the Open Question resolution) and call
// ProcessPending.
func (m *Manager) RetryFailed(ctx context.Context, batchSize int) (processed, synced, failed, deadLettered int, err error) {
	for _, memType := range models.AllMemoryTypes {
		collection := m.vector.CollectionName(string(memType))
		page, serr := m.vector.Scroll(ctx, collection, vectorstore.Filter{
			Equals: map[string]interface{}{"sync_status": string(models.SyncFailed)},
		}, batchSize, nil)
		if serr != nil {
			return processed, synced, failed, deadLettered, serr
		}

		for _, point := range page.Points {
			retryCount := toInt(point.Payload["retry_count"])
			if retryCount >= m.maxRetries {
				deadLettered++
				continue
			}
			_ = m.vector.UpdatePayload(ctx, collection, point.ID, map[string]interface{}{"sync_status": string(models.SyncPending)})
		}
	}

	p, s, f, perr := m.ProcessPending(ctx, batchSize)
	return p, s, f, deadLettered, perr
}

// ConsistencyReport is the result of verify_consistency (spec section 4.2).
// Naming follows spec section 4.2's qdrant_only/graph_only terms literally:
// QdrantOnly is a vector record with no matching graph node, GraphOnly is a
// graph node with no matching vector record.
type ConsistencyReport struct {
	QdrantOnly      []string
	GraphOnly       []string
	Mismatched      []string
	ConsistentCount int
}

// VerifyConsistency samples SYNCED vector records and checks that the graph
// node exists and selected fields match (the qdrant_only/mismatched sweep),
// then samples graph nodes per label and checks that a vector point exists
// for each one (the graph_only reverse sweep), per spec section 4.2.
func (m *Manager) VerifyConsistency(ctx context.Context, sampleSize int) (ConsistencyReport, error) {
	var report ConsistencyReport

	for _, memType := range models.AllMemoryTypes {
		collection := m.vector.CollectionName(string(memType))
		label := m.graph.NodeLabel(string(memType))

		page, err := m.vector.Scroll(ctx, collection, vectorstore.Filter{
			Equals: map[string]interface{}{"sync_status": string(models.SyncSynced)},
		}, sampleSize, nil)
		if err != nil {
			return report, err
		}

		for _, point := range page.Points {
			node, err := m.graph.GetNode(ctx, point.ID, label)
			if err != nil || node == nil {
				report.QdrantOnly = append(report.QdrantOnly, point.ID)
				continue
			}
			if !contentMatches(point.Payload, node.Properties) {
				report.Mismatched = append(report.Mismatched, point.ID)
				continue
			}
			report.ConsistentCount++
		}

		ids, err := sampleGraphNodeIDs(ctx, m.graph, label, sampleSize)
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			point, err := m.vector.Get(ctx, collection, id, false)
			if err != nil || point == nil {
				report.GraphOnly = append(report.GraphOnly, id)
			}
		}
	}
	return report, nil
}

func contentMatches(vectorPayload, graphProps map[string]interface{}) bool {
	vc, _ := vectorPayload["content"].(string)
	gc, _ := graphProps["content"].(string)
	return vc == gc
}

// sampleGraphNodeIDs lists up to limit node ids for label through the
// adapter's read-only query escape hatch. graphstore.Store has no
// list-nodes primitive, so this is the only capability the Graph Store
// Adapter contract (spec section 6) exposes for a label-wide scan.
func sampleGraphNodeIDs(ctx context.Context, g graphstore.Store, label string, limit int) ([]string, error) {
	query := fmt.Sprintf(`{ q(func: eq(label, %q), first: %d) { id } }`, label, limit)
	rows, err := g.ExecuteQuery(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Stats summarizes per-status record counts for memory_statistics.
type Stats struct {
	Pending int64
	Synced  int64
	Failed  int64
}

func (m *Manager) GetSyncStats(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, memType := range models.AllMemoryTypes {
		collection := m.vector.CollectionName(string(memType))
		for status, counter := range map[models.SyncStatus]*int64{
			models.SyncPending: &stats.Pending,
			models.SyncSynced:  &stats.Synced,
			models.SyncFailed:  &stats.Failed,
		} {
			n, err := m.vector.Count(ctx, collection, vectorstore.Filter{Equals: map[string]interface{}{"sync_status": string(status)}})
			if err != nil {
				return stats, err
			}
			*counter += n
		}
	}
	return stats, nil
}
