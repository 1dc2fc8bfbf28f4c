// Package memory implements the Memory Manager (spec section 4.1): the
// sole mutator of Memory records, responsible for validation, embedding
// acquisition, dual-write ordering, and conflict detection.
//
// No memory_manager.py equivalent survived the original_source filter, so
// operation semantics are taken directly from spec sections 4.1/7/8;
// the dual-write-then-mark-pending shape mirrors the teacher's
// execute-with-fallback pattern in internal/resilience and the
// validate-then-write flow in pkg/repository/embedding_repository.go.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/idlock"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/perr"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// Manager is the Memory Manager.
type Manager struct {
	vector    vectorstore.Store
	graph     graphstore.Store
	embedder  *embedding.Service
	projectID string
	logger    observability.Logger

	locks *idlock.Table
}

// New builds a Manager bound to one project (process-scoped, per spec
// section 1: one process per project).
func New(vector vectorstore.Store, graph graphstore.Store, embedder *embedding.Service, projectID string, logger observability.Logger, locks *idlock.Table) *Manager {
	return &Manager{
		vector:    vector,
		graph:     graph,
		embedder:  embedder,
		projectID: projectID,
		logger:    logger,
		locks:     locks,
	}
}

// Add implements spec section 4.1's add operation.
func (m *Manager) Add(ctx context.Context, mem *models.Memory, checkConflicts bool) (id string, conflicts []string, err error) {
	if err := m.validate(mem); err != nil {
		return "", nil, err
	}

	if mem.ID == "" {
		mem.ID = models.NewID()
	}
	unlock := m.locks.Lock(mem.ID)
	defer unlock()

	now := time.Now().UTC()
	mem.ProjectID = m.projectID
	mem.ContentHash = models.ContentHash(mem.Content)
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	mem.UpdatedAt = now

	if len(mem.Embedding) == 0 {
		vec, isFallback, eerr := m.embedder.Embed(ctx, mem.Content, true, embedding.InputDocument)
		if eerr != nil {
			return "", nil, perr.Wrap(perr.KindTransient, "memory.Add", eerr)
		}
		mem.Embedding = vec
		mem.EmbeddingIsFallback = isFallback
	}
	if !models.ValidEmbeddingDim(mem.Embedding) {
		return "", nil, perr.New(perr.KindValidation, "memory.Add", "embedding dimension mismatch")
	}

	if checkConflicts {
		conflicts, err = m.findConflicts(ctx, mem)
		if err != nil {
			return "", nil, err
		}
	}

	if err := m.dualWrite(ctx, mem); err != nil {
		return "", nil, err
	}

	return mem.ID, conflicts, nil
}

func (m *Manager) findConflicts(ctx context.Context, mem *models.Memory) ([]string, error) {
	collection := m.vector.CollectionName(string(mem.Type))
	threshold := float32(0.95)
	hits, err := m.vector.Search(ctx, collection, mem.Embedding, 10, vectorstore.Filter{
		Equals: map[string]interface{}{"project_id": m.projectID, "deleted": false},
	}, &threshold)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "memory.findConflicts", err)
	}
	var conflicts []string
	for _, h := range hits {
		if h.ID != mem.ID {
			conflicts = append(conflicts, h.ID)
		}
	}
	return conflicts, nil
}

// dualWrite implements the ordering guarantee in spec sections 2/4.1:
// vector write first; on vector failure the operation fails outright; on
// graph failure the record is left PENDING but the call still succeeds.
func (m *Manager) dualWrite(ctx context.Context, mem *models.Memory) error {
	collection := m.vector.CollectionName(string(mem.Type))
	payload := toPayload(mem)

	if err := m.vector.Upsert(ctx, collection, vectorstore.Point{ID: mem.ID, Vector: mem.Embedding, Payload: payload}); err != nil {
		return perr.Wrap(perr.KindTransient, "memory.dualWrite.vector", err)
	}

	label := m.graph.NodeLabel(string(mem.Type))
	if err := m.graph.CreateNode(ctx, label, payload); err != nil {
		mem.SyncStatus = models.SyncPending
		mem.SyncError = err.Error()
		_ = m.vector.UpdatePayload(ctx, collection, mem.ID, map[string]interface{}{
			"sync_status": string(models.SyncPending), "sync_error": err.Error(),
		})
		m.logger.Warn("graph write failed, record left PENDING", map[string]interface{}{"id": mem.ID, "error": err.Error()})
		return nil
	}

	mem.SyncStatus = models.SyncSynced
	return m.vector.UpdatePayload(ctx, collection, mem.ID, map[string]interface{}{"sync_status": string(models.SyncSynced)})
}

func toPayload(mem *models.Memory) map[string]interface{} {
	p := make(map[string]interface{}, len(mem.Payload)+12)
	for k, v := range mem.Payload {
		p[k] = v
	}
	p["id"] = mem.ID
	p["type"] = string(mem.Type)
	p["content"] = mem.Content
	p["content_hash"] = mem.ContentHash
	p["embedding_is_fallback"] = mem.EmbeddingIsFallback
	p["created_at"] = mem.CreatedAt.Format(time.RFC3339Nano)
	p["updated_at"] = mem.UpdatedAt.Format(time.RFC3339Nano)
	p["access_count"] = mem.AccessCount
	p["importance_score"] = mem.ImportanceScore
	p["deleted"] = mem.Deleted
	p["sync_status"] = string(mem.SyncStatus)
	p["project_id"] = mem.ProjectID
	p["retry_count"] = mem.RetryCount
	if mem.DeletedAt != nil {
		p["deleted_at"] = mem.DeletedAt.Format(time.RFC3339Nano)
	}
	return p
}

func (m *Manager) validate(mem *models.Memory) error {
	if !mem.Type.Valid() {
		return perr.New(perr.KindValidation, "memory.validate", fmt.Sprintf("unknown memory type %q", mem.Type))
	}
	if !models.ContentSizeOK(mem.Content) {
		return perr.New(perr.KindValidation, "memory.validate", "content exceeds 100 KiB limit")
	}
	if len(mem.Embedding) > 0 && !models.ValidEmbeddingDim(mem.Embedding) {
		return perr.New(perr.KindValidation, "memory.validate", "embedding dimension mismatch")
	}
	return nil
}

// Get implements spec section 4.1's get operation.
func (m *Manager) Get(ctx context.Context, id string, memType models.MemoryType, trackAccess bool) (*models.Memory, error) {
	collection := m.vector.CollectionName(string(memType))
	point, err := m.vector.Get(ctx, collection, id, true)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "memory.Get", err)
	}
	if point == nil {
		return nil, nil
	}
	mem := fromPayload(id, memType, point)
	if mem.Deleted {
		return nil, nil
	}

	if trackAccess {
		// Best-effort per spec section 4.1: not required to be atomic
		// across concurrent readers, last-writer-wins is acceptable.
		_ = m.vector.UpdatePayload(ctx, collection, id, map[string]interface{}{"access_count": mem.AccessCount + 1})
	}
	return mem, nil
}

func fromPayload(id string, memType models.MemoryType, point *vectorstore.Point) *models.Memory {
	mem := &models.Memory{ID: id, Type: memType, Embedding: point.Vector, Payload: point.Payload}
	if v, ok := point.Payload["content"].(string); ok {
		mem.Content = v
	}
	if v, ok := point.Payload["content_hash"].(string); ok {
		mem.ContentHash = v
	}
	if v, ok := point.Payload["embedding_is_fallback"].(bool); ok {
		mem.EmbeddingIsFallback = v
	}
	if v, ok := point.Payload["created_at"].(string); ok {
		mem.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := point.Payload["updated_at"].(string); ok {
		mem.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := point.Payload["access_count"]; ok {
		mem.AccessCount = toInt64(v)
	}
	if v, ok := point.Payload["importance_score"]; ok {
		mem.ImportanceScore = toFloat64(v)
	}
	if v, ok := point.Payload["deleted"].(bool); ok {
		mem.Deleted = v
	}
	if v, ok := point.Payload["sync_status"].(string); ok {
		mem.SyncStatus = models.SyncStatus(v)
	}
	if v, ok := point.Payload["project_id"].(string); ok {
		mem.ProjectID = v
	}
	if v, ok := point.Payload["retry_count"]; ok {
		mem.RetryCount = int(toInt64(v))
	}
	return mem
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

// Update implements spec section 4.1's update operation.
func (m *Manager) Update(ctx context.Context, id string, memType models.MemoryType, updates map[string]interface{}, regenerateEmbedding bool) (*models.Memory, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	mem, err := m.Get(ctx, id, memType, false)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, nil
	}

	contentChanged := false
	if newContent, ok := updates["content"].(string); ok && newContent != mem.Content {
		if !models.ContentSizeOK(newContent) {
			return nil, perr.New(perr.KindValidation, "memory.Update", "content exceeds 100 KiB limit")
		}
		mem.Content = newContent
		mem.ContentHash = models.ContentHash(newContent)
		contentChanged = true
	}
	for k, v := range updates {
		if mem.Payload == nil {
			mem.Payload = map[string]interface{}{}
		}
		mem.Payload[k] = v
	}

	if contentChanged || regenerateEmbedding {
		vec, isFallback, eerr := m.embedder.Embed(ctx, mem.Content, true, embedding.InputDocument)
		if eerr != nil {
			return nil, perr.Wrap(perr.KindTransient, "memory.Update", eerr)
		}
		mem.Embedding = vec
		mem.EmbeddingIsFallback = isFallback
	}

	mem.UpdatedAt = time.Now().UTC()
	if err := m.dualWrite(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Delete implements spec section 4.1's delete operation.
func (m *Manager) Delete(ctx context.Context, id string, memType models.MemoryType, soft bool) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	collection := m.vector.CollectionName(string(memType))
	existing, err := m.vector.Get(ctx, collection, id, false)
	if err != nil {
		return false, perr.Wrap(perr.KindTransient, "memory.Delete", err)
	}
	if existing == nil {
		return false, nil
	}

	label := m.graph.NodeLabel(string(memType))

	if soft {
		now := time.Now().UTC()
		if err := m.vector.UpdatePayload(ctx, collection, id, map[string]interface{}{
			"deleted": true, "deleted_at": now.Format(time.RFC3339Nano), "updated_at": now.Format(time.RFC3339Nano),
		}); err != nil {
			return false, perr.Wrap(perr.KindTransient, "memory.Delete", err)
		}
		_ = m.graph.UpdateNode(ctx, id, map[string]interface{}{"deleted": true}, label)
		return true, nil
	}

	if err := m.vector.Delete(ctx, collection, id); err != nil {
		return false, perr.Wrap(perr.KindTransient, "memory.Delete", err)
	}
	_ = m.graph.DeleteNode(ctx, id, true)
	return true, nil
}

// BulkAdd implements spec section 4.1's bulk_add: batch-embed items
// missing an embedding, then per-item dual-write; per-item errors never
// abort the batch.
func (m *Manager) BulkAdd(ctx context.Context, mems []*models.Memory, checkConflicts bool) (ids []string, errs []error) {
	var texts []string
	var idxNeedingEmbed []int
	for i, mem := range mems {
		if len(mem.Embedding) == 0 {
			texts = append(texts, mem.Content)
			idxNeedingEmbed = append(idxNeedingEmbed, i)
		}
	}

	if len(texts) > 0 {
		results, err := m.embedder.EmbedBatch(ctx, texts, true, embedding.InputDocument)
		if err == nil {
			for j, idx := range idxNeedingEmbed {
				mems[idx].Embedding = results[j].Vector
				mems[idx].EmbeddingIsFallback = results[j].IsFallback
			}
		}
	}

	ids = make([]string, len(mems))
	errs = make([]error, len(mems))
	for i, mem := range mems {
		id, _, err := m.Add(ctx, mem, checkConflicts)
		ids[i] = id
		errs[i] = err
	}
	return ids, errs
}
