package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// ExportRecord is one line of the JSONL export/import format
// (SPEC_FULL.md's supplemented export/import tools, grounded on
// original_source's api/tools/maintenance.py). Vectors are intentionally
// excluded: the testable "round trip" property in spec section 8 compares
// payload fields, not re-derived embeddings, since those depend on the
// embedding provider in effect at import time.
type ExportRecord struct {
	Type    models.MemoryType      `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Export streams every record across every memory type (tombstones
// included, since backup/restore is a full state dump rather than a
// user-visible read) as newline-delimited JSON.
func (m *Manager) Export(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0

	for _, t := range models.AllMemoryTypes {
		collection := m.vector.CollectionName(string(t))
		var offset *string
		for {
			page, err := m.vector.Scroll(ctx, collection, vectorstore.Filter{
				Equals: map[string]interface{}{"project_id": m.projectID},
			}, 200, offset)
			if err != nil {
				return count, err
			}
			for _, p := range page.Points {
				if err := enc.Encode(ExportRecord{Type: t, Payload: p.Payload}); err != nil {
					return count, err
				}
				count++
			}
			if page.NextOffset == nil {
				break
			}
			offset = page.NextOffset
		}
	}
	return count, nil
}

// ConflictResolution governs Import's behavior when an id already exists,
// per SPEC_FULL.md's export/import contract.
type ConflictResolution string

const (
	ConflictSkip      ConflictResolution = "skip"
	ConflictOverwrite ConflictResolution = "overwrite"
	ConflictError     ConflictResolution = "error"
)

// ImportStats summarizes one Import call.
type ImportStats struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Import reads newline-delimited ExportRecords and re-adds each through
// the normal Add path (so validation, embedding, and dual-write all run
// exactly as for any other write), applying conflictResolution when the
// id already exists. Per-item errors never abort the run, matching
// BulkAdd's error-isolation contract.
func (m *Manager) Import(ctx context.Context, r io.Reader, resolution ConflictResolution) ImportStats {
	var stats ImportStats
	dec := json.NewDecoder(r)

	for {
		var rec ExportRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("decode: %v", err))
			break
		}
		if !rec.Type.Valid() {
			stats.Errors = append(stats.Errors, fmt.Sprintf("import: unknown memory type %q", rec.Type))
			continue
		}

		id, _ := rec.Payload["id"].(string)
		collection := m.vector.CollectionName(string(rec.Type))
		existing, err := m.vector.Get(ctx, collection, id, false)
		if err == nil && existing != nil {
			switch resolution {
			case ConflictSkip:
				stats.Skipped++
				continue
			case ConflictError:
				stats.Errors = append(stats.Errors, fmt.Sprintf("import: id %s already exists", id))
				continue
			case ConflictOverwrite:
				// fall through to re-add, which upserts by id.
			}
		}

		mem := fromPayload(id, rec.Type, &vectorstore.Point{ID: id, Payload: rec.Payload})
		mem.Embedding = nil // force re-embedding against the active provider
		if _, _, err := m.Add(ctx, mem, false); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("import: id %s: %v", id, err))
			continue
		}
		stats.Imported++
	}
	return stats
}
