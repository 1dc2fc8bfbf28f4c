// Package vectorstore defines the Vector Store Adapter contract from spec
// section 6: one collection per memory type, scoped by project id, with
// upsert/get/delete/update_payload/search/scroll/count/health_check/close.
// The interface shape is grounded on the teacher's pkg/repository/vector
// Repository interface (context-first methods, a single struct crossing
// the adapter boundary); the concrete backend is sqlite-vec (pkg/vectorstore/sqlitevec).
package vectorstore

import "context"

// Point is one vector-store record: an id, its embedding, and an opaque
// payload (the Memory's common fields plus type-specific payload,
// flattened for storage).
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Filter is an AND-composed equality/in predicate over payload fields, per
// spec section 6 ("filters are AND-composed equality/in predicates").
type Filter struct {
	Equals map[string]interface{}
	In     map[string][]interface{}
}

// ScrollPage is one page of a full scan.
type ScrollPage struct {
	Points     []Point
	NextOffset *string
}

// Store is the Vector Store Adapter required capability set (spec section 6).
type Store interface {
	// InitializeCollections is idempotent; it creates one collection per
	// memory type.
	InitializeCollections(ctx context.Context) error

	// CollectionName is deterministic and includes the project id so that
	// two projects never share a collection.
	CollectionName(memType string) string

	Upsert(ctx context.Context, collection string, p Point) error
	Get(ctx context.Context, collection, id string, withVector bool) (*Point, error)
	Delete(ctx context.Context, collection, id string) error
	UpdatePayload(ctx context.Context, collection, id string, partial map[string]interface{}) error

	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, scoreThreshold *float32) ([]ScoredPoint, error)
	Scroll(ctx context.Context, collection string, filter Filter, limit int, offset *string) (ScrollPage, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// RenameCollection atomically replaces dst with src's contents, used by
	// the Normalizer's swap phase (journaled cutover, see DESIGN.md).
	RenameCollection(ctx context.Context, src, dst string) error
	DropCollection(ctx context.Context, collection string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// ScoredPoint is a Search hit.
type ScoredPoint struct {
	Point
	Score float32
}
