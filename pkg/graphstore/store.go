// Package graphstore defines the Graph Store Adapter contract from spec
// section 6: node labels per memory type, CRUD on nodes, typed
// relationship creation, bounded-depth traversal, and a read-only query
// escape hatch. The concrete backend is dgraph (pkg/graphstore/dgraph),
// grounded on suryanshp1-QuantumFlow's use of github.com/dgraph-io/dgo/v230.
package graphstore

import "context"

// Node is a graph node: an id, its label (memory type), and properties
// mirroring the Memory's common fields plus type payload.
type Node struct {
	ID         string
	Label      string
	Properties map[string]interface{}
}

// Direction constrains get_related traversal (spec section 4.3).
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionBoth     Direction = "both"
)

// Related is one traversal hit.
type Related struct {
	NodeID       string
	Label        string
	Relationship string
	Depth        int
	Properties   map[string]interface{}
}

// Store is the Graph Store Adapter required capability set (spec section 6).
type Store interface {
	// InitializeSchema is idempotent; it constructs node labels for each
	// memory type and indexes id/project_id.
	InitializeSchema(ctx context.Context) error
	NodeLabel(memType string) string

	CreateNode(ctx context.Context, label string, properties map[string]interface{}) error
	GetNode(ctx context.Context, id, label string) (*Node, error)
	UpdateNode(ctx context.Context, id string, properties map[string]interface{}, label string) error
	DeleteNode(ctx context.Context, id string, detach bool) error

	CreateRelationship(ctx context.Context, sourceID, targetID, relType string, properties map[string]interface{}) error
	GetRelated(ctx context.Context, nodeID string, types []string, direction Direction, depth int) ([]Related, error)

	// ExecuteQuery runs a read-only traversal in the adapter's query
	// language; the adapter MUST reject write-shaped statements (spec
	// section 6: "adapter MUST reject writes when called through the
	// Query Engine").
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
