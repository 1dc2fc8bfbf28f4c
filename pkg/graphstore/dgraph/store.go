// Package dgraph is the concrete Graph Store Adapter backed by Dgraph,
// grounded on suryanshp1-QuantumFlow's use of github.com/dgraph-io/dgo/v230
// over a plain gRPC connection.
//
// Dgraph nodes are addressed internally by a uid that this service does
// not control, so every node we create carries our own `id` predicate
// (indexed, unique by convention) and `label` predicate (the memory
// type); all lookups resolve id -> uid first. Relationships are modeled
// as a single `rel` edge predicate carrying a `rel_type` facet, which
// keeps the schema stable across the eleven relationship types in spec
// section 3 instead of declaring one predicate per type.
package dgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/S-Corkum/projectmemory/internal/resilience"
	"github.com/S-Corkum/projectmemory/pkg/graphstore"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/perr"
)

// Store implements graphstore.Store against a single Dgraph cluster.
type Store struct {
	client    *dgo.Dgraph
	conn      *grpc.ClientConn
	projectID string
	logger    observability.Logger
}

// Connect dials addr (host:port) and wraps it in a dgo client.
func Connect(ctx context.Context, addr, projectID string, logger observability.Logger) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dgraph: dial %s: %w", addr, err)
	}
	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	return &Store{client: client, conn: conn, projectID: projectID, logger: logger}, nil
}

func (s *Store) NodeLabel(memType string) string { return memType }

// InitializeSchema declares the predicates shared by every memory-type
// label plus indexes on id and project_id, idempotent via Dgraph's
// alter-merges-schema semantics.
func (s *Store) InitializeSchema(ctx context.Context) error {
	return resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		schema := `
			id: string @index(exact) .
			project_id: string @index(exact) .
			label: string @index(exact) .
			deleted: bool @index(bool) .
			content: string .
			updated_at: string @index(exact) .
			rel: [uid] @reverse .
			rel_type: string @index(exact) .
		`
		return s.client.Alter(ctx, &api.Operation{Schema: schema})
	})
}

func (s *Store) CreateNode(ctx context.Context, label string, properties map[string]interface{}) error {
	return resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			props := cloneProps(properties)
			props["label"] = label
			props["project_id"] = s.projectID
			props["uid"] = "_:new"

			b, err := json.Marshal(props)
			if err != nil {
				return perr.Wrap(perr.KindInternal, "dgraph.CreateNode", err)
			}

			txn := s.client.NewTxn()
			defer txn.Discard(ctx)

			_, err = txn.Mutate(ctx, &api.Mutation{SetJson: b, CommitNow: true})
			if err != nil {
				return perr.Wrap(perr.KindTransient, "dgraph.CreateNode", err)
			}
			return nil
		})
	})
}

// uidForID is called from within an already-Guard-wrapped method, so it
// talks to the client directly rather than nesting another circuit
// breaker around a single query.
func (s *Store) uidForID(ctx context.Context, id string) (string, error) {
	q := fmt.Sprintf(`{ q(func: eq(id, %q)) { uid } }`, id)
	resp, err := s.client.NewReadOnlyTxn().Query(ctx, q)
	if err != nil {
		return "", perr.Wrap(perr.KindTransient, "dgraph.uidForID", err)
	}
	var parsed struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.GetJson(), &parsed); err != nil {
		return "", perr.Wrap(perr.KindInternal, "dgraph.uidForID", err)
	}
	if len(parsed.Q) == 0 {
		return "", perr.ErrNotFound
	}
	return parsed.Q[0].UID, nil
}

func (s *Store) GetNode(ctx context.Context, id, label string) (*graphstore.Node, error) {
	var node *graphstore.Node
	err := resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		q := fmt.Sprintf(`{ q(func: eq(id, %q)) { uid id label project_id content updated_at deleted } }`, id)
		resp, err := s.client.NewReadOnlyTxn().Query(ctx, q)
		if err != nil {
			return perr.Wrap(perr.KindTransient, "dgraph.GetNode", err)
		}
		var parsed struct {
			Q []map[string]interface{} `json:"q"`
		}
		if err := json.Unmarshal(resp.GetJson(), &parsed); err != nil {
			return perr.Wrap(perr.KindInternal, "dgraph.GetNode", err)
		}
		if len(parsed.Q) == 0 {
			return nil
		}
		props := parsed.Q[0]
		nodeLabel, _ := props["label"].(string)
		if label != "" && nodeLabel != label {
			return nil
		}
		node = &graphstore.Node{ID: id, Label: nodeLabel, Properties: props}
		return nil
	})
	return node, err
}

func (s *Store) UpdateNode(ctx context.Context, id string, properties map[string]interface{}, label string) error {
	return resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		uid, err := s.uidForID(ctx, id)
		if err != nil {
			return err
		}
		props := cloneProps(properties)
		props["uid"] = uid
		b, err := json.Marshal(props)
		if err != nil {
			return perr.Wrap(perr.KindInternal, "dgraph.UpdateNode", err)
		}

		txn := s.client.NewTxn()
		defer txn.Discard(ctx)
		_, err = txn.Mutate(ctx, &api.Mutation{SetJson: b, CommitNow: true})
		if err != nil {
			return perr.Wrap(perr.KindTransient, "dgraph.UpdateNode", err)
		}
		return nil
	})
}

func (s *Store) DeleteNode(ctx context.Context, id string, detach bool) error {
	return resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		uid, err := s.uidForID(ctx, id)
		if err != nil {
			if perr.Is(err, perr.KindNotFound) {
				return nil
			}
			return err
		}

		txn := s.client.NewTxn()
		defer txn.Discard(ctx)

		if detach {
			// Delete all outgoing/incoming `rel` edges for this node, then the
			// node itself, so the graph never retains a dangling edge (spec
			// section 3 invariant: edges only exist between existing nodes).
			del := fmt.Sprintf(`{"uid": "%s", "rel": [{"uid": "_:any"}]}`, uid)
			_, _ = txn.Mutate(ctx, &api.Mutation{DeleteJson: []byte(del), CommitNow: false})
		}

		del := fmt.Sprintf(`{"uid": "%s"}`, uid)
		_, err = txn.Mutate(ctx, &api.Mutation{DeleteJson: []byte(del), CommitNow: true})
		if err != nil {
			return perr.Wrap(perr.KindTransient, "dgraph.DeleteNode", err)
		}
		return nil
	})
}

func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, properties map[string]interface{}) error {
	return resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		srcUID, err := s.uidForID(ctx, sourceID)
		if err != nil {
			return err
		}
		dstUID, err := s.uidForID(ctx, targetID)
		if err != nil {
			return err
		}

		edge := map[string]interface{}{
			"uid": srcUID,
			"rel": []map[string]interface{}{
				{"uid": dstUID, "rel|rel_type": relType},
			},
		}
		b, err := json.Marshal(edge)
		if err != nil {
			return perr.Wrap(perr.KindInternal, "dgraph.CreateRelationship", err)
		}

		txn := s.client.NewTxn()
		defer txn.Discard(ctx)
		_, err = txn.Mutate(ctx, &api.Mutation{SetJson: b, CommitNow: true})
		if err != nil {
			return perr.Wrap(perr.KindTransient, "dgraph.CreateRelationship", err)
		}
		return nil
	})
}

// GetRelated performs a bounded breadth-first traversal from nodeID up to
// depth hops, matching spec section 4.3's ordering contract (traversal
// order, duplicates elided by first-seen). The whole traversal runs inside
// one circuit-breaker guard; oneHop below talks to the client directly so
// a multi-hop query doesn't nest a breaker call per hop.
func (s *Store) GetRelated(ctx context.Context, nodeID string, types []string, direction graphstore.Direction, depth int) ([]graphstore.Related, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	var out []graphstore.Related
	err := resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		seen := map[string]bool{}
		hop1, err := s.oneHop(ctx, nodeID, types, direction)
		if err != nil {
			return err
		}
		for _, n := range hop1 {
			if seen[n.NodeID] {
				continue
			}
			seen[n.NodeID] = true
			out = append(out, n)
		}

		// Depth > 1: recurse one hop at a time, honoring first-seen elision
		// across the whole traversal, not just within one hop.
		if depth > 1 {
			frontier := out
			for d := 2; d <= depth; d++ {
				var next []graphstore.Related
				for _, node := range frontier {
					deeper, err := s.oneHop(ctx, node.NodeID, types, direction)
					if err != nil {
						continue
					}
					for _, dn := range deeper {
						if seen[dn.NodeID] {
							continue
						}
						seen[dn.NodeID] = true
						dn.Depth = d
						next = append(next, dn)
						out = append(out, dn)
					}
				}
				frontier = next
				if len(frontier) == 0 {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

// oneHop queries a single hop of neighbors from nodeID, used both by
// GetRelated's first hop and its depth>1 recursion.
func (s *Store) oneHop(ctx context.Context, nodeID string, types []string, direction graphstore.Direction) ([]graphstore.Related, error) {
	if direction == graphstore.DirectionBoth {
		out, err := s.oneHop(ctx, nodeID, types, graphstore.DirectionOutgoing)
		if err != nil {
			return nil, err
		}
		in, err := s.oneHop(ctx, nodeID, types, graphstore.DirectionIncoming)
		if err != nil {
			return nil, err
		}
		return append(out, in...), nil
	}

	predicate := "rel"
	if direction == graphstore.DirectionIncoming {
		predicate = "~rel"
	}

	q := fmt.Sprintf(`{
		start(func: eq(id, %q)) {
			uid
			%s @facets(rel_type) { uid id label content }
		}
	}`, nodeID, predicate)

	resp, err := s.client.NewReadOnlyTxn().Query(ctx, q)
	if err != nil {
		return nil, perr.Wrap(perr.KindTransient, "dgraph.GetRelated", err)
	}

	var parsed struct {
		Start []map[string]interface{} `json:"start"`
	}
	if err := json.Unmarshal(resp.GetJson(), &parsed); err != nil {
		return nil, perr.Wrap(perr.KindInternal, "dgraph.GetRelated", err)
	}

	typeSet := map[string]bool{}
	for _, t := range types {
		typeSet[t] = true
	}

	var out []graphstore.Related
	if len(parsed.Start) == 0 {
		return out, nil
	}

	children, _ := parsed.Start[0][predicate].([]interface{})
	for _, c := range children {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		relType, _ := m[predicate+"|rel_type"].(string)
		if len(typeSet) > 0 && !typeSet[relType] {
			continue
		}
		label, _ := m["label"].(string)
		content, _ := m["content"].(string)
		out = append(out, graphstore.Related{
			NodeID:       id,
			Label:        label,
			Relationship: relType,
			Depth:        1,
			Properties:   map[string]interface{}{"content": content},
		})
	}
	return out, nil
}

var writeKeywords = []string{"set ", "delete ", "upsert", "mutation", "alter"}

// ExecuteQuery rejects anything shaped like a write per spec section 6 /
// 9's "parse or prefix-filter" design note: a case-insensitive keyword
// deny-list (writeKeywords) is sufficient given the trust model (tool
// calls originate from a local host process).
func (s *Store) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	lower := strings.ToLower(query)
	for _, kw := range writeKeywords {
		if strings.Contains(lower, kw) {
			return nil, perr.New(perr.KindValidation, "dgraph.ExecuteQuery", "write-shaped query rejected: "+kw)
		}
	}

	var rows []map[string]interface{}
	err := resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		strParams := make(map[string]string, len(params))
		for k, v := range params {
			strParams["$"+k] = fmt.Sprintf("%v", v)
		}

		resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, query, strParams)
		if err != nil {
			return perr.Wrap(perr.KindTransient, "dgraph.ExecuteQuery", err)
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal(resp.GetJson(), &parsed); err != nil {
			return perr.Wrap(perr.KindInternal, "dgraph.ExecuteQuery", err)
		}

		for _, v := range parsed {
			if list, ok := v.([]interface{}); ok {
				for _, item := range list {
					if m, ok := item.(map[string]interface{}); ok {
						rows = append(rows, m)
					}
				}
			}
		}
		return nil
	})
	return rows, err
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return resilience.Guard(ctx, resilience.GraphCircuitBreaker, func() error {
		_, err := s.client.NewReadOnlyTxn().Query(ctx, `{ q(func: has(id), first: 1) { uid } }`)
		return err
	})
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func cloneProps(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
