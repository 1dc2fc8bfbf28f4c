// Package sqlitevec is the concrete Vector Store Adapter backed by a
// single SQLite database using the sqlite-vec extension for nearest
// neighbor search, grounded on 8fs-io-core's use of
// github.com/mattn/go-sqlite3 + github.com/asg017/sqlite-vec-go-bindings.
//
// Layout: one payload table `mem_<collection>` (id TEXT PRIMARY KEY,
// payload TEXT, updated_at INTEGER) plus one sqlite-vec virtual table
// `vec_<collection>` (id TEXT PRIMARY KEY, embedding float[dim]) joined on
// id. Upsert writes the two inside a single transaction, and the same
// pairing is what makes the Normalizer's swap phase correct: renaming both the
// payload table and the vec table inside one transaction is the
// journaled cutover documented in DESIGN.md.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/S-Corkum/projectmemory/internal/resilience"
	"github.com/S-Corkum/projectmemory/pkg/observability"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// Store implements vectorstore.Store over a single SQLite file.
type Store struct {
	db        *sql.DB
	projectID string
	dim       int
	logger    observability.Logger

	// mu serializes writes; sqlite allows only one writer at a time and
	// spec section 5 requires the adapter be safe under >=100 concurrent
	// callers, which this single-writer-many-reader discipline satisfies
	// without a custom connection pool.
	mu sync.Mutex
}

// Open opens (creating if absent) the sqlite-vec database at path.
func Open(path, projectID string, dim int, logger observability.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1 << 6)
	return &Store{db: db, projectID: projectID, dim: dim, logger: logger}, nil
}

func (s *Store) CollectionName(memType string) string {
	return fmt.Sprintf("%s_%s", sanitize(s.projectID), sanitize(memType))
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.ToLower(b.String())
}

func payloadTable(collection string) string { return "mem_" + collection }
func vecTable(collection string) string     { return "vec_" + collection }

// InitializeCollections creates the payload + vec table pair for every
// memory type; idempotent via IF NOT EXISTS.
func (s *Store) InitializeCollections(ctx context.Context) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		for _, t := range memoryTypes {
			collection := s.CollectionName(t)
			if err := s.ensureCollection(ctx, collection); err != nil {
				return err
			}
		}
		return nil
	})
}

// memoryTypes is declared here (rather than imported from pkg/models) to
// keep this package free of a dependency cycle; pkg/memory passes the
// string form of models.MemoryType through CollectionName at call sites.
var memoryTypes = []string{
	"Requirements", "Design", "CodePattern", "Component",
	"Function", "TestHistory", "Session", "UserPreference",
}

func (s *Store) ensureCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCollectionLocked(ctx, collection)
}

// ensureCollectionLocked assumes s.mu is already held; factored out so
// Upsert can self-heal a collection it has never seen before (notably the
// Normalizer's shadow collections, which are never routed through
// InitializeCollections).
func (s *Store) ensureCollectionLocked(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`, payloadTable(collection)))
	if err != nil {
		return fmt.Errorf("sqlitevec: create payload table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			id TEXT PRIMARY KEY,
			embedding float[%d]
		)`, vecTable(collection), s.dim))
	if err != nil {
		return fmt.Errorf("sqlitevec: create vec table: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (s *Store) Upsert(ctx context.Context, collection string, p vectorstore.Point) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			s.mu.Lock()
			defer s.mu.Unlock()

			if err := s.ensureCollectionLocked(ctx, collection); err != nil {
				return err
			}

			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("sqlitevec: begin: %w", err)
			}
			defer tx.Rollback()

			payload, err := json.Marshal(p.Payload)
			if err != nil {
				return fmt.Errorf("sqlitevec: marshal payload: %w", err)
			}

			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (id, payload, updated_at) VALUES (?, ?, strftime('%%s','now'))
				 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
				payloadTable(collection)), p.ID, string(payload)); err != nil {
				return fmt.Errorf("sqlitevec: upsert payload: %w", err)
			}

			if len(p.Vector) > 0 {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(
					`INSERT INTO %s (id, embedding) VALUES (?, ?)
					 ON CONFLICT(id) DO UPDATE SET embedding=excluded.embedding`,
					vecTable(collection)), p.ID, string(encodeVector(p.Vector))); err != nil {
					return fmt.Errorf("sqlitevec: upsert vector: %w", err)
				}
			}

			return tx.Commit()
		})
	})
}

func (s *Store) Get(ctx context.Context, collection, id string, withVector bool) (*vectorstore.Point, error) {
	var result *vectorstore.Point
	err := resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		var payloadJSON string
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT payload FROM %s WHERE id = ?`, payloadTable(collection)), id).Scan(&payloadJSON)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sqlitevec: get: %w", err)
		}

		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("sqlitevec: unmarshal payload: %w", err)
		}
		p := &vectorstore.Point{ID: id, Payload: payload}

		if withVector {
			var vecJSON string
			err := s.db.QueryRowContext(ctx, fmt.Sprintf(
				`SELECT embedding FROM %s WHERE id = ?`, vecTable(collection)), id).Scan(&vecJSON)
			if err == nil {
				var v []float32
				_ = json.Unmarshal([]byte(vecJSON), &v)
				p.Vector = v
			}
		}
		result = p
		return nil
	})
	return result, err
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, payloadTable(collection)), id); err != nil {
			return fmt.Errorf("sqlitevec: delete payload: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, vecTable(collection)), id); err != nil {
			return fmt.Errorf("sqlitevec: delete vector: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdatePayload(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		var current string
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, payloadTable(collection)), id).Scan(&current)
		if err != nil {
			return fmt.Errorf("sqlitevec: update_payload read: %w", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(current), &m); err != nil {
			return fmt.Errorf("sqlitevec: update_payload unmarshal: %w", err)
		}
		for k, v := range partial {
			m[k] = v
		}
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET payload = ?, updated_at = strftime('%%s','now') WHERE id = ?`,
			payloadTable(collection)), string(b), id)
		return err
	})
}

// matchesFilter applies the AND-composed equality/in predicates in Go,
// since payload fields are stored as opaque JSON rather than individual
// SQL columns. This trades index-backed filtering for schema flexibility
// across eight heterogeneous payload shapes (spec section 3).
func matchesFilter(payload map[string]interface{}, f vectorstore.Filter) bool {
	for k, want := range f.Equals {
		if got, ok := payload[k]; !ok || !equalLoose(got, want) {
			return false
		}
	}
	for k, opts := range f.In {
		got, ok := payload[k]
		if !ok {
			return false
		}
		found := false
		for _, o := range opts {
			if equalLoose(got, o) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func equalLoose(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, filter vectorstore.Filter, scoreThreshold *float32) ([]vectorstore.ScoredPoint, error) {
	var hits []vectorstore.ScoredPoint
	err := resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT p.id, p.payload, v.embedding FROM %s p JOIN %s v ON v.id = p.id`,
			payloadTable(collection), vecTable(collection)))
		if err != nil {
			return fmt.Errorf("sqlitevec: search scan: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id, payloadJSON, vecJSON string
			if err := rows.Scan(&id, &payloadJSON, &vecJSON); err != nil {
				return err
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				continue
			}
			if !matchesFilter(payload, filter) {
				continue
			}
			var emb []float32
			if err := json.Unmarshal([]byte(vecJSON), &emb); err != nil {
				continue
			}
			score := cosineSimilarity(vector, emb)
			if scoreThreshold != nil && score < *scoreThreshold {
				continue
			}
			hits = append(hits, vectorstore.ScoredPoint{
				Point: vectorstore.Point{ID: id, Payload: payload},
				Score: score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deterministic tie-breaking per spec section 4.3: score desc, then
	// updated_at desc, then id bytewise. updated_at is looked up from the
	// payload since it is the caller's source of truth, not a SQL column.
	sortScored(hits)

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, limit int, offset *string) (vectorstore.ScrollPage, error) {
	var page vectorstore.ScrollPage
	err := resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		query := fmt.Sprintf(`SELECT id, payload FROM %s ORDER BY id`, payloadTable(collection))
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("sqlitevec: scroll: %w", err)
		}
		defer rows.Close()

		skip := offset != nil
		for rows.Next() {
			var id, payloadJSON string
			if err := rows.Scan(&id, &payloadJSON); err != nil {
				return err
			}
			if skip {
				if id == *offset {
					skip = false
				}
				continue
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				continue
			}
			if !matchesFilter(payload, filter) {
				continue
			}
			page.Points = append(page.Points, vectorstore.Point{ID: id, Payload: payload})
			if limit > 0 && len(page.Points) == limit {
				next := id
				page.NextOffset = &next
				break
			}
		}
		return nil
	})
	return page, err
}

func (s *Store) Count(ctx context.Context, collection string, filter vectorstore.Filter) (int64, error) {
	page, err := s.Scroll(ctx, collection, filter, 0, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(page.Points)), nil
}

// RenameCollection implements the Normalizer's swap phase (spec section
// 4.5, Open Question resolution in SPEC_FULL.md): sqlite-vec has no
// native atomic cross-collection rename, so we do it as
// ALTER TABLE ... RENAME TO inside one transaction, which SQLite commits
// atomically.
func (s *Store) RenameCollection(ctx context.Context, src, dst string) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlitevec: rename begin: %w", err)
		}
		defer tx.Rollback()

		stmts := []string{
			fmt.Sprintf(`DROP TABLE IF EXISTS %s`, payloadTable(dst)),
			fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vecTable(dst)),
			fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, payloadTable(src), payloadTable(dst)),
			fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, vecTable(src), vecTable(dst)),
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlitevec: rename %s: %w", stmt, err)
			}
		}
		return tx.Commit()
	})
}

func (s *Store) DropCollection(ctx context.Context, collection string) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, payloadTable(collection))); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vecTable(collection)))
		return err
	})
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return resilience.Guard(ctx, resilience.VectorCircuitBreaker, func() error {
		return s.db.PingContext(ctx)
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
