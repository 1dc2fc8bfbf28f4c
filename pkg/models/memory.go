// Package models defines the Memory data model: the common record shape
// shared by every memory type, the tagged-variant payloads, and the
// relationship/sync-status enums from spec section 3.
//
// Memory types dispatch by a single enum rather than an inheritance tree
// (design note in spec section 9): shared fields live on Memory, type
// specifics live in the Payload map, with a handful of well-known keys
// documented per type below.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDim is the fixed embedding dimensionality required by spec
// section 3 ("embedding.len() == 1024 whenever embedding is present").
const EmbeddingDim = 1024

// MaxContentBytes is the content size ceiling from spec section 3.
const MaxContentBytes = 100 * 1024

// MemoryType is the closed set of record kinds from spec section 3.
type MemoryType string

const (
	TypeRequirements    MemoryType = "Requirements"
	TypeDesign          MemoryType = "Design"
	TypeCodePattern     MemoryType = "CodePattern"
	TypeComponent       MemoryType = "Component"
	TypeFunction        MemoryType = "Function"
	TypeTestHistory     MemoryType = "TestHistory"
	TypeSession         MemoryType = "Session"
	TypeUserPreference  MemoryType = "UserPreference"
)

// AllMemoryTypes enumerates every known type, used by collection/label
// initialization and by statistics/export sweeps.
var AllMemoryTypes = []MemoryType{
	TypeRequirements, TypeDesign, TypeCodePattern, TypeComponent,
	TypeFunction, TypeTestHistory, TypeSession, TypeUserPreference,
}

func (t MemoryType) Valid() bool {
	for _, v := range AllMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// SyncStatus is the per-record state machine from spec section 4.2.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// RelationshipType is the closed edge-type set from spec section 3.
type RelationshipType string

const (
	RelImplements     RelationshipType = "IMPLEMENTS"
	RelSatisfiedBy    RelationshipType = "SATISFIED_BY"
	RelAddresses      RelationshipType = "ADDRESSES"
	RelTestedBy       RelationshipType = "TESTED_BY"
	RelAffects        RelationshipType = "AFFECTS"
	RelFollowsPattern RelationshipType = "FOLLOWS_PATTERN"
	RelDependsOn      RelationshipType = "DEPENDS_ON"
	RelCalls          RelationshipType = "CALLS"
	RelContains       RelationshipType = "CONTAINS"
	RelExtends        RelationshipType = "EXTENDS"
	RelImports        RelationshipType = "IMPORTS"
)

var allRelationshipTypes = map[RelationshipType]bool{
	RelImplements: true, RelSatisfiedBy: true, RelAddresses: true,
	RelTestedBy: true, RelAffects: true, RelFollowsPattern: true,
	RelDependsOn: true, RelCalls: true, RelContains: true,
	RelExtends: true, RelImports: true,
}

func (r RelationshipType) Valid() bool { return allRelationshipTypes[r] }

// Memory is the content-addressed, typed, embedded record from spec
// section 3. Type-specific fields live in Payload as an open key-value
// subset; the manager treats unknown keys as opaque.
type Memory struct {
	ID                   string                 `json:"id"`
	Type                 MemoryType             `json:"type"`
	Content              string                 `json:"content"`
	ContentHash          string                 `json:"content_hash"`
	Embedding            []float32              `json:"embedding,omitempty"`
	EmbeddingIsFallback  bool                   `json:"embedding_is_fallback"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	AccessCount          int64                  `json:"access_count"`
	ImportanceScore      float64                `json:"importance_score"`
	Deleted              bool                   `json:"deleted"`
	DeletedAt            *time.Time             `json:"deleted_at,omitempty"`
	SyncStatus           SyncStatus             `json:"sync_status"`
	ProjectID            string                 `json:"project_id"`
	SyncError            string                 `json:"sync_error,omitempty"`
	RetryCount           int                    `json:"retry_count"`
	Payload              map[string]interface{} `json:"payload"`
}

// NewID returns a fresh 128-bit identifier (UUIDv4), grounded on the
// teacher's uniform use of google/uuid for record ids.
func NewID() string {
	return uuid.NewString()
}

// NormalizeContent applies the normalization from spec section 3 before
// hashing: CRLF/CR -> LF, trailing whitespace per line stripped, and runs
// of blank lines collapsed to one. This makes content_hash stable across
// platforms and re-saves, satisfying testable property 7.
func NormalizeContent(content string) string {
	s := strings.ReplaceAll(content, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}

	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// ContentHash computes SHA-256 over the normalized content, hex-encoded.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidProjectID checks the project id format from spec section 6,
// case-sensitive as required for cross-project isolation (testable
// property 5: "MyProject" and "myproject" are distinct projects).
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// ValidEmbeddingDim checks invariant 1/5 of spec section 8: an embedding,
// when present, must be exactly EmbeddingDim long.
func ValidEmbeddingDim(v []float32) bool {
	return len(v) == 0 || len(v) == EmbeddingDim
}

// ContentSizeOK reports whether content respects the 100 KiB ceiling from
// spec section 3.
func ContentSizeOK(content string) bool {
	return len(content) <= MaxContentBytes
}
