package models

// Relationship is a typed directed edge between two memory ids, carrying
// no data beyond its type and endpoints (spec section 3).
type Relationship struct {
	SourceID string           `json:"source_id"`
	TargetID string           `json:"target_id"`
	Type     RelationshipType `json:"type"`
}

// RelatedNode is one hop result from Query Engine's get_related (spec
// section 4.3): a distinct target node plus the label of the edge that
// first reached it during the traversal.
type RelatedNode struct {
	ID           string     `json:"id"`
	Type         MemoryType `json:"memory_type"`
	Relationship RelationshipType `json:"relationship"`
	Depth        int        `json:"depth"`
	Content      string     `json:"content"`
}

// SearchResult is one semantic_search hit (spec section 4.3).
type SearchResult struct {
	ID         string                 `json:"id"`
	MemoryType MemoryType             `json:"memory_type"`
	Content    string                 `json:"content"`
	Score      float32                `json:"score"`
	UpdatedAt  int64                  `json:"updated_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// Match is a find_duplicates hit (spec section 4.3).
type Match struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Content string  `json:"content"`
}

// Well-known payload keys referenced by spec section 3 and used by the
// Parser/Indexer and Normalizer to follow string-id references without the
// Memory Manager needing to understand every type's full schema.
const (
	PayloadRequirementID    = "requirement_id"
	PayloadDesignType       = "design_type"
	PayloadPatternName      = "pattern_name"
	PayloadFilePath         = "file_path"
	PayloadStartLine        = "start_line"
	PayloadEndLine          = "end_line"
	PayloadLanguage         = "language"
	PayloadContainingClass  = "containing_class"
	PayloadImports          = "imports"
	PayloadMergedInto       = "merged_into"
)
