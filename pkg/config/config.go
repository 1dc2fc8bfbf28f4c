// Package config loads projectmemory's TOML configuration via spf13/viper,
// mirroring the teacher's pkg/common/config.Config: a single top-level
// struct with mapstructure-tagged, section-scoped sub-structs, loaded once
// at process start and threaded through component constructors (spec
// section 9's "global mutable state -> explicit context" design note).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/S-Corkum/projectmemory/pkg/models"
)

// Config is the top-level configuration object. Section names follow spec
// section 6 literally ([qdrant] [neo4j] [voyage] [server] [cache] [search]
// [normalization]) even though the concrete adapters wired in this build
// are sqlite-vec and dgraph rather than Qdrant/Neo4j: VectorConfig and
// GraphConfig repurpose the spec's section names for whichever backend is
// actually compiled in, exactly as the Vector/Graph Store Adapter
// interfaces (section 6) are backend-agnostic by design. [sync] is an
// addition (see SPEC_FULL.md) for the bounded-retry Open Question.
type Config struct {
	Vector        VectorConfig        `mapstructure:"qdrant"`
	Graph         GraphConfig         `mapstructure:"neo4j"`
	Embedding     EmbeddingConfig     `mapstructure:"voyage"`
	Server        ServerConfig        `mapstructure:"server"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Search        SearchConfig        `mapstructure:"search"`
	Normalization NormalizationConfig `mapstructure:"normalization"`
	Sync          SyncConfig          `mapstructure:"sync"`
}

// VectorConfig configures the vector store adapter. Path is the sqlite-vec
// database file (one file, one virtual table per memory-type collection).
type VectorConfig struct {
	Path string `mapstructure:"path"`
}

// GraphConfig configures the graph store adapter (dgraph).
type GraphConfig struct {
	Address  string `mapstructure:"address"`
	APIKey   Secret `mapstructure:"api_key"`
}

// EmbeddingConfig configures the embedding provider. Section name "voyage"
// is inherited from spec section 6; the concrete provider wired here is
// AWS Bedrock (see DESIGN.md), selected for the region/model below.
type EmbeddingConfig struct {
	Provider        string `mapstructure:"provider"`
	Region          string `mapstructure:"region"`
	Model           string `mapstructure:"model"`
	APIKey          Secret `mapstructure:"api_key"`
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
	Dimensions      int    `mapstructure:"dimensions"`
}

// ServerConfig configures process-level identity and limits.
type ServerConfig struct {
	ProjectID string `mapstructure:"project_id"`
	RootPath  string `mapstructure:"root_path"`
}

// CacheConfig configures the embedding cache (spec section 4.4).
type CacheConfig struct {
	Path           string        `mapstructure:"path"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	MaxEntries     int           `mapstructure:"max_entries"`
	TTL            time.Duration `mapstructure:"ttl"`
	EvictionBatch  float64       `mapstructure:"eviction_batch_fraction"`
}

// SearchConfig configures Query Engine defaults (spec section 4.3).
type SearchConfig struct {
	DefaultLimit         int     `mapstructure:"default_limit"`
	ContentTruncate      int     `mapstructure:"content_truncate"`
	ConflictThreshold    float32 `mapstructure:"conflict_threshold"`
	DedupThreshold       float32 `mapstructure:"dedup_threshold"`
	DuplicateThreshold   float32 `mapstructure:"duplicate_threshold"`
}

// NormalizationConfig configures Normalizer defaults (spec section 4.5).
type NormalizationConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	BatchSize     int `mapstructure:"batch_size"`
}

// SyncConfig configures the Sync Manager's bounded retry, the Open
// Question resolution recorded in SPEC_FULL.md.
type SyncConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	BatchSize  int `mapstructure:"batch_size"`
}

// Defaults applies the defaults named throughout spec sections 3/4/6.
func Defaults() *Config {
	return &Config{
		Vector: VectorConfig{Path: "./projectmemory-vector.db"},
		Graph:  GraphConfig{Address: "localhost:9080"},
		Embedding: EmbeddingConfig{
			Provider:        "bedrock",
			Region:          "us-east-1",
			Model:           "amazon.titan-embed-text-v2:0",
			FallbackEnabled: true,
			Dimensions:      models.EmbeddingDim,
		},
		Server: ServerConfig{},
		Cache: CacheConfig{
			Path:          "./projectmemory-embedcache.db",
			MaxEntries:    10000,
			TTL:           30 * 24 * time.Hour,
			EvictionBatch: 0.10,
		},
		Search: SearchConfig{
			DefaultLimit:       10,
			ContentTruncate:    500,
			ConflictThreshold:  0.95,
			DedupThreshold:     0.95,
			DuplicateThreshold: 0.85,
		},
		Normalization: NormalizationConfig{
			RetentionDays: 30,
			BatchSize:     500,
		},
		Sync: SyncConfig{
			MaxRetries: 5,
			BatchSize:  100,
		},
	}
}

// Load reads a TOML file at path (if non-empty and present), applies
// PROJECTMEMORY_-prefixed environment overrides, and returns a validated
// Config. Grounded on the teacher's viper.New()+SetConfigType("toml")
// loading style in pkg/common/config/config.go.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("toml")
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("PROJECTMEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("qdrant.path", cfg.Vector.Path)
	v.SetDefault("neo4j.address", cfg.Graph.Address)
	v.SetDefault("neo4j.api_key", string(cfg.Graph.APIKey))
	v.SetDefault("server.project_id", cfg.Server.ProjectID)
	v.SetDefault("server.root_path", cfg.Server.RootPath)
	v.SetDefault("voyage.api_key", string(cfg.Embedding.APIKey))
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("voyage.provider", cfg.Embedding.Provider)
	v.SetDefault("voyage.region", cfg.Embedding.Region)
	v.SetDefault("voyage.model", cfg.Embedding.Model)
	v.SetDefault("voyage.fallback_enabled", cfg.Embedding.FallbackEnabled)
	v.SetDefault("voyage.dimensions", cfg.Embedding.Dimensions)
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("cache.max_entries", cfg.Cache.MaxEntries)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.eviction_batch_fraction", cfg.Cache.EvictionBatch)
	v.SetDefault("search.default_limit", cfg.Search.DefaultLimit)
	v.SetDefault("search.content_truncate", cfg.Search.ContentTruncate)
	v.SetDefault("search.conflict_threshold", cfg.Search.ConflictThreshold)
	v.SetDefault("search.dedup_threshold", cfg.Search.DedupThreshold)
	v.SetDefault("search.duplicate_threshold", cfg.Search.DuplicateThreshold)
	v.SetDefault("normalization.retention_days", cfg.Normalization.RetentionDays)
	v.SetDefault("normalization.batch_size", cfg.Normalization.BatchSize)
	v.SetDefault("sync.max_retries", cfg.Sync.MaxRetries)
	v.SetDefault("sync.batch_size", cfg.Sync.BatchSize)
}

// Validate performs the fatal-configuration checks from spec section 7:
// missing required settings abort with a categorized, remediation-naming
// message rather than propagating a generic error.
func (c *Config) Validate() error {
	if c.Server.ProjectID == "" {
		return fmt.Errorf("config: [server].project_id is required (set PROJECTMEMORY_SERVER_PROJECT_ID or --project-id)")
	}
	if !models.ValidProjectID(c.Server.ProjectID) {
		return fmt.Errorf("config: [server].project_id %q does not match ^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$", c.Server.ProjectID)
	}
	if c.Vector.Path == "" {
		return fmt.Errorf("config: [qdrant].path is required")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: [cache].max_entries must be positive")
	}
	return nil
}
