package main

import (
	"flag"
	"fmt"
	"os"
)

// defaultConfigTOML mirrors config.Defaults() field-for-field. No TOML
// marshaling library is present in the dependency set (none of the
// example repos reach for one beyond viper's own decoder), so the
// template is hand-written rather than introducing a new dependency for
// one write path.
const defaultConfigTOML = `# projectmemory configuration. Every value here is config.Defaults();
# edit in place or override per-field with PROJECTMEMORY_<SECTION>_<KEY>.

[qdrant]
path = "./projectmemory-vector.db"

[neo4j]
address = "localhost:9080"
api_key = ""

[voyage]
provider = "bedrock"
region = "us-east-1"
model = "amazon.titan-embed-text-v2:0"
api_key = ""
fallback_enabled = true
dimensions = 1024

[server]
project_id = ""
root_path = ""

[cache]
path = "./projectmemory-embedcache.db"
redis_addr = ""
max_entries = 10000
ttl = "720h"
eviction_batch_fraction = 0.10

[search]
default_limit = 10
content_truncate = 500
conflict_threshold = 0.95
dedup_threshold = 0.95
duplicate_threshold = 0.85

[normalization]
retention_days = 30
batch_size = 500

[sync]
max_retries = 5
batch_size = 100
`

func cmdInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	out := fs.String("out", "projectmemory.toml", "path to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("init-config: %s already exists (use -force to overwrite)", *out)
		}
	}

	if err := os.WriteFile(*out, []byte(defaultConfigTOML), 0o644); err != nil {
		return fmt.Errorf("init-config: %w", err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *out)
	return nil
}
