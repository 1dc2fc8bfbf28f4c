// Command projectmemory is the CLI/server entrypoint (spec section 6):
// init-config, check-db, index, normalize, backup, restore, stats,
// health, init-schema, plus serve (the JSON-RPC/stdio loop) and the
// SPEC_FULL.md-supplemented project, grounded on cmd/embed/main.go's
// flag-based, manually-dispatched subcommand style.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/S-Corkum/projectmemory/pkg/config"
	"github.com/S-Corkum/projectmemory/pkg/memory"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/rpc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "init-config":
		err = cmdInitConfig(args)
	case "check-db":
		err = cmdCheckDB(args)
	case "init-schema":
		err = cmdInitSchema(args)
	case "index":
		err = cmdIndex(args)
	case "normalize":
		err = cmdNormalize(args)
	case "backup":
		err = cmdBackup(args)
	case "restore":
		err = cmdRestore(args)
	case "stats":
		err = cmdStats(args)
	case "health":
		err = cmdHealth(args)
	case "serve":
		err = cmdServe(args)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("projectmemory %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: projectmemory <command> [flags]

commands:
  init-config        write a default projectmemory.toml
  check-db           verify the vector store is reachable
  init-schema        create vector collections and graph schema
  index <dir>        extract and store memories from a source tree
  normalize          run normalizer maintenance phases
  backup <out>       export every memory as newline-delimited JSON
  restore <in>       import memories from a backup file
  stats              print sync and cache statistics
  health             check vector and graph store connectivity
  serve              run the JSON-RPC/stdio tool server`)
}

// commonFlags are accepted by every subcommand that needs a built app.
type commonFlags struct {
	configPath string
	projectID  string
	rootPath   string
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "path to a projectmemory.toml")
	fs.StringVar(&c.projectID, "project-id", "", "project id (overrides config)")
	fs.StringVar(&c.rootPath, "root-path", "", "project root for path-safety checks (overrides config)")
	return c
}

// loadConfig loads cfg via the normal viper path, applying CLI overrides
// through the same PROJECTMEMORY_-prefixed environment mechanism config.Load
// already honors, rather than duplicating its validation logic here.
func loadConfig(c *commonFlags) (*config.Config, error) {
	if c.projectID != "" {
		os.Setenv("PROJECTMEMORY_SERVER_PROJECT_ID", c.projectID)
	}
	if c.rootPath != "" {
		os.Setenv("PROJECTMEMORY_SERVER_ROOT_PATH", c.rootPath)
	}
	return config.Load(c.configPath)
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	c := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	server := rpc.NewServer(a.logger)
	registerTools(a, server)
	return server.Serve(ctx, os.Stdin, os.Stdout)
}

func cmdIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	c := bindCommon(fs)
	force := fs.Bool("force", false, "re-extract every file regardless of content hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("index: a directory argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	resolved, err := resolveProjectPath(a, fs.Arg(0))
	if err != nil {
		return err
	}
	result, err := runIndexDirectory(ctx, a, resolved, *force)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdNormalize(args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	c := bindCommon(fs)
	phasesFlag := fs.String("phases", "", "comma-separated phase list (default: all)")
	dryRun := fs.Bool("dry-run", false, "report what would change without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var names []string
	if *phasesFlag != "" {
		names = splitCSV(*phasesFlag)
	}
	stats, err := a.normal.Run(ctx, models.NewID(), parsePhases(names), *dryRun)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func cmdBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	c := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("backup: an output file argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	resolved, err := resolveProjectPath(a, fs.Arg(0))
	if err != nil {
		return err
	}
	f, err := os.Create(resolved)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	defer f.Close()

	count, err := a.manager.Export(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "exported %d records to %s\n", count, resolved)
	return nil
}

func cmdRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	c := bindCommon(fs)
	conflictFlag := fs.String("conflict-resolution", "skip", "skip|overwrite|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("restore: an input file argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	resolved, err := resolveProjectPath(a, fs.Arg(0))
	if err != nil {
		return err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer f.Close()

	stats := a.manager.Import(ctx, f, memory.ConflictResolution(*conflictFlag))
	return printJSON(stats)
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	c := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	syncStats, err := a.syncMgr.GetSyncStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"sync":  syncStats,
		"cache": a.embedder.CacheStats(),
	})
}

func cmdHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	c := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	vecErr := a.vector.HealthCheck(ctx)
	graphErr := a.graph.HealthCheck(ctx)
	out := map[string]interface{}{"vector_ok": vecErr == nil, "graph_ok": graphErr == nil}
	if vecErr != nil {
		out["vector_error"] = vecErr.Error()
	}
	if graphErr != nil {
		out["graph_error"] = graphErr.Error()
	}
	return printJSON(out)
}

func cmdCheckDB(args []string) error {
	fs := flag.NewFlagSet("check-db", flag.ExitOnError)
	c := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.vector.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	fmt.Fprintln(os.Stdout, "ok")
	return nil
}

// cmdInitSchema builds the app (buildApp already calls InitializeCollections
// and InitializeSchema unconditionally) purely to exercise that
// idempotent setup against real credentials, then confirms success.
func cmdInitSchema(args []string) error {
	fs := flag.NewFlagSet("init-schema", flag.ExitOnError)
	c := bindCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	a.close()
	fmt.Fprintln(os.Stdout, "schema initialized")
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
