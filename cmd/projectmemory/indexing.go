package main

import (
	"context"
	"fmt"

	"github.com/S-Corkum/projectmemory/pkg/indexer"
	"github.com/S-Corkum/projectmemory/pkg/models"
	"github.com/S-Corkum/projectmemory/pkg/normalizer"
	"github.com/S-Corkum/projectmemory/pkg/pathsafe"
	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// payloadFileContentHash tags a Function/Component memory's payload with
// the hash of the whole source file it was extracted from (as opposed to
// models.Memory.ContentHash, which is the entity's own content) so a later
// indexing pass can decide per-file, not per-entity, whether to skip
// re-extraction (spec section 4.6's incrementality contract).
const payloadFileContentHash = "file_content_hash"

// resolveProjectPath guards every filesystem path a tool receives against
// escaping the configured project root, per spec section 7's path
// security invariant.
func resolveProjectPath(a *app, requested string) (string, error) {
	return pathsafe.Resolve(a.cfg.Server.RootPath, requested)
}

// parsePhases maps requested phase names onto normalizer.Phase, defaulting
// to every phase when none are named.
func parsePhases(names []string) []normalizer.Phase {
	if len(names) == 0 {
		return nil
	}
	out := make([]normalizer.Phase, 0, len(names))
	for _, n := range names {
		out = append(out, normalizer.Phase(n))
	}
	return out
}

// existingFileHash looks up the file_content_hash recorded for filePath
// among already-indexed Function memories, implementing indexer.ExistingHashFunc
// against the vector store rather than a side index: spec section 4.6 scopes
// incrementality per-file, but entities are stored per-function, so the
// first Function record found for that path stands in for the whole file.
func existingFileHash(ctx context.Context, a *app) indexer.ExistingHashFunc {
	collection := a.vector.CollectionName(string(models.TypeFunction))
	return func(filePath string) (string, bool) {
		page, err := a.vector.Scroll(ctx, collection, vectorstore.Filter{
			Equals: map[string]interface{}{
				"project_id":           a.cfg.Server.ProjectID,
				models.PayloadFilePath: filePath,
			},
		}, 1, nil)
		if err != nil || len(page.Points) == 0 {
			return "", false
		}
		hash, ok := page.Points[0].Payload[payloadFileContentHash].(string)
		return hash, ok
	}
}

// runIndexDirectory walks dir, turning every extracted class/function into
// a Component/Function memory (spec section 4.6's "each emitted entity
// becomes a Memory" contract) and linking functions to their containing
// class with a CONTAINS edge when the Component memory for that class was
// created in the same pass.
func runIndexDirectory(ctx context.Context, a *app, dir string, force bool) (map[string]interface{}, error) {
	records, err := a.indexer.IndexDirectory(ctx, dir, force, existingFileHash(ctx, a))
	if err != nil {
		return nil, fmt.Errorf("index_directory: %w", err)
	}

	filesIndexed, filesSkipped, componentsAdded, functionsAdded := 0, 0, 0, 0
	var errs []string

	for _, rec := range records {
		if rec.Skipped {
			filesSkipped++
			continue
		}
		filesIndexed++

		classByName := map[string]string{} // class name -> memory id, for CONTAINS edges
		for _, c := range rec.Result.Classes {
			id, _, err := a.manager.Add(ctx, &models.Memory{
				Type:    models.TypeComponent,
				Content: c.Content,
				Payload: map[string]interface{}{
					models.PayloadFilePath:  rec.Path,
					models.PayloadStartLine: c.StartLine,
					models.PayloadEndLine:   c.EndLine,
					models.PayloadLanguage:  rec.Result.Language,
					models.PayloadImports:   rec.Result.Imports,
					"name":                  c.Name,
					payloadFileContentHash:  rec.ContentHash,
				},
			}, false)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: class %s: %v", rec.Path, c.Name, err))
				continue
			}
			classByName[c.Name] = id
			componentsAdded++
		}

		for _, fn := range rec.Result.Functions {
			id, _, err := a.manager.Add(ctx, &models.Memory{
				Type:    models.TypeFunction,
				Content: fn.Content,
				Payload: map[string]interface{}{
					models.PayloadFilePath:        rec.Path,
					models.PayloadStartLine:       fn.StartLine,
					models.PayloadEndLine:         fn.EndLine,
					models.PayloadLanguage:        rec.Result.Language,
					models.PayloadContainingClass: fn.ContainingClass,
					"name":                        fn.Name,
					"calls":                       fn.Calls,
					payloadFileContentHash:        rec.ContentHash,
				},
			}, false)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: function %s: %v", rec.Path, fn.Name, err))
				continue
			}
			functionsAdded++

			if fn.ContainingClass == "" {
				continue
			}
			if classID, ok := classByName[fn.ContainingClass]; ok {
				if err := a.graph.CreateRelationship(ctx, classID, id, string(models.RelContains), nil); err != nil {
					errs = append(errs, fmt.Sprintf("%s: link %s -> %s: %v", rec.Path, fn.ContainingClass, fn.Name, err))
				}
			}
		}
	}

	return map[string]interface{}{
		"files_indexed":    filesIndexed,
		"files_skipped":    filesSkipped,
		"components_added": componentsAdded,
		"functions_added":  functionsAdded,
		"errors":           errs,
	}, nil
}
