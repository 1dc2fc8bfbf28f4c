// Package indexer implements the Parser/Indexer collaborator contract
// (spec section 4.6): language-dispatch entity extraction, content
// hashing for incrementality, and an ignore filter merging a default list
// with .gitignore patterns found while walking a directory.
package indexer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/S-Corkum/projectmemory/pkg/indexer/extractors"
	"github.com/S-Corkum/projectmemory/pkg/models"
)

// FileRecord is one file's extraction result plus the bookkeeping the
// Memory Manager needs to turn it into Function/Component memories.
type FileRecord struct {
	Path        string
	ContentHash string
	Skipped     bool
	Result      extractors.FileResult
}

// ExistingHashFunc reports the content_hash currently indexed for a file
// path, for the incrementality check in spec section 4.6.
type ExistingHashFunc func(filePath string) (hash string, ok bool)

// Indexer drives one ingestion call (spec section 4.6's contract: "path +
// optional force flag; directory case recurses respecting an ignore
// filter").
type Indexer struct {
	factory *extractors.Factory
}

// New builds an Indexer.
func New() *Indexer {
	return &Indexer{factory: extractors.NewFactory()}
}

// IndexFile extracts entities from a single file, honoring the
// incremental skip (content_hash unchanged and force=false).
func (ix *Indexer) IndexFile(ctx context.Context, path string, force bool, existingHash ExistingHashFunc) (FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileRecord{Path: path}, err
	}
	content := string(data)
	hash := models.ContentHash(content)

	if !force && existingHash != nil {
		if prev, ok := existingHash(path); ok && prev == hash {
			return FileRecord{Path: path, ContentHash: hash, Skipped: true}, nil
		}
	}

	e, lang, ok := ix.factory.For(path)
	if !ok {
		return FileRecord{Path: path, ContentHash: hash, Result: extractors.FileResult{Language: lang}}, nil
	}

	result := e.Extract(path, content)
	return FileRecord{Path: path, ContentHash: hash, Result: result}, nil
}

// IndexDirectory recurses dir, skipping anything the ignore filter
// matches (merging defaults with .gitignore patterns discovered along the
// way), and extracts every file with a recognized extension.
func (ix *Indexer) IndexDirectory(ctx context.Context, dir string, force bool, existingHash ExistingHashFunc) ([]FileRecord, error) {
	var out []FileRecord
	rootIgnore := NewIgnoreFilter()
	rootIgnore.LoadGitignore(dir)

	err := ix.walk(ctx, dir, rootIgnore, force, existingHash, &out)
	return out, err
}

func (ix *Indexer) walk(ctx context.Context, dir string, ignore *IgnoreFilter, force bool, existingHash ExistingHashFunc, out *[]FileRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if ignore.Matches(entry.Name()) {
			continue
		}
		full := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub := ignore.Clone()
			sub.LoadGitignore(full)
			if err := ix.walk(ctx, full, sub, force, existingHash, out); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := ix.IndexFile(ctx, full, force, existingHash)
		if err != nil {
			rec.Result.Errors = append(rec.Result.Errors, err.Error())
		}
		*out = append(*out, rec)
	}
	return nil
}
