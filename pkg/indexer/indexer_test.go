package indexer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/indexer"
)

func TestIndexDirectory_SkipsIgnoredKeepsUnknown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg.go"), []byte("package x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte{0x01, 0x02}, 0o644))

	ix := indexer.New()
	recs, err := ix.IndexDirectory(context.Background(), dir, false, nil)
	require.NoError(t, err)

	byPath := map[string]bool{}
	for _, r := range recs {
		byPath[r.Path] = true
	}
	assert.True(t, byPath[filepath.Join(dir, "main.go")])
	assert.False(t, byPath[filepath.Join(dir, "node_modules", "pkg.go")])
	assert.True(t, byPath[filepath.Join(dir, "data.bin")])
}

func TestIndexFile_IncrementalSkip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	ix := indexer.New()
	first, err := ix.IndexFile(context.Background(), path, false, nil)
	require.NoError(t, err)

	existing := func(p string) (string, bool) {
		if p == path {
			return first.ContentHash, true
		}
		return "", false
	}

	second, err := ix.IndexFile(context.Background(), path, false, existing)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	third, err := ix.IndexFile(context.Background(), path, true, existing)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
}
