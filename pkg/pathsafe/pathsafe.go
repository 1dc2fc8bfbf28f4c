// Package pathsafe guards ingestion, export, and import paths against
// traversal outside the configured project root (spec section 7:
// "Path/security... ingestion paths outside the project root: rejected
// before I/O"), grounded on original_source's utils/path_validation.py
// usage pattern (validate_path/validate_output_path raising a dedicated
// error before any filesystem call).
package pathsafe

import (
	"path/filepath"
	"strings"

	"github.com/S-Corkum/projectmemory/pkg/perr"
)

// Resolve validates that requested, interpreted relative to root, stays
// within root, and returns the cleaned absolute path. It performs no I/O;
// callers use the returned path for the actual filesystem operation.
func Resolve(root, requested string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", perr.Wrap(perr.KindPathSecurity, "pathsafe.Resolve", err)
	}
	absRoot = filepath.Clean(absRoot)

	candidate := requested
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	if candidate != absRoot && !strings.HasPrefix(candidate, absRoot+string(filepath.Separator)) {
		return "", perr.New(perr.KindPathSecurity, "pathsafe.Resolve", "path escapes project root: "+requested)
	}
	return candidate, nil
}
