package indexer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// defaultIgnore is spec section 4.6's default ignore list.
var defaultIgnore = []string{
	".git", "node_modules", "__pycache__", ".venv", "venv", "env",
	"*.pyc", ".env", ".env.*",
}

// IgnoreFilter merges the default ignore list with .gitignore patterns
// discovered while walking (spec section 4.6: "merges a default ignore
// list... with .gitignore patterns found en route").
type IgnoreFilter struct {
	patterns []string
}

// NewIgnoreFilter builds a filter seeded with the defaults.
func NewIgnoreFilter() *IgnoreFilter {
	f := &IgnoreFilter{}
	f.patterns = append(f.patterns, defaultIgnore...)
	return f
}

// LoadGitignore merges patterns found in a .gitignore at dir, if present.
// Safe to call repeatedly while descending a tree.
func (f *IgnoreFilter) LoadGitignore(dir string) {
	path := filepath.Join(dir, ".gitignore")
	data, err := os.Open(path)
	if err != nil {
		return
	}
	defer data.Close()

	scanner := bufio.NewScanner(data)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f.patterns = append(f.patterns, strings.TrimPrefix(line, "/"))
	}
}

// Matches reports whether base (a file or directory name, not a full
// path) matches any ignore pattern. Pattern matching is glob-based
// (filepath.Match), which covers the common `*.ext` and literal-name
// cases without implementing full .gitignore path-anchoring semantics.
func (f *IgnoreFilter) Matches(base string) bool {
	for _, p := range f.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if p == base {
			return true
		}
	}
	return false
}

// Clone returns a copy so a subdirectory can extend the pattern set
// without mutating the parent's filter.
func (f *IgnoreFilter) Clone() *IgnoreFilter {
	out := &IgnoreFilter{patterns: make([]string, len(f.patterns))}
	copy(out.patterns, f.patterns)
	return out
}
