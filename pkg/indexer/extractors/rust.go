package extractors

import (
	"regexp"
	"strings"
)

// RustExtractor handles .rs files via regex, grounded on the teacher's
// pkg/chunking/parsers/rust_functions.go (brace-delimited block content,
// `fn`/`struct`/`trait` headers, `use` import statements).
type RustExtractor struct{}

func NewRustExtractor() *RustExtractor { return &RustExtractor{} }

func (e *RustExtractor) Extensions() []string { return []string{".rs"} }

var (
	rustUseRe    = regexp.MustCompile(`(?m)^use\s+([\w:]+)`)
	rustStructRe = regexp.MustCompile(`(?m)^(?:pub\s+)?(?:struct|trait|enum)\s+(\w+)`)
	rustFnRe     = regexp.MustCompile(`(?m)^(?:\s*)(?:pub\s+)?(?:async\s+)?fn\s+(\w+)\s*(?:<[^>]*>)?\s*\(`)
	rustCallRe   = regexp.MustCompile(`(\w+)\s*\(`)
)

func (e *RustExtractor) Extract(path, content string) FileResult {
	result := FileResult{Language: "rust"}
	lines := strings.Split(content, "\n")

	for _, m := range rustUseRe.FindAllStringSubmatch(content, -1) {
		result.Imports = append(result.Imports, m[1])
	}

	for _, idx := range rustStructRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[idx[2]:idx[3]]
		start := lineOf(content, idx[0])
		end := braceBlockEnd(lines, start)
		result.Classes = append(result.Classes, ClassEntity{
			Name: name, StartLine: start, EndLine: end,
			Content: strings.Join(safeSlice(lines, start, end), "\n"),
		})
	}

	for _, idx := range rustFnRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[idx[2]:idx[3]]
		start := lineOf(content, idx[0])
		end := braceBlockEnd(lines, start)
		fnContent := strings.Join(safeSlice(lines, start, end), "\n")
		fn := FunctionEntity{Name: name, Content: fnContent, StartLine: start, EndLine: end}
		fn.ContainingClass = containingBraceStruct(result.Classes, start)
		for _, m := range rustCallRe.FindAllStringSubmatch(fnContent, -1) {
			if m[1] != name {
				fn.Calls = append(fn.Calls, m[1])
			}
		}
		result.Functions = append(result.Functions, fn)
		result.Calls = append(result.Calls, fn.Calls...)
	}

	return result
}

func containingBraceStruct(classes []ClassEntity, line int) string {
	for _, c := range classes {
		if line > c.StartLine && line <= c.EndLine {
			return c.Name
		}
	}
	return ""
}
