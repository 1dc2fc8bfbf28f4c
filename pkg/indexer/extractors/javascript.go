package extractors

import (
	"regexp"
	"strings"
)

// JavaScriptExtractor handles both .js/.jsx and .ts/.tsx via the same
// regex set (TypeScript's extra type syntax doesn't change the shape of
// import/class/function declarations enough to need a separate grammar),
// grounded on the teacher's pkg/chunking/parsers/{javascript,typescript}.go.
type JavaScriptExtractor struct {
	exts []string
}

func NewJavaScriptExtractor() *JavaScriptExtractor {
	return &JavaScriptExtractor{exts: []string{".js", ".jsx"}}
}

func NewTypeScriptExtractor() *JavaScriptExtractor {
	return &JavaScriptExtractor{exts: []string{".ts", ".tsx"}}
}

func (e *JavaScriptExtractor) Extensions() []string { return e.exts }

var (
	jsImportRe   = regexp.MustCompile(`(?m)^import\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequireRe  = regexp.MustCompile(`require\(['"]([^'"]+)['"]\)`)
	jsClassRe    = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?class\s+(\w+)`)
	jsFunctionRe = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?(?:async\s+)?function\s*\*?\s+(\w+)\s*\(`)
	jsMethodRe   = regexp.MustCompile(`(?m)^\s+(?:static\s+)?(?:async\s+)?(\w+)\s*\([^)]*\)\s*\{`)
	jsCallRe     = regexp.MustCompile(`(\w+)\s*\(`)
)

func (e *JavaScriptExtractor) Extract(path, content string) FileResult {
	lang := "javascript"
	if e.exts[0] == ".ts" {
		lang = "typescript"
	}
	result := FileResult{Language: lang}
	lines := strings.Split(content, "\n")

	for _, m := range jsImportRe.FindAllStringSubmatch(content, -1) {
		result.Imports = append(result.Imports, m[1])
	}
	for _, m := range jsRequireRe.FindAllStringSubmatch(content, -1) {
		result.Imports = append(result.Imports, m[1])
	}

	for _, idx := range jsClassRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[idx[2]:idx[3]]
		start := lineOf(content, idx[0])
		end := braceBlockEnd(lines, start)
		result.Classes = append(result.Classes, ClassEntity{
			Name: name, StartLine: start, EndLine: end,
			Content: strings.Join(safeSlice(lines, start, end), "\n"),
		})
	}

	for _, idx := range jsFunctionRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[idx[2]:idx[3]]
		start := lineOf(content, idx[0])
		end := braceBlockEnd(lines, start)
		fnContent := strings.Join(safeSlice(lines, start, end), "\n")
		fn := FunctionEntity{Name: name, Content: fnContent, StartLine: start, EndLine: end}
		fn.Calls = jsCallNames(fnContent, name)
		result.Functions = append(result.Functions, fn)
		result.Calls = append(result.Calls, fn.Calls...)
	}

	for _, cls := range result.Classes {
		for _, idx := range jsMethodRe.FindAllStringSubmatchIndex(cls.Content, -1) {
			name := cls.Content[idx[2]:idx[3]]
			if name == "if" || name == "for" || name == "while" || name == "switch" {
				continue
			}
			clsLines := strings.Split(cls.Content, "\n")
			relStart := lineOf(cls.Content, idx[0])
			relEnd := braceBlockEnd(clsLines, relStart)
			fnContent := strings.Join(safeSlice(clsLines, relStart, relEnd), "\n")
			fn := FunctionEntity{
				Name: name, Content: fnContent,
				StartLine: cls.StartLine + relStart - 1, EndLine: cls.StartLine + relEnd - 1,
				ContainingClass: cls.Name,
			}
			fn.Calls = jsCallNames(fnContent, name)
			result.Functions = append(result.Functions, fn)
			result.Calls = append(result.Calls, fn.Calls...)
		}
	}

	return result
}

var jsKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true, "function": true,
}

func jsCallNames(body, selfName string) []string {
	var out []string
	for _, m := range jsCallRe.FindAllStringSubmatch(body, -1) {
		if m[1] != selfName && !jsKeywords[m[1]] {
			out = append(out, m[1])
		}
	}
	return out
}
