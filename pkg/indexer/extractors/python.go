package extractors

import (
	"regexp"
	"strings"
)

// PythonExtractor extracts Python entities via regex, grounded on the
// teacher's pkg/chunking/parsers/python.go (import/class/function/method
// patterns) per the SPEC_FULL.md supplemented-features decision to follow
// original_source's per-language regex extractors rather than add a
// tree-sitter dependency no example repo carries.
type PythonExtractor struct{}

func NewPythonExtractor() *PythonExtractor { return &PythonExtractor{} }

func (e *PythonExtractor) Extensions() []string { return []string{".py"} }

var (
	pyImportRe   = regexp.MustCompile(`(?m)^(?:from\s+([\w.]+)\s+import\s+[^\n]+|import\s+([\w.,\s]+))`)
	pyClassRe    = regexp.MustCompile(`(?m)^class\s+(\w+)\s*(?:\([^)]*\))?:`)
	pyDefRe      = regexp.MustCompile(`(?m)^(\s*)def\s+(\w+)\s*\(([^)]*)\)(?:\s*->\s*[^:]+)?:`)
	pyDocstrRe   = regexp.MustCompile(`(?s)"""(.*?)"""`)
	pyCallNameRe = regexp.MustCompile(`(\w+)\s*\(`)
)

func (e *PythonExtractor) Extract(path, content string) FileResult {
	result := FileResult{Language: "python"}
	lines := strings.Split(content, "\n")

	if m := pyDocstrRe.FindStringSubmatch(content); m != nil {
		result.ModuleDocstring = strings.TrimSpace(m[1])
	}

	for _, m := range pyImportRe.FindAllStringSubmatch(content, -1) {
		mod := strings.TrimSpace(m[1])
		if mod == "" {
			mod = strings.TrimSpace(m[2])
		}
		if mod != "" {
			result.Imports = append(result.Imports, mod)
		}
	}

	classRanges := findBlocks(lines, pyClassRe, 0)
	for _, blk := range classRanges {
		result.Classes = append(result.Classes, ClassEntity{
			Name: blk.name, Content: blk.content, StartLine: blk.start, EndLine: blk.end,
		})
	}

	for _, m := range pyDefRe.FindAllStringSubmatchIndex(content, -1) {
		indent := content[m[2]:m[3]]
		name := content[m[4]:m[5]]
		startLine := 1 + strings.Count(content[:m[0]], "\n")
		endLine := endOfIndentBlock(lines, startLine, len(indent))
		fnContent := strings.Join(safeSlice(lines, startLine, endLine), "\n")

		fn := FunctionEntity{Name: name, Content: fnContent, StartLine: startLine, EndLine: endLine}
		if len(indent) > 0 {
			fn.ContainingClass = containingBlock(classRanges, startLine)
		}
		fn.Calls = callNamesRegex(fnContent, name)
		result.Functions = append(result.Functions, fn)
		result.Calls = append(result.Calls, fn.Calls...)
	}

	return result
}

type block struct {
	name         string
	start, end   int
	content      string
}

// findBlocks locates every match of headerRe and extends its range to the
// end of its indented body, Python's block-delimiter being indentation
// rather than braces.
func findBlocks(lines []string, headerRe *regexp.Regexp, minIndent int) []block {
	var out []block
	for i, line := range lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		end := endOfIndentBlock(lines, i+1, indentOf(line))
		out = append(out, block{
			name:    m[1],
			start:   i + 1,
			end:     end,
			content: strings.Join(safeSlice(lines, i+1, end), "\n"),
		})
	}
	return out
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 4
		} else {
			break
		}
	}
	return n
}

// endOfIndentBlock returns the 1-based last line of the block starting at
// startLine (the line after the header), ending when a non-blank line with
// indentation <= headerIndent is seen.
func endOfIndentBlock(lines []string, startLine, headerIndent int) int {
	end := startLine
	for i := startLine; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			end = i + 1
			continue
		}
		if indentOf(lines[i]) <= headerIndent {
			break
		}
		end = i + 1
	}
	return end
}

func safeSlice(lines []string, start, end int) []string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}
	return lines[start-1 : end]
}

func containingBlock(blocks []block, line int) string {
	for _, b := range blocks {
		if line > b.start && line <= b.end {
			return b.name
		}
	}
	return ""
}

func callNamesRegex(body, selfName string) []string {
	var out []string
	for _, m := range pyCallNameRe.FindAllStringSubmatch(body, -1) {
		if m[1] != selfName {
			out = append(out, m[1])
		}
	}
	return out
}
