// Package extractors implements the per-language entity extraction behind
// the Parser/Indexer's collaborator contract (spec section 4.6): each
// extractor turns one file's content into the {language, imports, classes,
// functions, calls, errors} shape the Memory Manager consumes to produce
// Function/Component memories.
//
// original_source's parsing/extractors/{go,python,java,csharp,rust}.py did
// per-language regex/AST extraction (not tree-sitter, which no repo in the
// example pack imports); the Go extractor here is grounded on the
// teacher's go/ast-based pkg/chunking/parsers/golang.go, and the remaining
// languages follow python.go/typescript.go's regex shape in the same
// factory-dispatch style as pkg/chunking/parsers/factory.go.
package extractors

// ClassEntity is one class/struct/interface declaration found in a file.
type ClassEntity struct {
	Name      string
	Content   string
	StartLine int
	EndLine   int
}

// FunctionEntity is one function or method declaration found in a file.
type FunctionEntity struct {
	Name            string
	Content         string
	StartLine       int
	EndLine         int
	ContainingClass string
	Calls           []string
}

// FileResult is the per-file extraction output, matching spec section
// 4.6's output contract verbatim.
type FileResult struct {
	Language        string
	ModuleDocstring string
	Imports         []string
	Classes         []ClassEntity
	Functions       []FunctionEntity
	Calls           []string
	Errors          []string
}

// Extractor is implemented once per supported language.
type Extractor interface {
	// Extensions lists the file extensions (including the leading dot)
	// this extractor handles.
	Extensions() []string
	Extract(path, content string) FileResult
}
