package extractors

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// GoExtractor extracts imports/classes(types)/functions/calls from Go
// source via go/ast, grounded on the teacher's
// pkg/chunking/parsers/golang.go (ast.Inspect over *ast.TypeSpec and
// *ast.FuncDecl, receiver-aware method naming).
type GoExtractor struct{}

func NewGoExtractor() *GoExtractor { return &GoExtractor{} }

func (e *GoExtractor) Extensions() []string { return []string{".go"} }

func (e *GoExtractor) Extract(path, content string) FileResult {
	result := FileResult{Language: "go"}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("go parse error: %v", err))
		return result
	}

	if file.Doc != nil {
		result.ModuleDocstring = file.Doc.Text()
	}

	for _, imp := range file.Imports {
		result.Imports = append(result.Imports, strings.Trim(imp.Path.Value, `"`))
	}

	lines := strings.Split(content, "\n")
	slice := func(start, end token.Pos) (string, int, int) {
		s, en := fset.Position(start).Line, fset.Position(end).Line
		if s < 1 {
			s = 1
		}
		if en > len(lines) {
			en = len(lines)
		}
		if s > en {
			return "", s, en
		}
		return strings.Join(lines[s-1:en], "\n"), s, en
	}

	var classes []ClassEntity
	ast.Inspect(file, func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		switch ts.Type.(type) {
		case *ast.StructType, *ast.InterfaceType:
			content, start, end := slice(ts.Pos(), ts.End())
			classes = append(classes, ClassEntity{Name: ts.Name.Name, Content: content, StartLine: start, EndLine: end})
		}
		return true
	})
	result.Classes = classes

	ast.Inspect(file, func(n ast.Node) bool {
		fd, ok := n.(*ast.FuncDecl)
		if !ok {
			return true
		}
		content, start, end := slice(fd.Pos(), fd.End())
		fn := FunctionEntity{Name: fd.Name.Name, Content: content, StartLine: start, EndLine: end}
		if fd.Recv != nil && len(fd.Recv.List) > 0 {
			fn.ContainingClass = receiverTypeName(fd.Recv.List[0].Type)
		}
		fn.Calls = callNames(fd.Body)
		result.Functions = append(result.Functions, fn)
		result.Calls = append(result.Calls, fn.Calls...)
		return true
	})

	return result
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		if ident, ok := t.X.(*ast.Ident); ok {
			return ident.Name
		}
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// callNames walks a function body collecting the names of functions it
// calls, used to populate Function payload `calls` edges (spec section 3
// CALLS relationship).
func callNames(body *ast.BlockStmt) []string {
	if body == nil {
		return nil
	}
	var out []string
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			out = append(out, fn.Name)
		case *ast.SelectorExpr:
			out = append(out, fn.Sel.Name)
		}
		return true
	})
	return out
}
