package extractors

import "strings"

// Factory dispatches by file extension, grounded on the teacher's
// pkg/chunking/parsers/factory.go registration style (one parser
// instance per language, keyed by its declared extensions).
type Factory struct {
	byExt map[string]Extractor
}

func NewFactory() *Factory {
	f := &Factory{byExt: map[string]Extractor{}}
	for _, e := range []Extractor{
		NewGoExtractor(),
		NewPythonExtractor(),
		NewJavaScriptExtractor(),
		NewTypeScriptExtractor(),
		NewRustExtractor(),
	} {
		for _, ext := range e.Extensions() {
			f.byExt[ext] = e
		}
	}
	return f
}

// For returns the extractor registered for path's extension, and whether
// the extension is supported; unsupported extensions are the "language
// unknown, empty extraction" case from spec section 4.6.
func (f *Factory) For(path string) (Extractor, string, bool) {
	ext := extensionOf(path)
	e, ok := f.byExt[ext]
	if !ok {
		return nil, "unknown", false
	}
	return e, "", true
}

func extensionOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
