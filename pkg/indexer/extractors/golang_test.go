package extractors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/indexer/extractors"
)

const goSample = `// Package sample does things.
package sample

import "fmt"

// Greeter says hello.
type Greeter struct {
	Name string
}

func (g *Greeter) Greet() string {
	return helper(g.Name)
}

func helper(name string) string {
	return fmt.Sprintf("hello %s", name)
}
`

func TestGoExtractor_Extract(t *testing.T) {
	e := extractors.NewGoExtractor()
	result := e.Extract("sample.go", goSample)

	require.Equal(t, "go", result.Language)
	assert.Contains(t, result.Imports, "fmt")
	require.Len(t, result.Classes, 1)
	assert.Equal(t, "Greeter", result.Classes[0].Name)

	names := map[string]extractors.FunctionEntity{}
	for _, fn := range result.Functions {
		names[fn.Name] = fn
	}
	require.Contains(t, names, "Greet")
	require.Contains(t, names, "helper")
	assert.Equal(t, "Greeter", names["Greet"].ContainingClass)
	assert.Contains(t, names["Greet"].Calls, "helper")
}
