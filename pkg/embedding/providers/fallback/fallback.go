// Package fallback implements the local fallback embedding model referenced
// throughout spec section 4.4: a model runnable without network access,
// used when the primary provider is unreachable. No ML runtime binding
// appears anywhere in the example pack (no onnxruntime_go consumer that
// fits this service's constraints, no sentence-transformers equivalent),
// so the fallback is a deterministic, content-derived projection rather
// than a real embedding model — documented as a stdlib-only component in
// DESIGN.md since nothing in the corpus gives a better-grounded option for
// an offline, dependency-free fallback path.
package fallback

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/models"
)

// Provider is the deterministic local fallback.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "fallback-sha256" }

// Embed projects each text's SHA-256 digest repeatedly into
// models.EmbeddingDim floats in [-1, 1], L2-normalized. It is
// deterministic (same content -> same vector, satisfying the cache's
// equality expectations) and dependency-free.
func (p *Provider) Embed(_ context.Context, texts []string, _ embedding.InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = project(t)
	}
	return out, nil
}

func project(text string) []float32 {
	vec := make([]float32, models.EmbeddingDim)
	seed := sha256.Sum256([]byte(text))

	block := seed[:]
	for i := 0; i < models.EmbeddingDim; i++ {
		if i%len(block) == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		b := block[i%len(block)]
		// Mix in the position so repeating the 32-byte digest across 1024
		// slots doesn't produce a visibly periodic vector.
		mixed := binary.BigEndian.Uint32([]byte{b, byte(i), byte(i >> 8), block[(i+1)%len(block)]})
		vec[i] = float32(int32(mixed)) / float32(math.MaxInt32)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
