// Package bedrock is the concrete primary embedding provider, grounded on
// the teacher's use of github.com/aws/aws-sdk-go-v2/service/bedrockruntime
// for model invocation.
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/S-Corkum/projectmemory/pkg/config"
	"github.com/S-Corkum/projectmemory/pkg/embedding"
	"github.com/S-Corkum/projectmemory/pkg/models"
)

// Provider calls Amazon Titan (or another Bedrock embedding model) via
// InvokeModel, one call per text since Bedrock's embedding models accept a
// single input string per request; batching happens at the Service layer
// (pkg/embedding.Service.EmbedBatch), not here.
type Provider struct {
	client *bedrockruntime.Client
	model  string
}

// New builds a Provider using the default AWS credential chain, scoped to
// the configured region and model.
func New(ctx context.Context, cfg config.EmbeddingConfig) (*Provider, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &Provider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
	}, nil
}

func (p *Provider) Name() string { return "bedrock:" + p.model }

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *Provider) Embed(ctx context.Context, texts []string, _ embedding.InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		body, err := json.Marshal(titanEmbedRequest{InputText: t})
		if err != nil {
			return nil, fmt.Errorf("bedrock: marshal request: %w", err)
		}

		resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     &p.model,
			ContentType: strPtr("application/json"),
			Accept:      strPtr("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: invoke model: %w", err)
		}

		var parsed titanEmbedResponse
		if err := json.NewDecoder(bytes.NewReader(resp.Body)).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("bedrock: decode response: %w", err)
		}

		vec := parsed.Embedding
		if len(vec) != models.EmbeddingDim {
			vec = resize(vec, models.EmbeddingDim)
		}
		out[i] = vec
	}
	return out, nil
}

// resize pads with zeros or truncates to exactly dim entries, matching
// spec section 4.4's "pad/truncate to 1024 dims" handling (applied here
// defensively in case the configured model's native dimension differs).
func resize(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

func strPtr(s string) *string { return &s }
