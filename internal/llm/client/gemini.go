package llmclient

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ContentGenerator is the part of the genai SDK the client uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	gen   ContentGenerator
	model string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini %s: %w", model, ErrMissingAPIKey)
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return NewGeminiClientWith(cli.Models, model), nil
}

// NewGeminiClientWith builds a client over an existing generator.
func NewGeminiClientWith(gen ContentGenerator, model string) *GeminiClient {
	return &GeminiClient{gen: gen, model: model}
}

func (g *GeminiClient) Name() string { return "gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

func (g *GeminiClient) Generate(ctx context.Context, r *Request) (*Completion, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(r.Prompt)},
	}}
	resp, err := g.gen.GenerateContent(ctx, g.model, contents, g.config(r))
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", g.model, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, nil
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	out := &Completion{Text: sb.String(), Model: g.model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
		}
	}
	return out, nil
}

// config maps Params onto the SDK config. Search grounding cannot be combined
// with JSON output, so structured requests drop it.
func (g *GeminiClient) config(r *Request) *genai.GenerateContentConfig {
	p := r.Params
	cfg := &genai.GenerateContentConfig{
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		StopSequences:    p.StopSequences,
	}
	if p.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxOutputTokens)
	}
	if r.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(r.System)}}
	}
	if r.Structured() {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGeminiSchema(r.Schema)
	} else if p.SearchGrounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func toGeminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        toGeminiType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       toGeminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGeminiSchema(p)
		}
	}
	return out
}

func toGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// RegisterGeminiModels registers the Gemini models used by the default chains.
func RegisterGeminiModels(reg ModelRegistrar, apiKey string) error {
	models := []struct {
		name  string
		level ModelLevel
		limit *RateLimitConfig
	}{
		{name: "gemini-2.5-flash-lite", level: ModelLevelLow, limit: &RateLimitConfig{RPS: 0.25, Burst: 1}},
		{name: "gemini-2.5-flash", level: ModelLevelMiddle, limit: &RateLimitConfig{RPS: 0.15, Burst: 1}},
		{name: "gemini-2.5-pro", level: ModelLevelHigh, limit: &RateLimitConfig{RPS: 0.08, Burst: 1}},
	}
	for _, m := range models {
		modelName := m.name
		if err := reg.RegisterModel(ModelRegistration{
			Provider:  "gemini",
			Model:     modelName,
			Level:     m.level,
			RateLimit: m.limit,
			Factory: func(ctx context.Context) (LLMClient, error) {
				return NewGeminiClient(ctx, apiKey, modelName)
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
