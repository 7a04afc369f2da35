// Package llmclient defines the provider-neutral model client and its
// Gemini and Groq implementations.
package llmclient

import "context"

// LLMClient defines the interface for LLM providers.
type LLMClient interface {
	Name() string
	Close() error
	// Generate runs one completion. A nil completion or empty text means the
	// backend produced no usable output; that is not an error.
	Generate(ctx context.Context, req *Request) (*Completion, error)
}

// Params are generation knobs passed through to the backend unchanged.
// Nil pointers and zero values leave the provider default in place.
type Params struct {
	Temperature      *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxOutputTokens  int      `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty" yaml:"stop_sequences,omitempty"`
	// SearchGrounding asks providers that support it to ground answers in web search.
	SearchGrounding bool `json:"search_grounding,omitempty" yaml:"search_grounding,omitempty"`
}

// Request is one generation call.
type Request struct {
	Prompt string
	System string
	Params Params
	// Schema, when set, requests JSON output shaped like the schema.
	Schema *Schema
}

// Structured reports whether the request asks for JSON output.
func (r *Request) Structured() bool { return r != nil && r.Schema != nil }

// Completion is the raw backend output.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Float32 returns a pointer to v, for filling Params.
func Float32(v float32) *float32 { return &v }
