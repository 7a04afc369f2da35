package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const groqChatURL = "https://api.groq.com/openai/v1/chat/completions"

// GroqClient calls the Groq Chat Completions API (OpenAI-compatible).
// See: https://console.groq.com/docs/api-reference
type GroqClient struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

type GroqOption func(*GroqClient)

// WithGroqBaseURL points the client at another OpenAI-compatible endpoint.
func WithGroqBaseURL(u string) GroqOption {
	return func(g *GroqClient) { g.baseURL = u }
}

// WithGroqHTTPClient replaces the default HTTP client.
func WithGroqHTTPClient(c *http.Client) GroqOption {
	return func(g *GroqClient) { g.http = c }
}

func NewGroqClient(apiKey, model string, opts ...GroqOption) (*GroqClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("groq %s: %w", model, ErrMissingAPIKey)
	}
	g := &GroqClient{
		http:    &http.Client{Timeout: 60 * time.Second},
		apiKey:  apiKey,
		model:   model,
		baseURL: groqChatURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GroqClient) Name() string { return "groq:" + g.model }
func (g *GroqClient) Close() error { return nil }

type groqChatReq struct {
	Model            string            `json:"model"`
	Messages         []groqMessage     `json:"messages"`
	Temperature      *float32          `json:"temperature,omitempty"`
	TopP             *float32          `json:"top_p,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	PresencePenalty  *float32          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32          `json:"frequency_penalty,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	ResponseFormat   map[string]string `json:"response_format,omitempty"`
}
type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
type groqChatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends the system and user messages. Structured requests use JSON
// mode with the schema appended to the system message. Search grounding is
// not supported and is ignored.
func (g *GroqClient) Generate(ctx context.Context, r *Request) (*Completion, error) {
	system := r.System
	var format map[string]string
	if r.Structured() {
		format = map[string]string{"type": "json_object"}
		system = strings.TrimSpace(system + "\n\n" + r.Schema.Instruction())
	}
	msgs := make([]groqMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, groqMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, groqMessage{Role: "user", Content: r.Prompt})

	reqBody := groqChatReq{
		Model:            g.model,
		Messages:         msgs,
		Temperature:      r.Params.Temperature,
		TopP:             r.Params.TopP,
		MaxTokens:        r.Params.MaxOutputTokens,
		PresencePenalty:  r.Params.PresencePenalty,
		FrequencyPenalty: r.Params.FrequencyPenalty,
		Stop:             r.Params.StopSequences,
		ResponseFormat:   format,
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("groq: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		serr := &StatusError{
			Provider:   "groq",
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: rateLimitWait(resp.Header),
		}
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(serr.Body, `"code":"context_length_exceeded"`) {
			return nil, NewPermanentError(serr)
		}
		return nil, serr
	}
	var out groqChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("groq: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, nil
	}
	model := out.Model
	if model == "" {
		model = g.model
	}
	return &Completion{
		Text:  out.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

// rateLimitWait prefers retry-after, then the reset time of whichever
// x-ratelimit budget is exhausted.
func rateLimitWait(h http.Header) time.Duration {
	if d := parseRetryAfter(h.Get("retry-after")); d > 0 {
		return d
	}
	if strings.TrimSpace(h.Get("x-ratelimit-remaining-tokens")) == "0" {
		if d := parseRetryAfter(h.Get("x-ratelimit-reset-tokens")); d > 0 {
			return d
		}
	}
	if strings.TrimSpace(h.Get("x-ratelimit-remaining-requests")) == "0" {
		return parseRetryAfter(h.Get("x-ratelimit-reset-requests"))
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return 0
}

// RegisterGroqModels registers the Groq models used by the default chains.
func RegisterGroqModels(reg ModelRegistrar, apiKey string) error {
	models := []struct {
		name  string
		level ModelLevel
		limit *RateLimitConfig
	}{
		{name: "llama-3.1-8b-instant", level: ModelLevelLow, limit: &RateLimitConfig{RPS: 0.5, Burst: 2}},
		{name: "openai/gpt-oss-20b", level: ModelLevelMiddle, limit: &RateLimitConfig{RPS: 0.5, Burst: 1}},
		{name: "llama-3.3-70b-versatile", level: ModelLevelHigh, limit: &RateLimitConfig{RPS: 0.5, Burst: 1}},
	}
	for _, m := range models {
		modelName := m.name
		if err := reg.RegisterModel(ModelRegistration{
			Provider:  "groq",
			Model:     modelName,
			Level:     m.level,
			RateLimit: m.limit,
			Factory: func(ctx context.Context) (LLMClient, error) {
				return NewGroqClient(apiKey, modelName)
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
