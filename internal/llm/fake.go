package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	llmclient "repolens/internal/llm/client"
)

// FakeStep scripts one FakeClient response.
type FakeStep struct {
	Text  string
	Err   error
	Nil   bool // return a nil completion
	Panic bool // panic with PanicValue

	// PanicValue may be nil, which panics with a *runtime.PanicNilError.
	PanicValue any
}

func FakeText(s string) FakeStep { return FakeStep{Text: s} }
func FakeError(err error) FakeStep { return FakeStep{Err: err} }
func FakeEmpty() FakeStep { return FakeStep{Nil: true} }
func FakePanic(v any) FakeStep { return FakeStep{Panic: true, PanicValue: v} }

// FakeClient returns scripted responses for offline runs and tests. Once the
// script is used up it returns deterministic output: a short markdown note
// for text requests and a schema-shaped document for structured ones.
type FakeClient struct {
	name string

	mu    sync.Mutex
	steps []FakeStep
	calls []llmclient.Request
}

func NewFakeClient(name string, steps ...FakeStep) *FakeClient {
	return &FakeClient{name: name, steps: steps}
}

func (f *FakeClient) Name() string { return f.name }
func (f *FakeClient) Close() error { return nil }

// Calls returns a copy of every request received.
func (f *FakeClient) Calls() []llmclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llmclient.Request(nil), f.calls...)
}

func (f *FakeClient) Generate(ctx context.Context, req *llmclient.Request) (*llmclient.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	var step *FakeStep
	if len(f.steps) > 0 {
		s := f.steps[0]
		f.steps = f.steps[1:]
		step = &s
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step == nil {
		return &llmclient.Completion{Text: f.defaultOutput(req), Model: f.name}, nil
	}
	switch {
	case step.Panic:
		panic(step.PanicValue)
	case step.Err != nil:
		return nil, step.Err
	case step.Nil:
		return nil, nil
	}
	return &llmclient.Completion{Text: step.Text, Model: f.name}, nil
}

func (f *FakeClient) defaultOutput(req *llmclient.Request) string {
	if req.Structured() {
		b, _ := json.Marshal(FakeDocument(req.Schema))
		return string(b)
	}
	return fmt.Sprintf("## Fake analysis\n\nGenerated by %s from a %d character prompt.\n", f.name, len(req.Prompt))
}

// FakeDocument builds the smallest value that satisfies s.
func FakeDocument(s *llmclient.Schema) any {
	if s == nil {
		return nil
	}
	switch s.Type {
	case "object":
		out := map[string]any{}
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out[name] = FakeDocument(s.Properties[name])
		}
		return out
	case "array":
		return []any{}
	case "string":
		if len(s.Enum) > 0 {
			return s.Enum[0]
		}
		return "fake"
	case "number", "integer":
		return 0
	case "boolean":
		return false
	}
	return nil
}

// RegisterFakeModels registers one fake model per level.
func RegisterFakeModels(reg llmclient.ModelRegistrar) error {
	for _, level := range []llmclient.ModelLevel{
		llmclient.ModelLevelLow, llmclient.ModelLevelMiddle, llmclient.ModelLevelHigh,
	} {
		name := "fake-" + string(level)
		if err := reg.RegisterModel(llmclient.ModelRegistration{
			Provider: "fake",
			Model:    name,
			Level:    level,
			Factory: func(ctx context.Context) (llmclient.LLMClient, error) {
				return NewFakeClient("fake:" + name), nil
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
