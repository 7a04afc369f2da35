package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	llmclient "repolens/internal/llm/client"
)

var (
	ErrModelNotRegistered = errors.New("llm: model is not registered")
	ErrRegistryClosed     = errors.New("llm: registry is closed")
)

// Registry stores model registrations and lazily builds their clients.
// Every built client is wrapped with its rate limit and the registry's
// middlewares, then cached until Close.
type Registry struct {
	mu      sync.Mutex
	models  map[string]llmclient.ModelRegistration
	order   []string
	chains  map[llmclient.ModelLevel][]string
	clients map[string]llmclient.LLMClient
	mws     []Middleware
	limit   *llmclient.RateLimitConfig
	maxWait time.Duration
	closed  bool
}

type RegistryOption func(*Registry)

// WithMiddleware appends middlewares applied to every built client, outermost first.
func WithMiddleware(mws ...Middleware) RegistryOption {
	return func(r *Registry) { r.mws = append(r.mws, mws...) }
}

// WithDefaultRateLimit limits models registered without their own rate limit.
func WithDefaultRateLimit(rps float64, burst int) RegistryOption {
	return func(r *Registry) {
		if rps > 0 {
			r.limit = &llmclient.RateLimitConfig{RPS: rps, Burst: burst}
		}
	}
}

// WithRateLimitWait bounds how long a call queues for a rate limit token
// before the attempt fails. It defaults to DefaultMaxRateWait.
func WithRateLimitWait(d time.Duration) RegistryOption {
	return func(r *Registry) { r.maxWait = d }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		maxWait: DefaultMaxRateWait,
		models:  map[string]llmclient.ModelRegistration{},
		chains:  map[llmclient.ModelLevel][]string{},
		clients: map[string]llmclient.LLMClient{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterModel adds a model. Registering the same identifier twice replaces
// the earlier factory but keeps its position.
func (r *Registry) RegisterModel(spec llmclient.ModelRegistration) error {
	if spec.Factory == nil {
		return fmt.Errorf("register model: factory is nil")
	}
	if strings.TrimSpace(spec.Provider) == "" || strings.TrimSpace(spec.Model) == "" {
		return fmt.Errorf("register model: provider and model are required")
	}
	level, err := llmclient.ParseModelLevel(string(spec.Level))
	if err != nil {
		return fmt.Errorf("register model %s: %w", spec.ID(), err)
	}
	spec.Level = level
	id := spec.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		r.order = append(r.order, id)
	}
	r.models[id] = spec
	return nil
}

// Models lists registered identifiers in registration order.
func (r *Registry) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// SetChain installs the preferred candidate order for a level.
// Every identifier must already be registered.
func (r *Registry) SetChain(level llmclient.ModelLevel, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := make([]string, 0, len(ids))
	for _, id := range ids {
		id = normalizeID(id)
		if _, ok := r.models[id]; !ok {
			return fmt.Errorf("chain %s: %q: %w", level, id, ErrModelNotRegistered)
		}
		chain = append(chain, id)
	}
	r.chains[level] = chain
	return nil
}

// Candidates returns the ordered candidate list for a level: the configured
// chain first, then the remaining models of that level in registration order.
func (r *Registry) Candidates(level llmclient.ModelLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, id := range r.chains[level] {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range r.order {
		if _, ok := seen[id]; ok {
			continue
		}
		if r.models[id].Level == level {
			out = append(out, id)
		}
	}
	return out
}

// Client returns the cached client for id, building it on first use.
// Factories run outside the registry lock; when two callers race on the
// same id, the first stored client wins and the other is closed.
func (r *Registry) Client(ctx context.Context, id string) (llmclient.LLMClient, error) {
	id = normalizeID(id)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if c, ok := r.clients[id]; ok {
		r.mu.Unlock()
		return c, nil
	}
	spec, ok := r.models[id]
	mws := append([]Middleware(nil), r.mws...)
	limit, maxWait := r.limit, r.maxWait
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrModelNotRegistered)
	}

	base, err := spec.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", id, err)
	}
	rl := spec.RateLimit
	if rl == nil {
		rl = limit
	}
	if rl != nil && rl.RPS > 0 {
		mws = append(mws, RateLimitWithin(rl.RPS, rl.Burst, maxWait))
	}
	c := Wrap(base, mws...)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = c.Close()
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.clients[id]; ok {
		r.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	r.clients[id] = c
	r.mu.Unlock()
	return c, nil
}

// Close closes every built client. Later Client calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := make([]llmclient.LLMClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = map[string]llmclient.LLMClient{}
	r.closed = true
	r.mu.Unlock()
	return closeAll(clients)
}

// normalizeID lowercases the provider part of "provider:model".
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	provider, model, ok := strings.Cut(id, ":")
	if !ok {
		return id
	}
	return llmclient.ModelID(provider, model)
}
