package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	llmclient "repolens/internal/llm/client"
)

// Middleware decorates an LLMClient with a cross-cutting concern.
type Middleware func(llmclient.LLMClient) llmclient.LLMClient

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner llmclient.LLMClient, mws ...Middleware) llmclient.LLMClient {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// DefaultMaxRateWait bounds how long a call queues for a rate limit token.
const DefaultMaxRateWait = 2 * time.Second

// RateLimit throttles Generate calls with a token bucket.
// If rps <= 0, the limiter is disabled.
func RateLimit(rps float64, burst int) Middleware {
	return RateLimitWithin(rps, burst, DefaultMaxRateWait)
}

// RateLimitWithin is RateLimit with an explicit queueing bound. A call that
// gets no token within maxWait fails with ErrRateLimited.
func RateLimitWithin(rps float64, burst int, maxWait time.Duration) Middleware {
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &rateLimited{next: next, rl: newRPSLimiter(rps, burst), maxWait: maxWait}
	}
}

type rateLimited struct {
	next    llmclient.LLMClient
	rl      *rpsLimiter
	maxWait time.Duration
}

func (c *rateLimited) Name() string { return c.next.Name() }

func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}

func (c *rateLimited) Generate(ctx context.Context, req *llmclient.Request) (*llmclient.Completion, error) {
	if err := c.rl.Acquire(ctx, c.maxWait); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil, fmt.Errorf("%s: %w", c.next.Name(), err)
		}
		return nil, err
	}
	return c.next.Generate(ctx, req)
}

// WithLogging records request size, latency and token usage at debug level.
// Attempt outcomes are logged by the Caller, so errors stay at debug here.
func WithLogging(logger *slog.Logger) Middleware {
	logger = discardIfNil(logger)
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next llmclient.LLMClient
	log  *slog.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) Generate(ctx context.Context, req *llmclient.Request) (*llmclient.Completion, error) {
	attrs := append(metadataAttrs(ctx),
		slog.String("client", l.next.Name()),
		slog.Int("prompt_chars", len(req.Prompt)+len(req.System)),
		slog.Bool("structured", req.Structured()),
	)
	start := time.Now()
	out, err := l.next.Generate(ctx, req)
	attrs = append(attrs, slog.Duration("duration", time.Since(start)))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.log.LogAttrs(ctx, slog.LevelDebug, "llm request failed", attrs...)
		return nil, err
	}
	if out != nil {
		usage := out.Usage
		if usage.PromptTokens == 0 {
			usage.PromptTokens = llmclient.CountTokens(req.System + "\n" + req.Prompt)
		}
		if usage.CompletionTokens == 0 {
			usage.CompletionTokens = llmclient.CountTokens(out.Text)
		}
		attrs = append(attrs,
			slog.Int("prompt_tokens", usage.PromptTokens),
			slog.Int("completion_tokens", usage.CompletionTokens),
		)
	}
	l.log.LogAttrs(ctx, slog.LevelDebug, "llm request", attrs...)
	return out, nil
}

// CallHook observes individual backend calls.
type CallHook interface {
	Before(ctx context.Context, client string, req *llmclient.Request)
	After(ctx context.Context, client string, out *llmclient.Completion, err error)
}

type hookKey struct{}

// WithHook attaches a CallHook to the context for the WithHooks middleware.
func WithHook(ctx context.Context, hook CallHook) context.Context {
	return context.WithValue(ctx, hookKey{}, hook)
}

// HookFrom returns the hook stored in the context.
func HookFrom(ctx context.Context) CallHook {
	if h, ok := ctx.Value(hookKey{}).(CallHook); ok {
		return h
	}
	return nil
}

// WithHooks calls HookFrom(ctx).Before/After around Generate.
// If no hook is present in the context, it is a no-op.
func WithHooks() Middleware {
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &hooked{next: next}
	}
}

type hooked struct{ next llmclient.LLMClient }

func (h *hooked) Name() string { return h.next.Name() }
func (h *hooked) Close() error { return h.next.Close() }

func (h *hooked) Generate(ctx context.Context, req *llmclient.Request) (*llmclient.Completion, error) {
	hook := HookFrom(ctx)
	if hook != nil {
		hook.Before(ctx, h.next.Name(), req)
	}
	out, err := h.next.Generate(ctx, req)
	if hook != nil {
		hook.After(ctx, h.next.Name(), out, err)
	}
	return out, err
}

// ErrCoolingDown is returned without contacting the provider while a
// Retry-After pause is pending.
var ErrCoolingDown = errors.New("llm: client is cooling down")

// RespectRetryAfter pauses a client after the provider answers with a
// Retry-After signal. Calls made before the pause ends fail with
// ErrCoolingDown, wrapping the status error that started the pause.
func RespectRetryAfter() Middleware {
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &retryAfter{next: next, now: time.Now}
	}
}

type retryAfter struct {
	next llmclient.LLMClient
	now  func() time.Time

	mu    sync.Mutex
	until time.Time
	cause *llmclient.StatusError
}

func (c *retryAfter) Name() string { return c.next.Name() }
func (c *retryAfter) Close() error { return c.next.Close() }

func (c *retryAfter) Generate(ctx context.Context, req *llmclient.Request) (*llmclient.Completion, error) {
	if wait, cause := c.pending(); wait > 0 {
		return nil, fmt.Errorf("%s: %w for %s: %w", c.next.Name(), ErrCoolingDown, wait.Round(time.Millisecond), cause)
	}
	out, err := c.next.Generate(ctx, req)
	var serr *llmclient.StatusError
	if errors.As(err, &serr) && serr.RetryAfter > 0 {
		c.mu.Lock()
		if u := c.now().Add(serr.RetryAfter); u.After(c.until) {
			c.until, c.cause = u, serr
		}
		c.mu.Unlock()
	}
	return out, err
}

func (c *retryAfter) pause() time.Duration {
	wait, _ := c.pending()
	return wait
}

func (c *retryAfter) pending() (time.Duration, *llmclient.StatusError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.until.Sub(c.now()), c.cause
}

// closeAll closes every client and joins the errors.
func closeAll(clients []llmclient.LLMClient) error {
	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
