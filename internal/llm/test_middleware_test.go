package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmclient "repolens/internal/llm/client"
	"repolens/internal/tester"
)

func TestRate_RPS_2PerSecond_Burst1_Spacing(t *testing.T) {
	// Expect ~>=500ms spacing after the first call when rps=2 and burst=1.
	cli := Wrap(NewFakeClient("fast"), RateLimit(2, 1))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := cli.Generate(ctx, &llmclient.Request{Prompt: "p"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)
}

func TestRate_Burst2_FirstTwoImmediate(t *testing.T) {
	cli := RateLimit(2, 2)(NewFakeClient("fast"))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := cli.Generate(ctx, &llmclient.Request{Prompt: "p"})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRate_ContextCancelUnblocks(t *testing.T) {
	cli := RateLimit(0.1, 1)(NewFakeClient("slow"))
	t.Cleanup(func() { _ = cli.Close() })

	_, err := cli.Generate(context.Background(), &llmclient.Request{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cli.Generate(ctx, &llmclient.Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRate_FailsPastMaxWait(t *testing.T) {
	cli := RateLimitWithin(0.1, 1, 20*time.Millisecond)(NewFakeClient("fake:slow"))
	t.Cleanup(func() { _ = cli.Close() })

	_, err := cli.Generate(context.Background(), &llmclient.Request{Prompt: "p"})
	require.NoError(t, err)

	start := time.Now()
	_, err = cli.Generate(context.Background(), &llmclient.Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorContains(t, err, "fake:slow")
	assert.Less(t, time.Since(start), time.Second)

	l := newRPSLimiter(0.1, 1)
	t.Cleanup(l.Stop)
	require.NoError(t, l.Acquire(context.Background(), 0))
	assert.ErrorIs(t, l.Acquire(context.Background(), 0), ErrRateLimited)
}

func TestRate_DisabledWhenZero(t *testing.T) {
	assert.Nil(t, newRPSLimiter(0, 5))
	var l *rpsLimiter
	assert.NoError(t, l.Acquire(context.Background(), 0))
	l.Stop()
}

func TestWithLogging(t *testing.T) {
	logger, rec := tester.NewLogger()
	boom := errors.New("boom")
	cli := Wrap(NewFakeClient("fake:a", FakeText("hello world"), FakeError(boom)), WithLogging(logger))
	ctx := WithMetadata(context.Background(), map[string]string{"run_id": "r-9"})

	_, err := cli.Generate(ctx, &llmclient.Request{Prompt: "one two three"})
	require.NoError(t, err)
	_, err = cli.Generate(ctx, &llmclient.Request{Prompt: "again"})
	require.ErrorIs(t, err, boom)

	records := rec.AtLevel(slog.LevelDebug)
	require.Len(t, records, 2)
	assert.Equal(t, "llm request", records[0].Message)
	tokens, _ := tester.Attr(records[0], "completion_tokens")
	assert.Equal(t, "2", tokens)
	id, _ := tester.Attr(records[0], "run_id")
	assert.Equal(t, "r-9", id)
	assert.Equal(t, "llm request failed", records[1].Message)
	assert.Empty(t, rec.AtLevel(slog.LevelWarn))
}

type recordingHook struct {
	before, after []string
	errs          []error
}

func (h *recordingHook) Before(_ context.Context, client string, _ *llmclient.Request) {
	h.before = append(h.before, client)
}

func (h *recordingHook) After(_ context.Context, client string, _ *llmclient.Completion, err error) {
	h.after = append(h.after, client)
	h.errs = append(h.errs, err)
}

func TestWithHooks(t *testing.T) {
	cli := Wrap(NewFakeClient("fake:a", FakeText("x")), WithHooks())

	// no hook in context: plain pass-through
	_, err := cli.Generate(context.Background(), &llmclient.Request{})
	require.NoError(t, err)

	hook := &recordingHook{}
	_, err = cli.Generate(WithHook(context.Background(), hook), &llmclient.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fake:a"}, hook.before)
	assert.Equal(t, []string{"fake:a"}, hook.after)
	assert.Equal(t, []error{nil}, hook.errs)
}

func TestWrapOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next llmclient.LLMClient) llmclient.LLMClient {
			order = append(order, name)
			return next
		}
	}
	Wrap(NewFakeClient("x"), tag("outer"), nil, tag("inner"))
	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestMetadataMerge(t *testing.T) {
	ctx := WithMetadata(context.Background(), map[string]string{"a": "1", "b": "1"})
	ctx = WithMetadata(ctx, map[string]string{"b": "2"})
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, MetadataFrom(ctx))
	assert.Nil(t, MetadataFrom(context.Background()))
}

func TestRespectRetryAfter(t *testing.T) {
	throttled := &llmclient.StatusError{Provider: "groq", StatusCode: 429, RetryAfter: time.Minute}
	fc := NewFakeClient("fake:a", FakeError(throttled), FakeText("ok"))
	c := RespectRetryAfter()(fc).(*retryAfter)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Generate(context.Background(), &llmclient.Request{Prompt: "p"})
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, time.Minute, c.pause())

	_, err = c.Generate(context.Background(), &llmclient.Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrCoolingDown)
	var cause *llmclient.StatusError
	require.ErrorAs(t, err, &cause)
	assert.Equal(t, 429, cause.StatusCode)
	assert.Len(t, fc.Calls(), 1)

	now = now.Add(time.Minute)
	out, err := c.Generate(context.Background(), &llmclient.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
}
