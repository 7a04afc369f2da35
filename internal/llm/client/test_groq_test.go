package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroqTestServer(t *testing.T, h http.HandlerFunc) *GroqClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cli, err := NewGroqClient("test-key", "llama-test", WithGroqBaseURL(srv.URL))
	require.NoError(t, err)
	return cli
}

func TestGroq_TextRequest(t *testing.T) {
	var got groqChatReq
	cli := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"llama-test","choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":7,"completion_tokens":1}}`))
	})

	out, err := cli.Generate(context.Background(), &Request{
		Prompt: "say hello",
		System: "be brief",
		Params: Params{Temperature: Float32(0.2), MaxOutputTokens: 64, StopSequences: []string{"END"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, 7, out.Usage.PromptTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "say hello", got.Messages[1].Content)
	assert.Nil(t, got.ResponseFormat)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-6)
	assert.Equal(t, 64, got.MaxTokens)
	assert.Equal(t, []string{"END"}, got.Stop)
}

func TestGroq_StructuredRequestUsesJSONMode(t *testing.T) {
	var got groqChatReq
	cli := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	})

	out, err := cli.Generate(context.Background(), &Request{
		Prompt: "p",
		Schema: &Schema{Type: "object", Properties: map[string]*Schema{"ok": {Type: "boolean"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out.Text)
	assert.Equal(t, "llama-test", out.Model)
	assert.Equal(t, map[string]string{"type": "json_object"}, got.ResponseFormat)
	assert.Contains(t, got.Messages[0].Content, `"ok"`)
}

func TestGroq_NoChoicesIsEmpty(t *testing.T) {
	cli := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	out, err := cli.Generate(context.Background(), &Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGroq_StatusErrors(t *testing.T) {
	cli := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})
	_, err := cli.Generate(context.Background(), &Request{Prompt: "p"})
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
	assert.Equal(t, 3*time.Second, serr.RetryAfter)
	assert.False(t, IsPermanent(err))
}

func TestRateLimitWait(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, rateLimitWait(h))

	h.Set("x-ratelimit-remaining-requests", "0")
	h.Set("x-ratelimit-reset-requests", "2m59.56s")
	assert.Equal(t, 2*time.Minute+59560*time.Millisecond, rateLimitWait(h))

	h.Set("x-ratelimit-remaining-tokens", "0")
	h.Set("x-ratelimit-reset-tokens", "7.66s")
	assert.Equal(t, 7660*time.Millisecond, rateLimitWait(h))

	h.Set("retry-after", "1")
	assert.Equal(t, time.Second, rateLimitWait(h))
}

func TestGroq_ContextLengthIsPermanent(t *testing.T) {
	cli := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"context_length_exceeded"}}`))
	})
	_, err := cli.Generate(context.Background(), &Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestNewGroqClient_RequiresKey(t *testing.T) {
	_, err := NewGroqClient(" ", "m")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
