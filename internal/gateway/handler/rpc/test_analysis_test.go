package rpc

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"repolens/internal/analysis"
	"repolens/internal/llm"
	llmclient "repolens/internal/llm/client"
	"repolens/internal/repoctx"
	"repolens/internal/scan"
	"repolens/internal/store"
	"repolens/internal/tester"
)

func newHandler(t *testing.T, clients []*llm.FakeClient, opts ...HandlerOption) *AnalysisHandler {
	t.Helper()
	reg := llm.NewRegistry()
	for _, c := range clients {
		require.NoError(t, reg.RegisterModel(llmclient.ModelRegistration{
			Provider: "fake",
			Model:    c.Name()[len("fake:"):],
			Level:    llmclient.ModelLevelMiddle,
			Factory:  func(context.Context) (llmclient.LLMClient, error) { return c, nil },
		}))
	}
	t.Cleanup(func() { _ = reg.Close() })
	svc := analysis.New(llm.NewCaller(reg), reg, store.NewMemoryStore())
	return NewAnalysisHandler(svc, opts...)
}

func msg(t *testing.T, m map[string]any) *connect.Request[structpb.Struct] {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return connect.NewRequest(s)
}

func sampleFiles() []any {
	return []any{
		map[string]any{"path": "main.go", "content": "package main\n"},
		map[string]any{"path": "go.mod", "content": "module demo\n"},
	}
}

func codeOf(t *testing.T, err error) connect.Code {
	t.Helper()
	var cerr *connect.Error
	require.ErrorAs(t, err, &cerr)
	return cerr.Code()
}

func TestAnalyze_Files(t *testing.T) {
	a := llm.NewFakeClient("fake:a", llm.FakeError(errors.New("quota")))
	b := llm.NewFakeClient("fake:b", llm.FakeText("# Overview"))
	h := newHandler(t, []*llm.FakeClient{a, b})

	res, err := h.Analyze(context.Background(), msg(t, map[string]any{
		"repo_id":           "demo",
		"files":             sampleFiles(),
		"prompt":            "Summarize.",
		"temperature":       0.3,
		"max_output_tokens": 128,
		"metadata":          map[string]any{"trace_id": "t-1"},
	}))
	require.NoError(t, err)

	out := res.Msg.AsMap()
	assert.Equal(t, "fake:b", out["model"])
	assert.Equal(t, "# Overview", out["output"])
	assert.Equal(t, []any{"go.mod", "main.go"}, out["included"])
	assert.Equal(t, float64(2), out["attempts"])
	trace, ok := out["trace"].([]any)
	require.True(t, ok)
	require.Len(t, trace, 2)
	first := trace[0].(map[string]any)
	assert.Equal(t, "failed", first["outcome"])
	assert.Equal(t, "quota", first["error"])

	call := b.Calls()[0]
	require.NotNil(t, call.Params.Temperature)
	assert.InDelta(t, 0.3, *call.Params.Temperature, 1e-6)
	assert.Equal(t, 128, call.Params.MaxOutputTokens)
}

func TestAnalyze_RepoURL(t *testing.T) {
	var got scan.GitSource
	loader := func(_ context.Context, src scan.GitSource, _ scan.Options) ([]repoctx.FileEntry, error) {
		got = src
		return []repoctx.FileEntry{{Path: "README.md", Content: "# hi\n"}}, nil
	}
	h := newHandler(t, []*llm.FakeClient{llm.NewFakeClient("fake:a", llm.FakeText("ok"))}, WithGitLoader(loader))

	res, err := h.Analyze(context.Background(), msg(t, map[string]any{
		"repo_url": "https://github.com/acme/demo",
		"branch":   "main",
		"prompt":   "p",
	}))
	require.NoError(t, err)
	assert.Equal(t, scan.GitSource{URL: "https://github.com/acme/demo", Branch: "main"}, got)
	assert.Equal(t, "https://github.com/acme/demo", res.Msg.AsMap()["repo_id"])
}

func TestAnalyze_Errors(t *testing.T) {
	logger, rec := tester.NewLogger()
	failing := func(context.Context, scan.GitSource, scan.Options) ([]repoctx.FileEntry, error) {
		return nil, errors.New("clone failed")
	}
	h := newHandler(t, []*llm.FakeClient{llm.NewFakeClient("fake:a", llm.FakeError(errors.New("down")))},
		WithGitLoader(failing), WithHandlerLogger(logger))
	ctx := context.Background()

	cases := []struct {
		name string
		in   map[string]any
		want connect.Code
	}{
		{"unknown field", map[string]any{"prompt": "p", "bogus": true}, connect.CodeInvalidArgument},
		{"bad level", map[string]any{"prompt": "p", "files": sampleFiles(), "level": "ultra"}, connect.CodeInvalidArgument},
		{"missing prompt", map[string]any{"files": sampleFiles()}, connect.CodeInvalidArgument},
		{"no files", map[string]any{"prompt": "p"}, connect.CodeInvalidArgument},
		{"url and files", map[string]any{"prompt": "p", "files": sampleFiles(), "repo_url": "https://x"}, connect.CodeInvalidArgument},
		{"local path", map[string]any{"prompt": "p", "repo_url": "/tmp/x"}, connect.CodeInvalidArgument},
		{"file url", map[string]any{"prompt": "p", "repo_url": "file:///srv/repo"}, connect.CodeInvalidArgument},
		{"http url", map[string]any{"prompt": "p", "repo_url": "http://github.com/acme/demo"}, connect.CodeInvalidArgument},
		{"clone failure", map[string]any{"prompt": "p", "repo_url": "https://x"}, connect.CodeFailedPrecondition},
		{"unknown model", map[string]any{"prompt": "p", "files": sampleFiles(), "models": []any{"fake:zzz"}}, connect.CodeUnavailable},
		{"all failed", map[string]any{"prompt": "p", "files": sampleFiles()}, connect.CodeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Analyze(ctx, msg(t, tc.in))
			assert.Equal(t, tc.want, codeOf(t, err))
		})
	}
	assert.NotEmpty(t, rec.AtLevel(slog.LevelWarn))
}

func TestGetAndListAnalyses(t *testing.T) {
	h := newHandler(t, []*llm.FakeClient{llm.NewFakeClient("fake:a")})
	ctx := context.Background()

	res, err := h.Analyze(ctx, msg(t, map[string]any{"repo_id": "demo", "files": sampleFiles(), "prompt": "p"}))
	require.NoError(t, err)
	id := res.Msg.AsMap()["id"].(string)

	got, err := h.GetAnalysis(ctx, msg(t, map[string]any{"id": id}))
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Msg.AsMap()["repo_id"])

	_, err = h.GetAnalysis(ctx, msg(t, map[string]any{"id": "missing"}))
	assert.Equal(t, connect.CodeNotFound, codeOf(t, err))
	_, err = h.GetAnalysis(ctx, msg(t, map[string]any{}))
	assert.Equal(t, connect.CodeInvalidArgument, codeOf(t, err))

	list, err := h.ListAnalyses(ctx, msg(t, map[string]any{"repo_id": "demo", "limit": 5}))
	require.NoError(t, err)
	items := list.Msg.AsMap()["analyses"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].(map[string]any)["id"])

	_, err = h.ListAnalyses(ctx, msg(t, map[string]any{}))
	assert.Equal(t, connect.CodeInvalidArgument, codeOf(t, err))
}

func TestToConnectError(t *testing.T) {
	assert.Equal(t, connect.CodeDeadlineExceeded, codeOf(t, toConnectError(context.DeadlineExceeded)))
	assert.Equal(t, connect.CodeCanceled, codeOf(t, toConnectError(context.Canceled)))
	assert.Equal(t, connect.CodeFailedPrecondition, codeOf(t, toConnectError(llm.ErrNoCandidates)))
	assert.Equal(t, connect.CodeInternal, codeOf(t, toConnectError(errors.New("x"))))
}
