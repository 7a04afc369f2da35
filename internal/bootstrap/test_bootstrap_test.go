package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repolens/internal/analysis"
	"repolens/internal/artifact"
	"repolens/internal/config"
	"repolens/internal/llm"
	llmclient "repolens/internal/llm/client"
	"repolens/internal/repoctx"
	"repolens/internal/store"
	"repolens/internal/tester"
)

func fakeConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.Fake = true
	cfg.LLM.RPS = 0
	return &cfg
}

func TestNewRegistry_FakeAndChains(t *testing.T) {
	cfg := fakeConfig().LLM
	cfg.Chains = config.ModelChains{
		llmclient.ModelLevelMiddle: {"fake:fake-high", "fake:fake-middle"},
	}
	reg, err := NewRegistry(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.Len(t, reg.Models(), 3)
	assert.Equal(t, []string{"fake:fake-high", "fake:fake-middle"}, reg.Candidates(llmclient.ModelLevelMiddle))
	assert.Equal(t, []string{"fake:fake-low"}, reg.Candidates(llmclient.ModelLevelLow))
}

func TestNewRegistry_UnknownChainModel(t *testing.T) {
	cfg := fakeConfig().LLM
	cfg.Chains = config.ModelChains{llmclient.ModelLevelLow: {"groq:missing"}}
	_, err := NewRegistry(cfg, nil)
	assert.ErrorIs(t, err, llm.ErrModelNotRegistered)
}

func TestNewRegistry_NothingConfigured(t *testing.T) {
	_, err := NewRegistry(config.LLMConfig{}, nil)
	assert.ErrorContains(t, err, "no llm models")
}

func TestNew_MemoryStack(t *testing.T) {
	logger, rec := tester.NewLogger()
	env, err := New(context.Background(), fakeConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, env.Close()) })

	assert.IsType(t, &store.MemoryStore{}, env.Store)
	assert.IsType(t, &artifact.Compressed{}, env.Artifacts)
	assert.NotEmpty(t, rec.Records())

	res, err := env.Service.Analyze(context.Background(), analysis.Request{
		RepoID: "demo",
		Files:  []repoctx.FileEntry{{Path: "main.go", Content: "package main\n"}},
		Prompt: "Summarize.",
	})
	require.NoError(t, err)
	assert.Equal(t, "fake:fake-middle", res.Model)

	got, err := env.Service.Artifact(context.Background(), res.ID, analysis.PromptArtifact)
	require.NoError(t, err)
	assert.Contains(t, string(got), "<file path=\"main.go\">")
}

func TestNew_UncompressedArtifacts(t *testing.T) {
	cfg := fakeConfig()
	cfg.Artifact.Compress = false
	env, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer env.Close()
	assert.IsType(t, &artifact.MemoryStore{}, env.Artifacts)
}

func TestNew_PostgresUnreachable(t *testing.T) {
	cfg := fakeConfig()
	cfg.DatabaseURL = "postgres://u:p@127.0.0.1:1/x?sslmode=disable&connect_timeout=1"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "ping postgres")
}

func TestNewArtifacts_S3IsCached(t *testing.T) {
	arts, err := newArtifacts(config.ArtifactConfig{
		Enabled:   true,
		Endpoint:  "127.0.0.1:9000",
		Region:    "us-east-1",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "b",
		Compress:  true,
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &artifact.Cached{}, arts)
}
