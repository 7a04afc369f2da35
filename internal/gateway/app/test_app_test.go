package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repolens/internal/config"
	"repolens/internal/gateway/handler/rpc"
	"repolens/internal/scan"
	"repolens/internal/tester"
)

func TestApp_StartAndShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.LLM.Fake = true
	logger, rec := tester.NewLogger()

	a, err := New(context.Background(), &cfg, logger, rpc.WithScanOptions(scan.Options{MaxFiles: 100}))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("server did not stop")
	}

	var msgs []string
	for _, r := range rec.Records() {
		msgs = append(msgs, r.Message)
	}
	assert.Contains(t, msgs, "bootstrap complete")
}

func TestApp_NoProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := New(context.Background(), &cfg, nil)
	assert.ErrorContains(t, err, "no llm models")
}
