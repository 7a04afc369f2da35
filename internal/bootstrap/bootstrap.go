// Package bootstrap assembles the analysis stack from a config.Config.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"repolens/internal/analysis"
	"repolens/internal/artifact"
	"repolens/internal/config"
	"repolens/internal/llm"
	llmclient "repolens/internal/llm/client"
	"repolens/internal/repoctx"
	"repolens/internal/store"
)

// Env holds the long-lived components shared by the API server and the CLI.
type Env struct {
	Registry  *llm.Registry
	Caller    *llm.Caller
	Store     store.Store
	Artifacts artifact.Store
	Service   *analysis.Service

	closers []func() error
}

// NewRegistry registers every configured provider and applies the level
// chains from the models file.
func NewRegistry(cfg config.LLMConfig, logger *slog.Logger) (*llm.Registry, error) {
	reg := llm.NewRegistry(
		llm.WithMiddleware(llm.WithLogging(logger), llm.RespectRetryAfter(), llm.WithHooks()),
		llm.WithDefaultRateLimit(cfg.RPS, cfg.Burst),
	)
	if cfg.Fake {
		if err := llm.RegisterFakeModels(reg); err != nil {
			return nil, err
		}
	}
	if cfg.GeminiAPIKey != "" {
		if err := llmclient.RegisterGeminiModels(reg, cfg.GeminiAPIKey); err != nil {
			return nil, err
		}
	}
	if cfg.GroqAPIKey != "" {
		if err := llmclient.RegisterGroqModels(reg, cfg.GroqAPIKey); err != nil {
			return nil, err
		}
	}
	for level, ids := range cfg.Chains {
		if err := reg.SetChain(level, ids); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}
	if len(reg.Models()) == 0 {
		return nil, errors.New("no llm models registered")
	}
	return reg, nil
}

// New builds the full stack. Postgres backs history when a DSN is set and
// artifacts go to S3 when an endpoint is set; otherwise memory stores are used.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Env, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	env := &Env{}
	reg, err := NewRegistry(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	env.Registry = reg
	env.closers = append(env.closers, reg.Close)

	var pg *store.PostgresStore
	if cfg.DatabaseURL != "" {
		pg, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = env.Close()
			return nil, err
		}
		env.Store = pg
		env.closers = append(env.closers, pg.Close)
		logger.Info("analysis history backed by postgres")
	} else {
		env.Store = store.NewMemoryStore()
	}

	arts, err := newArtifacts(cfg.Artifact, pg)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	env.Artifacts = arts
	if c, ok := arts.(interface{ Close() error }); ok {
		env.closers = append(env.closers, c.Close)
	}

	env.Caller = llm.NewCaller(reg, llm.WithLogger(logger))
	env.Service = analysis.New(env.Caller, reg, env.Store,
		analysis.WithLogger(logger),
		analysis.WithBuilder(repoctx.NewBuilder(cfg.Context.MaxChars, repoctx.WithLogger(logger))),
		analysis.WithArtifacts(arts),
		analysis.WithCallTimeout(cfg.LLM.CallTimeout),
	)
	logger.Info("bootstrap complete",
		slog.Int("models", len(reg.Models())),
		slog.Bool("fake", cfg.LLM.Fake),
		slog.Bool("s3_artifacts", cfg.Artifact.Enabled),
	)
	return env, nil
}

func newArtifacts(cfg config.ArtifactConfig, pg *store.PostgresStore) (artifact.Store, error) {
	var inner artifact.Store
	switch {
	case cfg.Enabled:
		s3, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		inner = s3
	case pg != nil:
		inner = artifact.NewPostgresStore(pg.DB())
	default:
		inner = artifact.NewMemoryStore()
	}
	if cfg.Compress {
		zs, err := artifact.NewCompressed(inner)
		if err != nil {
			return nil, err
		}
		inner = zs
	}
	if cfg.Enabled || pg != nil {
		return artifact.NewCached(inner, artifact.DefaultCacheConfig()), nil
	}
	return inner, nil
}

// Close releases components in reverse order of creation.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
