package app

import (
	"context"
	"errors"
	"log/slog"

	"repolens/internal/bootstrap"
	"repolens/internal/config"
	"repolens/internal/gateway/handler/rpc"
	"repolens/internal/gateway/server"
)

type App struct {
	server *server.Server
	env    *bootstrap.Env
	logger *slog.Logger
}

// New wires the analysis stack behind the RPC server. Extra handler options
// are applied after the defaults.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...rpc.HandlerOption) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	env, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	handlerOpts := append([]rpc.HandlerOption{rpc.WithHandlerLogger(logger)}, opts...)
	analysisHandler := rpc.NewAnalysisHandler(env.Service, handlerOpts...)

	mux := server.NewMux(analysisHandler, cfg.CORSOrigins...)
	srv := server.New(cfg.Port, mux, logger)

	return &App{server: srv, env: env, logger: logger}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

// Shutdown stops accepting requests, then releases the model clients and stores.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.env.Close())
}
