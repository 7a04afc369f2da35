package server

import (
	"net/http"

	"connectrpc.com/connect"

	"repolens/internal/gateway/handler/rpc"
	"repolens/internal/gateway/middleware"
)

// NewMux routes the analysis procedures and a health check.
func NewMux(analysis *rpc.AnalysisHandler, origins ...string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(rpc.AnalyzeProcedure, connect.NewUnaryHandler(rpc.AnalyzeProcedure, analysis.Analyze))
	mux.Handle(rpc.GetAnalysisProcedure, connect.NewUnaryHandler(rpc.GetAnalysisProcedure, analysis.GetAnalysis))
	mux.Handle(rpc.ListAnalysesProcedure, connect.NewUnaryHandler(rpc.ListAnalysesProcedure, analysis.ListAnalyses))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	return middleware.CORS(origins...)(mux)
}
