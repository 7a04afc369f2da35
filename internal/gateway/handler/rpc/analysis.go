package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"repolens/internal/analysis"
	"repolens/internal/artifact"
	"repolens/internal/llm"
	llmclient "repolens/internal/llm/client"
	"repolens/internal/repoctx"
	"repolens/internal/scan"
	"repolens/internal/store"
)

const (
	ServiceName = "repolens.v1.AnalysisService"

	AnalyzeProcedure      = "/" + ServiceName + "/Analyze"
	GetAnalysisProcedure  = "/" + ServiceName + "/GetAnalysis"
	ListAnalysesProcedure = "/" + ServiceName + "/ListAnalyses"
)

// GitLoader fetches the files of a remote repository.
type GitLoader func(ctx context.Context, src scan.GitSource, opts scan.Options) ([]repoctx.FileEntry, error)

// AnalysisHandler exposes the analysis service over Connect. Messages are
// google.protobuf.Struct documents with snake_case keys.
type AnalysisHandler struct {
	svc      *analysis.Service
	loadGit  GitLoader
	scanOpts scan.Options
	logger   *slog.Logger
}

type HandlerOption func(*AnalysisHandler)

func WithGitLoader(l GitLoader) HandlerOption {
	return func(h *AnalysisHandler) { h.loadGit = l }
}

func WithScanOptions(o scan.Options) HandlerOption {
	return func(h *AnalysisHandler) { h.scanOpts = o }
}

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *AnalysisHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewAnalysisHandler(svc *analysis.Service, opts ...HandlerOption) *AnalysisHandler {
	h := &AnalysisHandler{
		svc:     svc,
		loadGit: scan.LoadGit,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type analyzeInput struct {
	RepoID          string              `json:"repo_id"`
	RepoURL         string              `json:"repo_url"`
	Branch          string              `json:"branch"`
	Files           []repoctx.FileEntry `json:"files"`
	Prompt          string              `json:"prompt"`
	System          string              `json:"system"`
	Level           string              `json:"level"`
	Models          []string            `json:"models"`
	Structured      bool                `json:"structured"`
	Temperature     *float32            `json:"temperature"`
	TopP            *float32            `json:"top_p"`
	MaxOutputTokens int                 `json:"max_output_tokens"`
	StopSequences   []string            `json:"stop_sequences"`
	SearchGrounding bool                `json:"search_grounding"`
	Metadata        map[string]string   `json:"metadata"`
}

func (h *AnalysisHandler) Analyze(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in analyzeInput
	if err := decode(req.Msg, &in); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	var level llmclient.ModelLevel
	if strings.TrimSpace(in.Level) != "" {
		l, err := llmclient.ParseModelLevel(in.Level)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		level = l
	}

	files := in.Files
	repoID := strings.TrimSpace(in.RepoID)
	if url := strings.TrimSpace(in.RepoURL); url != "" {
		if len(files) > 0 {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("repo_url and files are mutually exclusive"))
		}
		if err := scan.CheckRemoteURL(url); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		loaded, err := h.loadGit(ctx, scan.GitSource{URL: url, Branch: in.Branch}, h.scanOpts)
		if err != nil {
			h.logger.LogAttrs(ctx, slog.LevelWarn, "load repository failed",
				slog.String("repo_url", url),
				slog.String("error", err.Error()),
			)
			return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("load repository: %w", err))
		}
		files = loaded
		if repoID == "" {
			repoID = url
		}
	}

	ctx = llm.WithMetadata(ctx, in.Metadata)
	res, err := h.svc.Analyze(ctx, analysis.Request{
		RepoID:     repoID,
		Files:      files,
		Prompt:     in.Prompt,
		System:     in.System,
		Level:      level,
		Candidates: in.Models,
		Params: llmclient.Params{
			Temperature:     in.Temperature,
			TopP:            in.TopP,
			MaxOutputTokens: in.MaxOutputTokens,
			StopSequences:   in.StopSequences,
			SearchGrounding: in.SearchGrounding,
		},
		Structured: in.Structured,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	attempts := make([]any, len(res.Trace))
	for i, a := range res.Trace {
		m := map[string]any{
			"model":       a.Model,
			"outcome":     a.Outcome.String(),
			"duration_ms": a.Duration.Milliseconds(),
		}
		if a.Err != nil {
			m["error"] = a.Err.Error()
		}
		attempts[i] = m
	}
	out := analysisMap(res.Analysis)
	out["trace"] = attempts
	return respond(out)
}

func (h *AnalysisHandler) GetAnalysis(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "id")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("id is required"))
	}
	a, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(analysisMap(a))
}

func (h *AnalysisHandler) ListAnalyses(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	repoID := stringField(req.Msg, "repo_id")
	if repoID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("repo_id is required"))
	}
	limit := 0
	if v, ok := req.Msg.GetFields()["limit"]; ok {
		limit = int(v.GetNumberValue())
	}
	list, err := h.svc.History(ctx, repoID, limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	items := make([]any, len(list))
	for i, a := range list {
		items[i] = analysisMap(a)
	}
	return respond(map[string]any{"analyses": items})
}

func decode(msg *structpb.Struct, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(msg.AsMap())
}

func stringField(msg *structpb.Struct, key string) string {
	return strings.TrimSpace(msg.GetFields()[key].GetStringValue())
}

func analysisMap(a store.Analysis) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"repo_id":    a.RepoID,
		"prompt":     a.Prompt,
		"model":      a.Model,
		"output":     a.Output,
		"included":   stringList(a.Included),
		"omitted":    stringList(a.Omitted),
		"used_chars": a.UsedChars,
		"max_chars":  a.MaxChars,
		"attempts":   a.Attempts,
		"created_at": a.CreatedAt.Format(time.RFC3339),
	}
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func respond(m map[string]any) (*connect.Response[structpb.Struct], error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(s), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, analysis.ErrMissingPrompt),
		errors.Is(err, analysis.ErrNoFiles),
		errors.Is(err, analysis.ErrEmptyContext):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, llm.ErrNoCandidates):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, llm.ErrAllCandidatesFailed):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("analysis service failed: %w", err))
	}
}
