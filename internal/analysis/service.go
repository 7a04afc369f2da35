// Package analysis runs the repository analysis pipeline: build a bounded
// context, ask the candidate models in order, then persist the outcome.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"repolens/internal/artifact"
	"repolens/internal/llm"
	llmclient "repolens/internal/llm/client"
	"repolens/internal/repoctx"
	"repolens/internal/store"
	"repolens/internal/util/jsonutil"
)

var (
	ErrNoFiles       = errors.New("analysis: no files to analyze")
	ErrEmptyContext  = errors.New("analysis: no file fits the context budget")
	ErrMissingPrompt = errors.New("analysis: prompt is required")
)

const (
	PromptArtifact     = "prompt.txt"
	TextOutputArtifact = "output.md"
	JSONOutputArtifact = "output.json"
)

// CandidateSource resolves the default candidate chain for a level.
type CandidateSource interface {
	Candidates(level llmclient.ModelLevel) []string
}

// Request describes one analysis run.
type Request struct {
	RepoID string
	Files  []repoctx.FileEntry
	// Prompt is the task put in front of the repository context.
	Prompt string
	System string
	Level  llmclient.ModelLevel
	// Candidates overrides the level's default chain when set.
	Candidates []string
	Params     llmclient.Params
	// Structured asks for a Summary document instead of free text.
	Structured bool
}

// Result is the stored analysis plus the selection and call details.
type Result struct {
	store.Analysis
	Summary *Summary
	// Trace lists every candidate attempt of the run in order.
	Trace []llm.Attempt
}

// Service implements the analysis pipeline.
type Service struct {
	builder   *repoctx.Builder
	caller    *llm.Caller
	models    CandidateSource
	store     store.Store
	artifacts artifact.Store
	logger    *slog.Logger
	timeout   time.Duration
	newID     func() string
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBuilder replaces the default builder.
func WithBuilder(b *repoctx.Builder) Option {
	return func(s *Service) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithArtifacts stores each run's prompt and output. Without it nothing is
// written besides the analysis record.
func WithArtifacts(a artifact.Store) Option {
	return func(s *Service) { s.artifacts = a }
}

// WithCallTimeout bounds the whole fallback sequence of one run.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New creates a service. A nil store keeps results in memory.
func New(caller *llm.Caller, models CandidateSource, st store.Store, opts ...Option) *Service {
	if st == nil {
		st = store.NewMemoryStore()
	}
	s := &Service{
		builder: repoctx.NewBuilder(repoctx.DefaultMaxChars),
		caller:  caller,
		models:  models,
		store:   st,
		logger:  slog.New(slog.DiscardHandler),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze runs the pipeline and persists the result.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrMissingPrompt
	}
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}
	sel := s.builder.Build(req.Files)
	if len(sel.Included) == 0 {
		return nil, fmt.Errorf("%w (%d files, budget %d chars)", ErrEmptyContext, len(req.Files), sel.MaxChars)
	}

	id := s.newID()
	prompt := ComposePrompt(req.Prompt, sel)
	candidates := req.Candidates
	if len(candidates) == 0 && s.models != nil {
		level := req.Level
		if level == "" {
			level = llmclient.ModelLevelMiddle
		}
		candidates = s.models.Candidates(level)
	}
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = DefaultSystem
	}
	callReq := llm.Request{
		Candidates: candidates,
		Prompt:     prompt,
		System:     system,
		Params:     req.Params,
		Metadata:   map[string]string{"run_id": id, "repo_id": req.RepoID},
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := &Result{}
	outputName := TextOutputArtifact
	if req.Structured {
		out, err := llm.Structured(callCtx, s.caller, callReq, SummarySchema)
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", req.RepoID, err)
		}
		doc, err := jsonutil.MarshalNoEscapeIndent(out.Value)
		if err != nil {
			return nil, err
		}
		summary := out.Value
		res.Summary = &summary
		res.Output = string(doc)
		res.Model = out.Model
		res.Trace = out.Attempts
		outputName = JSONOutputArtifact
	} else {
		out, err := s.caller.Text(callCtx, callReq)
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", req.RepoID, err)
		}
		res.Output = out.Text
		res.Model = out.Model
		res.Trace = out.Attempts
	}

	res.ID = id
	res.RepoID = req.RepoID
	res.Prompt = req.Prompt
	res.Included = includedPaths(sel)
	res.Omitted = append([]string{}, sel.Omitted...)
	res.UsedChars = sel.UsedChars
	res.MaxChars = sel.MaxChars
	res.Attempts = len(res.Trace)
	res.CreatedAt = s.now()

	// Storage runs on ctx, outside the call timeout.
	s.storeArtifacts(ctx, id, prompt, outputName, res.Output)
	if err := s.store.Put(ctx, res.Analysis); err != nil {
		return nil, fmt.Errorf("persist analysis %s: %w", id, err)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "analysis complete",
		slog.String("run_id", id),
		slog.String("repo_id", req.RepoID),
		slog.String("model", res.Model),
		slog.Int("included", len(res.Included)),
		slog.Int("omitted", len(res.Omitted)),
		slog.Int("attempts", res.Attempts),
	)
	return res, nil
}

func (s *Service) storeArtifacts(ctx context.Context, id, prompt, outputName, output string) {
	if s.artifacts == nil {
		return
	}
	for name, body := range map[string]string{PromptArtifact: prompt, outputName: output} {
		if err := s.artifacts.Put(ctx, id, name, []byte(body)); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "store artifact failed",
				slog.String("run_id", id),
				slog.String("path", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Get returns a stored analysis.
func (s *Service) Get(ctx context.Context, id string) (store.Analysis, error) {
	return s.store.Get(ctx, id)
}

// History lists the newest analyses of a repository.
func (s *Service) History(ctx context.Context, repoID string, limit int) ([]store.Analysis, error) {
	return s.store.ListByRepo(ctx, repoID, limit)
}

// Artifact reads a file stored for a run.
func (s *Service) Artifact(ctx context.Context, runID, path string) ([]byte, error) {
	if s.artifacts == nil {
		return nil, artifact.ErrNotFound
	}
	return s.artifacts.Get(ctx, runID, path)
}

func includedPaths(sel repoctx.SelectionResult) []string {
	out := make([]string, len(sel.Included))
	for i, f := range sel.Included {
		out[i] = f.Path
	}
	return out
}
