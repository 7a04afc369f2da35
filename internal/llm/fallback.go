package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	llmclient "repolens/internal/llm/client"
)

var (
	// ErrNoCandidates is returned before any backend is contacted when the
	// candidate list is empty.
	ErrNoCandidates = errors.New("llm: no candidate models configured")
	// ErrAllCandidatesFailed is matched by every *ExhaustedError.
	ErrAllCandidatesFailed = errors.New("llm: all candidate models failed")
)

// Outcome classifies one attempt.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed covers backend errors, unresolvable candidates, recovered
	// panics and schema mismatches.
	OutcomeFailed
	// OutcomeEmpty is a call that completed without usable output.
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeEmpty:
		return "empty"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Attempt records one candidate call.
type Attempt struct {
	Index    int
	Model    string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// AttemptHook observes every attempt as soon as it finishes.
type AttemptHook func(ctx context.Context, a Attempt)

// Request is one fallback invocation.
type Request struct {
	// Candidates are tried in order. Blank and repeated identifiers are skipped.
	Candidates []string
	Prompt     string
	System     string
	Params     llmclient.Params
	// Metadata is attached to log records for correlation only.
	Metadata map[string]string
}

// TextResult is the outcome of an unstructured call.
type TextResult struct {
	Text     string
	Model    string
	Attempts []Attempt
}

// StructuredResult is the outcome of a schema-validated call. Value is what
// the schema produced, not the raw text.
type StructuredResult[T any] struct {
	Value    T
	Raw      string
	Model    string
	Attempts []Attempt
}

// ExhaustedError is returned when no candidate produced a usable result.
// It matches ErrAllCandidatesFailed and unwraps to the last recorded error.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s after %d attempt(s)", ErrAllCandidatesFailed, len(e.Attempts))
	}
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrAllCandidatesFailed, len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllCandidatesFailed}
	}
	return []error{ErrAllCandidatesFailed, e.Last}
}

// Caller tries candidate models strictly in order and returns the first
// usable result. The same candidate is never called twice in one invocation.
type Caller struct {
	src    ClientSource
	logger *slog.Logger
	hook   AttemptHook
}

type CallerOption func(*Caller)

func WithLogger(l *slog.Logger) CallerOption {
	return func(c *Caller) { c.logger = discardIfNil(l) }
}

func WithAttemptHook(h AttemptHook) CallerOption {
	return func(c *Caller) { c.hook = h }
}

func NewCaller(src ClientSource, opts ...CallerOption) *Caller {
	c := &Caller{src: src, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Text requests raw text. Empty or whitespace-only text is not usable.
func (c *Caller) Text(ctx context.Context, req Request) (*TextResult, error) {
	var text string
	model, attempts, err := c.run(ctx, req, nil, func(out *llmclient.Completion) (bool, error) {
		if strings.TrimSpace(out.Text) == "" {
			return false, nil
		}
		text = out.Text
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &TextResult{Text: text, Model: model, Attempts: attempts}, nil
}

// Structured requests JSON shaped by schema and returns the validated value.
// Output that fails validation fails the attempt; JSON null is empty.
func Structured[T any](ctx context.Context, c *Caller, req Request, schema Schema[T]) (*StructuredResult[T], error) {
	if schema == nil {
		return nil, errors.New("llm: structured call without schema")
	}
	var (
		value T
		raw   string
	)
	model, attempts, err := c.run(ctx, req, schema.Spec(), func(out *llmclient.Completion) (bool, error) {
		if strings.TrimSpace(out.Text) == "" {
			return false, nil
		}
		v, ok, err := schema.Parse(out.Text)
		if err != nil || !ok {
			return false, err
		}
		value, raw = v, out.Text
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &StructuredResult[T]{Value: value, Raw: raw, Model: model, Attempts: attempts}, nil
}

// acceptFunc inspects a non-nil completion. It returns true for a usable
// result, false with a nil error for an empty one, or an error.
type acceptFunc func(out *llmclient.Completion) (bool, error)

func (c *Caller) run(ctx context.Context, req Request, spec *llmclient.Schema, accept acceptFunc) (string, []Attempt, error) {
	candidates := dedupe(req.Candidates)
	if len(candidates) == 0 {
		return "", nil, ErrNoCandidates
	}
	ctx = WithMetadata(ctx, req.Metadata)
	creq := &llmclient.Request{
		Prompt: req.Prompt,
		System: req.System,
		Params: req.Params,
		Schema: spec,
	}

	attempts := make([]Attempt, 0, len(candidates))
	var last error
	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		a := c.attempt(ctx, i, id, creq, accept)
		attempts = append(attempts, a)
		c.record(ctx, a)
		switch a.Outcome {
		case OutcomeSucceeded:
			return id, attempts, nil
		case OutcomeFailed:
			if a.Err != nil {
				last = a.Err
			}
		}
	}

	err := &ExhaustedError{Attempts: attempts, Last: last}
	attrs := append(metadataAttrs(ctx), slog.Int("attempts", len(attempts)))
	if last != nil {
		attrs = append(attrs, slog.String("error", last.Error()))
	}
	c.logger.LogAttrs(ctx, slog.LevelError, "llm candidates exhausted", attrs...)
	return "", attempts, err
}

// attempt calls one candidate. Panics from the backend are recovered into a
// failed attempt; a nil panic value records no error.
func (c *Caller) attempt(ctx context.Context, i int, id string, req *llmclient.Request, accept acceptFunc) (a Attempt) {
	a = Attempt{Index: i, Model: id}
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			a.Outcome, a.Err = OutcomeFailed, panicError(id, v)
		}
		a.Duration = time.Since(start)
	}()

	cli, err := c.src.Client(ctx, id)
	if err != nil {
		a.Outcome, a.Err = OutcomeFailed, err
		return a
	}
	out, err := cli.Generate(ctx, req)
	if err != nil {
		a.Outcome, a.Err = OutcomeFailed, err
		return a
	}
	if out == nil {
		a.Outcome = OutcomeEmpty
		return a
	}
	ok, err := accept(out)
	switch {
	case err != nil:
		a.Outcome, a.Err = OutcomeFailed, err
	case ok:
		a.Outcome = OutcomeSucceeded
	default:
		a.Outcome = OutcomeEmpty
	}
	return a
}

func panicError(id string, v any) error {
	if _, ok := v.(*runtime.PanicNilError); ok {
		return nil
	}
	if err, ok := v.(error); ok {
		return fmt.Errorf("llm: %s panicked: %w", id, err)
	}
	return fmt.Errorf("llm: %s panicked: %v", id, v)
}

func (c *Caller) record(ctx context.Context, a Attempt) {
	if c.hook != nil {
		c.hook(ctx, a)
	}
	attrs := append(metadataAttrs(ctx),
		slog.String("model", a.Model),
		slog.Int("attempt", a.Index+1),
		slog.String("outcome", a.Outcome.String()),
		slog.Duration("duration", a.Duration),
	)
	switch a.Outcome {
	case OutcomeSucceeded:
		c.logger.LogAttrs(ctx, slog.LevelInfo, "llm attempt succeeded", attrs...)
	case OutcomeEmpty:
		c.logger.LogAttrs(ctx, slog.LevelInfo, "llm attempt returned no output", attrs...)
	case OutcomeFailed:
		if a.Err != nil {
			attrs = append(attrs, slog.String("error", a.Err.Error()))
		}
		c.logger.LogAttrs(ctx, slog.LevelWarn, "llm attempt failed", attrs...)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
