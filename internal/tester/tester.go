// Package tester holds helpers shared by package tests.
package tester

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// LogRecorder is a slog.Handler that keeps every record it receives.
type LogRecorder struct {
	mu      sync.Mutex
	records []slog.Record
	attrs   []slog.Attr
}

// NewLogger returns a logger backed by a fresh recorder.
func NewLogger() (*slog.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	return slog.New(rec), rec
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	rec = rec.Clone()
	rec.AddAttrs(r.attrs...)
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

// WithAttrs shares the record buffer with the parent handler.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sharedRecorder{root: r, attrs: attrs}
}

func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Records returns a snapshot of the recorded entries.
func (r *LogRecorder) Records() []slog.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]slog.Record, len(r.records))
	copy(out, r.records)
	return out
}

// AtLevel returns the records logged at exactly lvl.
func (r *LogRecorder) AtLevel(lvl slog.Level) []slog.Record {
	var out []slog.Record
	for _, rec := range r.Records() {
		if rec.Level == lvl {
			out = append(out, rec)
		}
	}
	return out
}

// Attr returns the string form of the named attribute on rec.
func Attr(rec slog.Record, key string) (string, bool) {
	var (
		val   string
		found bool
	)
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			val, found = a.Value.String(), true
			return false
		}
		return true
	})
	return val, found
}

type sharedRecorder struct {
	root  *LogRecorder
	attrs []slog.Attr
}

func (s *sharedRecorder) Enabled(ctx context.Context, l slog.Level) bool {
	return s.root.Enabled(ctx, l)
}

func (s *sharedRecorder) Handle(ctx context.Context, rec slog.Record) error {
	rec = rec.Clone()
	rec.AddAttrs(s.attrs...)
	return s.root.Handle(ctx, rec)
}

func (s *sharedRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, s.attrs...), attrs...)
	return &sharedRecorder{root: s.root, attrs: merged}
}

func (s *sharedRecorder) WithGroup(string) slog.Handler { return s }

// WriteTree creates files under root from a path->content map.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}
