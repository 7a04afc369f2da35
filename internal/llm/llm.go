// Package llm calls generative models through an ordered list of candidates,
// falling back to the next candidate when one fails or returns nothing usable.
package llm

import (
	"context"
	"log/slog"
	"sort"

	llmclient "repolens/internal/llm/client"
)

// ClientSource resolves a candidate identifier to a ready client.
type ClientSource interface {
	Client(ctx context.Context, id string) (llmclient.LLMClient, error)
}

type metadataKey struct{}

// WithMetadata attaches correlation fields that the caller and the logging
// middleware add to every record. Later values override earlier ones.
func WithMetadata(ctx context.Context, md map[string]string) context.Context {
	if len(md) == 0 {
		return ctx
	}
	merged := make(map[string]string, len(md))
	for k, v := range MetadataFrom(ctx) {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataKey{}, merged)
}

// MetadataFrom returns the metadata stored in the context, or nil.
func MetadataFrom(ctx context.Context) map[string]string {
	if v, ok := ctx.Value(metadataKey{}).(map[string]string); ok {
		return v
	}
	return nil
}

func metadataAttrs(ctx context.Context) []slog.Attr {
	md := MetadataFrom(ctx)
	if len(md) == 0 {
		return nil
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, md[k]))
	}
	return attrs
}

func discardIfNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
