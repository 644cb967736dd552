package kafka

import (
	"context"
	"maps"
)

type metadataKey struct{}

// WithMetadata attaches record headers to ctx.
func WithMetadata(ctx context.Context, metadata map[string]string) context.Context {
	return context.WithValue(ctx, metadataKey{}, metadata)
}

// MetadataFromContext returns the headers attached to ctx.
func MetadataFromContext(ctx context.Context) (map[string]string, bool) {
	metadata, ok := ctx.Value(metadataKey{}).(map[string]string)
	return metadata, ok
}

// Enrich returns a context carrying one more header. The parent's headers
// are copied, never mutated.
func Enrich(ctx context.Context, key, value string) context.Context {
	parent, _ := MetadataFromContext(ctx)
	meta := make(map[string]string, len(parent)+1)
	maps.Copy(meta, parent)
	meta[key] = value
	return WithMetadata(ctx, meta)
}

// DetachedContext keeps the values of ctx but drops its deadline and
// cancellation, for records that are produced asynchronously.
func DetachedContext(ctx context.Context) context.Context {
	return detachedContext{Context: context.Background(), orig: ctx}
}

//nolint:containedctx // values are read from the original context
type detachedContext struct {
	context.Context

	orig context.Context
}

func (c detachedContext) Value(key any) any {
	return c.orig.Value(key)
}
