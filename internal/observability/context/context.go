package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	runIDKey     ctxKey = "run_id"
	fileKey      ctxKey = "file"
	triggerKey   ctxKey = "trigger"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithRunID tags ctx with the ingestion run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, runIDKey, runID)
}

func RunIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, runIDKey)
}

// EnsureRunID returns ctx carrying a run id, minting a ULID when absent.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id := RunIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return WithRunID(ctx, id), id
}

func WithFile(ctx context.Context, name string) context.Context {
	return withString(ctx, fileKey, name)
}

func FileFromContext(ctx context.Context) string {
	return stringFrom(ctx, fileKey)
}

// WithTrigger records what started a run: "schedule", "watch", "http" or "cli".
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return withString(ctx, triggerKey, trigger)
}

func TriggerFromContext(ctx context.Context) string {
	return stringFrom(ctx, triggerKey)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
