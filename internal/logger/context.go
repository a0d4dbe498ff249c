package logger

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const TraceIDKey contextKey = "trace_id"
const CaseKeyKey contextKey = "case_key"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// WithNewTraceID tags ctx with a fresh ULID trace id.
func WithNewTraceID(ctx context.Context) (context.Context, string) {
	id := ulid.Make().String()
	return WithTraceID(ctx, id), id
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCaseKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, CaseKeyKey, key)
}

func GetCaseKey(ctx context.Context) string {
	if key, ok := ctx.Value(CaseKeyKey).(string); ok {
		return key
	}
	return ""
}

// From returns the default logger annotated with the trace id and case key carried by ctx.
func From(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetTraceID(ctx); id != "" {
		l = l.With("trace_id", id)
	}
	if key := GetCaseKey(ctx); key != "" {
		l = l.With("case", key)
	}
	return l
}
