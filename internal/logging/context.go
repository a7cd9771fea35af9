package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType is the machine-readable event name attached to warnings and errors.
	FieldEventType = "event_type"
	// FieldErrorHint is the operator-facing next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID is the standardized structured logging key for task correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldTaskKind is the standardized structured logging key for task kinds.
	FieldTaskKind = "task_kind"
	// FieldGeneration is the standardized structured logging key for cache generation names.
	FieldGeneration = "generation"
	// FieldModule is the standardized structured logging key for module unit names.
	FieldModule = "module"
	// FieldSessionID identifies one daemon run.
	FieldSessionID = "session_id"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	taskKindKey
)

// WithCorrelationID stores a task correlation identifier on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation identifier stored on ctx.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok && id != ""
}

// WithTaskKind stores the task kind on the context.
func WithTaskKind(ctx context.Context, kind string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, taskKindKey, kind)
}

// TaskKindFromContext returns the task kind stored on ctx.
func TaskKindFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	kind, ok := ctx.Value(taskKindKey).(string)
	return kind, ok && kind != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if kind, ok := TaskKindFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTaskKind, kind))
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
