package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name of every span ana starts.
const tracerName = "github.com/MrWong99/ana"

// Attribute keys shared by spans and log records of one turn.
const (
	KeyGameID = "game_id"
	KeyNode   = "node"
)

type scopeKey struct{}

// turnScope identifies the game and graph node a context works for.
type turnScope struct {
	gameID string
	node   string
}

func scopeFrom(ctx context.Context) turnScope {
	s, _ := ctx.Value(scopeKey{}).(turnScope)
	return s
}

// WithGame scopes ctx to gameID. Spans started with [StartSpan] and loggers
// from [Logger] under the returned context carry game_id.
func WithGame(ctx context.Context, gameID string) context.Context {
	s := scopeFrom(ctx)
	s.gameID = gameID
	s.node = ""
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithNode scopes ctx to one node of the turn graph (classifier, an entity
// id, arbiter, committer, narrator). The game scope is kept.
func WithNode(ctx context.Context, node string) context.Context {
	s := scopeFrom(ctx)
	s.node = node
	return context.WithValue(ctx, scopeKey{}, s)
}

// GameID returns the game ctx is scoped to, or "".
func GameID(ctx context.Context) string { return scopeFrom(ctx).gameID }

// Node returns the graph node ctx is scoped to, or "".
func Node(ctx context.Context) string { return scopeFrom(ctx).node }

func (s turnScope) attrs() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.gameID != "" {
		kv = append(kv, attribute.String(KeyGameID, s.gameID))
	}
	if s.node != "" {
		kv = append(kv, attribute.String(KeyNode, s.node))
	}
	return kv
}

// Tracer returns the turn engine tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span tagged with the game and node of ctx. The caller
// must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if kv := scopeFrom(ctx).attrs(); len(kv) > 0 {
		opts = append([]trace.SpanStartOption{trace.WithAttributes(kv...)}, opts...)
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the turn scope of ctx (game_id,
// node) and, inside a span, trace_id and span_id.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	s := scopeFrom(ctx)
	if s.gameID != "" {
		args = append(args, slog.String(KeyGameID, s.gameID))
	}
	if s.node != "" {
		args = append(args, slog.String(KeyNode, s.node))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	l := slog.Default()
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}
