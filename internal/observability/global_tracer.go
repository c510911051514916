package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer used by the Trace* helpers
func InitGlobalTracer() {
	globalTracer = otel.Tracer("zporta")
}

// GetGlobalTracer returns the global tracer, initializing it lazily
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		globalTracer = otel.Tracer("zporta")
	}
	return globalTracer
}

// TraceFunction starts a span named "<service>.<function>" on the global tracer
func TraceFunction(ctx context.Context, serviceName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	spanName := serviceName + "." + functionName
	return GetGlobalTracer().Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceEventFunction starts a span for event ingestion operations
func TraceEventFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "event", functionName, attributes...)
}

// TraceMemoryFunction starts a span for spaced-repetition operations
func TraceMemoryFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "memory", functionName, attributes...)
}

// TraceEngineFunction starts a span for batch estimator operations
func TraceEngineFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "engine", functionName, attributes...)
}

// TraceFeedFunction starts a span for feed composition operations
func TraceFeedFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "feed", functionName, attributes...)
}

// TraceInsightFunction starts a span for insight cache operations
func TraceInsightFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "insight", functionName, attributes...)
}

// TraceProviderFunction starts a span for provider gateway operations
func TraceProviderFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "provider", functionName, attributes...)
}

// TracePodcastFunction starts a span for podcast orchestration operations
func TracePodcastFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "podcast", functionName, attributes...)
}

// TraceWorkerFunction starts a span for background worker operations
func TraceWorkerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "worker", functionName, attributes...)
}

// TraceHandlerFunction starts a span for HTTP handler operations
func TraceHandlerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "handler", functionName, attributes...)
}

// TraceDatabaseFunction starts a span for database setup operations
func TraceDatabaseFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "database", functionName, attributes...)
}

// AttributeUserID creates a user ID attribute
func AttributeUserID(id int) attribute.KeyValue {
	return attribute.Int("user.id", id)
}

// AttributeItemID creates an item object ID attribute
func AttributeItemID(id int) attribute.KeyValue {
	return attribute.Int("item.id", id)
}

// AttributeItemKind creates an item kind attribute
func AttributeItemKind(kind string) attribute.KeyValue {
	return attribute.String("item.kind", kind)
}

// AttributeEventKind creates an event kind attribute
func AttributeEventKind(kind string) attribute.KeyValue {
	return attribute.String("event.kind", kind)
}

// AttributeSubject creates a subject attribute
func AttributeSubject(subjectID int) attribute.KeyValue {
	return attribute.Int("subject.id", subjectID)
}

// AttributeProvider creates a provider code attribute
func AttributeProvider(provider string) attribute.KeyValue {
	return attribute.String("provider.code", provider)
}

// AttributeEngine creates an insight engine attribute
func AttributeEngine(engine string) attribute.KeyValue {
	return attribute.String("insight.engine", engine)
}

// AttributeLimit creates a limit attribute
func AttributeLimit(limit int) attribute.KeyValue {
	return attribute.Int("limit", limit)
}

// AttributeJobName creates a worker job name attribute
func AttributeJobName(job string) attribute.KeyValue {
	return attribute.String("worker.job", job)
}
