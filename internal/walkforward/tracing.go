package walkforward

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"walkforward-lab/internal/domain"
)

// TracerName is the instrumentation scope of controller spans.
const TracerName = "walkforward-lab/walkforward"

var tracer = otel.Tracer(TracerName)

func startCallSpan(ctx context.Context, name, runID, symbol string, batch domain.EvaluationBatch) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("symbol", symbol),
			attribute.Int("batch.index", batch.Index),
			attribute.String("batch.start", batch.Start.Format(domain.DateLayout)),
			attribute.String("batch.end", batch.End.Format(domain.DateLayout)),
		),
	)
}

func endCallSpan(span trace.Span, started time.Time, err error) {
	span.SetAttributes(attribute.Float64("call.duration_seconds", time.Since(started).Seconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
