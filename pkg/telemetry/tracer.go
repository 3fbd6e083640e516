package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for the conductor process.
var tracer = otel.Tracer("conductor")

// Span names for conductor operations.
const (
	SpanJobClaim   = "conductor.job.claim"
	SpanJobExecute = "conductor.job.execute"

	SpanWorkflowRun  = "conductor.workflow.run"
	SpanNodeExecute  = "conductor.node.execute"
)

// StartJobSpan starts a span for one job dispatch attempt.
func StartJobSpan(ctx context.Context, name, jobID, jobType, tenantID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(JobAttrs(jobID, jobType, tenantID)...))
}

// StartRunSpan starts a span for one workflow run.
func StartRunSpan(ctx context.Context, runID, workflowID, tenantID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanWorkflowRun, trace.WithAttributes(RunAttrs(runID, workflowID, tenantID)...))
}

// StartNodeSpan starts a span for one node execution within a run.
func StartNodeSpan(ctx context.Context, nodeID, nodeKind string, retry int) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanNodeExecute, trace.WithAttributes(NodeAttrs(nodeID, nodeKind, retry)...))
}

// RecordError records an error on a span and marks it failed. A nil err
// leaves the span status untouched so a caller can call this
// unconditionally at a defer site.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String(KeyErrorKind, kind)))
	span.SetStatus(codes.Error, err.Error())
}

// EndOK sets a span's status to Ok. Call at the success path of an
// operation that also calls RecordError on failure, so every span ends
// with an explicit status rather than Unset.
func EndOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
