package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobAttrs(t *testing.T) {
	attrs := JobAttrs("job-1", "noop", "acme-corp")
	assert.Len(t, attrs, 3)
	assert.Equal(t, "job-1", attrs[0].Value.AsString())
	assert.Equal(t, "noop", attrs[1].Value.AsString())
	assert.Equal(t, "acme-corp", attrs[2].Value.AsString())
}

func TestRunAttrs(t *testing.T) {
	attrs := RunAttrs("run-1", "wf-1", "acme-corp")
	assert.Equal(t, string(KeyRunID), string(attrs[0].Key))
	assert.Equal(t, string(KeyWorkflowID), string(attrs[1].Key))
	assert.Equal(t, string(KeyTenantID), string(attrs[2].Key))
}

func TestNodeAttrs(t *testing.T) {
	attrs := NodeAttrs("node-1", "single", 2)
	assert.Equal(t, int64(2), attrs[2].Value.AsInt64())
}

// No TracerProvider is registered in tests, so otel.Tracer returns its
// default no-op implementation; these calls just need to not panic.
func TestSpanLifecycle_NoopTracerIsSafe(t *testing.T) {
	ctx, span := StartJobSpan(context.Background(), SpanJobClaim, "job-1", "noop", "acme-corp")
	assert.NotNil(t, ctx)
	RecordError(span, nil, "n/a")
	EndOK(span)
	span.End()

	_, span = StartJobSpan(context.Background(), SpanJobExecute, "job-1", "noop", "acme-corp")
	RecordError(span, errors.New("boom"), "execute_failed")
	span.End()

	_, span = StartRunSpan(context.Background(), "run-1", "wf-1", "acme-corp")
	EndOK(span)
	span.End()

	_, span = StartNodeSpan(context.Background(), "node-1", "single", 0)
	EndOK(span)
	span.End()
}
