// Package telemetry provides OpenTelemetry span helpers for the
// conductor's job dispatch and workflow run hot paths.
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for conductor-specific attributes.
const (
	KeyTenantID = "conductor.tenant.id"

	KeyJobID      = "conductor.job.id"
	KeyJobType    = "conductor.job.type"
	KeyJobStatus  = "conductor.job.status"
	KeyJobAttempt = "conductor.job.attempt"

	KeyWorkerID = "conductor.worker.id"

	KeyWorkflowID   = "conductor.workflow.id"
	KeyRunID        = "conductor.run.id"
	KeyRunStatus    = "conductor.run.status"

	KeyNodeID    = "conductor.node.id"
	KeyNodeKind  = "conductor.node.kind"
	KeyNodeRetry = "conductor.node.retry"

	KeyErrorKind = "conductor.error.kind"
)

// JobAttrs returns a set of attributes describing one job dispatch
// attempt.
func JobAttrs(jobID, jobType, tenantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyJobID, jobID),
		attribute.String(KeyJobType, jobType),
		attribute.String(KeyTenantID, tenantID),
	}
}

// WorkerAttrs returns a set of attributes for a dispatch worker.
func WorkerAttrs(workerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyWorkerID, workerID),
	}
}

// RunAttrs returns a set of attributes describing one workflow run.
func RunAttrs(runID, workflowID, tenantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyRunID, runID),
		attribute.String(KeyWorkflowID, workflowID),
		attribute.String(KeyTenantID, tenantID),
	}
}

// NodeAttrs returns a set of attributes describing one node execution.
func NodeAttrs(nodeID, nodeKind string, retry int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyNodeID, nodeID),
		attribute.String(KeyNodeKind, nodeKind),
		attribute.Int(KeyNodeRetry, retry),
	}
}
