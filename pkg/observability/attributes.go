package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metric-safe keys: their values come from small fixed sets.
var (
	AttrOperation = attribute.Key("caseledger.operation")
	AttrBackend   = attribute.Key("caseledger.backend")
	AttrEventType = attribute.Key("caseledger.event.type")
)

// Span-only keys.
var (
	AttrCaseID      = attribute.Key("caseledger.case.id")
	AttrCaseCreated = attribute.Key("caseledger.case.created")
	AttrRecords     = attribute.Key("caseledger.scan.records")
	AttrSkipped     = attribute.Key("caseledger.scan.skipped")
)

// AnnotateCase tags the current span with the case it concerns, plus any
// extra span-only attributes.
func AnnotateCase(ctx context.Context, caseID string, extra ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrCaseID.String(caseID))
	if len(extra) > 0 {
		span.SetAttributes(extra...)
	}
}
