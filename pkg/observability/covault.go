package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Covault semantic convention attributes.
var (
	// Account attributes
	AttrAccountID = attribute.Key("covault.account.id")
	AttrStrategy  = attribute.Key("covault.account.strategy")

	// Intent attributes
	AttrIntentKey    = attribute.Key("covault.intent.key")
	AttrIntentStatus = attribute.Key("covault.intent.status")
	AttrActionKind   = attribute.Key("covault.action.kind")

	// Outcome attributes
	AttrApprover = attribute.Key("covault.outcome.approver")
	AttrDecision = attribute.Key("covault.outcome.decision")

	// Fault attributes
	AttrFaultKind = attribute.Key("covault.fault.kind")
	AttrFaultCode = attribute.Key("covault.fault.code")
)

// AccountOperation creates attributes for account-scoped operations.
func AccountOperation(accountID, strategy string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAccountID.String(accountID),
		AttrStrategy.String(strategy),
	}
}

// IntentOperation creates attributes for intent lifecycle operations.
func IntentOperation(accountID, intentKey, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAccountID.String(accountID),
		AttrIntentKey.String(intentKey),
		AttrIntentStatus.String(status),
	}
}

// ApprovalOperation creates attributes for approvals and votes.
func ApprovalOperation(accountID, intentKey, approver, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAccountID.String(accountID),
		AttrIntentKey.String(intentKey),
		AttrApprover.String(approver),
		AttrDecision.String(decision),
	}
}

// FaultAttrs extracts trace attributes from an engine fault. Non-fault
// errors yield empty kind and code.
func FaultAttrs(err error) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrFaultKind.String(string(fault.KindOf(err))),
		AttrFaultCode.String(fault.CodeOf(err)),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
