package domain

import "time"

// Audit event types written by the engine. DISPATCH_REQUEST is logged
// before an outbound call is attempted so a crash mid-call is diagnosable:
// a request row with no matching result row means "sent, response unknown".
const (
	AuditClaimed         = "CLAIMED"
	AuditTransition      = "TRANSITION"
	AuditDispatchRequest = "DISPATCH_REQUEST"
	AuditDispatchResult  = "DISPATCH_RESULT"
	AuditDispatched      = "DISPATCHED"
	AuditDeferred        = "DEFERRED"
	AuditRetry           = "RETRY"
	AuditPaused          = "PAUSED"
	AuditFailed          = "FAILED"
	AuditCompleted       = "COMPLETED"
	AuditRemoved         = "REMOVED"
	AuditRepaired        = "REPAIRED"
	AuditResumed         = "RESUMED"
)

// AuditEvent is one append-only row in the engine's event log. Billable
// DISPATCHED rows double as the daily-cap counter source.
type AuditEvent struct {
	ID             int64
	EnrollmentID   int64
	WorkflowID     int64
	OrganizationID int64
	Type           string
	Name           string
	Text           string
	Billable       bool
	DateTime       time.Time
}
