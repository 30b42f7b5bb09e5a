package engine

import (
	"context"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/internal/repository"
)

// DefinitionRepo defines the interface for workflow definition lookup,
// matching repository.WorkflowDefinitionRepository.
type DefinitionRepo interface {
	FindByID(id int64) (*domain.WorkflowDefinition, error)
}

// EnrollmentRepo defines the interface for enrollment persistence.
type EnrollmentRepo interface {
	FindByID(id int64) (*domain.Enrollment, error)
	FindDue(limit int) (*[]domain.Enrollment, error)
	Claim(id int64, claimedBy string, version int) bool
	UpdateProgress(e *domain.Enrollment) (bool, error)
	ClearClaim(id int64) error
	FindStaleClaims(olderThan time.Time, limit int) (*[]domain.Enrollment, error)
	ReleaseStaleClaim(id int64, claimedAt time.Time) bool
}

// AuditRepo defines the interface for the append-only event log.
type AuditRepo interface {
	Save(ev *domain.AuditEvent) (int64, error)
	CountBillableDispatchesSince(workflowID int64, since time.Time) (int, error)
}

// CreditLedger gates billable actions. Rejection pauses the enrollment; it
// is never retried automatically.
type CreditLedger interface {
	Deduct(ctx context.Context, orgID int64, idempotencyKey string, amount int64, description string) (*repository.DeductResult, error)
}

// ContactStore is the external contact subsystem. Both operations must be
// idempotent upserts by field path so retries are safe.
type ContactStore interface {
	UpdateField(ctx context.Context, contactID, path, value string) error
	ClearField(ctx context.Context, contactID, path string) error
}

// ScenarioSender is the external scenario/email subsystem.
type ScenarioSender interface {
	SendScenario(ctx context.Context, scenarioID, contactID string) (string, error)
}
