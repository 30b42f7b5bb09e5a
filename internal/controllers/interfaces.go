package controllers

import (
	"context"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/internal/repository"
)

// DefinitionStore matches repository.WorkflowDefinitionRepository.
type DefinitionStore interface {
	Save(def *domain.WorkflowDefinition) (int64, error)
	Update(def *domain.WorkflowDefinition) error
	FindByID(id int64) (*domain.WorkflowDefinition, error)
	FindByOrganization(orgID int64) (*[]domain.WorkflowDefinition, error)
	SetActive(id int64, active bool) error
}

// EnrollmentStore matches repository.EnrollmentRepository.
type EnrollmentStore interface {
	Save(e *domain.Enrollment) (int64, error)
	FindByID(id int64) (*domain.Enrollment, error)
	FindLiveByWorkflowAndContact(workflowID int64, contactID string) (*domain.Enrollment, error)
	Resume(id int64) (bool, error)
}

// AuditStore matches repository.AuditEventRepository.
type AuditStore interface {
	FindAllByEnrollmentID(enrollmentID int64) (*[]domain.AuditEvent, error)
}

// CreditStore matches repository.CreditRepository.
type CreditStore interface {
	Deduct(ctx context.Context, orgID int64, idempotencyKey string, amount int64, description string) (*repository.DeductResult, error)
}

// OrganizationStore matches repository.OrganizationRepository.
type OrganizationStore interface {
	FindByID(id int64) (*domain.Organization, error)
	Save(org *domain.Organization) (int64, error)
}

// Waker nudges the engine after work is created outside its tick.
type Waker interface {
	Wakeup()
}
