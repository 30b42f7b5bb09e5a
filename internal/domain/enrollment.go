package domain

import (
	"database/sql"
	"time"
)

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "PENDING"
	EnrollmentWaiting   EnrollmentStatus = "WAITING"
	EnrollmentBranching EnrollmentStatus = "BRANCHING"
	EnrollmentExecuting EnrollmentStatus = "EXECUTING"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentPaused    EnrollmentStatus = "PAUSED"
	EnrollmentFailed    EnrollmentStatus = "FAILED"
	EnrollmentRemoved   EnrollmentStatus = "REMOVED"
)

// Active reports whether the enrollment can still make progress. Paused is
// not active: it needs a top-up or a manual resume.
func (s EnrollmentStatus) Active() bool {
	switch s {
	case EnrollmentPending, EnrollmentWaiting, EnrollmentBranching, EnrollmentExecuting:
		return true
	}
	return false
}

// Terminal reports whether the enrollment is finished for good.
func (s EnrollmentStatus) Terminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentFailed, EnrollmentRemoved:
		return true
	}
	return false
}

const PauseReasonInsufficientCredits = "insufficient_credits"

// Enrollment tracks one contact's progress through one workflow. Version
// backs optimistic concurrency: every transition writes conditionally on
// the version it read.
type Enrollment struct {
	ID                    int64
	ExternalID            string
	WorkflowID            int64
	OrganizationID        int64
	ContactID             string
	CurrentStepClientID   string
	Status                EnrollmentStatus
	NextEligibleAt        sql.NullTime
	AttemptsOnCurrentStep int
	ClaimedBy             sql.NullString
	ClaimedAt             sql.NullTime
	PauseReason           sql.NullString
	Version               int
	Created               time.Time
	Modified              time.Time
}
