package controllers

import (
	"encoding/json"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
)

// OptionalInt64 distinguishes an absent PATCH field from an explicit
// null: absent leaves the stored value unchanged, null clears it.
type OptionalInt64 struct {
	Set   bool
	Value *int64
}

func (o *OptionalInt64) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

type OptionalString struct {
	Set   bool
	Value *string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

type WorkflowRequest struct {
	OrganizationID    int64                 `json:"organizationId"`
	Name              string                `json:"name"`
	Steps             []domain.WorkflowStep `json:"steps"`
	DailyContactLimit *int64                `json:"dailyContactLimit"`
	DripStartTime     string                `json:"dripStartTime"`
	DripEndTime       string                `json:"dripEndTime"`
	Timezone          string                `json:"timezone"`
}

type WorkflowPatchRequest struct {
	Name              *string                `json:"name"`
	Steps             *[]domain.WorkflowStep `json:"steps"`
	DailyContactLimit OptionalInt64          `json:"dailyContactLimit"`
	DripStartTime     OptionalString         `json:"dripStartTime"`
	DripEndTime       OptionalString         `json:"dripEndTime"`
	Timezone          OptionalString         `json:"timezone"`
}

type WorkflowStatusRequest struct {
	IsActive bool `json:"isActive"`
}

type WorkflowResponse struct {
	ID                int64                 `json:"id"`
	OrganizationID    int64                 `json:"organizationId"`
	Name              string                `json:"name"`
	Steps             []domain.WorkflowStep `json:"steps"`
	DailyContactLimit *int64                `json:"dailyContactLimit,omitempty"`
	DripStartTime     string                `json:"dripStartTime,omitempty"`
	DripEndTime       string                `json:"dripEndTime,omitempty"`
	Timezone          string                `json:"timezone,omitempty"`
	IsActive          bool                  `json:"isActive"`
	Created           time.Time             `json:"created"`
	Modified          time.Time             `json:"modified"`
}

type ValidationErrorResponse struct {
	Errors []string `json:"errors"`
}

type CreateEnrollmentRequest struct {
	WorkflowID int64  `json:"workflowId"`
	ContactID  string `json:"contactId"`
}

type EnrollmentResponse struct {
	ID                    int64      `json:"id"`
	ExternalID            string     `json:"externalId"`
	WorkflowID            int64      `json:"workflowId"`
	OrganizationID        int64      `json:"organizationId"`
	ContactID             string     `json:"contactId"`
	CurrentStepClientID   string     `json:"currentStepClientId,omitempty"`
	Status                string     `json:"status"`
	NextEligibleAt        *time.Time `json:"nextEligibleAt,omitempty"`
	AttemptsOnCurrentStep int        `json:"attemptsOnCurrentStep"`
	PauseReason           string     `json:"pauseReason,omitempty"`
	Created               time.Time  `json:"created"`
	Modified              time.Time  `json:"modified"`
}

type AuditEventResponse struct {
	ID       int64     `json:"id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Text     string    `json:"text,omitempty"`
	Billable bool      `json:"billable"`
	DateTime time.Time `json:"dateTime"`
}

type CreateOrganizationRequest struct {
	Name          string `json:"name"`
	BillingPlan   string `json:"billingPlan"`
	CreditBalance int64  `json:"creditBalance"`
}

type CreditsResponse struct {
	CreditBalance int64  `json:"creditBalance"`
	BillingPlan   string `json:"billingPlan"`
}

type DeductRequest struct {
	WebhookLogID string `json:"webhookLogId"`
	Amount       int64  `json:"amount"`
	Description  string `json:"description"`
}

type DeductResponse struct {
	RemainingBalance int64 `json:"remainingBalance"`
	AlreadyApplied   bool  `json:"alreadyApplied"`
}
