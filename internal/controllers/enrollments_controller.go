package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

// EnrollmentsController admits contacts into workflows and exposes
// enrollment state to operators.
type EnrollmentsController struct {
	Definitions DefinitionStore
	Enrollments EnrollmentStore
	Audit       AuditStore
	Engine      Waker
	Clock       core.Clock
}

func NewEnrollmentsController(definitions DefinitionStore, enrollments EnrollmentStore,
	audit AuditStore, engine Waker, clock core.Clock) *EnrollmentsController {
	return &EnrollmentsController{
		Definitions: definitions,
		Enrollments: enrollments,
		Audit:       audit,
		Engine:      engine,
		Clock:       clock,
	}
}

func (c *EnrollmentsController) handleCreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == 0 || req.ContactID == "" {
		http.Error(w, "workflowId and contactId are required", http.StatusBadRequest)
		return
	}

	def, err := c.Definitions.FindByID(req.WorkflowID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if !def.IsActive {
		http.Error(w, "workflow is not active", http.StatusBadRequest)
		return
	}

	existing, err := c.Enrollments.FindLiveByWorkflowAndContact(req.WorkflowID, req.ContactID)
	if err != nil {
		slog.Error("Failed duplicate enrollment check", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, domain.ErrDuplicateEnrollment.Error(), http.StatusConflict)
		return
	}

	enr := &domain.Enrollment{
		ExternalID:     uuid.NewString(),
		WorkflowID:     def.ID,
		OrganizationID: def.OrganizationID,
		ContactID:      req.ContactID,
		Status:         domain.EnrollmentPending,
		NextEligibleAt: sql.NullTime{Time: c.Clock.Now().UTC(), Valid: true},
	}
	if first := def.FirstStep(); first != nil {
		enr.CurrentStepClientID = first.ClientID
	}

	slog.InfoContext(r.Context(), "Creating enrollment", "workflow_id", def.ID,
		"contact_id", req.ContactID, "external_id", enr.ExternalID)
	if _, err := c.Enrollments.Save(enr); err != nil {
		slog.Error("Failed to save enrollment", "error", err)
		http.Error(w, "failed to create enrollment", http.StatusInternalServerError)
		return
	}

	c.Engine.Wakeup()
	writeJSON(w, http.StatusOK, mapEnrollmentToResponse(enr))
}

func (c *EnrollmentsController) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	enr, err := c.Enrollments.FindByID(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapEnrollmentToResponse(enr))
}

func (c *EnrollmentsController) handleGetEnrollmentEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := c.Enrollments.FindByID(id); err != nil {
		writeLookupError(w, err)
		return
	}
	events, err := c.Audit.FindAllByEnrollmentID(id)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	out := make([]AuditEventResponse, 0, len(*events))
	for _, ev := range *events {
		out = append(out, AuditEventResponse{
			ID:       ev.ID,
			Type:     ev.Type,
			Name:     ev.Name,
			Text:     ev.Text,
			Billable: ev.Billable,
			DateTime: ev.DateTime,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResumeEnrollment puts a paused enrollment back in front of the
// scheduler, typically after a credit top-up.
func (c *EnrollmentsController) handleResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	resumed, err := c.Enrollments.Resume(id)
	if err != nil {
		slog.Error("Failed to resume enrollment", "enrollment_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !resumed {
		http.Error(w, "enrollment is not paused", http.StatusConflict)
		return
	}
	slog.InfoContext(r.Context(), "Resumed enrollment", "enrollment_id", id)
	c.Engine.Wakeup()
	w.WriteHeader(http.StatusNoContent)
}

func mapEnrollmentToResponse(enr *domain.Enrollment) EnrollmentResponse {
	resp := EnrollmentResponse{
		ID:                    enr.ID,
		ExternalID:            enr.ExternalID,
		WorkflowID:            enr.WorkflowID,
		OrganizationID:        enr.OrganizationID,
		ContactID:             enr.ContactID,
		CurrentStepClientID:   enr.CurrentStepClientID,
		Status:                string(enr.Status),
		AttemptsOnCurrentStep: enr.AttemptsOnCurrentStep,
		PauseReason:           enr.PauseReason.String,
		Created:               enr.Created,
		Modified:              enr.Modified,
	}
	if enr.NextEligibleAt.Valid {
		t := enr.NextEligibleAt.Time
		resp.NextEligibleAt = &t
	}
	return resp
}
