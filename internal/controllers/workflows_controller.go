package controllers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/outflowhq/outflow/internal/domain"
)

// WorkflowsController holds dependencies for workflow definition HTTP endpoints.
type WorkflowsController struct {
	Definitions DefinitionStore
}

func NewWorkflowsController(definitions DefinitionStore) *WorkflowsController {
	return &WorkflowsController{Definitions: definitions}
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	def := &domain.WorkflowDefinition{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Steps:          req.Steps,
		DripStartTime:  req.DripStartTime,
		DripEndTime:    req.DripEndTime,
		Timezone:       req.Timezone,
		IsActive:       true,
	}
	if req.DailyContactLimit != nil {
		def.DailyContactLimit = sql.NullInt64{Int64: *req.DailyContactLimit, Valid: true}
	}

	if err := domain.ValidateDefinition(def); err != nil {
		writeValidationError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "Creating workflow definition",
		"organization_id", def.OrganizationID, "name", def.Name, "steps", len(def.Steps))
	if _, err := c.Definitions.Save(def); err != nil {
		slog.Error("Failed to save workflow definition", "error", err)
		http.Error(w, "failed to create workflow", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, mapDefinitionToResponse(def))
}

func (c *WorkflowsController) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req WorkflowPatchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	def, err := c.Definitions.FindByID(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	if req.Name != nil {
		def.Name = *req.Name
	}
	if req.Steps != nil {
		def.Steps = *req.Steps
	}
	if req.DailyContactLimit.Set {
		def.DailyContactLimit = sql.NullInt64{}
		if req.DailyContactLimit.Value != nil {
			def.DailyContactLimit = sql.NullInt64{Int64: *req.DailyContactLimit.Value, Valid: true}
		}
	}
	if req.DripStartTime.Set {
		def.DripStartTime = stringValue(req.DripStartTime.Value)
	}
	if req.DripEndTime.Set {
		def.DripEndTime = stringValue(req.DripEndTime.Value)
	}
	if req.Timezone.Set {
		def.Timezone = stringValue(req.Timezone.Value)
	}

	if err := domain.ValidateDefinition(def); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := c.Definitions.Update(def); err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDefinitionToResponse(def))
}

func (c *WorkflowsController) handleSetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req WorkflowStatusRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	slog.InfoContext(r.Context(), "Updating workflow active flag", "workflow_id", id, "is_active", req.IsActive)
	if err := c.Definitions.SetActive(id, req.IsActive); err != nil {
		writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *WorkflowsController) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	def, err := c.Definitions.FindByID(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapDefinitionToResponse(def))
}

func (c *WorkflowsController) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	defs, err := c.Definitions.FindByOrganization(id)
	if err != nil {
		http.Error(w, "failed to list workflows", http.StatusInternalServerError)
		return
	}
	out := make([]WorkflowResponse, 0, len(*defs))
	for i := range *defs {
		out = append(out, mapDefinitionToResponse(&(*defs)[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func mapDefinitionToResponse(def *domain.WorkflowDefinition) WorkflowResponse {
	resp := WorkflowResponse{
		ID:             def.ID,
		OrganizationID: def.OrganizationID,
		Name:           def.Name,
		Steps:          def.Steps,
		DripStartTime:  def.DripStartTime,
		DripEndTime:    def.DripEndTime,
		Timezone:       def.Timezone,
		IsActive:       def.IsActive,
		Created:        def.Created,
		Modified:       def.Modified,
	}
	if def.DailyContactLimit.Valid {
		limit := def.DailyContactLimit.Int64
		resp.DailyContactLimit = &limit
	}
	return resp
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{Errors: verr.Violations()})
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeLookupError(w http.ResponseWriter, err error) {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		http.Error(w, nf.Error(), http.StatusNotFound)
		return
	}
	slog.Error("Unexpected repository error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
