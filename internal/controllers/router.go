package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", c.handleCreateWorkflow)
	mux.HandleFunc("GET /api/organizations/{id}/workflows", c.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", c.handleGetWorkflow)
	mux.HandleFunc("PATCH /api/workflows/{id}", c.handleUpdateWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/status", c.handleSetWorkflowStatus)
}

func (c *EnrollmentsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/enrollments", c.handleCreateEnrollment)
	mux.HandleFunc("GET /api/enrollments/{id}", c.handleGetEnrollment)
	mux.HandleFunc("GET /api/enrollments/{id}/events", c.handleGetEnrollmentEvents)
	mux.HandleFunc("POST /api/enrollments/{id}/resume", c.handleResumeEnrollment)
}

func (c *CreditsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/organizations", c.handleCreateOrganization)
	mux.HandleFunc("GET /api/organizations/{id}/credits", c.handleGetCredits)
	mux.HandleFunc("POST /api/organizations/{id}/credits/deduct", c.handleDeductCredits)
}
