package controllers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/outflowhq/outflow/internal/domain"
)

// CreditsController exposes the credit ledger: balance reads and the
// deduction entry point used by the billable-action path.
type CreditsController struct {
	Organizations OrganizationStore
	Credits       CreditStore
}

func NewCreditsController(organizations OrganizationStore, credits CreditStore) *CreditsController {
	return &CreditsController{Organizations: organizations, Credits: credits}
}

func (c *CreditsController) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	plan := domain.BillingPlan(req.BillingPlan)
	if plan == "" {
		plan = domain.PlanAtCost
	}
	if plan != domain.PlanAtCost && plan != domain.PlanUnlimited {
		http.Error(w, "billingPlan must be at_cost or unlimited", http.StatusBadRequest)
		return
	}
	if req.CreditBalance < 0 {
		http.Error(w, "creditBalance must be >= 0", http.StatusBadRequest)
		return
	}

	org := &domain.Organization{
		Name:          req.Name,
		BillingPlan:   plan,
		CreditBalance: req.CreditBalance,
	}
	slog.InfoContext(r.Context(), "Creating organization", "name", org.Name, "billing_plan", plan)
	if _, err := c.Organizations.Save(org); err != nil {
		slog.Error("Failed to save organization", "error", err)
		http.Error(w, "failed to create organization", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": org.ID})
}

func (c *CreditsController) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	org, err := c.Organizations.FindByID(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditsResponse{
		CreditBalance: org.CreditBalance,
		BillingPlan:   string(org.BillingPlan),
	})
}

func (c *CreditsController) handleDeductCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req DeductRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.WebhookLogID == "" {
		http.Error(w, "webhookLogId is required", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	result, err := c.Credits.Deduct(r.Context(), id, req.WebhookLogID, req.Amount, req.Description)
	if errors.Is(err, domain.ErrInsufficientCredits) {
		http.Error(w, err.Error(), http.StatusPaymentRequired)
		return
	}
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeductResponse{
		RemainingBalance: result.RemainingBalance,
		AlreadyApplied:   result.AlreadyApplied,
	})
}
