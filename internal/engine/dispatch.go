package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
)

// BillableActionCost is the credit price of one billable dispatch.
const BillableActionCost = 1

// webhookPayload is the JSON body posted to a webhook step's URL.
type webhookPayload struct {
	EnrollmentID   string `json:"enrollmentId"`
	WorkflowID     int64  `json:"workflowId"`
	OrganizationID int64  `json:"organizationId"`
	ContactID      string `json:"contactId"`
	StepClientID   string `json:"stepClientId"`
}

// Dispatcher executes one step's side effect. Outbound calls per
// organization are capped by a semaphore so one tenant cannot starve
// webhook capacity for others.
type Dispatcher struct {
	Contacts  ContactStore
	Scenarios ScenarioSender
	Client    *http.Client
	Audit     AuditRepo

	orgLimit int
	mu       sync.Mutex
	orgSlots map[int64]chan struct{}
}

func NewDispatcher(contacts ContactStore, scenarios ScenarioSender, audit AuditRepo, webhookTimeout time.Duration, orgLimit int) *Dispatcher {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	if orgLimit <= 0 {
		orgLimit = 4
	}
	return &Dispatcher{
		Contacts:  contacts,
		Scenarios: scenarios,
		Audit:     audit,
		Client:    &http.Client{Timeout: webhookTimeout},
		orgLimit:  orgLimit,
		orgSlots:  make(map[int64]chan struct{}),
	}
}

func (d *Dispatcher) acquireOrgSlot(orgID int64) func() {
	d.mu.Lock()
	slots, ok := d.orgSlots[orgID]
	if !ok {
		slots = make(chan struct{}, d.orgLimit)
		d.orgSlots[orgID] = slots
	}
	d.mu.Unlock()
	slots <- struct{}{}
	return func() { <-slots }
}

// Dispatch runs the side effect for one executable step. The caller has
// already charged the ledger for billable actions.
func (d *Dispatcher) Dispatch(ctx context.Context, enr *domain.Enrollment, step *domain.WorkflowStep) error {
	switch cfg := step.Config.(type) {
	case *domain.WebhookConfig:
		return d.postWebhook(ctx, enr, step, cfg)
	case *domain.FieldConfig:
		release := d.acquireOrgSlot(enr.OrganizationID)
		defer release()
		if step.ActionType == domain.ActionClearField {
			return d.Contacts.ClearField(ctx, enr.ContactID, cfg.Path)
		}
		return d.Contacts.UpdateField(ctx, enr.ContactID, cfg.Path, cfg.Value)
	case *domain.ScenarioConfig:
		scenarioID, err := PickScenario(enr.ContactID, enr.WorkflowID, step.ClientID, cfg)
		if err != nil {
			return err
		}
		release := d.acquireOrgSlot(enr.OrganizationID)
		defer release()
		deliveryID, err := d.Scenarios.SendScenario(ctx, scenarioID, enr.ContactID)
		if err != nil {
			return err
		}
		d.audit(enr, step, domain.AuditDispatchResult,
			fmt.Sprintf("scenario %s delivered as %s", scenarioID, deliveryID))
		return nil
	}
	return fmt.Errorf("step %s: actionType %s is not dispatchable", step.ClientID, step.ActionType)
}

// postWebhook issues the HTTP POST. The request is logged before the call
// so a crash mid-call leaves a "sent, response unknown" trail, distinct
// from "never sent".
func (d *Dispatcher) postWebhook(ctx context.Context, enr *domain.Enrollment, step *domain.WorkflowStep, cfg *domain.WebhookConfig) error {
	body, err := json.Marshal(webhookPayload{
		EnrollmentID:   enr.ExternalID,
		WorkflowID:     enr.WorkflowID,
		OrganizationID: enr.OrganizationID,
		ContactID:      enr.ContactID,
		StepClientID:   step.ClientID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	release := d.acquireOrgSlot(enr.OrganizationID)
	defer release()

	d.audit(enr, step, domain.AuditDispatchRequest, fmt.Sprintf("POST %s %s", cfg.URL, string(body)))

	resp, err := d.Client.Do(req)
	if err != nil {
		d.audit(enr, step, domain.AuditDispatchResult, fmt.Sprintf("POST %s failed: %v", cfg.URL, err))
		return fmt.Errorf("webhook POST %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	d.audit(enr, step, domain.AuditDispatchResult, fmt.Sprintf("POST %s -> %d %s", cfg.URL, resp.StatusCode, string(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook POST %s: status %d", cfg.URL, resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) audit(enr *domain.Enrollment, step *domain.WorkflowStep, eventType, text string) {
	_, _ = d.Audit.Save(&domain.AuditEvent{
		EnrollmentID:   enr.ID,
		WorkflowID:     enr.WorkflowID,
		OrganizationID: enr.OrganizationID,
		Type:           eventType,
		Name:           step.ClientID,
		Text:           text,
	})
}
