package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
)

// Advance runs one claimed enrollment as far as it can go in this tick:
// through branches and executable steps until it hits a wait, a deferral,
// a retry, or a terminal state. Every transition is written conditionally
// on the enrollment version; losing that race discards the transition with
// no side effect.
func (e *Engine) Advance(ctx context.Context, enr *domain.Enrollment) {
	defer func() {
		if err := e.Enrollments.ClearClaim(enr.ID); err != nil {
			slog.Error("Error clearing enrollment claim", "enrollment_id", enr.ID, "error", err)
		}
	}()

	def, err := e.Definitions.FindByID(enr.WorkflowID)
	if err != nil {
		slog.Error("Workflow definition lookup failed", "enrollment_id", enr.ID,
			"workflow_id", enr.WorkflowID, "error", err)
		e.failEnrollment(enr, "", "workflow definition unavailable: "+err.Error())
		return
	}
	if !def.IsActive {
		// Deactivation stops new ticks; the enrollment keeps its state and
		// resumes if the workflow is reactivated.
		slog.Info("Workflow inactive, leaving enrollment untouched",
			"enrollment_id", enr.ID, "workflow_id", def.ID)
		return
	}

	for {
		if enr.CurrentStepClientID == "" {
			e.completeEnrollment(enr)
			return
		}
		step, ok := def.StepByClientID(enr.CurrentStepClientID)
		if !ok {
			e.failEnrollment(enr, enr.CurrentStepClientID, "current step no longer exists in workflow")
			return
		}

		switch cfg := step.Config.(type) {
		case *domain.WaitConfig:
			eligible := e.Clock.Now().Add(cfg.Interval())
			enr.Status = domain.EnrollmentWaiting
			enr.CurrentStepClientID = stepID(def.StepAfter(step))
			enr.NextEligibleAt = sql.NullTime{Time: eligible, Valid: true}
			enr.AttemptsOnCurrentStep = 0
			if e.write(enr) {
				e.auditStep(enr, step, domain.AuditTransition, false,
					fmt.Sprintf("waiting until %s", eligible.UTC().Format(time.RFC3339)))
			}
			return
		case *domain.BranchConfig:
			target, err := ResolveBranch(enr.ContactID, enr.WorkflowID, step.ClientID, cfg)
			if err != nil {
				e.failEnrollment(enr, step.ClientID, err.Error())
				return
			}
			// Advancing the step pointer in this write persists the branch
			// decision; re-entry after a crash resumes at the chosen step
			// and never re-rolls.
			enr.Status = domain.EnrollmentBranching
			enr.CurrentStepClientID = target
			enr.AttemptsOnCurrentStep = 0
			if !e.write(enr) {
				return
			}
			e.auditStep(enr, step, domain.AuditTransition, false, "branch resolved to "+target)
			// Branches consume no wall-clock time.
			continue
		case *domain.RemoveConfig:
			enr.Status = domain.EnrollmentRemoved
			enr.NextEligibleAt = sql.NullTime{}
			if e.write(enr) {
				e.auditStep(enr, step, domain.AuditRemoved, false, "removed from workflow")
			}
			return
		default:
			if stop := e.executeStep(ctx, def, enr, step); stop {
				return
			}
		}
	}
}

// executeStep dispatches one executable step: drip window and daily cap
// first, then the ledger charge for billables, then the side effect. A
// true return ends this tick's processing of the enrollment.
func (e *Engine) executeStep(ctx context.Context, def *domain.WorkflowDefinition, enr *domain.Enrollment, step *domain.WorkflowStep) bool {
	now := e.Clock.Now()

	if step.ActionType.Billable() {
		// The daily cap is counted from the audit log, so the count read
		// and the DISPATCHED write that feeds it must not interleave
		// across workers of the same workflow.
		release := e.lockWorkflowCap(def.ID)
		defer release()

		inWindow, nextOpen, err := withinDripWindow(def, now)
		if err != nil {
			e.failEnrollment(enr, step.ClientID, err.Error())
			return true
		}
		if !inWindow {
			enr.Status = domain.EnrollmentWaiting
			enr.NextEligibleAt = sql.NullTime{Time: nextOpen, Valid: true}
			if e.write(enr) {
				e.auditStep(enr, step, domain.AuditDeferred, false,
					fmt.Sprintf("outside drip window, deferred to %s", nextOpen.Format(time.RFC3339)))
			}
			return true
		}

		// The limit and window are re-read every tick so workflow edits
		// take effect immediately.
		if def.DailyContactLimit.Valid {
			midnight, err := localMidnight(def, now)
			if err != nil {
				e.failEnrollment(enr, step.ClientID, err.Error())
				return true
			}
			count, err := e.Audit.CountBillableDispatchesSince(def.ID, midnight)
			if err != nil {
				slog.Error("Error counting billable dispatches", "workflow_id", def.ID, "error", err)
				return true
			}
			if count >= int(def.DailyContactLimit.Int64) {
				deferredTo, err := nextDayOpen(def, now)
				if err != nil {
					e.failEnrollment(enr, step.ClientID, err.Error())
					return true
				}
				enr.Status = domain.EnrollmentWaiting
				enr.NextEligibleAt = sql.NullTime{Time: deferredTo, Valid: true}
				if e.write(enr) {
					e.auditStep(enr, step, domain.AuditDeferred, false,
						fmt.Sprintf("daily contact limit %d reached, deferred to %s",
							def.DailyContactLimit.Int64, deferredTo.Format(time.RFC3339)))
				}
				return true
			}
		}
	}

	enr.Status = domain.EnrollmentExecuting
	if !e.write(enr) {
		return true
	}

	if step.ActionType.Billable() {
		// One charge per (enrollment, step), replayed on retries.
		key := fmt.Sprintf("enr:%d:%s", enr.ID, step.ClientID)
		res, err := e.Ledger.Deduct(ctx, enr.OrganizationID, key, BillableActionCost,
			fmt.Sprintf("%s step %s", step.ActionType, step.ClientID))
		if errors.Is(err, domain.ErrInsufficientCredits) {
			enr.Status = domain.EnrollmentPaused
			enr.PauseReason = sql.NullString{String: domain.PauseReasonInsufficientCredits, Valid: true}
			enr.NextEligibleAt = sql.NullTime{}
			if e.write(enr) {
				e.auditStep(enr, step, domain.AuditPaused, false, "billing blocked: insufficient credits")
			}
			return true
		}
		if err != nil {
			e.scheduleRetry(enr, step, err)
			return true
		}
		if res.AlreadyApplied {
			slog.Info("Ledger charge replayed", "enrollment_id", enr.ID, "step", step.ClientID)
		}
	}

	if err := e.Dispatcher.Dispatch(ctx, enr, step); err != nil {
		e.scheduleRetry(enr, step, err)
		return true
	}

	e.auditStep(enr, step, domain.AuditDispatched, step.ActionType.Billable(),
		fmt.Sprintf("dispatched %s", step.ActionType))

	next := def.StepAfter(step)
	if next == nil {
		e.completeEnrollment(enr)
		return true
	}
	enr.CurrentStepClientID = next.ClientID
	enr.AttemptsOnCurrentStep = 0
	return !e.write(enr)
}

// lockWorkflowCap serializes billable accounting per workflow. Held across
// cap check, charge, dispatch and audit, in the same shape as the
// dispatcher's per-organization slots.
func (e *Engine) lockWorkflowCap(workflowID int64) func() {
	e.capMu.Lock()
	l, ok := e.capLocks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		e.capLocks[workflowID] = l
	}
	e.capMu.Unlock()
	l.Lock()
	return l.Unlock
}

// scheduleRetry applies bounded exponential backoff to a failed dispatch
// and fails the enrollment once attempts run out.
func (e *Engine) scheduleRetry(enr *domain.Enrollment, step *domain.WorkflowStep, cause error) {
	enr.AttemptsOnCurrentStep++
	slog.Warn("Dispatch failed", "enrollment_id", enr.ID, "step", step.ClientID,
		"attempt", enr.AttemptsOnCurrentStep, "error", cause)

	if enr.AttemptsOnCurrentStep >= e.Options.MaxDispatchAttempts {
		e.failEnrollment(enr, step.ClientID,
			fmt.Sprintf("max dispatch attempts (%d) reached: %v", e.Options.MaxDispatchAttempts, cause))
		return
	}

	delay := e.backoffDelay(enr.AttemptsOnCurrentStep)
	enr.NextEligibleAt = sql.NullTime{Time: e.Clock.Now().Add(delay), Valid: true}
	if e.write(enr) {
		e.auditStep(enr, step, domain.AuditRetry, false,
			fmt.Sprintf("attempt %d failed, retry in %s: %v", enr.AttemptsOnCurrentStep, delay, cause))
	}
}

// backoffDelay is base x 2^(attempt-1), capped, with up to 20% jitter.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	delay := e.Options.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.Options.RetryCap {
			delay = e.Options.RetryCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay/5) + 1))
	return delay - delay/10 + jitter
}

func (e *Engine) completeEnrollment(enr *domain.Enrollment) {
	enr.Status = domain.EnrollmentCompleted
	enr.CurrentStepClientID = ""
	enr.NextEligibleAt = sql.NullTime{}
	if e.write(enr) {
		e.auditEnrollment(enr, domain.AuditCompleted, "", "reached end of step sequence")
	}
}

func (e *Engine) failEnrollment(enr *domain.Enrollment, stepClientID, reason string) {
	enr.Status = domain.EnrollmentFailed
	enr.NextEligibleAt = sql.NullTime{}
	if e.write(enr) {
		e.auditEnrollment(enr, domain.AuditFailed, stepClientID, reason)
	}
}

// write persists a transition under the optimistic version check. A false
// return means another worker got there first; the caller discards its
// work, and any side effect already taken is idempotent by construction.
func (e *Engine) write(enr *domain.Enrollment) bool {
	ok, err := e.Enrollments.UpdateProgress(enr)
	if err != nil {
		slog.Error("Error writing enrollment transition", "enrollment_id", enr.ID, "error", err)
		return false
	}
	if !ok {
		slog.Info("Enrollment advanced concurrently, discarding transition",
			"enrollment_id", enr.ID, "version", enr.Version)
	}
	return ok
}

func (e *Engine) auditStep(enr *domain.Enrollment, step *domain.WorkflowStep, eventType string, billable bool, text string) {
	_, _ = e.Audit.Save(&domain.AuditEvent{
		EnrollmentID:   enr.ID,
		WorkflowID:     enr.WorkflowID,
		OrganizationID: enr.OrganizationID,
		Type:           eventType,
		Name:           step.ClientID,
		Text:           text,
		Billable:       billable,
	})
}

func (e *Engine) auditEnrollment(enr *domain.Enrollment, eventType, name, text string) {
	_, _ = e.Audit.Save(&domain.AuditEvent{
		EnrollmentID:   enr.ID,
		WorkflowID:     enr.WorkflowID,
		OrganizationID: enr.OrganizationID,
		Type:           eventType,
		Name:           name,
		Text:           text,
	})
}

func stepID(step *domain.WorkflowStep) string {
	if step == nil {
		return ""
	}
	return step.ClientID
}
