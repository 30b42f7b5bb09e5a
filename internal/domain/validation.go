package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ValidateDefinition checks the whole step graph and returns a
// ValidationError carrying every violation found, or nil.
func ValidateDefinition(def *WorkflowDefinition) error {
	var errs *multierror.Error

	if strings.TrimSpace(def.Name) == "" {
		errs = multierror.Append(errs, fmt.Errorf("name is required"))
	}
	if def.OrganizationID <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("organizationId is required"))
	}
	if def.DailyContactLimit.Valid && def.DailyContactLimit.Int64 < 0 {
		errs = multierror.Append(errs, fmt.Errorf("dailyContactLimit must be >= 0"))
	}
	if (def.DripStartTime == "") != (def.DripEndTime == "") {
		errs = multierror.Append(errs, fmt.Errorf("dripStartTime and dripEndTime must be set together"))
	}
	for _, v := range []struct{ field, value string }{
		{"dripStartTime", def.DripStartTime},
		{"dripEndTime", def.DripEndTime},
	} {
		if v.value == "" {
			continue
		}
		if _, err := time.Parse("15:04", v.value); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s must be HH:MM, got %q", v.field, v.value))
		}
	}
	if def.Timezone != "" {
		if _, err := time.LoadLocation(def.Timezone); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("unknown timezone %q", def.Timezone))
		}
	}

	seen := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ClientID == "" {
			errs = multierror.Append(errs, fmt.Errorf("step %d: clientId is required", i))
			continue
		}
		if seen[step.ClientID] {
			errs = multierror.Append(errs, fmt.Errorf("step %s: duplicate clientId", step.ClientID))
		}
		seen[step.ClientID] = true
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		errs = validateStepConfig(errs, def, step)
	}

	return NewValidationError(errs)
}

func validateStepConfig(errs *multierror.Error, def *WorkflowDefinition, step *WorkflowStep) *multierror.Error {
	switch cfg := step.Config.(type) {
	case *WaitConfig:
		if cfg.Duration <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("step %s: wait duration must be positive", step.ClientID))
		}
		switch cfg.Unit {
		case WaitMinutes, WaitHours, WaitDays:
		default:
			errs = multierror.Append(errs, fmt.Errorf("step %s: unknown wait unit %q", step.ClientID, cfg.Unit))
		}
	case *WebhookConfig:
		if cfg.URL == "" {
			errs = multierror.Append(errs, fmt.Errorf("step %s: webhook url is required", step.ClientID))
		}
		if cfg.Method != "" && cfg.Method != "POST" {
			errs = multierror.Append(errs, fmt.Errorf("step %s: webhook method must be POST", step.ClientID))
		}
	case *BranchConfig:
		if len(cfg.Paths) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("step %s: branch needs at least one path", step.ClientID))
		}
		var total float64
		for _, p := range cfg.Paths {
			if p.Weight < 0 {
				errs = multierror.Append(errs, fmt.Errorf("step %s: branch weight must be non-negative", step.ClientID))
			}
			total += p.Weight
			if _, ok := def.StepByClientID(p.NextStepID); !ok {
				errs = multierror.Append(errs, fmt.Errorf("step %s: branch nextStepId %q does not exist in workflow", step.ClientID, p.NextStepID))
			}
		}
		if len(cfg.Paths) > 0 && total <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("step %s: branch weights must sum to a positive value", step.ClientID))
		}
	case *FieldConfig:
		if cfg.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("step %s: field path is required", step.ClientID))
		}
	case *ScenarioConfig:
		switch cfg.AssignmentType {
		case AssignmentSingle:
			if cfg.ScenarioID == "" {
				errs = multierror.Append(errs, fmt.Errorf("step %s: scenarioId is required for single assignment", step.ClientID))
			}
		case AssignmentRandomPool:
			if len(cfg.ScenarioIDs) == 0 {
				errs = multierror.Append(errs, fmt.Errorf("step %s: scenarioIds is required for random_pool assignment", step.ClientID))
			}
		default:
			errs = multierror.Append(errs, fmt.Errorf("step %s: unknown assignmentType %q", step.ClientID, cfg.AssignmentType))
		}
	case *RemoveConfig:
	default:
		errs = multierror.Append(errs, fmt.Errorf("step %s: missing config for actionType %s", step.ClientID, step.ActionType))
	}
	return errs
}
