package domain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type ActionType string

const (
	ActionWait        ActionType = "wait"
	ActionSendEmail   ActionType = "send_email"
	ActionUpdateField ActionType = "update_field"
	ActionClearField  ActionType = "clear_field"
	ActionWebhook     ActionType = "webhook"
	ActionBranch      ActionType = "branch"
	ActionRemove      ActionType = "remove_from_workflow"
	ActionScenario    ActionType = "scenario"
)

// Billable reports whether dispatching this action costs credits.
func (a ActionType) Billable() bool {
	switch a {
	case ActionWebhook, ActionSendEmail, ActionScenario:
		return true
	}
	return false
}

// StepConfig is the tagged union carried by WorkflowStep; the concrete
// variant is keyed by the step's ActionType.
type StepConfig interface {
	stepConfig()
}

type WaitUnit string

const (
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
)

type WaitConfig struct {
	Duration int      `json:"duration"`
	Unit     WaitUnit `json:"unit"`
}

func (*WaitConfig) stepConfig() {}

// Interval converts the configured duration into wall-clock time.
func (c *WaitConfig) Interval() time.Duration {
	switch c.Unit {
	case WaitHours:
		return time.Duration(c.Duration) * time.Hour
	case WaitDays:
		return time.Duration(c.Duration) * 24 * time.Hour
	default:
		return time.Duration(c.Duration) * time.Minute
	}
}

type WebhookConfig struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

func (*WebhookConfig) stepConfig() {}

type BranchPath struct {
	Weight     float64 `json:"weight"`
	NextStepID string  `json:"nextStepId"`
}

type BranchConfig struct {
	Paths []BranchPath `json:"paths"`
}

func (*BranchConfig) stepConfig() {}

type FieldConfig struct {
	Path  string `json:"path"`
	Value string `json:"value,omitempty"`
}

func (*FieldConfig) stepConfig() {}

type AssignmentType string

const (
	AssignmentSingle     AssignmentType = "single"
	AssignmentRandomPool AssignmentType = "random_pool"
)

type ScenarioConfig struct {
	AssignmentType AssignmentType `json:"assignmentType"`
	ScenarioID     string         `json:"scenarioId,omitempty"`
	ScenarioIDs    []string       `json:"scenarioIds,omitempty"`
}

func (*ScenarioConfig) stepConfig() {}

type RemoveConfig struct{}

func (*RemoveConfig) stepConfig() {}

type WorkflowStep struct {
	ClientID   string     `json:"clientId"`
	Order      int        `json:"order"`
	ActionType ActionType `json:"actionType"`
	Config     StepConfig `json:"config"`
}

// stepJSON is the wire form of a step; Config stays raw until the
// actionType is known.
type stepJSON struct {
	ClientID   string          `json:"clientId"`
	Order      int             `json:"order"`
	ActionType ActionType      `json:"actionType"`
	Config     json.RawMessage `json:"config"`
}

func newStepConfig(a ActionType) (StepConfig, error) {
	switch a {
	case ActionWait:
		return &WaitConfig{}, nil
	case ActionWebhook:
		return &WebhookConfig{}, nil
	case ActionBranch:
		return &BranchConfig{}, nil
	case ActionUpdateField, ActionClearField:
		return &FieldConfig{}, nil
	case ActionSendEmail, ActionScenario:
		return &ScenarioConfig{}, nil
	case ActionRemove:
		return &RemoveConfig{}, nil
	}
	return nil, fmt.Errorf("unknown actionType: %s", a)
}

func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg, err := newStepConfig(raw.ActionType)
	if err != nil {
		return err
	}
	if len(raw.Config) > 0 {
		if err := json.Unmarshal(raw.Config, cfg); err != nil {
			return fmt.Errorf("step %s config: %w", raw.ClientID, err)
		}
	}
	s.ClientID = raw.ClientID
	s.Order = raw.Order
	s.ActionType = raw.ActionType
	s.Config = cfg
	return nil
}

func (s WorkflowStep) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepJSON{
		ClientID:   s.ClientID,
		Order:      s.Order,
		ActionType: s.ActionType,
		Config:     cfg,
	})
}

// WorkflowDefinition is a tenant-owned step graph. Steps are stored as an
// ordered array referencing each other by clientId, never by pointer, so
// the graph round-trips through the database as a single JSON document.
type WorkflowDefinition struct {
	ID                int64
	OrganizationID    int64
	Name              string
	Steps             []WorkflowStep
	DailyContactLimit sql.NullInt64
	DripStartTime     string
	DripEndTime       string
	Timezone          string
	IsActive          bool
	Created           time.Time
	Modified          time.Time
}

// StepByClientID looks a step up in the arena.
func (d *WorkflowDefinition) StepByClientID(clientID string) (*WorkflowStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ClientID == clientID {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// StepAfter returns the next step by order, or nil when the given step is
// the last one in the sequence.
func (d *WorkflowDefinition) StepAfter(step *WorkflowStep) *WorkflowStep {
	var next *WorkflowStep
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.Order <= step.Order {
			continue
		}
		if next == nil || s.Order < next.Order {
			next = s
		}
	}
	return next
}

// FirstStep returns the lowest-order step, or nil on an empty graph.
func (d *WorkflowDefinition) FirstStep() *WorkflowStep {
	var first *WorkflowStep
	for i := range d.Steps {
		s := &d.Steps[i]
		if first == nil || s.Order < first.Order {
			first = s
		}
	}
	return first
}
