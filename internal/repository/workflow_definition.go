package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

const DEFINITION_COLUMNS = ` id, organization_id, name, steps, daily_contact_limit,
		       drip_start_time, drip_end_time, timezone, is_active, created, modified `

type WorkflowDefinitionRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewWorkflowDefinitionRepository(db *sql.DB, clock core.Clock) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db, clock: clock}
}

func scanDefinition(scan func(dest ...any) error) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	var steps string
	var dripStart, dripEnd, tz sql.NullString
	err := scan(
		&def.ID,
		&def.OrganizationID,
		&def.Name,
		&steps,
		&def.DailyContactLimit,
		&dripStart,
		&dripEnd,
		&tz,
		&def.IsActive,
		&def.Created,
		&def.Modified,
	)
	if err != nil {
		return nil, err
	}
	def.DripStartTime = dripStart.String
	def.DripEndTime = dripEnd.String
	def.Timezone = tz.String
	if steps != "" {
		if err := json.Unmarshal([]byte(steps), &def.Steps); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

func (r *WorkflowDefinitionRepository) FindByID(id int64) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + DEFINITION_COLUMNS + `
		FROM workflow_definition WHERE id = ` + placeholder(1) + `
	`
	def, err := scanDefinition(r.db.QueryRow(query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("workflow", id)
	}
	return def, err
}

func (r *WorkflowDefinitionRepository) FindByOrganization(orgID int64) (*[]domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + DEFINITION_COLUMNS + `
		FROM workflow_definition
		WHERE organization_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return &defs, rows.Err()
}

func (r *WorkflowDefinitionRepository) Save(def *domain.WorkflowDefinition) (int64, error) {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return 0, err
	}
	now := r.clock.Now().UTC()
	def.Created = now
	def.Modified = now

	vals := []interface{}{def.OrganizationID, def.Name, string(steps), def.DailyContactLimit,
		nullIfEmpty(def.DripStartTime), nullIfEmpty(def.DripEndTime), nullIfEmpty(def.Timezone),
		def.IsActive, formatDateInDatabase(def.Created), formatDateInDatabase(def.Modified)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO workflow_definition (
		organization_id, name, steps, daily_contact_limit,
		drip_start_time, drip_end_time, timezone, is_active, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals)
	if err != nil {
		return 0, err
	}
	def.ID = id
	return id, nil
}

func (r *WorkflowDefinitionRepository) Update(def *domain.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return err
	}
	def.Modified = r.clock.Now().UTC()
	query := `
		UPDATE workflow_definition
		SET name = ` + placeholder(1) + `, steps = ` + placeholder(2) + `,
		    daily_contact_limit = ` + placeholder(3) + `,
		    drip_start_time = ` + placeholder(4) + `, drip_end_time = ` + placeholder(5) + `,
		    timezone = ` + placeholder(6) + `, modified = ` + placeholder(7) + `
		WHERE id = ` + placeholder(8) + `
	`
	res, err := r.db.Exec(query, def.Name, string(steps), def.DailyContactLimit,
		nullIfEmpty(def.DripStartTime), nullIfEmpty(def.DripEndTime), nullIfEmpty(def.Timezone),
		formatDateInDatabase(def.Modified), def.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NewNotFoundError("workflow", def.ID)
	}
	return nil
}

// SetActive is the only supported deletion path; deactivated workflows are
// never physically removed while enrollments reference them.
func (r *WorkflowDefinitionRepository) SetActive(id int64, active bool) error {
	query := `
		UPDATE workflow_definition
		SET is_active = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + `
	`
	res, err := r.db.Exec(query, active, formatDateInDatabase(r.clock.Now().UTC()), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NewNotFoundError("workflow", id)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
