package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

type AuditEventRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewAuditEventRepository(db *sql.DB, clock core.Clock) *AuditEventRepository {
	return &AuditEventRepository{db: db, clock: clock}
}

func (r *AuditEventRepository) Save(ev *domain.AuditEvent) (int64, error) {
	if ev.DateTime.IsZero() {
		ev.DateTime = r.clock.Now().UTC()
	}
	vals := []interface{}{ev.EnrollmentID, ev.WorkflowID, ev.OrganizationID,
		ev.Type, ev.Name, ev.Text, ev.Billable, formatDateInDatabase(ev.DateTime)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO audit_event (
		enrollment_id, workflow_id, organization_id, event_type, name, event_text, billable, date_time
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals)
	if err != nil {
		return 0, err
	}
	ev.ID = id
	return id, nil
}

func (r *AuditEventRepository) FindAllByEnrollmentID(enrollmentID int64) (*[]domain.AuditEvent, error) {
	query := `
		SELECT id, enrollment_id, workflow_id, organization_id, event_type, name, event_text, billable, date_time
		FROM audit_event
		WHERE enrollment_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var text sql.NullString
		err := rows.Scan(&ev.ID, &ev.EnrollmentID, &ev.WorkflowID, &ev.OrganizationID,
			&ev.Type, &ev.Name, &text, &ev.Billable, &ev.DateTime)
		if err != nil {
			return nil, err
		}
		ev.Text = text.String
		events = append(events, ev)
	}
	return &events, rows.Err()
}

// CountBillableDispatchesSince backs the daily contact cap: the number of
// billable executions a workflow has performed since the given instant
// (local midnight in the workflow's timezone).
func (r *AuditEventRepository) CountBillableDispatchesSince(workflowID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM audit_event
		WHERE workflow_id = ` + placeholder(1) + `
		  AND event_type = ` + placeholder(2) + `
		  AND billable = ` + trueLiteral() + `
		  AND NOT ` + dateBeforeOrAt("date_time", since) + `
	`
	var count int
	err := r.db.QueryRow(query, workflowID, domain.AuditDispatched).Scan(&count)
	return count, err
}
