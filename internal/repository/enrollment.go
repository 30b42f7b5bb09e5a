package repository

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

const ENROLLMENT_COLUMNS = ` id, external_id, workflow_id, organization_id, contact_id,
		       current_step_client_id, status, next_eligible_at, attempts_on_current_step,
		       claimed_by, claimed_at, pause_reason, version, created, modified `

type EnrollmentRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewEnrollmentRepository(db *sql.DB, clock core.Clock) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, clock: clock}
}

func scanEnrollment(scan func(dest ...any) error) (*domain.Enrollment, error) {
	var e domain.Enrollment
	var currentStep sql.NullString
	err := scan(
		&e.ID,
		&e.ExternalID,
		&e.WorkflowID,
		&e.OrganizationID,
		&e.ContactID,
		&currentStep,
		&e.Status,
		&e.NextEligibleAt,
		&e.AttemptsOnCurrentStep,
		&e.ClaimedBy,
		&e.ClaimedAt,
		&e.PauseReason,
		&e.Version,
		&e.Created,
		&e.Modified,
	)
	if err != nil {
		return nil, err
	}
	e.CurrentStepClientID = currentStep.String
	return &e, nil
}

func (r *EnrollmentRepository) FindByID(id int64) (*domain.Enrollment, error) {
	query := `
		SELECT ` + ENROLLMENT_COLUMNS + `
		FROM enrollment WHERE id = ` + placeholder(1) + `
	`
	e, err := scanEnrollment(r.db.QueryRow(query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("enrollment", id)
	}
	return e, err
}

func (r *EnrollmentRepository) FindByExternalID(externalID string) (*domain.Enrollment, error) {
	query := `
		SELECT ` + ENROLLMENT_COLUMNS + `
		FROM enrollment WHERE external_id = ` + placeholder(1) + `
	`
	e, err := scanEnrollment(r.db.QueryRow(query, externalID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("enrollment", externalID)
	}
	return e, err
}

// FindLiveByWorkflowAndContact returns the one non-terminal enrollment for
// the pair, or nil when the contact is free to be enrolled again.
func (r *EnrollmentRepository) FindLiveByWorkflowAndContact(workflowID int64, contactID string) (*domain.Enrollment, error) {
	query := `
		SELECT ` + ENROLLMENT_COLUMNS + `
		FROM enrollment
		WHERE workflow_id = ` + placeholder(1) + ` AND contact_id = ` + placeholder(2) + `
		  AND status IN ('PENDING', 'WAITING', 'BRANCHING', 'EXECUTING', 'PAUSED')
		LIMIT 1
	`
	e, err := scanEnrollment(r.db.QueryRow(query, workflowID, contactID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *EnrollmentRepository) Save(e *domain.Enrollment) (int64, error) {
	now := r.clock.Now().UTC()
	e.Created = now
	e.Modified = now

	vals := []interface{}{e.ExternalID, e.WorkflowID, e.OrganizationID, e.ContactID,
		nullIfEmpty(e.CurrentStepClientID), string(e.Status), formatDateInDatabaseNull(e.NextEligibleAt),
		e.AttemptsOnCurrentStep, e.ClaimedBy, formatDateInDatabaseNull(e.ClaimedAt), e.PauseReason,
		e.Version, formatDateInDatabase(e.Created), formatDateInDatabase(e.Modified)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO enrollment (
		external_id, workflow_id, organization_id, contact_id,
		current_step_client_id, status, next_eligible_at, attempts_on_current_step,
		claimed_by, claimed_at, pause_reason, version, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals)
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// FindDue returns unclaimed enrollments whose next_eligible_at has passed
// and whose workflow is still active. Deactivating a workflow therefore
// stops new ticks without touching in-flight work.
func (r *EnrollmentRepository) FindDue(limit int) (*[]domain.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumnsPrefixed("e") + `
		FROM enrollment e
		JOIN workflow_definition w ON w.id = e.workflow_id
		WHERE ` + dateBeforeOrAt("e.next_eligible_at", r.clock.Now()) + `
		  AND e.status IN ('PENDING', 'WAITING', 'BRANCHING', 'EXECUTING')
		  AND e.claimed_by IS NULL
		  AND w.is_active = ` + trueLiteral() + `
		ORDER BY e.next_eligible_at ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *e)
	}
	return &enrollments, rows.Err()
}

// Claim marks the enrollment as in-flight for this executor. The write is
// conditional on the version the scheduler read; losing the race is normal
// when ticks overlap.
func (r *EnrollmentRepository) Claim(id int64, claimedBy string, version int) bool {
	now := formatDateInDatabase(r.clock.Now().UTC())
	query := `
		UPDATE enrollment
		SET claimed_by = ` + placeholder(1) + `, claimed_at = ` + placeholder(2) + `,
		    version = version + 1, modified = ` + placeholder(3) + `
		WHERE id = ` + placeholder(4) + ` AND version = ` + placeholder(5) + ` AND claimed_by IS NULL
	`
	result, err := r.db.Exec(query, claimedBy, now, now, id, version)
	if err != nil {
		slog.Error("Failed to claim enrollment", "error", err, "id", id, "claimed_by", claimedBy)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// UpdateProgress writes one state-machine transition conditionally on the
// version the caller holds. A false return means another worker advanced
// the enrollment first and this transition must be discarded.
func (r *EnrollmentRepository) UpdateProgress(e *domain.Enrollment) (bool, error) {
	now := r.clock.Now().UTC()
	query := `
		UPDATE enrollment
		SET current_step_client_id = ` + placeholder(1) + `, status = ` + placeholder(2) + `,
		    next_eligible_at = ` + placeholder(3) + `, attempts_on_current_step = ` + placeholder(4) + `,
		    pause_reason = ` + placeholder(5) + `, version = version + 1, modified = ` + placeholder(6) + `
		WHERE id = ` + placeholder(7) + ` AND version = ` + placeholder(8) + `
	`
	result, err := r.db.Exec(query,
		nullIfEmpty(e.CurrentStepClientID), string(e.Status),
		formatDateInDatabaseNull(e.NextEligibleAt), e.AttemptsOnCurrentStep,
		e.PauseReason, formatDateInDatabase(now), e.ID, e.Version)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected != 1 {
		return false, nil
	}
	e.Version++
	e.Modified = now
	return true, nil
}

func (r *EnrollmentRepository) ClearClaim(id int64) error {
	query := `
		UPDATE enrollment
		SET claimed_by = NULL, claimed_at = NULL, modified = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(r.clock.Now().UTC()), id)
	return err
}

// FindStaleClaims returns active enrollments still claimed past the given
// cutoff, i.e. work abandoned by a crashed executor.
func (r *EnrollmentRepository) FindStaleClaims(olderThan time.Time, limit int) (*[]domain.Enrollment, error) {
	query := `
		SELECT ` + ENROLLMENT_COLUMNS + `
		FROM enrollment
		WHERE claimed_by IS NOT NULL
		  AND ` + dateBeforeOrAt("claimed_at", olderThan) + `
		  AND status IN ('PENDING', 'WAITING', 'BRANCHING', 'EXECUTING')
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *e)
	}
	return &enrollments, rows.Err()
}

// ReleaseStaleClaim frees an abandoned claim, conditional on claimed_at so
// a still-live executor that just touched the row keeps it.
func (r *EnrollmentRepository) ReleaseStaleClaim(id int64, claimedAt time.Time) bool {
	now := formatDateInDatabase(r.clock.Now().UTC())
	query := `
		UPDATE enrollment
		SET claimed_by = NULL, claimed_at = NULL, next_eligible_at = ` + placeholder(1) + `,
		    version = version + 1, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND claimed_at = ` + placeholder(4) + `
	`
	result, err := r.db.Exec(query, now, now, id, formatDateInDatabase(claimedAt))
	if err != nil {
		slog.Error("Failed to release stale claim", "error", err, "id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// Resume moves a paused enrollment back into the scheduler's reach.
func (r *EnrollmentRepository) Resume(id int64) (bool, error) {
	now := formatDateInDatabase(r.clock.Now().UTC())
	query := `
		UPDATE enrollment
		SET status = 'PENDING', pause_reason = NULL, next_eligible_at = ` + placeholder(1) + `,
		    attempts_on_current_step = 0, version = version + 1, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = 'PAUSED'
	`
	result, err := r.db.Exec(query, now, now, id)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func enrollmentColumnsPrefixed(alias string) string {
	cols := strings.Split(ENROLLMENT_COLUMNS, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return " " + strings.Join(cols, ", ") + " "
}

func trueLiteral() string {
	// MySQL and SQLite accept 1 for booleans; Postgres wants TRUE.
	if supportsReturning() {
		return "TRUE"
	}
	return "1"
}
