package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

const ORGANIZATION_COLUMNS = ` id, name, billing_plan, credit_balance, created, modified `

type OrganizationRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewOrganizationRepository(db *sql.DB, clock core.Clock) *OrganizationRepository {
	return &OrganizationRepository{db: db, clock: clock}
}

func (r *OrganizationRepository) FindByID(id int64) (*domain.Organization, error) {
	query := `
		SELECT ` + ORGANIZATION_COLUMNS + `
		FROM organization WHERE id = ` + placeholder(1) + `
	`
	var org domain.Organization
	err := r.db.QueryRow(query, id).Scan(
		&org.ID,
		&org.Name,
		&org.BillingPlan,
		&org.CreditBalance,
		&org.Created,
		&org.Modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("organization", id)
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *OrganizationRepository) Save(org *domain.Organization) (int64, error) {
	now := r.clock.Now().UTC()
	org.Created = now
	org.Modified = now

	vals := []interface{}{org.Name, string(org.BillingPlan), org.CreditBalance,
		formatDateInDatabase(org.Created), formatDateInDatabase(org.Modified)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO organization (
		name, billing_plan, credit_balance, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals)
	if err != nil {
		return 0, err
	}
	org.ID = id
	return id, nil
}
