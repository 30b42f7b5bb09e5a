package domain

import "time"

type BillingPlan string

const (
	PlanUnlimited BillingPlan = "unlimited"
	PlanAtCost    BillingPlan = "at_cost"
)

// Organization is a tenant. CreditBalance is the only tenant-shared
// mutable resource in the engine; it is only ever touched inside the
// ledger's transaction.
type Organization struct {
	ID            int64
	Name          string
	BillingPlan   BillingPlan
	CreditBalance int64
	Created       time.Time
	Modified      time.Time
}

// CreditUsage is one append-only ledger row. WebhookLogID is the
// idempotency key: at most one row may ever exist per triggering event.
type CreditUsage struct {
	ID             int64
	OrganizationID int64
	WebhookLogID   string
	Amount         int64
	Description    string
	Created        time.Time
}
