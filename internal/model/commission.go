package model

import "time"

// CommissionStatus is the settlement state of a commission
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
)

// Valid reports whether s is a known commission status
func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionApproved, CommissionPaid:
		return true
	default:
		return false
	}
}

// Commission is an amount owed to an agent for a prospect.
// AmountCents is kept in minor currency units.
type Commission struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	ProspectID  string           `json:"prospect_id"`
	AgentID     string           `json:"agent_id"`
	AmountCents int64            `json:"amount_cents"`
	Status      CommissionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}
