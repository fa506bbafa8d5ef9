package models

import (
	"time"
)

// EscalationType records what triggered an escalation.
type EscalationType string

const (
	EscalationTypeSLABreach      EscalationType = "sla_breach"
	EscalationTypeManual         EscalationType = "manual"
	EscalationTypePriorityChange EscalationType = "priority_change"
)

// Valid reports whether t is one of the known escalation types.
func (t EscalationType) Valid() bool {
	switch t {
	case EscalationTypeSLABreach, EscalationTypeManual, EscalationTypePriorityChange:
		return true
	}
	return false
}

// Escalation is an append-only audit entry written when a ticket is
// escalated. EscalatedFrom is nil when the ticket had no assignee.
type Escalation struct {
	ID            int            `db:"id" json:"id"`
	TicketID      int            `db:"ticket_id" json:"ticket_id"`
	Type          EscalationType `db:"escalation_type" json:"type"`
	EscalatedFrom *int           `db:"escalated_from" json:"escalated_from,omitempty"`
	EscalatedTo   int            `db:"escalated_to" json:"escalated_to"`
	Reason        string         `db:"reason" json:"reason"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
