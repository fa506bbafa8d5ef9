package models

import (
	"time"
)

// Ticket statuses. Escalation and sweeps only consider non-terminal tickets.
const (
	TicketStatusNew      = "new"
	TicketStatusOpen     = "open"
	TicketStatusPending  = "pending"
	TicketStatusResolved = "resolved"
	TicketStatusClosed   = "closed"
)

// Ticket is the slice of the ticket row this engine reads and writes.
// Full ticket persistence lives with the ticket store collaborator.
type Ticket struct {
	ID         int        `db:"id" json:"id"`
	Number     string     `db:"tn" json:"tn"`
	Title      string     `db:"title" json:"title"`
	PriorityID int        `db:"priority_id" json:"priority_id"`
	CategoryID *int       `db:"category_id" json:"category_id,omitempty"`
	AssigneeID *int       `db:"assignee_id" json:"assignee_id,omitempty"`
	Status     string     `db:"status" json:"status"`
	SLAStatus  *SLAStatus `db:"sla_status" json:"sla_status,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the ticket has left the active lifecycle.
func (t *Ticket) IsTerminal() bool {
	return t.Status == TicketStatusResolved || t.Status == TicketStatusClosed
}

// User is the slice of the user directory this engine needs to pick an
// escalation target.
type User struct {
	ID       int    `db:"id" json:"id"`
	Login    string `db:"login" json:"login"`
	Role     string `db:"role" json:"role"`
	IsActive bool   `db:"is_active" json:"is_active"`
}

// NotificationKind classifies notifications emitted by the engine.
type NotificationKind string

const (
	NotificationSLAWarning NotificationKind = "sla_warning"
	NotificationSLABreach  NotificationKind = "sla_breach"
	NotificationEscalation NotificationKind = "escalation"
)
