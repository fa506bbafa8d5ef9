package models

import (
	"time"
)

// SLAStatus is the rolled-up deadline state reported for a ticket.
type SLAStatus string

const (
	SLAStatusOnTrack  SLAStatus = "on_track"
	SLAStatusAtRisk   SLAStatus = "at_risk"
	SLAStatusBreached SLAStatus = "breached"
)

// SLAPolicy defines response/resolution targets for a priority, optionally
// narrowed to a single category. CategoryID nil means the policy is the
// general fallback for its priority.
type SLAPolicy struct {
	ID                int    `db:"id" json:"id"`
	Name              string `db:"name" json:"name"`
	PriorityID        int    `db:"priority_id" json:"priority_id"`
	CategoryID        *int   `db:"category_id" json:"category_id,omitempty"`
	ResponseMinutes   int    `db:"response_minutes" json:"response_minutes"`
	ResolutionMinutes int    `db:"resolution_minutes" json:"resolution_minutes"`
	EscalationMinutes *int   `db:"escalation_minutes" json:"escalation_minutes,omitempty"`
	BusinessHoursOnly bool   `db:"business_hours_only" json:"business_hours_only"`
	IsActive          bool   `db:"is_active" json:"is_active"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsSpecific reports whether the policy targets a single category.
func (p *SLAPolicy) IsSpecific() bool {
	return p.CategoryID != nil
}

// SLATracking is one tracking cycle for a ticket: the deadlines computed
// when the policy was attached plus the met flags flipped as the ticket
// progresses. A reopened ticket gets a fresh row. The warned stamps are
// kept per deadline so each of response and resolution is warned about
// before it breaches; the escalated stamp stops sweeps from escalating
// the same cycle again.
type SLATracking struct {
	ID                 int        `db:"id" json:"id"`
	TicketID           int        `db:"ticket_id" json:"ticket_id"`
	PolicyID           int        `db:"policy_id" json:"policy_id"`
	ResponseDueAt      time.Time  `db:"response_due_at" json:"response_due_at"`
	ResolutionDueAt    time.Time  `db:"resolution_due_at" json:"resolution_due_at"`
	EscalationDueAt    *time.Time `db:"escalation_due_at" json:"escalation_due_at,omitempty"`
	ResponseMet        bool       `db:"response_met" json:"response_met"`
	ResolutionMet      bool       `db:"resolution_met" json:"resolution_met"`
	ResponseMinutes    *int       `db:"response_minutes" json:"response_minutes,omitempty"`
	ResolutionMinutes  *int       `db:"resolution_minutes" json:"resolution_minutes,omitempty"`
	ResponseWarnedAt   *time.Time `db:"response_warned_at" json:"response_warned_at,omitempty"`
	ResolutionWarnedAt *time.Time `db:"resolution_warned_at" json:"resolution_warned_at,omitempty"`
	EscalatedAt        *time.Time `db:"escalated_at" json:"escalated_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// SLADeadline names one of the two tracked deadlines.
type SLADeadline string

const (
	SLADeadlineResponse   SLADeadline = "response"
	SLADeadlineResolution SLADeadline = "resolution"
)

// Deadlines holds the due times produced for one tracking cycle.
// EscalationDue is nil when the policy has no escalation target.
type Deadlines struct {
	ResponseDue   time.Time
	ResolutionDue time.Time
	EscalationDue *time.Time
}
