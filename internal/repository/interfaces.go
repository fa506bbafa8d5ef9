package repository

import (
	"context"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// SLAPolicyRepository manages SLA policy definitions.
type SLAPolicyRepository interface {
	Create(ctx context.Context, policy *models.SLAPolicy) error
	Get(ctx context.Context, id int) (*models.SLAPolicy, error)
	List(ctx context.Context, activeOnly bool) ([]models.SLAPolicy, error)
	Update(ctx context.Context, policy *models.SLAPolicy) error

	// FindActive returns the active policy matching the priority and
	// category exactly. A nil categoryID matches the general policy
	// (category IS NULL). Returns (nil, nil) when no policy matches;
	// duplicate matches resolve to the lowest id.
	FindActive(ctx context.Context, priorityID int, categoryID *int) (*models.SLAPolicy, error)
}

// SLATrackingRepository manages per-ticket tracking cycles.
type SLATrackingRepository interface {
	Create(ctx context.Context, tracking *models.SLATracking) error

	// GetLatestByTicket returns the most recent tracking cycle for a
	// ticket, or (nil, nil) when the ticket has none.
	GetLatestByTicket(ctx context.Context, ticketID int) (*models.SLATracking, error)

	// MarkResponse flips response_met on rows where it is still false and
	// records the elapsed minutes. Returns false when no such row exists.
	MarkResponse(ctx context.Context, ticketID, minutes int) (bool, error)

	// MarkResolution is MarkResponse for the resolution deadline.
	MarkResolution(ctx context.Context, ticketID, minutes int) (bool, error)

	// FindWarning returns trackers where the response or the resolution
	// deadline is unmet, not yet warned about, and inside [now, now+window],
	// restricted to non-terminal tickets. The stamps are per deadline, so a
	// tracker whose response was already warned shows up again when its
	// resolution deadline enters the window.
	FindWarning(ctx context.Context, now time.Time, window time.Duration) ([]models.SLATracking, error)

	// FindBreached returns trackers with an unmet deadline strictly in the
	// past that have not been escalated yet, restricted to non-terminal
	// tickets.
	FindBreached(ctx context.Context, now time.Time) ([]models.SLATracking, error)

	// MarkWarned stamps the named deadline's warned-at so its warning fires
	// once per cycle.
	MarkWarned(ctx context.Context, trackingID int, deadline models.SLADeadline, at time.Time) error

	// MarkEscalated stamps escalated_at so the cycle is escalated once.
	MarkEscalated(ctx context.Context, trackingID int, at time.Time) error
}

// TicketStore is the slice of ticket persistence the engine consumes.
type TicketStore interface {
	GetTicket(ctx context.Context, id int) (*models.Ticket, error)
	UpdateAssignee(ctx context.Context, ticketID, userID int) error
	SetSLAStatus(ctx context.Context, ticketID int, status *models.SLAStatus) error
}

// UserDirectory locates users eligible as escalation targets.
type UserDirectory interface {
	// FindEscalationTarget returns the lowest-id active user holding the
	// role, or (nil, nil) when none exists.
	FindEscalationTarget(ctx context.Context, role string) (*models.User, error)
}

// EscalationRepository appends escalation audit entries.
type EscalationRepository interface {
	// RecordWithReassign appends the escalation entry and reassigns the
	// ticket to esc.EscalatedTo in one transaction. The reassignment is
	// guarded by expectedAssignee (nil = unassigned); ErrConflict is
	// returned, with nothing written, when a concurrent writer changed
	// the assignee first.
	RecordWithReassign(ctx context.Context, esc *models.Escalation, expectedAssignee *int) error

	ListByTicket(ctx context.Context, ticketID int) ([]models.Escalation, error)
}

// NotificationSink delivers notifications. Fire-and-forget from the
// engine's perspective; failures are logged, never propagated.
type NotificationSink interface {
	Notify(ctx context.Context, userID, ticketID int, kind models.NotificationKind, title, message string) error
}

// SettingsStore reads process-wide settings (business hours, holidays).
type SettingsStore interface {
	// GetSetting returns the raw value for key, or ErrNotFound.
	GetSetting(ctx context.Context, key string) (string, error)
}
