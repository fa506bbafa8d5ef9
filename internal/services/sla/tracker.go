package sla

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

// DefaultRiskWindow is how close to a deadline a tracker counts as at
// risk.
const DefaultRiskWindow = 30 * time.Minute

// Tracker owns the per-ticket tracking cycle lifecycle.
type Tracker struct {
	tracking  repository.SLATrackingRepository
	tickets   repository.TicketStore
	deadlines *DeadlineCalculator
	logger    *log.Logger
	now       func() time.Time
}

// NewTracker creates a tracker. The ticket store is only used to keep the
// denormalized SLA status current; pass nil to skip that.
func NewTracker(tracking repository.SLATrackingRepository, tickets repository.TicketStore, deadlines *DeadlineCalculator, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		tracking:  tracking,
		tickets:   tickets,
		deadlines: deadlines,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the tracker's time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CreateTracking computes deadlines for the policy and persists a new
// tracking cycle with both met flags false. Callers invoke this once per
// open cycle; a reopened ticket deliberately gets a second row.
func (t *Tracker) CreateTracking(ctx context.Context, ticketID int, policy *models.SLAPolicy, createdAt time.Time) (*models.SLATracking, error) {
	due := t.deadlines.ComputeDeadlines(ctx, policy, createdAt)

	tracking := &models.SLATracking{
		TicketID:        ticketID,
		PolicyID:        policy.ID,
		ResponseDueAt:   due.ResponseDue,
		ResolutionDueAt: due.ResolutionDue,
		EscalationDueAt: due.EscalationDue,
	}
	if err := t.tracking.Create(ctx, tracking); err != nil {
		return nil, fmt.Errorf("create tracking for ticket %d: %w", ticketID, err)
	}

	t.syncTicketStatus(ctx, ticketID, tracking)
	return tracking, nil
}

// MarkFirstResponse records the first agent response. Returns false when
// no open cycle exists, which simply means the response was already
// recorded or the ticket has no tracking; callers treat that as a no-op.
func (t *Tracker) MarkFirstResponse(ctx context.Context, ticketID, responseMinutes int) (bool, error) {
	updated, err := t.tracking.MarkResponse(ctx, ticketID, responseMinutes)
	if err != nil {
		return false, fmt.Errorf("mark first response for ticket %d: %w", ticketID, err)
	}
	if updated {
		t.refreshTicketStatus(ctx, ticketID)
	}
	return updated, nil
}

// MarkResolution records the resolution, same pattern as MarkFirstResponse.
func (t *Tracker) MarkResolution(ctx context.Context, ticketID, resolutionMinutes int) (bool, error) {
	updated, err := t.tracking.MarkResolution(ctx, ticketID, resolutionMinutes)
	if err != nil {
		return false, fmt.Errorf("mark resolution for ticket %d: %w", ticketID, err)
	}
	if updated {
		t.refreshTicketStatus(ctx, ticketID)
	}
	return updated, nil
}

// Status returns the latest tracking cycle for a ticket together with its
// derived status, or (nil, "", nil) when the ticket is untracked.
func (t *Tracker) Status(ctx context.Context, ticketID int) (*models.SLATracking, models.SLAStatus, error) {
	tracking, err := t.tracking.GetLatestByTicket(ctx, ticketID)
	if err != nil {
		return nil, "", err
	}
	if tracking == nil {
		return nil, "", nil
	}
	return tracking, DeriveStatus(tracking, t.now(), DefaultRiskWindow), nil
}

func (t *Tracker) syncTicketStatus(ctx context.Context, ticketID int, tracking *models.SLATracking) {
	if t.tickets == nil {
		return
	}
	status := DeriveStatus(tracking, t.now(), DefaultRiskWindow)
	if err := t.tickets.SetSLAStatus(ctx, ticketID, &status); err != nil {
		t.logger.Printf("sla: failed to sync status for ticket %d: %v", ticketID, err)
	}
}

func (t *Tracker) refreshTicketStatus(ctx context.Context, ticketID int) {
	if t.tickets == nil {
		return
	}
	tracking, err := t.tracking.GetLatestByTicket(ctx, ticketID)
	if err != nil || tracking == nil {
		return
	}
	t.syncTicketStatus(ctx, ticketID, tracking)
}

// DeriveStatus rolls one tracking cycle up into a ticket-level status.
// Response and resolution deadlines are judged independently; either one
// being past due with its met flag still false makes the whole cycle
// breached. At-risk means an unmet deadline falls inside the risk window.
func DeriveStatus(tracking *models.SLATracking, now time.Time, riskWindow time.Duration) models.SLAStatus {
	deadlines := []struct {
		due time.Time
		met bool
	}{
		{tracking.ResponseDueAt, tracking.ResponseMet},
		{tracking.ResolutionDueAt, tracking.ResolutionMet},
	}

	atRisk := false
	for _, d := range deadlines {
		if d.met {
			continue
		}
		if now.After(d.due) {
			return models.SLAStatusBreached
		}
		if d.due.Sub(now) <= riskWindow {
			atRisk = true
		}
	}
	if atRisk {
		return models.SLAStatusAtRisk
	}
	return models.SLAStatusOnTrack
}
