package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// SQLSLATrackingRepository is the sqlx-backed SLATrackingRepository.
type SQLSLATrackingRepository struct {
	db *sqlx.DB
}

// NewSQLSLATrackingRepository creates a tracking repository.
func NewSQLSLATrackingRepository(db *sqlx.DB) *SQLSLATrackingRepository {
	return &SQLSLATrackingRepository{db: db}
}

const slaTrackingColumns = `t.id, t.ticket_id, t.policy_id, t.response_due_at,
	t.resolution_due_at, t.escalation_due_at, t.response_met, t.resolution_met,
	t.response_minutes, t.resolution_minutes, t.response_warned_at,
	t.resolution_warned_at, t.escalated_at, t.created_at`

// Create inserts a new tracking cycle.
func (r *SQLSLATrackingRepository) Create(ctx context.Context, tracking *models.SLATracking) error {
	if tracking.CreatedAt.IsZero() {
		tracking.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO sla_tracking (ticket_id, policy_id, response_due_at,
			resolution_due_at, escalation_due_at, response_met, resolution_met,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	res, err := r.db.ExecContext(ctx, query,
		tracking.TicketID, tracking.PolicyID, tracking.ResponseDueAt,
		tracking.ResolutionDueAt, tracking.EscalationDueAt,
		tracking.ResponseMet, tracking.ResolutionMet, tracking.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sla tracking for ticket %d: %w", tracking.TicketID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		tracking.ID = int(id)
	}
	return nil
}

// GetLatestByTicket returns the newest tracking cycle for a ticket.
func (r *SQLSLATrackingRepository) GetLatestByTicket(ctx context.Context, ticketID int) (*models.SLATracking, error) {
	query := r.db.Rebind(`
		SELECT ` + slaTrackingColumns + `
		FROM sla_tracking t
		WHERE t.ticket_id = ?
		ORDER BY t.id DESC LIMIT 1`)

	var tracking models.SLATracking
	err := r.db.GetContext(ctx, &tracking, query, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sla tracking for ticket %d: %w", ticketID, err)
	}
	return &tracking, nil
}

// MarkResponse flips response_met on still-open rows for the ticket.
func (r *SQLSLATrackingRepository) MarkResponse(ctx context.Context, ticketID, minutes int) (bool, error) {
	query := r.db.Rebind(`
		UPDATE sla_tracking
		SET response_met = true, response_minutes = ?
		WHERE ticket_id = ? AND response_met = false`)
	return r.mark(ctx, query, minutes, ticketID)
}

// MarkResolution flips resolution_met on still-open rows for the ticket.
func (r *SQLSLATrackingRepository) MarkResolution(ctx context.Context, ticketID, minutes int) (bool, error) {
	query := r.db.Rebind(`
		UPDATE sla_tracking
		SET resolution_met = true, resolution_minutes = ?
		WHERE ticket_id = ? AND resolution_met = false`)
	return r.mark(ctx, query, minutes, ticketID)
}

func (r *SQLSLATrackingRepository) mark(ctx context.Context, query string, minutes, ticketID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, minutes, ticketID)
	if err != nil {
		return false, fmt.Errorf("mark sla tracking for ticket %d: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindWarning returns trackers with a deadline entering the warning window
// that has not been warned about yet, on non-terminal tickets.
func (r *SQLSLATrackingRepository) FindWarning(ctx context.Context, now time.Time, window time.Duration) ([]models.SLATracking, error) {
	until := now.Add(window)

	query := r.db.Rebind(`
		SELECT ` + slaTrackingColumns + `
		FROM sla_tracking t
		JOIN ticket tk ON tk.id = t.ticket_id
		WHERE tk.status NOT IN ('resolved', 'closed')
		  AND ((t.response_met = false AND t.response_warned_at IS NULL
		        AND t.response_due_at >= ? AND t.response_due_at <= ?)
		    OR (t.resolution_met = false AND t.resolution_warned_at IS NULL
		        AND t.resolution_due_at >= ? AND t.resolution_due_at <= ?))
		ORDER BY t.id`)

	var trackers []models.SLATracking
	err := r.db.SelectContext(ctx, &trackers, query, now, until, now, until)
	if err != nil {
		return nil, fmt.Errorf("find warning trackers: %w", err)
	}
	return trackers, nil
}

// FindBreached returns not-yet-escalated trackers with an unmet deadline
// in the past, on non-terminal tickets.
func (r *SQLSLATrackingRepository) FindBreached(ctx context.Context, now time.Time) ([]models.SLATracking, error) {
	query := r.db.Rebind(`
		SELECT ` + slaTrackingColumns + `
		FROM sla_tracking t
		JOIN ticket tk ON tk.id = t.ticket_id
		WHERE tk.status NOT IN ('resolved', 'closed')
		  AND t.escalated_at IS NULL
		  AND ((t.response_met = false AND t.response_due_at < ?)
		    OR (t.resolution_met = false AND t.resolution_due_at < ?))
		ORDER BY t.id`)

	var trackers []models.SLATracking
	err := r.db.SelectContext(ctx, &trackers, query, now, now)
	if err != nil {
		return nil, fmt.Errorf("find breached trackers: %w", err)
	}
	return trackers, nil
}

// MarkWarned stamps the named deadline's warned-at on a tracker.
func (r *SQLSLATrackingRepository) MarkWarned(ctx context.Context, trackingID int, deadline models.SLADeadline, at time.Time) error {
	column := "response_warned_at"
	if deadline == models.SLADeadlineResolution {
		column = "resolution_warned_at"
	}
	query := r.db.Rebind(`UPDATE sla_tracking SET ` + column + ` = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, at, trackingID); err != nil {
		return fmt.Errorf("mark tracker %d %s warned: %w", trackingID, deadline, err)
	}
	return nil
}

// MarkEscalated stamps escalated_at on a tracker.
func (r *SQLSLATrackingRepository) MarkEscalated(ctx context.Context, trackingID int, at time.Time) error {
	query := r.db.Rebind(`UPDATE sla_tracking SET escalated_at = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, at, trackingID); err != nil {
		return fmt.Errorf("mark tracker %d escalated: %w", trackingID, err)
	}
	return nil
}
