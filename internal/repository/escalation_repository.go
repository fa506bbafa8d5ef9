package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// SQLEscalationRepository is the sqlx-backed EscalationRepository.
type SQLEscalationRepository struct {
	db *sqlx.DB
}

// NewSQLEscalationRepository creates an escalation repository.
func NewSQLEscalationRepository(db *sqlx.DB) *SQLEscalationRepository {
	return &SQLEscalationRepository{db: db}
}

// RecordWithReassign appends the audit entry and reassigns the ticket in a
// single transaction. The assignee update is guarded against concurrent
// writers: if the ticket's assignee no longer matches expectedAssignee the
// whole transaction rolls back with ErrConflict.
func (r *SQLEscalationRepository) RecordWithReassign(ctx context.Context, esc *models.Escalation, expectedAssignee *int) error {
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin escalation tx: %w", err)
	}
	defer tx.Rollback()

	var (
		guard string
		args  []interface{}
	)
	if expectedAssignee != nil {
		guard = `assignee_id = ?`
		args = []interface{}{esc.EscalatedTo, esc.TicketID, *expectedAssignee}
	} else {
		guard = `assignee_id IS NULL`
		args = []interface{}{esc.EscalatedTo, esc.TicketID}
	}

	query := tx.Rebind(`
		UPDATE ticket SET assignee_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND ` + guard)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reassign ticket %d: %w", esc.TicketID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrConflict
	}

	query = tx.Rebind(`
		INSERT INTO escalation (ticket_id, escalation_type, escalated_from,
			escalated_to, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	insRes, err := tx.ExecContext(ctx, query,
		esc.TicketID, esc.Type, esc.EscalatedFrom, esc.EscalatedTo,
		esc.Reason, esc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert escalation for ticket %d: %w", esc.TicketID, err)
	}
	if id, err := insRes.LastInsertId(); err == nil {
		esc.ID = int(id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit escalation tx: %w", err)
	}
	return nil
}

// ListByTicket returns the escalation trail for a ticket, oldest first.
func (r *SQLEscalationRepository) ListByTicket(ctx context.Context, ticketID int) ([]models.Escalation, error) {
	query := r.db.Rebind(`
		SELECT id, ticket_id, escalation_type, escalated_from, escalated_to,
			reason, created_at
		FROM escalation
		WHERE ticket_id = ?
		ORDER BY id`)

	var escalations []models.Escalation
	if err := r.db.SelectContext(ctx, &escalations, query, ticketID); err != nil {
		return nil, fmt.Errorf("list escalations for ticket %d: %w", ticketID, err)
	}
	return escalations, nil
}
