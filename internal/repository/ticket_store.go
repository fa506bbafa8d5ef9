package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// SQLTicketStore exposes the slice of ticket persistence the engine needs.
// Full ticket CRUD lives elsewhere in the platform.
type SQLTicketStore struct {
	db *sqlx.DB
}

// NewSQLTicketStore creates a ticket store on the shared handle.
func NewSQLTicketStore(db *sqlx.DB) *SQLTicketStore {
	return &SQLTicketStore{db: db}
}

// GetTicket retrieves a ticket by id.
func (s *SQLTicketStore) GetTicket(ctx context.Context, id int) (*models.Ticket, error) {
	query := s.db.Rebind(`
		SELECT id, tn, title, priority_id, category_id, assignee_id, status,
			sla_status, created_at, updated_at
		FROM ticket WHERE id = ?`)

	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	return &ticket, nil
}

// UpdateAssignee sets the ticket's assignee unconditionally. Escalation
// uses the guarded path in EscalationRepository instead.
func (s *SQLTicketStore) UpdateAssignee(ctx context.Context, ticketID, userID int) error {
	query := s.db.Rebind(`
		UPDATE ticket SET assignee_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, userID, ticketID)
	if err != nil {
		return fmt.Errorf("update assignee for ticket %d: %w", ticketID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSLAStatus writes the denormalized SLA status onto the ticket.
// A nil status clears the field (no deadline assigned).
func (s *SQLTicketStore) SetSLAStatus(ctx context.Context, ticketID int, status *models.SLAStatus) error {
	query := s.db.Rebind(`UPDATE ticket SET sla_status = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, status, ticketID); err != nil {
		return fmt.Errorf("set sla status for ticket %d: %w", ticketID, err)
	}
	return nil
}

// SQLUserDirectory resolves escalation targets from the user table.
type SQLUserDirectory struct {
	db *sqlx.DB
}

// NewSQLUserDirectory creates a user directory on the shared handle.
func NewSQLUserDirectory(db *sqlx.DB) *SQLUserDirectory {
	return &SQLUserDirectory{db: db}
}

// FindEscalationTarget returns the lowest-id active user holding the role,
// or (nil, nil) when no such user exists.
func (d *SQLUserDirectory) FindEscalationTarget(ctx context.Context, role string) (*models.User, error) {
	query := d.db.Rebind(`
		SELECT id, login, role, is_active
		FROM users
		WHERE role = ? AND is_active = true
		ORDER BY id LIMIT 1`)

	var user models.User
	err := d.db.GetContext(ctx, &user, query, role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find escalation target %q: %w", role, err)
	}
	return &user, nil
}

// SQLNotificationSink persists notifications for the delivery pipeline to
// pick up. Delivery itself (email, web push) is outside the engine.
type SQLNotificationSink struct {
	db *sqlx.DB
}

// NewSQLNotificationSink creates a notification sink on the shared handle.
func NewSQLNotificationSink(db *sqlx.DB) *SQLNotificationSink {
	return &SQLNotificationSink{db: db}
}

// Notify enqueues one notification row.
func (s *SQLNotificationSink) Notify(ctx context.Context, userID, ticketID int, kind models.NotificationKind, title, message string) error {
	query := s.db.Rebind(`
		INSERT INTO notification (user_id, ticket_id, kind, title, message, created_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`)
	if _, err := s.db.ExecContext(ctx, query, userID, ticketID, kind, title, message); err != nil {
		return fmt.Errorf("enqueue notification for user %d: %w", userID, err)
	}
	return nil
}

// SQLSettingsStore reads key/value settings from the setting table.
type SQLSettingsStore struct {
	db *sqlx.DB
}

// NewSQLSettingsStore creates a settings store on the shared handle.
func NewSQLSettingsStore(db *sqlx.DB) *SQLSettingsStore {
	return &SQLSettingsStore{db: db}
}

// GetSetting returns the raw value for key, or ErrNotFound.
func (s *SQLSettingsStore) GetSetting(ctx context.Context, key string) (string, error) {
	query := s.db.Rebind(`SELECT value FROM setting WHERE name = ?`)

	var value string
	err := s.db.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}
