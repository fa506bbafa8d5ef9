// Package escalation drives the escalation workflow: picking a target,
// reassigning the ticket, writing the audit trail and notifying.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

// DefaultTargetRole is the role escalated tickets are reassigned to.
const DefaultTargetRole = "admin"

// Manager executes escalations.
type Manager struct {
	tickets     repository.TicketStore
	users       repository.UserDirectory
	escalations repository.EscalationRepository
	notifier    repository.NotificationSink
	logger      *log.Logger
	targetRole  string
}

// Option configures a Manager.
type Option func(*Manager)

// WithTargetRole overrides the role escalation targets are drawn from.
func WithTargetRole(role string) Option {
	return func(m *Manager) { m.targetRole = role }
}

// WithLogger injects a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager wires an escalation manager.
func NewManager(tickets repository.TicketStore, users repository.UserDirectory, escalations repository.EscalationRepository, notifier repository.NotificationSink, opts ...Option) *Manager {
	m := &Manager{
		tickets:     tickets,
		users:       users,
		escalations: escalations,
		notifier:    notifier,
		logger:      log.Default(),
		targetRole:  DefaultTargetRole,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Escalate reassigns the ticket to the escalation target, records the
// audit entry and notifies the target. Returns false without error when no
// target is configured; that is a deployment problem, not a transient
// fault, and nothing is written. The audit entry and the reassignment
// commit together; the notification is best-effort.
func (m *Manager) Escalate(ctx context.Context, ticketID int, reason string, escType models.EscalationType) (bool, error) {
	if !escType.Valid() {
		return false, fmt.Errorf("unknown escalation type %q", escType)
	}

	ticket, err := m.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return false, fmt.Errorf("load ticket %d: %w", ticketID, err)
	}

	target, err := m.users.FindEscalationTarget(ctx, m.targetRole)
	if err != nil {
		return false, fmt.Errorf("find escalation target: %w", err)
	}
	if target == nil {
		m.logger.Printf("ERROR escalation: no active %q user to escalate ticket %d to; check deployment configuration", m.targetRole, ticketID)
		return false, nil
	}

	esc := &models.Escalation{
		TicketID:      ticketID,
		Type:          escType,
		EscalatedFrom: ticket.AssigneeID,
		EscalatedTo:   target.ID,
		Reason:        reason,
	}

	err = m.escalations.RecordWithReassign(ctx, esc, ticket.AssigneeID)
	if errors.Is(err, repository.ErrConflict) {
		// A concurrent writer changed the assignee. Re-read once and retry
		// against the fresh value, then report the conflict.
		ticket, err = m.tickets.GetTicket(ctx, ticketID)
		if err != nil {
			return false, fmt.Errorf("reload ticket %d after conflict: %w", ticketID, err)
		}
		esc.EscalatedFrom = ticket.AssigneeID
		err = m.escalations.RecordWithReassign(ctx, esc, ticket.AssigneeID)
	}
	if err != nil {
		return false, fmt.Errorf("record escalation for ticket %d: %w", ticketID, err)
	}

	title := fmt.Sprintf("Ticket %s escalated", ticket.Number)
	message := fmt.Sprintf("Ticket %s (%s) was escalated to you: %s", ticket.Number, ticket.Title, reason)
	if err := m.notifier.Notify(ctx, target.ID, ticketID, models.NotificationEscalation, title, message); err != nil {
		m.logger.Printf("escalation: notify target %d for ticket %d failed: %v", target.ID, ticketID, err)
	}

	return true, nil
}
