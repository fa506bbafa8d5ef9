package escalation

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

func intPtr(v int) *int { return &v }

type managerFixture struct {
	manager     *Manager
	tickets     *repository.MemoryTicketStore
	users       *repository.MemoryUserDirectory
	escalations *repository.MemoryEscalationRepository
	notifier    *repository.MemoryNotificationSink
}

func newManagerFixture(opts ...Option) *managerFixture {
	f := &managerFixture{
		tickets:  repository.NewMemoryTicketStore(),
		users:    repository.NewMemoryUserDirectory(),
		notifier: repository.NewMemoryNotificationSink(),
	}
	f.escalations = repository.NewMemoryEscalationRepository(f.tickets)
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	f.manager = NewManager(f.tickets, f.users, f.escalations, f.notifier, opts...)
	return f
}

func TestEscalateReassignsAndRecords(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 1, Number: "T-1", Title: "mail outage", Status: models.TicketStatusOpen, AssigneeID: intPtr(10)})
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	ok, err := f.manager.Escalate(context.Background(), 1, "SLA breach: resolution deadline missed", models.EscalationTypeSLABreach)
	require.NoError(t, err)
	assert.True(t, ok)

	ticket, err := f.tickets.GetTicket(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, ticket.AssigneeID)
	assert.Equal(t, 30, *ticket.AssigneeID)

	trail, err := f.escalations.ListByTicket(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.EscalationTypeSLABreach, trail[0].Type)
	require.NotNil(t, trail[0].EscalatedFrom)
	assert.Equal(t, 10, *trail[0].EscalatedFrom)
	assert.Equal(t, 30, trail[0].EscalatedTo)
	assert.Equal(t, "SLA breach: resolution deadline missed", trail[0].Reason)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 30, sent[0].UserID)
	assert.Equal(t, models.NotificationEscalation, sent[0].Kind)
}

func TestEscalateUnassignedTicket(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 2, Number: "T-2", Status: models.TicketStatusNew})
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	ok, err := f.manager.Escalate(context.Background(), 2, "manual escalation", models.EscalationTypeManual)
	require.NoError(t, err)
	assert.True(t, ok)

	trail, err := f.escalations.ListByTicket(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Nil(t, trail[0].EscalatedFrom)
}

func TestEscalateNoTargetWritesNothing(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 3, Number: "T-3", Status: models.TicketStatusOpen, AssigneeID: intPtr(10)})
	// Only inactive admins around.
	f.users.Put(&models.User{ID: 31, Login: "gone", Role: "admin", IsActive: false})
	f.users.Put(&models.User{ID: 32, Login: "agent", Role: "agent", IsActive: true})

	ok, err := f.manager.Escalate(context.Background(), 3, "nobody home", models.EscalationTypeManual)
	require.NoError(t, err)
	assert.False(t, ok)

	ticket, err := f.tickets.GetTicket(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 10, *ticket.AssigneeID, "assignee untouched")

	trail, err := f.escalations.ListByTicket(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, trail, "no audit entry without a target")
	assert.Empty(t, f.notifier.Sent())
}

func TestEscalateLowestIDTargetWins(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 4, Status: models.TicketStatusOpen})
	f.users.Put(&models.User{ID: 50, Login: "second", Role: "admin", IsActive: true})
	f.users.Put(&models.User{ID: 40, Login: "first", Role: "admin", IsActive: true})

	ok, err := f.manager.Escalate(context.Background(), 4, "pick deterministically", models.EscalationTypeManual)
	require.NoError(t, err)
	require.True(t, ok)

	ticket, _ := f.tickets.GetTicket(context.Background(), 4)
	assert.Equal(t, 40, *ticket.AssigneeID)
}

func TestEscalateCustomRole(t *testing.T) {
	f := newManagerFixture(WithTargetRole("supervisor"))
	f.tickets.Put(&models.Ticket{ID: 5, Status: models.TicketStatusOpen})
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})
	f.users.Put(&models.User{ID: 60, Login: "super", Role: "supervisor", IsActive: true})

	ok, err := f.manager.Escalate(context.Background(), 5, "route to supervisors", models.EscalationTypeManual)
	require.NoError(t, err)
	require.True(t, ok)

	ticket, _ := f.tickets.GetTicket(context.Background(), 5)
	assert.Equal(t, 60, *ticket.AssigneeID)
}

func TestEscalateInvalidType(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 6, Status: models.TicketStatusOpen})

	ok, err := f.manager.Escalate(context.Background(), 6, "bad type", models.EscalationType("vibes"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestEscalateMissingTicket(t *testing.T) {
	f := newManagerFixture()
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	ok, err := f.manager.Escalate(context.Background(), 404, "gone", models.EscalationTypeManual)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, ok)
}

// conflictOnce wraps the escalation repository and rejects the first attempt
// with a stale-assignee conflict, as a concurrent reassignment would.
type conflictOnce struct {
	repository.EscalationRepository
	tickets  *repository.MemoryTicketStore
	tripped  bool
	newOwner int
}

func (c *conflictOnce) RecordWithReassign(ctx context.Context, esc *models.Escalation, expectedAssignee *int) error {
	if !c.tripped {
		c.tripped = true
		// Simulate the racing writer before failing the guarded update.
		if err := c.tickets.UpdateAssignee(ctx, esc.TicketID, c.newOwner); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	return c.EscalationRepository.RecordWithReassign(ctx, esc, expectedAssignee)
}

func TestEscalateRetriesOnceAfterConflict(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 7, Number: "T-7", Status: models.TicketStatusOpen, AssigneeID: intPtr(10)})
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	wrapped := &conflictOnce{EscalationRepository: f.escalations, tickets: f.tickets, newOwner: 11}
	manager := NewManager(f.tickets, f.users, wrapped, f.notifier, WithLogger(log.New(io.Discard, "", 0)))

	ok, err := manager.Escalate(context.Background(), 7, "race with reassignment", models.EscalationTypeSLABreach)
	require.NoError(t, err)
	assert.True(t, ok)

	trail, err := f.escalations.ListByTicket(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.NotNil(t, trail[0].EscalatedFrom)
	assert.Equal(t, 11, *trail[0].EscalatedFrom, "audit records the fresh assignee")

	ticket, _ := f.tickets.GetTicket(context.Background(), 7)
	assert.Equal(t, 30, *ticket.AssigneeID)
}

type alwaysConflict struct {
	repository.EscalationRepository
}

func (alwaysConflict) RecordWithReassign(ctx context.Context, esc *models.Escalation, expectedAssignee *int) error {
	return repository.ErrConflict
}

func TestEscalateGivesUpAfterSecondConflict(t *testing.T) {
	f := newManagerFixture()
	f.tickets.Put(&models.Ticket{ID: 8, Status: models.TicketStatusOpen, AssigneeID: intPtr(10)})
	f.users.Put(&models.User{ID: 30, Login: "boss", Role: "admin", IsActive: true})

	manager := NewManager(f.tickets, f.users, alwaysConflict{f.escalations}, f.notifier, WithLogger(log.New(io.Discard, "", 0)))

	ok, err := manager.Escalate(context.Background(), 8, "hot ticket", models.EscalationTypeSLABreach)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.False(t, ok)
	assert.Empty(t, f.notifier.Sent())
}
