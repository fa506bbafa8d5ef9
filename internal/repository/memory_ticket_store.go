package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// MemoryTicketStore is an in-memory TicketStore for tests and demo mode.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[int]*models.Ticket
}

// NewMemoryTicketStore creates an empty in-memory ticket store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[int]*models.Ticket)}
}

// Put seeds or replaces a ticket.
func (s *MemoryTicketStore) Put(ticket *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *ticket
	s.tickets[ticket.ID] = &stored
}

// GetTicket retrieves a ticket by id.
func (s *MemoryTicketStore) GetTicket(ctx context.Context, id int) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *ticket
	return &result, nil
}

// UpdateAssignee sets the ticket's assignee.
func (s *MemoryTicketStore) UpdateAssignee(ctx context.Context, ticketID, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	assignee := userID
	ticket.AssigneeID = &assignee
	ticket.UpdatedAt = time.Now().UTC()
	return nil
}

// SetSLAStatus writes the denormalized SLA status.
func (s *MemoryTicketStore) SetSLAStatus(ctx context.Context, ticketID int, status *models.SLAStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	if status == nil {
		ticket.SLAStatus = nil
	} else {
		value := *status
		ticket.SLAStatus = &value
	}
	return nil
}

// MemoryUserDirectory is an in-memory UserDirectory.
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[int]*models.User
}

// NewMemoryUserDirectory creates an empty in-memory user directory.
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{users: make(map[int]*models.User)}
}

// Put seeds or replaces a user.
func (d *MemoryUserDirectory) Put(user *models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := *user
	d.users[user.ID] = &stored
}

// FindEscalationTarget returns the lowest-id active user with the role.
func (d *MemoryUserDirectory) FindEscalationTarget(ctx context.Context, role string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *models.User
	for _, u := range d.users {
		if !u.IsActive || u.Role != role {
			continue
		}
		if best == nil || u.ID < best.ID {
			best = u
		}
	}
	if best == nil {
		return nil, nil
	}
	result := *best
	return &result, nil
}

// Notification is a captured notification, kept for test assertions.
type Notification struct {
	UserID   int
	TicketID int
	Kind     models.NotificationKind
	Title    string
	Message  string
	SentAt   time.Time
}

// MemoryNotificationSink collects notifications instead of delivering them.
type MemoryNotificationSink struct {
	mu            sync.Mutex
	notifications []Notification
	failWith      error
}

// NewMemoryNotificationSink creates a collecting sink.
func NewMemoryNotificationSink() *MemoryNotificationSink {
	return &MemoryNotificationSink{}
}

// FailWith makes every subsequent Notify return err.
func (s *MemoryNotificationSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Notify records the notification.
func (s *MemoryNotificationSink) Notify(ctx context.Context, userID, ticketID int, kind models.NotificationKind, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	s.notifications = append(s.notifications, Notification{
		UserID:   userID,
		TicketID: ticketID,
		Kind:     kind,
		Title:    title,
		Message:  message,
		SentAt:   time.Now().UTC(),
	})
	return nil
}

// Sent returns a copy of everything notified so far.
func (s *MemoryNotificationSink) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// MemoryEscalationRepository is an in-memory EscalationRepository. The
// reassignment guard mirrors the SQL transaction: entry and assignee
// change happen under one lock, or not at all.
type MemoryEscalationRepository struct {
	mu          sync.Mutex
	escalations []models.Escalation
	nextID      int
	tickets     *MemoryTicketStore
}

// NewMemoryEscalationRepository creates an escalation repository bound to
// the in-memory ticket store it reassigns through.
func NewMemoryEscalationRepository(tickets *MemoryTicketStore) *MemoryEscalationRepository {
	return &MemoryEscalationRepository{nextID: 1, tickets: tickets}
}

// RecordWithReassign appends the entry and reassigns the ticket atomically.
func (r *MemoryEscalationRepository) RecordWithReassign(ctx context.Context, esc *models.Escalation, expectedAssignee *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tickets.mu.Lock()
	defer r.tickets.mu.Unlock()

	ticket, ok := r.tickets.tickets[esc.TicketID]
	if !ok {
		return ErrNotFound
	}
	if (ticket.AssigneeID == nil) != (expectedAssignee == nil) {
		return ErrConflict
	}
	if expectedAssignee != nil && *ticket.AssigneeID != *expectedAssignee {
		return ErrConflict
	}

	esc.ID = r.nextID
	r.nextID++
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}
	r.escalations = append(r.escalations, *esc)

	assignee := esc.EscalatedTo
	ticket.AssigneeID = &assignee
	ticket.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByTicket returns the escalation trail for a ticket, oldest first.
func (r *MemoryEscalationRepository) ListByTicket(ctx context.Context, ticketID int) ([]models.Escalation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.Escalation
	for _, e := range r.escalations {
		if e.TicketID == ticketID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// MemorySettingsStore is an in-memory SettingsStore.
type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings map[string]string
	failWith error
}

// NewMemorySettingsStore creates a settings store seeded with values.
func NewMemorySettingsStore(settings map[string]string) *MemorySettingsStore {
	copied := make(map[string]string, len(settings))
	for k, v := range settings {
		copied[k] = v
	}
	return &MemorySettingsStore{settings: copied}
}

// Set stores a value.
func (s *MemorySettingsStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

// FailWith makes every subsequent GetSetting return err.
func (s *MemorySettingsStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// GetSetting returns the value for key, or ErrNotFound.
func (s *MemorySettingsStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return "", s.failWith
	}
	value, ok := s.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}
