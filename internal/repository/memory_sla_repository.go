package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// MemorySLAPolicyRepository is an in-memory SLAPolicyRepository used by
// unit tests and the demo mode.
type MemorySLAPolicyRepository struct {
	mu       sync.RWMutex
	policies map[int]*models.SLAPolicy
	nextID   int
}

// NewMemorySLAPolicyRepository creates an empty in-memory policy repository.
func NewMemorySLAPolicyRepository() *MemorySLAPolicyRepository {
	return &MemorySLAPolicyRepository{
		policies: make(map[int]*models.SLAPolicy),
		nextID:   1,
	}
}

// Create stores a copy of the policy and assigns its id.
func (r *MemorySLAPolicyRepository) Create(ctx context.Context, policy *models.SLAPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	policy.ID = r.nextID
	r.nextID++
	now := time.Now().UTC()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	stored := *policy
	r.policies[policy.ID] = &stored
	return nil
}

// Get retrieves a policy by id.
func (r *MemorySLAPolicyRepository) Get(ctx context.Context, id int) (*models.SLAPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *policy
	return &result, nil
}

// List returns policies ordered by priority then id.
func (r *MemorySLAPolicyRepository) List(ctx context.Context, activeOnly bool) ([]models.SLAPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var policies []models.SLAPolicy
	for _, p := range r.policies {
		if activeOnly && !p.IsActive {
			continue
		}
		policies = append(policies, *p)
	}
	sort.Slice(policies, func(i, j int) bool {
		if policies[i].PriorityID != policies[j].PriorityID {
			return policies[i].PriorityID < policies[j].PriorityID
		}
		return policies[i].ID < policies[j].ID
	})
	return policies, nil
}

// Update replaces a stored policy.
func (r *MemorySLAPolicyRepository) Update(ctx context.Context, policy *models.SLAPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[policy.ID]; !ok {
		return ErrNotFound
	}
	policy.UpdatedAt = time.Now().UTC()
	stored := *policy
	r.policies[policy.ID] = &stored
	return nil
}

// FindActive matches the exact (priority, category) pair; lowest id wins.
func (r *MemorySLAPolicyRepository) FindActive(ctx context.Context, priorityID int, categoryID *int) (*models.SLAPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.SLAPolicy
	for _, p := range r.policies {
		if !p.IsActive || p.PriorityID != priorityID {
			continue
		}
		if (p.CategoryID == nil) != (categoryID == nil) {
			continue
		}
		if categoryID != nil && *p.CategoryID != *categoryID {
			continue
		}
		if best == nil || p.ID < best.ID {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	result := *best
	return &result, nil
}

// MemorySLATrackingRepository is an in-memory SLATrackingRepository. The
// ticket store is consulted to exclude terminal tickets from sweeps, the
// same restriction the SQL queries apply with a join.
type MemorySLATrackingRepository struct {
	mu       sync.RWMutex
	trackers map[int]*models.SLATracking
	nextID   int
	tickets  TicketStore
}

// NewMemorySLATrackingRepository creates an empty tracking repository.
func NewMemorySLATrackingRepository(tickets TicketStore) *MemorySLATrackingRepository {
	return &MemorySLATrackingRepository{
		trackers: make(map[int]*models.SLATracking),
		nextID:   1,
		tickets:  tickets,
	}
}

// Create stores a copy of the tracking cycle and assigns its id.
func (r *MemorySLATrackingRepository) Create(ctx context.Context, tracking *models.SLATracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracking.ID = r.nextID
	r.nextID++
	if tracking.CreatedAt.IsZero() {
		tracking.CreatedAt = time.Now().UTC()
	}

	stored := *tracking
	r.trackers[tracking.ID] = &stored
	return nil
}

// GetLatestByTicket returns the newest cycle for a ticket, or (nil, nil).
func (r *MemorySLATrackingRepository) GetLatestByTicket(ctx context.Context, ticketID int) (*models.SLATracking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.SLATracking
	for _, t := range r.trackers {
		if t.TicketID != ticketID {
			continue
		}
		if latest == nil || t.ID > latest.ID {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	result := *latest
	return &result, nil
}

// MarkResponse flips response_met where still false.
func (r *MemorySLATrackingRepository) MarkResponse(ctx context.Context, ticketID, minutes int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := false
	for _, t := range r.trackers {
		if t.TicketID == ticketID && !t.ResponseMet {
			t.ResponseMet = true
			m := minutes
			t.ResponseMinutes = &m
			updated = true
		}
	}
	return updated, nil
}

// MarkResolution flips resolution_met where still false.
func (r *MemorySLATrackingRepository) MarkResolution(ctx context.Context, ticketID, minutes int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := false
	for _, t := range r.trackers {
		if t.TicketID == ticketID && !t.ResolutionMet {
			t.ResolutionMet = true
			m := minutes
			t.ResolutionMinutes = &m
			updated = true
		}
	}
	return updated, nil
}

// FindWarning returns trackers with an unwarned deadline entering the
// warning window. The warned stamps are per deadline.
func (r *MemorySLATrackingRepository) FindWarning(ctx context.Context, now time.Time, window time.Duration) ([]models.SLATracking, error) {
	until := now.Add(window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.SLATracking
	for _, t := range r.trackers {
		inWindow := func(due time.Time, met bool, warnedAt *time.Time) bool {
			return !met && warnedAt == nil && !due.Before(now) && !due.After(until)
		}
		if !inWindow(t.ResponseDueAt, t.ResponseMet, t.ResponseWarnedAt) &&
			!inWindow(t.ResolutionDueAt, t.ResolutionMet, t.ResolutionWarnedAt) {
			continue
		}
		if r.ticketTerminal(ctx, t.TicketID) {
			continue
		}
		result = append(result, *t)
	}
	sortTrackers(result)
	return result, nil
}

// FindBreached returns not-yet-escalated trackers with an unmet deadline
// in the past.
func (r *MemorySLATrackingRepository) FindBreached(ctx context.Context, now time.Time) ([]models.SLATracking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.SLATracking
	for _, t := range r.trackers {
		if t.EscalatedAt != nil {
			continue
		}
		responseBreached := !t.ResponseMet && t.ResponseDueAt.Before(now)
		resolutionBreached := !t.ResolutionMet && t.ResolutionDueAt.Before(now)
		if !responseBreached && !resolutionBreached {
			continue
		}
		if r.ticketTerminal(ctx, t.TicketID) {
			continue
		}
		result = append(result, *t)
	}
	sortTrackers(result)
	return result, nil
}

// MarkWarned stamps the named deadline's warned-at on a tracker.
func (r *MemorySLATrackingRepository) MarkWarned(ctx context.Context, trackingID int, deadline models.SLADeadline, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[trackingID]
	if !ok {
		return ErrNotFound
	}
	stamped := at
	if deadline == models.SLADeadlineResolution {
		t.ResolutionWarnedAt = &stamped
	} else {
		t.ResponseWarnedAt = &stamped
	}
	return nil
}

// MarkEscalated stamps escalated_at on a tracker.
func (r *MemorySLATrackingRepository) MarkEscalated(ctx context.Context, trackingID int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[trackingID]
	if !ok {
		return ErrNotFound
	}
	stamped := at
	t.EscalatedAt = &stamped
	return nil
}

func (r *MemorySLATrackingRepository) ticketTerminal(ctx context.Context, ticketID int) bool {
	if r.tickets == nil {
		return false
	}
	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil || ticket == nil {
		return false
	}
	return ticket.IsTerminal()
}

func sortTrackers(trackers []models.SLATracking) {
	sort.Slice(trackers, func(i, j int) bool {
		return trackers[i].ID < trackers[j].ID
	})
}
