package sla

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opendesk-io/opendesk-ce/internal/metrics"
	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

// DefaultWarningWindow is how far ahead of a deadline the sweep raises
// warnings.
const DefaultWarningWindow = 30 * time.Minute

// ErrSweepInProgress is returned when a sweep is requested while the
// previous one is still running. Sweeps never overlap.
var ErrSweepInProgress = errors.New("sla: sweep already in progress")

// Escalator executes the escalation workflow for a breached ticket.
// Satisfied by escalation.Manager.
type Escalator interface {
	Escalate(ctx context.Context, ticketID int, reason string, escType models.EscalationType) (bool, error)
}

// RunLock serializes sweeps across engine instances (cache.SweepLock).
type RunLock interface {
	TryAcquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// SweepResult reports what one sweep run processed.
type SweepResult struct {
	RunID    string
	Warnings int
	Breaches int
	Failures int
	Duration time.Duration
}

// Monitor is the periodic sweep over open trackers: it warns on deadlines
// entering the warning window and escalates breached ones.
type Monitor struct {
	tracking  repository.SLATrackingRepository
	tickets   repository.TicketStore
	notifier  repository.NotificationSink
	escalator Escalator
	logger    *log.Logger
	now       func() time.Time
	window    time.Duration
	metrics   *metrics.SweepMetrics
	lock      RunLock
	running   atomic.Bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithWarningWindow overrides the warning window.
func WithWarningWindow(window time.Duration) MonitorOption {
	return func(m *Monitor) { m.window = window }
}

// WithSweepClock injects the time source, for tests.
func WithSweepClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithSweepLogger injects a custom logger.
func WithSweepLogger(l *log.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithRunLock adds a cross-instance run lock on top of the local guard.
func WithRunLock(lock RunLock) MonitorOption {
	return func(m *Monitor) { m.lock = lock }
}

// WithSweepMetrics attaches Prometheus instrumentation.
func WithSweepMetrics(sm *metrics.SweepMetrics) MonitorOption {
	return func(m *Monitor) { m.metrics = sm }
}

// NewMonitor wires a sweep monitor.
func NewMonitor(tracking repository.SLATrackingRepository, tickets repository.TicketStore, notifier repository.NotificationSink, escalator Escalator, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		tracking:  tracking,
		tickets:   tickets,
		notifier:  notifier,
		escalator: escalator,
		logger:    log.Default(),
		now:       time.Now,
		window:    DefaultWarningWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sweep runs one pass: warning notifications for trackers entering the
// window, escalations for breached ones. One failing ticket never aborts
// the batch; failures are logged, counted and skipped. Returns
// ErrSweepInProgress when another run (local or, with a run lock, on any
// instance) is still going.
func (m *Monitor) Sweep(ctx context.Context) (*SweepResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer m.running.Store(false)

	runID := uuid.NewString()
	if m.lock != nil {
		ok, err := m.lock.TryAcquire(ctx, runID)
		if err != nil {
			// Redis being down must not stop SLA processing; the local
			// guard still serializes this instance.
			m.logger.Printf("sla: sweep %s: run lock unavailable, continuing: %v", runID, err)
		} else if !ok {
			return nil, ErrSweepInProgress
		} else {
			defer func() {
				if err := m.lock.Release(ctx, runID); err != nil {
					m.logger.Printf("sla: sweep %s: release run lock: %v", runID, err)
				}
			}()
		}
	}

	start := m.now()
	result := &SweepResult{RunID: runID}

	m.sweepWarnings(ctx, start, result)
	m.sweepBreaches(ctx, start, result)

	result.Duration = m.now().Sub(start)
	if m.metrics != nil {
		m.metrics.Runs.Inc()
		m.metrics.Warnings.Add(float64(result.Warnings))
		m.metrics.Breaches.Add(float64(result.Breaches))
		m.metrics.Failures.Add(float64(result.Failures))
		m.metrics.Duration.Observe(result.Duration.Seconds())
	}
	m.logger.Printf("sla: sweep %s done: %d warnings, %d breaches, %d failures in %s",
		runID, result.Warnings, result.Breaches, result.Failures, result.Duration)
	return result, nil
}

func (m *Monitor) sweepWarnings(ctx context.Context, now time.Time, result *SweepResult) {
	trackers, err := m.tracking.FindWarning(ctx, now, m.window)
	if err != nil {
		m.logger.Printf("sla: warning query failed: %v", err)
		result.Failures++
		return
	}

	for _, tracker := range trackers {
		ticket, err := m.tickets.GetTicket(ctx, tracker.TicketID)
		if err != nil {
			m.logger.Printf("sla: warning: load ticket %d: %v", tracker.TicketID, err)
			result.Failures++
			continue
		}
		if ticket.IsTerminal() {
			continue
		}

		deadline, due := warningDeadline(&tracker, now, m.window)
		if deadline == "" {
			continue
		}

		if ticket.AssigneeID != nil {
			title := fmt.Sprintf("SLA warning for ticket %s", ticket.Number)
			message := fmt.Sprintf("Ticket %s (%s): %s deadline at %s is %s away",
				ticket.Number, ticket.Title, deadline, due.Format(time.RFC3339), due.Sub(now).Round(time.Minute))
			if err := m.notifier.Notify(ctx, *ticket.AssigneeID, ticket.ID, models.NotificationSLAWarning, title, message); err != nil {
				m.logger.Printf("sla: warning: notify assignee of ticket %d: %v", ticket.ID, err)
				result.Failures++
				continue
			}
		} else {
			m.logger.Printf("sla: warning: ticket %d has no assignee, nobody to warn", ticket.ID)
		}

		// Stamp even without an assignee so the sweep does not re-log the
		// same deadline every run.
		if err := m.tracking.MarkWarned(ctx, tracker.ID, deadline, now); err != nil {
			m.logger.Printf("sla: warning: mark tracker %d %s warned: %v", tracker.ID, deadline, err)
		}
		m.setStatus(ctx, ticket.ID, models.SLAStatusAtRisk)
		result.Warnings++
	}
}

func (m *Monitor) sweepBreaches(ctx context.Context, now time.Time, result *SweepResult) {
	trackers, err := m.tracking.FindBreached(ctx, now)
	if err != nil {
		m.logger.Printf("sla: breach query failed: %v", err)
		result.Failures++
		return
	}

	for _, tracker := range trackers {
		ticket, err := m.tickets.GetTicket(ctx, tracker.TicketID)
		if err != nil {
			m.logger.Printf("sla: breach: load ticket %d: %v", tracker.TicketID, err)
			result.Failures++
			continue
		}
		if ticket.IsTerminal() {
			continue
		}

		m.setStatus(ctx, ticket.ID, models.SLAStatusBreached)

		reason := breachReason(&tracker, now)
		ok, err := m.escalator.Escalate(ctx, ticket.ID, reason, models.EscalationTypeSLABreach)
		if err != nil {
			m.logger.Printf("sla: breach: escalate ticket %d: %v", ticket.ID, err)
			result.Failures++
			if m.metrics != nil && errors.Is(err, repository.ErrConflict) {
				m.metrics.Conflicts.Inc()
			}
			continue
		}
		if !ok {
			// No escalation target; the manager already logged loudly.
			result.Failures++
			continue
		}

		// One escalation per cycle; later sweeps leave the tracker alone.
		if err := m.tracking.MarkEscalated(ctx, tracker.ID, now); err != nil {
			m.logger.Printf("sla: breach: mark tracker %d escalated: %v", tracker.ID, err)
		}
		result.Breaches++
	}
}

func (m *Monitor) setStatus(ctx context.Context, ticketID int, status models.SLAStatus) {
	if err := m.tickets.SetSLAStatus(ctx, ticketID, &status); err != nil {
		m.logger.Printf("sla: set status %s on ticket %d: %v", status, ticketID, err)
	}
}

// warningDeadline names the deadline that put the tracker in the window
// and returns its due time. Each deadline carries its own warned stamp, so
// a tracker already warned for its response comes back for its resolution.
// The response deadline wins when both qualify at once; the resolution
// follows on the next sweep.
func warningDeadline(tracker *models.SLATracking, now time.Time, window time.Duration) (models.SLADeadline, time.Time) {
	until := now.Add(window)
	inWindow := func(due time.Time, met bool, warnedAt *time.Time) bool {
		return !met && warnedAt == nil && !due.Before(now) && !due.After(until)
	}
	if inWindow(tracker.ResponseDueAt, tracker.ResponseMet, tracker.ResponseWarnedAt) {
		return models.SLADeadlineResponse, tracker.ResponseDueAt
	}
	if inWindow(tracker.ResolutionDueAt, tracker.ResolutionMet, tracker.ResolutionWarnedAt) {
		return models.SLADeadlineResolution, tracker.ResolutionDueAt
	}
	return "", time.Time{}
}

// breachReason identifies which deadline(s) were missed.
func breachReason(tracker *models.SLATracking, now time.Time) string {
	var missed []string
	if !tracker.ResponseMet && tracker.ResponseDueAt.Before(now) {
		missed = append(missed, fmt.Sprintf("response deadline missed (due %s)", tracker.ResponseDueAt.Format(time.RFC3339)))
	}
	if !tracker.ResolutionMet && tracker.ResolutionDueAt.Before(now) {
		missed = append(missed, fmt.Sprintf("resolution deadline missed (due %s)", tracker.ResolutionDueAt.Format(time.RFC3339)))
	}
	return "SLA breach: " + strings.Join(missed, "; ")
}
