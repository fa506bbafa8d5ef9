package sla

import (
	"context"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// MinutesFromHours converts an hours-based policy input to the minutes the
// calculator works in. Conversion happens at the admin/API boundary; the
// calculator itself only ever sees minutes.
func MinutesFromHours(hours int) int {
	return hours * 60
}

// DeadlineCalculator turns a resolved policy and a creation instant into
// due times.
type DeadlineCalculator struct {
	calendars *CalendarProvider
}

// NewDeadlineCalculator creates a calculator over the calendar provider.
func NewDeadlineCalculator(calendars *CalendarProvider) *DeadlineCalculator {
	return &DeadlineCalculator{calendars: calendars}
}

// ComputeDeadlines produces the response, resolution and (when the policy
// defines one) escalation due times. Business-hours policies consume only
// business time; others use plain wall-clock addition.
func (c *DeadlineCalculator) ComputeDeadlines(ctx context.Context, policy *models.SLAPolicy, createdAt time.Time) models.Deadlines {
	add := func(minutes int) time.Time {
		return createdAt.Add(time.Duration(minutes) * time.Minute)
	}
	if policy.BusinessHoursOnly {
		calendar := c.calendars.Calendar(ctx)
		add = func(minutes int) time.Time {
			return calendar.AddBusinessMinutes(createdAt, minutes)
		}
	}

	deadlines := models.Deadlines{
		ResponseDue:   add(policy.ResponseMinutes),
		ResolutionDue: add(policy.ResolutionMinutes),
	}
	if policy.EscalationMinutes != nil {
		due := add(*policy.EscalationMinutes)
		deadlines.EscalationDue = &due
	}
	return deadlines
}
