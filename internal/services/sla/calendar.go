// Package sla implements SLA deadline calculation and tracking: business
// calendars, policy resolution, per-ticket tracking cycles and the
// periodic breach sweep.
package sla

import (
	"fmt"
	"time"

	"github.com/rickar/cal/v2"
)

// BusinessConfig is the business-hours window the SLA clock runs in.
// WorkDays uses time.Weekday numbering (0=Sunday .. 6=Saturday).
type BusinessConfig struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	WorkDays  []int  `json:"work_days"`
	Timezone  string `json:"timezone"`
}

// DefaultBusinessConfig is the fallback applied when the settings store is
// unreachable or holds malformed data: Mon-Fri, 09:00-18:00.
func DefaultBusinessConfig() BusinessConfig {
	return BusinessConfig{
		StartHour: 9,
		EndHour:   18,
		WorkDays:  []int{1, 2, 3, 4, 5},
		Timezone:  "UTC",
	}
}

// Validate rejects configs the calendar cannot operate on. An empty
// work-day set would make next-business-instant searches loop forever.
func (c BusinessConfig) Validate() error {
	if c.StartHour < 0 || c.StartHour > 23 {
		return fmt.Errorf("start hour %d out of range", c.StartHour)
	}
	if c.EndHour < 0 || c.EndHour > 23 {
		return fmt.Errorf("end hour %d out of range", c.EndHour)
	}
	if c.EndHour <= c.StartHour {
		return fmt.Errorf("end hour %d not after start hour %d", c.EndHour, c.StartHour)
	}
	if len(c.WorkDays) == 0 {
		return fmt.Errorf("empty work-day set")
	}
	for _, d := range c.WorkDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("work day %d out of range", d)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Calendar answers business-time questions for one immutable snapshot of
// config plus holidays. Snapshots are replaced wholesale on refresh, never
// mutated, so concurrent reads need no locking.
type Calendar struct {
	cfg      BusinessConfig
	loc      *time.Location
	workDays [7]bool
	holidays *cal.Calendar
}

// NewCalendar builds a calendar from a validated config and a set of
// holiday dates (time component ignored).
func NewCalendar(cfg BusinessConfig, holidays []time.Time) (*Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("business config: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	c := &Calendar{
		cfg:      cfg,
		loc:      loc,
		holidays: &cal.Calendar{Name: "sla"},
	}
	for _, d := range cfg.WorkDays {
		c.workDays[d] = true
	}
	// The holiday's own date components are used as-is; callers parse ISO
	// dates without a meaningful zone.
	for _, day := range holidays {
		c.holidays.AddHoliday(&cal.Holiday{
			Name:      day.Format("2006-01-02"),
			Type:      cal.ObservancePublic,
			Month:     day.Month(),
			Day:       day.Day(),
			StartYear: day.Year(),
			EndYear:   day.Year(),
			Func:      cal.CalcDayOfMonth,
		})
	}
	return c, nil
}

// Config returns the snapshot's business config.
func (c *Calendar) Config() BusinessConfig {
	return c.cfg
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// isWorkDay reports whether t falls on a configured work day that is not
// a holiday.
func (c *Calendar) isWorkDay(t time.Time) bool {
	if !c.workDays[int(t.Weekday())] {
		return false
	}
	actual, _, _ := c.holidays.IsHoliday(t)
	return !actual
}

// IsBusinessInstant reports whether t is inside business hours: work day,
// not a holiday, local hour within [StartHour, EndHour).
func (c *Calendar) IsBusinessInstant(t time.Time) bool {
	t = t.In(c.loc)
	if !c.isWorkDay(t) {
		return false
	}
	h := t.Hour()
	return h >= c.cfg.StartHour && h < c.cfg.EndHour
}

// NextBusinessInstant returns the earliest business instant at or after t:
// t itself when already inside business hours, the same day's opening when
// t is before it on a work day, otherwise the opening of the next work day.
func (c *Calendar) NextBusinessInstant(t time.Time) time.Time {
	t = t.In(c.loc)
	if c.IsBusinessInstant(t) {
		return t
	}
	if c.isWorkDay(t) && t.Hour() < c.cfg.StartHour {
		return c.dayOpen(t)
	}

	day := t
	// Bounded to cover any realistic run of holidays; the work-day set is
	// guaranteed non-empty by Validate.
	for i := 0; i < 3660; i++ {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, c.loc)
		if c.isWorkDay(day) {
			return c.dayOpen(day)
		}
	}
	return c.dayOpen(day)
}

// AddBusinessMinutes advances start by the given minutes of business time.
// The result is reachable from start traversing only business instants and
// consuming exactly minutes of them. Zero minutes returns start itself, or
// its forward adjustment when start lies outside business hours.
func (c *Calendar) AddBusinessMinutes(start time.Time, minutes int) time.Time {
	current := c.NextBusinessInstant(start)
	remaining := time.Duration(minutes) * time.Minute

	for remaining > 0 {
		available := c.dayClose(current).Sub(current)
		if available >= remaining {
			return current.Add(remaining)
		}
		remaining -= available
		next := time.Date(current.Year(), current.Month(), current.Day()+1, 0, 0, 0, 0, c.loc)
		current = c.NextBusinessInstant(next)
	}
	return current
}

// BusinessMinutesBetween measures the business time elapsed from start to
// end, in whole minutes. Used for compliance reporting.
func (c *Calendar) BusinessMinutesBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	current := c.NextBusinessInstant(start)
	var elapsed time.Duration
	for current.Before(end) {
		until := c.dayClose(current)
		if until.After(end) {
			until = end
		}
		if until.After(current) {
			elapsed += until.Sub(current)
		}
		next := time.Date(current.Year(), current.Month(), current.Day()+1, 0, 0, 0, 0, c.loc)
		current = c.NextBusinessInstant(next)
	}
	return int(elapsed / time.Minute)
}

func (c *Calendar) dayOpen(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.cfg.StartHour, 0, 0, 0, c.loc)
}

func (c *Calendar) dayClose(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.cfg.EndHour, 0, 0, 0, c.loc)
}
