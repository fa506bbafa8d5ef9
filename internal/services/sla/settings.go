package sla

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

// Settings keys read by the calendar provider. Values are JSON: the
// business-hours key holds a BusinessConfig object, the holidays key a
// list of ISO dates ("2006-01-02").
const (
	SettingBusinessHours = "SLA::BusinessHours"
	SettingHolidays      = "SLA::Holidays"
)

// DefaultSettingsTTL is how long a calendar snapshot is served before the
// settings store is consulted again.
const DefaultSettingsTTL = 5 * time.Minute

// CalendarProvider serves calendar snapshots built from the settings
// store. Snapshots are cached for a TTL and replaced wholesale on expiry.
// Load failures and malformed JSON degrade to the hardcoded default
// config; SLA clocks keep running either way.
type CalendarProvider struct {
	settings repository.SettingsStore
	ttl      time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu      sync.RWMutex
	cached  *Calendar
	expires time.Time
}

// ProviderOption configures a CalendarProvider.
type ProviderOption func(*CalendarProvider)

// WithTTL overrides the snapshot TTL.
func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *CalendarProvider) { p.ttl = ttl }
}

// WithLogger injects a custom logger.
func WithLogger(l *log.Logger) ProviderOption {
	return func(p *CalendarProvider) { p.logger = l }
}

// WithClock injects the time source, for tests that force expiry.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *CalendarProvider) { p.now = now }
}

// NewCalendarProvider creates a provider over the settings store.
func NewCalendarProvider(settings repository.SettingsStore, opts ...ProviderOption) *CalendarProvider {
	p := &CalendarProvider{
		settings: settings,
		ttl:      DefaultSettingsTTL,
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Calendar returns the current snapshot, refreshing it when the TTL has
// lapsed. Concurrent refreshes may race; last writer wins, which is safe
// because every snapshot is built from the same source.
func (p *CalendarProvider) Calendar(ctx context.Context) *Calendar {
	p.mu.RLock()
	if p.cached != nil && p.now().Before(p.expires) {
		c := p.cached
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	c := p.load(ctx)

	p.mu.Lock()
	p.cached = c
	p.expires = p.now().Add(p.ttl)
	p.mu.Unlock()
	return c
}

// Invalidate drops the cached snapshot so the next call reloads.
func (p *CalendarProvider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *CalendarProvider) load(ctx context.Context) *Calendar {
	cfg := p.loadConfig(ctx)
	holidays := p.loadHolidays(ctx)

	c, err := NewCalendar(cfg, holidays)
	if err != nil {
		p.logger.Printf("sla: invalid business config, using defaults: %v", err)
		c, _ = NewCalendar(DefaultBusinessConfig(), holidays)
	}
	return c
}

func (p *CalendarProvider) loadConfig(ctx context.Context) BusinessConfig {
	raw, err := p.settings.GetSetting(ctx, SettingBusinessHours)
	if err != nil {
		p.logger.Printf("sla: business hours setting unavailable, using defaults: %v", err)
		return DefaultBusinessConfig()
	}

	var cfg BusinessConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		p.logger.Printf("sla: malformed business hours setting, using defaults: %v", err)
		return DefaultBusinessConfig()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if err := cfg.Validate(); err != nil {
		p.logger.Printf("sla: rejected business hours setting, using defaults: %v", err)
		return DefaultBusinessConfig()
	}
	return cfg
}

func (p *CalendarProvider) loadHolidays(ctx context.Context) []time.Time {
	raw, err := p.settings.GetSetting(ctx, SettingHolidays)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.logger.Printf("sla: holiday setting unavailable, continuing without holidays: %v", err)
		}
		return nil
	}

	var dates []string
	if err := json.Unmarshal([]byte(raw), &dates); err != nil {
		p.logger.Printf("sla: malformed holiday setting, continuing without holidays: %v", err)
		return nil
	}

	var holidays []time.Time
	for _, d := range dates {
		day, err := time.Parse("2006-01-02", d)
		if err != nil {
			p.logger.Printf("sla: skipping unparseable holiday %q: %v", d, err)
			continue
		}
		holidays = append(holidays, day)
	}
	return holidays
}
