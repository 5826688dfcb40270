// Package schedule decides whether the assistant is inside service hours.
//
// The gate combines a weekly timetable and a holiday calendar, each
// independently toggleable at runtime, evaluated against one canonical wall
// clock in a fixed configured time zone.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimezone is the canonical zone for all schedule decisions.
// The host machine's local zone is never consulted.
const DefaultTimezone = "America/Bogota"

// DayWindow is one service window with minute precision. Start and End are
// fractional hours (16.5 means 16:30). End is exclusive.
type DayWindow struct {
	Enabled bool    `json:"enabled"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Contains reports whether the fractional hour h falls inside the window.
func (w DayWindow) Contains(h float64) bool {
	return w.Enabled && h >= w.Start && h < w.End
}

// Timetable holds independent windows for weekdays, Saturday and Sunday.
type Timetable struct {
	Weekday  DayWindow `json:"weekday"`
	Saturday DayWindow `json:"saturday"`
	Sunday   DayWindow `json:"sunday"`
}

// DefaultTimetable returns the cooperative's standard service hours.
func DefaultTimetable() Timetable {
	return Timetable{
		Weekday:  DayWindow{Enabled: true, Start: 8, End: 16.5},
		Saturday: DayWindow{Enabled: true, Start: 8, End: 12},
		Sunday:   DayWindow{Enabled: false},
	}
}

// windowFor picks the window that applies to the given weekday.
func (tt Timetable) windowFor(day time.Weekday) DayWindow {
	switch day {
	case time.Saturday:
		return tt.Saturday
	case time.Sunday:
		return tt.Sunday
	default:
		return tt.Weekday
	}
}

// HolidaySource answers whether a date is an active holiday.
type HolidaySource interface {
	IsHoliday(date time.Time) (bool, error)
}

// Settings is a snapshot of the gate's runtime-toggleable state.
type Settings struct {
	Timezone         string    `json:"timezone"`
	TimetableEnabled bool      `json:"timetable_enabled"`
	HolidaysEnabled  bool      `json:"holidays_enabled"`
	Timetable        Timetable `json:"timetable"`
}

// Opts holds configuration options for the schedule gate.
type Opts struct {
	Timezone  string
	Timetable *Timetable
	Holidays  HolidaySource
	ClockFunc func() time.Time
}

// Option defines a configuration option for the schedule gate.
type Option func(*Opts)

// WithTimezone sets the IANA zone name used for all schedule decisions.
func WithTimezone(name string) Option {
	return func(o *Opts) { o.Timezone = name }
}

// WithTimetable sets the initial weekly timetable.
func WithTimetable(tt Timetable) Option {
	return func(o *Opts) { o.Timetable = &tt }
}

// WithHolidaySource sets the holiday calendar backing the gate.
func WithHolidaySource(hs HolidaySource) Option {
	return func(o *Opts) { o.Holidays = hs }
}

// WithClockFunc overrides the wall-clock source (used in tests).
func WithClockFunc(fn func() time.Time) Option {
	return func(o *Opts) { o.ClockFunc = fn }
}

// Gate combines the timetable and holiday checks behind one IsOutOfHours call.
type Gate struct {
	mu               sync.RWMutex
	loc              *time.Location
	timetable        Timetable
	holidays         HolidaySource
	timetableEnabled bool
	holidaysEnabled  bool
	simulated        *time.Time
	clock            func() time.Time
}

// NewGate creates a schedule gate, applying any provided options.
func NewGate(opts ...Option) (*Gate, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	zone := cfg.Timezone
	if zone == "" {
		zone = DefaultTimezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", zone, err)
	}

	tt := DefaultTimetable()
	if cfg.Timetable != nil {
		tt = *cfg.Timetable
	}
	clock := cfg.ClockFunc
	if clock == nil {
		clock = time.Now
	}

	slog.Debug("ScheduleGate created", "timezone", zone, "holidays_set", cfg.Holidays != nil)
	return &Gate{
		loc:              loc,
		timetable:        tt,
		holidays:         cfg.Holidays,
		timetableEnabled: true,
		holidaysEnabled:  true,
		clock:            clock,
	}, nil
}

// Now returns the canonical wall time in the configured zone, honoring the
// simulated-time override when set.
func (g *Gate) Now() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.simulated != nil {
		return g.simulated.In(g.loc)
	}
	return g.clock().In(g.loc)
}

// IsOutOfHours reports whether the current instant is outside service hours.
// A holiday match wins regardless of the time-of-day table.
func (g *Gate) IsOutOfHours() bool {
	now := g.Now()

	g.mu.RLock()
	holidaysEnabled := g.holidaysEnabled
	timetableEnabled := g.timetableEnabled
	holidays := g.holidays
	tt := g.timetable
	g.mu.RUnlock()

	if holidaysEnabled && holidays != nil {
		isHoliday, err := holidays.IsHoliday(now)
		if err != nil {
			slog.Error("ScheduleGate holiday lookup failed, skipping holiday check", "error", err, "date", now.Format("2006-01-02"))
		} else if isHoliday {
			slog.Debug("ScheduleGate out of hours: holiday", "date", now.Format("2006-01-02"))
			return true
		}
	}

	if !timetableEnabled {
		return false
	}

	h := float64(now.Hour()) + float64(now.Minute())/60
	window := tt.windowFor(now.Weekday())
	if !window.Contains(h) {
		slog.Debug("ScheduleGate out of hours: timetable", "weekday", now.Weekday().String(), "hour", h)
		return true
	}
	return false
}

// SetTimetableEnabled toggles the weekly timetable check at runtime.
func (g *Gate) SetTimetableEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timetableEnabled = enabled
	slog.Info("ScheduleGate timetable check toggled", "enabled", enabled)
}

// SetHolidayCheckEnabled toggles the holiday check at runtime.
func (g *Gate) SetHolidayCheckEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holidaysEnabled = enabled
	slog.Info("ScheduleGate holiday check toggled", "enabled", enabled)
}

// SetTimetable replaces the weekly timetable at runtime.
func (g *Gate) SetTimetable(tt Timetable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timetable = tt
	slog.Info("ScheduleGate timetable updated")
}

// SetSimulatedTime pins the gate's clock to a fixed instant for testing.
func (g *Gate) SetSimulatedTime(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.simulated = &t
	slog.Warn("ScheduleGate simulated time set", "time", t.In(g.loc).Format(time.RFC3339))
}

// ClearSimulatedTime returns the gate to the real wall clock.
func (g *Gate) ClearSimulatedTime() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.simulated = nil
	slog.Info("ScheduleGate simulated time cleared")
}

// Settings returns a snapshot of the current gate configuration.
func (g *Gate) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Settings{
		Timezone:         g.loc.String(),
		TimetableEnabled: g.timetableEnabled,
		HolidaysEnabled:  g.holidaysEnabled,
		Timetable:        g.timetable,
	}
}
