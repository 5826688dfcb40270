package schedule

import (
	"sync"
	"time"
)

// Holiday is one calendar entry. Year zero marks a year-recurring entry that
// matches on month/day every year.
type Holiday struct {
	ID     int64  `json:"id,omitempty"`
	Name   string `json:"name"`
	Month  int    `json:"month"`
	Day    int    `json:"day"`
	Year   int    `json:"year,omitempty"`
	Active bool   `json:"active"`
}

// Matches reports whether the entry covers the given date.
func (h Holiday) Matches(date time.Time) bool {
	if !h.Active {
		return false
	}
	if int(date.Month()) != h.Month || date.Day() != h.Day {
		return false
	}
	return h.Year == 0 || h.Year == date.Year()
}

// Calendar is an in-memory HolidaySource.
type Calendar struct {
	mu      sync.RWMutex
	entries []Holiday
}

// NewCalendar creates a calendar with the given entries.
func NewCalendar(entries ...Holiday) *Calendar {
	return &Calendar{entries: entries}
}

// IsHoliday reports whether any active entry matches the date.
func (c *Calendar) IsHoliday(date time.Time) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.entries {
		if h.Matches(date) {
			return true, nil
		}
	}
	return false, nil
}

// Replace swaps the full entry list, e.g. after a reload from the store.
func (c *Calendar) Replace(entries []Holiday) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
}
