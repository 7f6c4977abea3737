// Package biztime holds the back office's business timezone. The provider
// reports request times as wall-clock values without an offset, and the
// deposit query is bounded by the business day, so both are interpreted in
// this location. Everything stored or compared internally is UTC.
package biztime

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultTimezone = "Europe/Istanbul"

var (
	mu          sync.RWMutex
	bizLocation *time.Location
)

// Init sets the business timezone; an empty name selects DefaultTimezone.
func Init(tz string) error {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("failed to load business timezone %q: %w", tz, err)
	}
	mu.Lock()
	bizLocation = loc
	mu.Unlock()
	return nil
}

// Location returns the business timezone, initialising the default lazily.
func Location() *time.Location {
	mu.RLock()
	loc := bizLocation
	mu.RUnlock()
	if loc != nil {
		return loc
	}
	if err := Init(""); err != nil {
		return time.UTC
	}
	return Location()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// DayBounds returns the start and end of t's business day in the business
// location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Location())
	end := start.AddDate(0, 0, 1).Add(-time.Second)
	return start, end
}

// timestampLayouts are the shapes the back office has been seen to use.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04:05",
	"02-01-06 - 15:04:05",
}

// ParseProviderTime parses a back-office timestamp. Values without an offset
// are taken as business-local wall clock. The result is UTC.
func ParseProviderTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, Location()); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatLocal renders t in the business timezone for human-facing text.
func FormatLocal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(Location()).Format("02.01.2006 15:04:05")
}
