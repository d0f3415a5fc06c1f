package reminder

import "time"

// Clock maps an instant onto the single local zone reminders are stored in.
// A fixed offset is used instead of a tz database; there is no DST handling.
type Clock struct {
	Offset time.Duration
	Zone   string
}

// Window is the resolved local minute for a run.
type Window struct {
	Local     time.Time // shifted instant, truncated to the minute (UTC location)
	TimeLabel string    // "20:30:00", seconds always zero
	DateLabel string    // "2025-12-16"
	Zone      string
}

// NewClock returns a Clock for offset, labelling times with zone.
func NewClock(offset time.Duration, zone string) Clock {
	if zone == "" {
		zone = DefaultZone
	}
	return Clock{Offset: offset, Zone: zone}
}

// Resolve converts now into the local time and date labels.
func (c Clock) Resolve(now time.Time) Window {
	local := now.UTC().Add(c.Offset).Truncate(time.Minute)
	return Window{
		Local:     local,
		TimeLabel: local.Format("15:04") + ":00",
		DateLabel: local.Format(time.DateOnly),
		Zone:      c.Zone,
	}
}

// DayStart is the inclusive lower bound of the local date, as a literal.
func (w Window) DayStart() string { return w.DateLabel + "T00:00:00" }

// DayEnd is the inclusive upper bound of the local date, as a literal.
func (w Window) DayEnd() string { return w.DateLabel + "T23:59:59" }

// Key identifies the minute across runs.
func (w Window) Key() string { return w.DateLabel + "T" + w.TimeLabel }
