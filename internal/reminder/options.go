package reminder

import "github.com/catatduit/reminder-dispatch/internal/config"

// OptionsFromConfig maps the reminder section of the service config onto
// dispatcher options. Guard and Pick are left for the caller.
func OptionsFromConfig(rc config.ReminderConfig) Options {
	return Options{
		Clock:        NewClock(rc.UTCOffset(), rc.ZoneLabel),
		FallbackName: rc.FallbackName,
		Workers:      rc.DispatchWorkers,
		Timeout:      rc.RunTimeout,
	}
}
