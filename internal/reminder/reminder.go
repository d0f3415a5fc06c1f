// Package reminder dispatches the daily "log your spending" push reminder.
//
// Pipeline: authorize push provider → resolve local minute → select users
// whose reminder time matches → drop users who already transacted today →
// compose → record notifications → push to every device → aggregate.
//
// Each invocation is stateless. Nothing marks a minute as consumed, so two
// invocations for the same minute notify the same users twice unless the
// optional Guard is configured.
package reminder

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	NotificationType    = "REMINDER"
	Route               = "/add-transaction"
	Category            = "reminder"
	ChannelID           = "reminder_channel"
	Priority            = "high"
	DefaultFallbackName = "Bestie"
	DefaultZone         = "WIB"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Device is one audience row: a profile joined to one of its device tokens.
type Device struct {
	UserID   string
	FullName string
	Token    string
}

// Candidate is a (profile, device) pair eligible for a reminder this run.
type Candidate struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Name   string `json:"name"` // first name or the fallback, never empty
}

// Message is a composed title/body pair.
type Message struct {
	Title string
	Body  string
}

// Record is a row for the notifications table (in-app feed).
type Record struct {
	UserID string
	Title  string
	Body   string
	Type   string
	Data   map[string]string
}

// target is a candidate with the message chosen for its profile.
type target struct {
	Candidate
	Message Message
}
