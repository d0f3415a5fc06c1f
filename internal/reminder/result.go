package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind tells callers how a run ended.
type Kind int

const (
	KindProcessed Kind = iota // ran, did work
	KindNoUsers               // ran, nobody scheduled this minute
	KindAllActive             // ran, everybody already transacted today
	KindDuplicate             // skipped, minute already claimed by the guard
	KindFailed                // run aborted
)

func (k Kind) String() string {
	switch k {
	case KindProcessed:
		return "processed"
	case KindNoUsers:
		return "no_users"
	case KindAllActive:
		return "all_active"
	case KindDuplicate:
		return "duplicate"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the provider's answer for one device.
type Outcome struct {
	UserID string          `json:"user_id"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Result is the summary of one run.
type Result struct {
	Kind     Kind
	Window   Window
	Outcomes []Outcome

	// Recorded is false when the notification insert failed. It is only
	// logged, never serialized.
	Recorded bool

	Err   error
	Stack string
}

// Count is the number of delivery attempts.
func (r Result) Count() int { return len(r.Outcomes) }

// Delivered is the number of 2xx outcomes.
func (r Result) Delivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status >= 200 && o.Status < 300 {
			n++
		}
	}
	return n
}

// Message is the human-readable summary line.
func (r Result) Message() string {
	switch r.Kind {
	case KindNoUsers:
		return fmt.Sprintf("No users scheduled for %s %s", r.Window.TimeLabel, r.Window.Zone)
	case KindAllActive:
		return "Selected users have already transacted."
	case KindDuplicate:
		return fmt.Sprintf("Reminders for %s %s already dispatched", r.Window.TimeLabel, r.Window.Zone)
	case KindProcessed:
		return "Reminders processed"
	default:
		if r.Err != nil {
			return r.Err.Error()
		}
		return "unknown error"
	}
}

type processedBody struct {
	Message string    `json:"message"`
	Count   int       `json:"count"`
	Details []Outcome `json:"details"`
}

type messageBody struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
	Stack string `json:"stack"`
}

// MarshalJSON renders the response body for the trigger endpoint.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindProcessed:
		details := r.Outcomes
		if details == nil {
			details = []Outcome{}
		}
		return json.Marshal(processedBody{Message: r.Message(), Count: r.Count(), Details: details})
	case KindFailed:
		stack := r.Stack
		if stack == "" {
			stack = errorTrace(r.Err)
		}
		return json.Marshal(errorBody{Error: r.Message(), Stack: stack})
	default:
		return json.Marshal(messageBody{Message: r.Message()})
	}
}

// Failed builds a KindFailed result.
func Failed(w Window, err error, stack string) Result {
	return Result{Kind: KindFailed, Window: w, Err: err, Stack: stack}
}

// errorTrace lists the wrapped error chain, outermost first.
func errorTrace(err error) string {
	if err == nil {
		return ""
	}
	var lines []string
	var se *StageError
	if errors.As(err, &se) {
		lines = append(lines, "stage: "+se.Stage)
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, "  "+e.Error())
	}
	return strings.Join(lines, "\n")
}
