package model

import "time"

// DefaultTitle is shown for events that carry no summary.
const DefaultTitle = "No Title"

// Event is a single concrete calendar event as returned by a calendar
// backend (recurring events already expanded into single instances).
type Event struct {
	ID          string
	Summary     string
	Description string

	// Start / End are ISO-8601 date-times, or YYYY-MM-DD for all-day events.
	Start    string
	End      string
	TimeZone string
	AllDay   bool

	// Link points at the event in the backend's own UI, if any.
	Link string
}

// Title returns the summary, or DefaultTitle when the event has none.
func (e Event) Title() string {
	if e.Summary == "" {
		return DefaultTitle
	}
	return e.Summary
}

// NewEvent describes an event to be created.
type NewEvent struct {
	Summary     string
	Description string

	Start time.Time
	End   time.Time

	// TimeZone is the IANA zone label recorded on the event.
	TimeZone string
}
