package agent

import (
	"context"
	"strings"
	"time"

	"tailortalk/internal/apperr"
	appLog "tailortalk/internal/log"
	"tailortalk/internal/metrics"
	"tailortalk/internal/model"
)

// User-facing lines appended by the dispatcher.
const (
	noEventsNote       = "You're all clear — no events found."
	upcomingHeader     = "Here are your upcoming events:"
	askWhenQuestion    = "When would you like to schedule it?"
	clarifyTimeRequest = "I need a clearer future time to schedule this. Can you say something like 'next Monday at 10 AM'?"
)

// CalendarGateway is the calendar backend as seen by the dispatcher.
type CalendarGateway interface {
	// ListUpcoming returns at most maxResults single-instance events starting
	// at or after now, ordered by start time.
	ListUpcoming(ctx context.Context, user string, maxResults int) ([]model.Event, error)
	CreateEvent(ctx context.Context, user string, ev model.NewEvent) (model.Event, error)
}

// Resolver resolves time phrases; *TimeResolver is the production
// implementation.
type Resolver interface {
	Resolve(phrase string, loc *time.Location) (time.Time, error)
}

// Settings is the explicit configuration the dispatcher runs with.
type Settings struct {
	Location        *time.Location
	TimezoneLabel   string
	ProductName     string
	MeetingDuration time.Duration
	MaxResults      int
}

func (s Settings) normalized() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.TimezoneLabel == "" {
		s.TimezoneLabel = s.Location.String()
	}
	if s.ProductName == "" {
		s.ProductName = "TailorTalk"
	}
	if s.MeetingDuration <= 0 {
		s.MeetingDuration = 30 * time.Minute
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 10
	}
	return s
}

// ResolvedBooking is the window of a meeting about to be booked.
type ResolvedBooking struct {
	Start time.Time
	End   time.Time
}

// Dispatcher carries out a parsed intent and builds the final reply.
type Dispatcher struct {
	gateway  CalendarGateway
	resolver Resolver
	settings Settings
}

func NewDispatcher(gw CalendarGateway, res Resolver, s Settings) *Dispatcher {
	return &Dispatcher{gateway: gw, resolver: res, settings: s.normalized()}
}

// Dispatch runs the action named by intent for user. Only the availability
// check and a successfully resolved booking touch the calendar, once each.
// Failures are folded into the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, intent ParsedIntent, user string) string {
	var reply string
	switch intent.Action {
	case ActionCheckAvailability:
		reply = d.checkAvailability(ctx, intent.ReplyText, user)
	case ActionBook:
		reply = d.book(ctx, intent, user)
	default:
		reply = intent.ReplyText
	}

	if strings.TrimSpace(reply) == "" {
		return FallbackReply
	}
	return reply
}

func (d *Dispatcher) checkAvailability(ctx context.Context, reply, user string) string {
	events, err := d.gateway.ListUpcoming(ctx, user, d.settings.MaxResults)
	metrics.CalendarCall("list", err)
	if err != nil {
		appLog.Error("list upcoming events failed", err, "user", user)
		metrics.TurnFailure(apperr.CodeCalendarGateway)
		return appendLines(reply, "Failed to fetch your events: "+err.Error())
	}
	if len(events) == 0 {
		return appendLines(reply, noEventsNote)
	}

	lines := make([]string, 0, len(events)+1)
	lines = append(lines, upcomingHeader)
	for _, ev := range events {
		lines = append(lines, "• "+FormatEventTime(ev.Start, d.settings.Location)+" — "+ev.Title())
	}
	return appendLines(reply, lines...)
}

func (d *Dispatcher) book(ctx context.Context, intent ParsedIntent, user string) string {
	reply := intent.ReplyText
	if intent.TimePhrase == "" {
		return appendLines(reply, askWhenQuestion)
	}

	start, err := d.resolver.Resolve(intent.TimePhrase, d.settings.Location)
	if err != nil {
		appLog.Info("time phrase needs clarification", "user", user, "phrase", intent.TimePhrase, "reason", err.Error())
		metrics.TurnFailure(apperr.CodeAmbiguousTime)
		return appendLines(reply, clarifyTimeRequest)
	}

	booking := ResolvedBooking{Start: start, End: start.Add(d.settings.MeetingDuration)}
	_, err = d.gateway.CreateEvent(ctx, user, model.NewEvent{
		Summary:  "Meeting via " + d.settings.ProductName,
		Start:    booking.Start,
		End:      booking.End,
		TimeZone: d.settings.TimezoneLabel,
	})
	metrics.CalendarCall("create", err)
	if err != nil {
		appLog.Error("create event failed", err, "user", user, "start", booking.Start.Format(time.RFC3339))
		metrics.TurnFailure(apperr.CodeCalendarGateway)
		return appendLines(reply, "Failed to schedule: "+err.Error())
	}

	appLog.Info("meeting booked", "user", user, "start", booking.Start.Format(time.RFC3339), "end", booking.End.Format(time.RFC3339))
	return appendLines(reply, "Booked: "+FormatInstant(booking.Start, d.settings.Location)+" ("+d.settings.TimezoneLabel+")")
}

// appendLines joins reply and lines with newlines, skipping an empty reply.
func appendLines(reply string, lines ...string) string {
	parts := make([]string, 0, len(lines)+1)
	if reply != "" {
		parts = append(parts, reply)
	}
	parts = append(parts, lines...)
	return strings.Join(parts, "\n")
}
