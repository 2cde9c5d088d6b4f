package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailortalk/internal/model"
)

func testSettings(t *testing.T) Settings {
	return Settings{
		Location:        kolkata(t),
		TimezoneLabel:   "Asia/Kolkata",
		ProductName:     "TailorTalk",
		MeetingDuration: 30 * time.Minute,
		MaxResults:      10,
	}
}

func TestDispatchNonePassesReplyThrough(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, &stubResolver{}, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Hi there!", Action: ActionNone}, "a@example.com")
	assert.Equal(t, "Hi there!", got)
	assert.Zero(t, gw.listCalls)
	assert.Empty(t, gw.createCalls)
}

func TestDispatchNeverReturnsEmpty(t *testing.T) {
	d := NewDispatcher(&fakeGateway{}, &stubResolver{}, testSettings(t))
	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "  ", Action: ActionNone}, "a@example.com")
	assert.Equal(t, FallbackReply, got)
}

func TestDispatchCheckAvailabilityEmpty(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, &stubResolver{}, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Let me look.", Action: ActionCheckAvailability}, "a@example.com")
	assert.Equal(t, "Let me look.\nYou're all clear — no events found.", got)
	assert.Equal(t, 1, gw.listCalls)
	assert.Equal(t, 10, gw.listMax)
	assert.Equal(t, "a@example.com", gw.listUser)
	assert.Empty(t, gw.createCalls)
}

func TestDispatchCheckAvailabilityListsInGatewayOrder(t *testing.T) {
	gw := &fakeGateway{events: []model.Event{
		{Summary: "Standup", Start: "2026-10-19T09:30:00+05:30"},
		{Summary: "", Start: "2026-10-20T10:00:00Z"},
		{Summary: "Offsite", Start: "2026-10-22", AllDay: true},
	}}
	d := NewDispatcher(gw, &stubResolver{}, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Here goes", Action: ActionCheckAvailability}, "a@example.com")
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Here goes", lines[0])
	assert.Equal(t, "Here are your upcoming events:", lines[1])
	assert.Equal(t, "• Monday, Oct 19 at 09:30 AM — Standup", lines[2])
	assert.Equal(t, "• Tuesday, Oct 20 at 03:30 PM — No Title", lines[3])
	assert.Equal(t, "• Thursday, Oct 22 at 12:00 AM — Offsite", lines[4])
}

func TestDispatchCheckAvailabilityGatewayFailure(t *testing.T) {
	gw := &fakeGateway{listErr: errUpstream}
	d := NewDispatcher(gw, &stubResolver{}, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Checking", Action: ActionCheckAvailability}, "a@example.com")
	assert.Equal(t, "Checking\nFailed to fetch your events: upstream unavailable", got)
	assert.Equal(t, 1, gw.listCalls)
}

func TestDispatchBookWithoutTimeAsksWhen(t *testing.T) {
	gw := &fakeGateway{}
	res := &stubResolver{}
	d := NewDispatcher(gw, res, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Happy to book that.", Action: ActionBook}, "a@example.com")
	assert.Equal(t, "Happy to book that.\nWhen would you like to schedule it?", got)
	assert.Empty(t, gw.createCalls)
	assert.Zero(t, gw.listCalls)
	assert.Empty(t, res.calls)
}

func TestDispatchBookAmbiguousAsksForClarification(t *testing.T) {
	gw := &fakeGateway{}
	res := &stubResolver{}
	d := NewDispatcher(gw, res, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Ok", Action: ActionBook, TimePhrase: "sometime"}, "a@example.com")
	assert.Equal(t, "Ok\nI need a clearer future time to schedule this. Can you say something like 'next Monday at 10 AM'?", got)
	assert.Equal(t, []string{"sometime"}, res.calls)
	assert.Empty(t, gw.createCalls)
}

func TestDispatchBookCreatesThirtyMinuteEvent(t *testing.T) {
	loc := kolkata(t)
	start := time.Date(2026, time.October, 19, 10, 0, 0, 0, loc)
	gw := &fakeGateway{}
	res := &stubResolver{instants: map[string]time.Time{"next Monday at 10am": start}}
	d := NewDispatcher(gw, res, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Sure!", Action: ActionBook, TimePhrase: "next Monday at 10am"}, "a@example.com")
	assert.Equal(t, "Sure!\nBooked: Monday, Oct 19 at 10:00 AM (Asia/Kolkata)", got)

	require.Len(t, gw.createCalls, 1)
	created := gw.createCalls[0]
	assert.Equal(t, "a@example.com", gw.createUser)
	assert.Equal(t, "Meeting via TailorTalk", created.Summary)
	assert.True(t, created.Start.Equal(start))
	assert.Equal(t, 30*time.Minute, created.End.Sub(created.Start))
	assert.Equal(t, "Asia/Kolkata", created.TimeZone)
	assert.Zero(t, gw.listCalls)
}

func TestDispatchBookGatewayFailureIsRecovered(t *testing.T) {
	start := time.Date(2026, time.October, 19, 10, 0, 0, 0, kolkata(t))
	gw := &fakeGateway{createErr: errUpstream}
	res := &stubResolver{instants: map[string]time.Time{"monday 10am": start}}
	d := NewDispatcher(gw, res, testSettings(t))

	got := d.Dispatch(context.Background(), ParsedIntent{ReplyText: "Booking", Action: ActionBook, TimePhrase: "monday 10am"}, "a@example.com")
	assert.Equal(t, "Booking\nFailed to schedule: upstream unavailable", got)
	assert.Len(t, gw.createCalls, 1)
}

func TestDispatchBookEmptyReplyStillReportsOutcome(t *testing.T) {
	start := time.Date(2026, time.October, 19, 10, 0, 0, 0, kolkata(t))
	gw := &fakeGateway{}
	res := &stubResolver{instants: map[string]time.Time{"monday 10am": start}}
	settings := testSettings(t)
	settings.MeetingDuration = 45 * time.Minute
	settings.ProductName = "Acme"
	d := NewDispatcher(gw, res, settings)

	got := d.Dispatch(context.Background(), ParsedIntent{Action: ActionBook, TimePhrase: "monday 10am"}, "a@example.com")
	assert.Equal(t, "Booked: Monday, Oct 19 at 10:00 AM (Asia/Kolkata)", got)
	require.Len(t, gw.createCalls, 1)
	assert.Equal(t, "Meeting via Acme", gw.createCalls[0].Summary)
	assert.Equal(t, 45*time.Minute, gw.createCalls[0].End.Sub(gw.createCalls[0].Start))
}
