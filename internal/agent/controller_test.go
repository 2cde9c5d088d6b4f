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

func newTestController(t *testing.T, llm Completer, gw CalendarGateway, res Resolver) *Controller {
	t.Helper()
	return NewController(llm, NewDispatcher(gw, res, testSettings(t)), "TailorTalk")
}

func TestHandleTurnSendsSystemPromptAndUtterance(t *testing.T) {
	llm := &fakeCompleter{reply: `{"reply":"Hello!","action":"none","time":""}`}
	c := newTestController(t, llm, &fakeGateway{}, &stubResolver{})

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "hi", UserIdentity: "a@example.com"})
	assert.Equal(t, "Hello!", got)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "hi", llm.user)
	assert.True(t, strings.HasPrefix(llm.system, "You are TailorTalk, a conversational calendar assistant."))
	assert.Contains(t, llm.system, `"action": "none" | "check_availability" | "book"`)
}

func TestHandleTurnLLMFailureSkipsDispatch(t *testing.T) {
	gw := &fakeGateway{}
	res := &stubResolver{}
	llm := &fakeCompleter{err: errUpstream}
	c := newTestController(t, llm, gw, res)

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "book tomorrow", UserIdentity: "a@example.com"})
	assert.Equal(t, "LLM error: upstream unavailable", got)
	assert.Zero(t, gw.listCalls)
	assert.Empty(t, gw.createCalls)
	assert.Empty(t, res.calls)
}

// Scenario 1: a booking request with a resolvable future time.
func TestHandleTurnBookScenario(t *testing.T) {
	loc := kolkata(t)
	start := time.Date(2026, time.October, 19, 10, 0, 0, 0, loc)
	gw := &fakeGateway{}
	res := &stubResolver{instants: map[string]time.Time{"next Monday at 10am": start}}
	llm := &fakeCompleter{reply: `{"reply":"Sure!","action":"book","time":"next Monday at 10am"}`}
	c := newTestController(t, llm, gw, res)

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "Book a call next Monday at 10am", UserIdentity: "a@example.com"})

	require.Len(t, gw.createCalls, 1)
	created := gw.createCalls[0]
	assert.True(t, created.Start.Equal(start))
	assert.Equal(t, 30*time.Minute, created.End.Sub(created.Start))
	assert.Contains(t, got, "Sure!")
	assert.Contains(t, got, "Booked:")
	assert.Contains(t, got, "Monday, Oct 19 at 10:00 AM")
}

// Scenario 2: availability with two events keeps their order.
func TestHandleTurnAvailabilityScenario(t *testing.T) {
	gw := &fakeGateway{events: []model.Event{
		{Summary: "Design review", Start: "2026-10-19T11:00:00+05:30"},
		{Summary: "1:1", Start: "2026-10-19T15:00:00+05:30"},
	}}
	llm := &fakeCompleter{reply: `{"reply":"Here goes","action":"check_availability","time":""}`}
	c := newTestController(t, llm, gw, &stubResolver{})

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "what's on my calendar?", UserIdentity: "a@example.com"})

	assert.Contains(t, got, "Here goes")
	assert.Contains(t, got, "Here are your upcoming events:")
	first := strings.Index(got, "• Monday, Oct 19 at 11:00 AM — Design review")
	second := strings.Index(got, "• Monday, Oct 19 at 03:00 PM — 1:1")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
	assert.Equal(t, 1, gw.listCalls)
}

// Scenario 3: output that is not JSON at all.
func TestHandleTurnMalformedScenario(t *testing.T) {
	gw := &fakeGateway{}
	llm := &fakeCompleter{reply: "I'd love to help you schedule that!"}
	c := newTestController(t, llm, gw, &stubResolver{})

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "hmm", UserIdentity: "a@example.com"})
	assert.Equal(t, "Sorry, I couldn't understand that.", got)
	assert.Zero(t, gw.listCalls)
	assert.Empty(t, gw.createCalls)
}

// Scenario 4: a past time is never booked. Uses the real resolver.
func TestHandleTurnPastTimeScenario(t *testing.T) {
	r, _, _ := fixedResolver(t)
	gw := &fakeGateway{}
	llm := &fakeCompleter{reply: `{"reply":"Ok","action":"book","time":"yesterday"}`}
	c := newTestController(t, llm, gw, r)

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "book yesterday", UserIdentity: "a@example.com"})
	assert.Contains(t, got, "Ok")
	assert.Contains(t, got, "I need a clearer future time")
	assert.Contains(t, got, "next Monday at 10 AM")
	assert.Empty(t, gw.createCalls)
}

func TestHandleTurnBooksMonthNameDateAtRequestedTime(t *testing.T) {
	loc := kolkata(t)
	now := time.Date(2026, time.October, 17, 14, 0, 0, 0, loc)
	r := NewTimeResolver(WithClock(func() time.Time { return now }))
	gw := &fakeGateway{}
	llm := &fakeCompleter{reply: `{"reply":"Sure!","action":"book","time":"October 20, 2026 at 3pm"}`}
	c := newTestController(t, llm, gw, r)

	got := c.HandleTurn(context.Background(), ConversationTurn{UserInput: "book Oct 20 2026 at 3pm", UserIdentity: "a@example.com"})

	require.Len(t, gw.createCalls, 1)
	assert.True(t, gw.createCalls[0].Start.Equal(time.Date(2026, time.October, 20, 15, 0, 0, 0, loc)))
	assert.Equal(t, "Sure!\nBooked: Tuesday, Oct 20 at 03:00 PM (Asia/Kolkata)", got)
}

func TestHandleTurnToleratesSurroundingWhitespace(t *testing.T) {
	llm := &fakeCompleter{reply: "\n  {\"reply\":\"Noted\",\"action\":\"none\",\"time\":\"\"}  \n"}
	c := newTestController(t, llm, &fakeGateway{}, &stubResolver{})
	assert.Equal(t, "Noted", c.HandleTurn(context.Background(), ConversationTurn{UserInput: "thanks"}))
}
