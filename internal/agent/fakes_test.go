package agent

import (
	"context"
	"errors"
	"time"

	"tailortalk/internal/model"
)

type fakeGateway struct {
	events    []model.Event
	listErr   error
	createErr error

	listCalls   int
	listMax     int
	listUser    string
	createCalls []model.NewEvent
	createUser  string
}

func (g *fakeGateway) ListUpcoming(_ context.Context, user string, maxResults int) ([]model.Event, error) {
	g.listCalls++
	g.listUser = user
	g.listMax = maxResults
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.events, nil
}

func (g *fakeGateway) CreateEvent(_ context.Context, user string, ev model.NewEvent) (model.Event, error) {
	g.createCalls = append(g.createCalls, ev)
	g.createUser = user
	if g.createErr != nil {
		return model.Event{}, g.createErr
	}
	return model.Event{
		ID:      "evt-1",
		Summary: ev.Summary,
		Start:   ev.Start.Format(time.RFC3339),
		End:     ev.End.Format(time.RFC3339),
	}, nil
}

// stubResolver resolves known phrases and fails everything else.
type stubResolver struct {
	instants map[string]time.Time
	calls    []string
}

func (s *stubResolver) Resolve(phrase string, _ *time.Location) (time.Time, error) {
	s.calls = append(s.calls, phrase)
	if t, ok := s.instants[phrase]; ok {
		return t.UTC(), nil
	}
	return time.Time{}, ambiguous(phrase, "stub")
}

type fakeCompleter struct {
	reply string
	err   error

	system string
	user   string
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system = system
	f.user = user
	return f.reply, f.err
}

var errUpstream = errors.New("upstream unavailable")
