// Package calendar holds the calendar backends the assistant reads from and
// books into: Google Calendar and a local iCalendar store.
package calendar

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tailortalk/internal/apperr"
	appLog "tailortalk/internal/log"
	"tailortalk/internal/model"
)

// ClientSource yields an authorized HTTP client for a user.
type ClientSource interface {
	Client(ctx context.Context, user string) (*http.Client, error)
}

// GoogleGateway reads and writes a user's Google Calendar.
type GoogleGateway struct {
	clients    ClientSource
	calendarID string
	opts       []option.ClientOption
	now        func() time.Time
}

// NewGoogleGateway builds a gateway over calendarID ("primary" when empty).
// Extra client options are appended after the per-user HTTP client.
func NewGoogleGateway(clients ClientSource, calendarID string, opts ...option.ClientOption) *GoogleGateway {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleGateway{
		clients:    clients,
		calendarID: calendarID,
		opts:       opts,
		now:        time.Now,
	}
}

func (g *GoogleGateway) service(ctx context.Context, user string) (*gcal.Service, error) {
	if strings.TrimSpace(user) == "" {
		return nil, apperr.New(apperr.CodeAuthRequired, "user identity is empty")
	}
	hc, err := g.clients.Client(ctx, user)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			return nil, apperr.Wrap(err, apperr.CodeAuthRequired, "google credentials").WithContext("user", user)
		}
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, g.opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCalendarGateway, "calendar service")
	}
	return svc, nil
}

// ListUpcoming returns single (expanded) events starting from now, ordered
// by start time.
func (g *GoogleGateway) ListUpcoming(ctx context.Context, user string, maxResults int) ([]model.Event, error) {
	svc, err := g.service(ctx, user)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(g.calendarID).
		TimeMin(g.now().UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, googleError(err, "list events")
	}

	events := make([]model.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		events = append(events, fromGoogle(item))
	}
	appLog.Debug("google events listed", "user", user, "count", len(events))
	return events, nil
}

// CreateEvent inserts ev into the calendar.
func (g *GoogleGateway) CreateEvent(ctx context.Context, user string, ev model.NewEvent) (model.Event, error) {
	svc, err := g.service(ctx, user)
	if err != nil {
		return model.Event{}, err
	}

	loc := time.UTC
	if ev.TimeZone != "" {
		if l, lerr := time.LoadLocation(ev.TimeZone); lerr == nil {
			loc = l
		}
	}

	body := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.In(loc).Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.In(loc).Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
	}

	created, err := svc.Events.Insert(g.calendarID, body).Context(ctx).Do()
	if err != nil {
		return model.Event{}, googleError(err, "insert event")
	}
	appLog.Info("google event created", "user", user, "id", created.Id)
	return fromGoogle(created), nil
}

func fromGoogle(item *gcal.Event) model.Event {
	ev := model.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Link:        item.HtmlLink,
	}
	if s := item.Start; s != nil {
		if s.DateTime != "" {
			ev.Start = s.DateTime
			ev.TimeZone = s.TimeZone
		} else {
			ev.Start = s.Date
			ev.AllDay = true
		}
	}
	if e := item.End; e != nil {
		if e.DateTime != "" {
			ev.End = e.DateTime
		} else {
			ev.End = e.Date
		}
	}
	return ev
}

func googleError(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		code := apperr.CodeCalendarGateway
		if gerr.Code == http.StatusUnauthorized {
			code = apperr.CodeAuthRequired
		}
		msg := gerr.Message
		if msg == "" {
			msg = http.StatusText(gerr.Code)
		}
		return apperr.New(code, op).WithContext("status", gerr.Code).WithContext("reason", msg)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return apperr.Wrap(err, apperr.CodeAuthRequired, op)
	}
	return apperr.Wrap(err, apperr.CodeCalendarGateway, op)
}
