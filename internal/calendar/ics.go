package calendar

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"tailortalk/internal/apperr"
	"tailortalk/internal/config"
	appLog "tailortalk/internal/log"
	"tailortalk/internal/model"
)

const defaultICSHorizon = 366 * 24 * time.Hour

// ICSGateway keeps one iCalendar file per user on local disk.
type ICSGateway struct {
	dir     string
	loc     *time.Location
	product string
	horizon time.Duration
	now     func() time.Time

	feeds *FeedFetcher
	urls  []string

	mu sync.Mutex
}

// ICSOption customizes an ICSGateway.
type ICSOption func(*ICSGateway)

// WithICSClock replaces the wall clock, mainly for tests.
func WithICSClock(now func() time.Time) ICSOption {
	return func(g *ICSGateway) { g.now = now }
}

// WithICSHorizon limits how far ahead recurring events are expanded.
func WithICSHorizon(d time.Duration) ICSOption {
	return func(g *ICSGateway) {
		if d > 0 {
			g.horizon = d
		}
	}
}

// WithSubscriptions overlays read-only ICS feeds on every user's listing.
func WithSubscriptions(f *FeedFetcher, urls []string) ICSOption {
	return func(g *ICSGateway) {
		g.feeds = f
		g.urls = urls
	}
}

// NewICSGateway stores calendars under dir. Floating times in existing
// files are read in loc.
func NewICSGateway(dir string, loc *time.Location, productName string, opts ...ICSOption) *ICSGateway {
	if loc == nil {
		loc = time.UTC
	}
	if productName == "" {
		productName = "TailorTalk"
	}
	g := &ICSGateway{
		dir:     dir,
		loc:     loc,
		product: productName,
		horizon: defaultICSHorizon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Path returns the file backing user's calendar.
func (g *ICSGateway) Path(user string) string {
	return filepath.Join(g.dir, config.UserFileName(user, ".ics"))
}

// ListUpcoming returns up to maxResults occurrences starting at or after
// now, in ascending start order. Subscribed feeds are merged in.
func (g *ICSGateway) ListUpcoming(ctx context.Context, user string, maxResults int) ([]model.Event, error) {
	if strings.TrimSpace(user) == "" {
		return nil, apperr.New(apperr.CodeAuthRequired, "user identity is empty")
	}

	g.mu.Lock()
	body, err := os.ReadFile(g.Path(user))
	g.mu.Unlock()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Wrap(err, apperr.CodeCalendarGateway, "read calendar").WithContext("user", user)
	}

	parsed, err := parseICS(body, g.loc)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCalendarGateway, "parse calendar").WithContext("user", user)
	}
	parsed = append(parsed, g.subscribed(ctx)...)
	if len(parsed) == 0 {
		return []model.Event{}, nil
	}

	now := g.now()
	occ, err := expandOccurrences(parsed, expandConfig{RangeStart: now, RangeEnd: now.Add(g.horizon)})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCalendarGateway, "expand calendar")
	}
	if maxResults > 0 && len(occ) > maxResults {
		occ = occ[:maxResults]
	}

	events := make([]model.Event, 0, len(occ))
	for _, o := range occ {
		events = append(events, g.toModel(o))
	}
	appLog.Debug("ics events listed", "user", user, "count", len(events))
	return events, nil
}

// subscribed fetches and parses every feed. A feed that cannot be fetched or
// parsed is skipped.
func (g *ICSGateway) subscribed(ctx context.Context) []icsEvent {
	if g.feeds == nil {
		return nil
	}
	var out []icsEvent
	for _, u := range g.urls {
		body, fromCache, err := g.feeds.Fetch(ctx, u)
		if err != nil {
			appLog.Warn("skipping subscription", "url", redactURL(u), "err", err.Error())
			continue
		}
		events, err := parseICS(body, g.loc)
		if err != nil {
			appLog.Warn("skipping unparsable subscription", "url", redactURL(u), "err", err.Error())
			continue
		}
		appLog.Debug("subscription loaded", "url", redactURL(u), "events", len(events), "cached", fromCache)
		out = append(out, events...)
	}
	return out
}

// CreateEvent appends a VEVENT to user's calendar file.
func (g *ICSGateway) CreateEvent(_ context.Context, user string, ev model.NewEvent) (model.Event, error) {
	if strings.TrimSpace(user) == "" {
		return model.Event{}, apperr.New(apperr.CodeAuthRequired, "user identity is empty")
	}
	if !ev.End.After(ev.Start) {
		return model.Event{}, apperr.New(apperr.CodeInvalidInput, "event end must be after start")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	path := g.Path(user)
	cal, err := g.loadCalendar(path)
	if err != nil {
		return model.Event{}, apperr.Wrap(err, apperr.CodeCalendarGateway, "read calendar").WithContext("user", user)
	}

	uid := uuid.NewString()
	stamp := g.now().UTC()
	vev := cal.AddEvent(uid)
	vev.SetDtStampTime(stamp)
	vev.SetCreatedTime(stamp)
	vev.SetStartAt(ev.Start.UTC())
	vev.SetEndAt(ev.End.UTC())
	vev.SetSummary(ev.Summary)
	if ev.Description != "" {
		vev.SetDescription(ev.Description)
	}

	if err := config.WriteFileAtomic(path, []byte(cal.Serialize())); err != nil {
		return model.Event{}, apperr.Wrap(err, apperr.CodeStorage, "write calendar").WithContext("user", user)
	}

	appLog.Info("ics event created", "user", user, "uid", uid)
	return g.toModel(occurrence{
		UID:         uid,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
	}), nil
}

func (g *ICSGateway) loadCalendar(path string) (*ical.Calendar, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		cal := ical.NewCalendarFor(g.product)
		cal.SetMethod(ical.MethodPublish)
		return cal, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ical.ParseCalendar(f)
}

func (g *ICSGateway) toModel(o occurrence) model.Event {
	ev := model.Event{
		ID:          o.instanceID(),
		Summary:     o.Summary,
		Description: o.Description,
		TimeZone:    g.loc.String(),
		AllDay:      o.AllDay,
	}
	if o.AllDay {
		ev.Start = o.Start.Format(time.DateOnly)
		ev.End = o.End.Format(time.DateOnly)
	} else {
		ev.Start = o.Start.In(g.loc).Format(time.RFC3339)
		ev.End = o.End.In(g.loc).Format(time.RFC3339)
	}
	return ev
}
