package agent

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"tailortalk/internal/apperr"
)

// DisplayLayout renders instants as "Monday, Jan 02 at 03:04 PM".
const DisplayLayout = "Monday, Jan 02 at 03:04 PM"

// ErrAmbiguousOrPast is returned when a phrase cannot be parsed or does not
// resolve to an instant strictly after now.
var ErrAmbiguousOrPast = errors.New("time is ambiguous or not in the future")

var (
	weekdayRe    = regexp.MustCompile(`(?i)\b(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(day|sday|nesday|rsday|urday)?\b`)
	pastMarkerRe = regexp.MustCompile(`(?i)\b(last|past|ago|yesterday|previous)\b`)

	monthNameRe = regexp.MustCompile(`(?i)\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sept?(ember)?|oct(ober)?|nov(ember)?|dec(ember)?)\b`)
	dateSepRe   = regexp.MustCompile(`\d[-/.]\d`)
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	clock12Re   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*([ap])\.?m\b\.?`)
	clock24Re   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

// TimeResolver turns free-text time phrases into future instants.
type TimeResolver struct {
	now    func() time.Time
	parser *when.Parser
}

type ResolverOption func(*TimeResolver)

// WithClock overrides the resolver's notion of now.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *TimeResolver) {
		r.now = now
	}
}

func NewTimeResolver(opts ...ResolverOption) *TimeResolver {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r := &TimeResolver{now: time.Now, parser: w}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve interprets phrase relative to now in loc and returns the instant in
// UTC. Phrases are tried as the display layout, then as absolute timestamps,
// then as English natural language.
//
// Now is a strict lower bound. A weekday phrase without a past marker that
// lands at or before now moves forward one week; a clock time that already
// passed today is not moved and fails.
func (r *TimeResolver) Resolve(phrase string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return time.Time{}, ambiguous(phrase, "empty phrase")
	}

	now := r.now().In(loc)

	t, ok := parseDisplay(phrase, now)
	if !ok {
		t, ok = parseAbsolute(phrase, now)
	}
	if !ok {
		res, err := r.parser.Parse(phrase, now)
		if err != nil || res == nil {
			return time.Time{}, ambiguous(phrase, "unrecognized phrase")
		}
		t = res.Time.In(loc)
		if y, found := explicitYear(phrase); found && y != t.Year() {
			t = time.Date(y, t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		}
		if h, m, found := explicitClock(phrase, true); found {
			t = time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, loc)
		}
		if !t.After(now) && weekdayRe.MatchString(phrase) && !pastMarkerRe.MatchString(phrase) {
			t = t.AddDate(0, 0, 7)
		}
	}

	if !t.After(now) {
		return time.Time{}, ambiguous(phrase, "not in the future")
	}
	return t.UTC(), nil
}

// parseDisplay accepts DisplayLayout. The layout carries no year, so the
// next occurrence on or after now's year is chosen.
func parseDisplay(phrase string, now time.Time) (time.Time, bool) {
	t, err := time.ParseInLocation(DisplayLayout, phrase, now.Location())
	if err != nil {
		return time.Time{}, false
	}
	t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(1, 0, 0)
	}
	return t, true
}

// parseAbsolute accepts phrases that carry a calendar date, such as RFC
// 3339 timestamps, "2026-10-19 10:00", "10/20 3pm" or
// "October 20, 2026 at 3pm". A date without a year takes the next
// occurrence on or after now's year.
func parseAbsolute(phrase string, now time.Time) (time.Time, bool) {
	if !monthNameRe.MatchString(phrase) && !dateSepRe.MatchString(phrase) && !yearRe.MatchString(phrase) {
		return time.Time{}, false
	}
	loc := now.Location()
	t, err := dateparse.ParseIn(phrase, loc)
	if err != nil {
		return time.Time{}, false
	}
	if t.Year() == 0 {
		t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		if !t.After(now) {
			t = t.AddDate(1, 0, 0)
		}
	}
	t = t.In(loc)
	if h, m, found := explicitClock(phrase, false); found && (t.Hour() != h || t.Minute() != m) {
		t = time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, loc)
	}
	return t, true
}

// explicitClock finds a clock time written in phrase. "3pm" and "10:30 am"
// are always recognized; "15:30" only when with24h is set.
func explicitClock(phrase string, with24h bool) (hour, minute int, ok bool) {
	if m := clock12Re.FindStringSubmatch(phrase); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		h %= 12
		if strings.EqualFold(m[3], "p") {
			h += 12
		}
		return h, minute, true
	}
	if !with24h {
		return 0, 0, false
	}
	if m := clock24Re.FindStringSubmatch(phrase); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return hour, minute, true
	}
	return 0, 0, false
}

func explicitYear(phrase string) (int, bool) {
	m := yearRe.FindString(phrase)
	if m == "" {
		return 0, false
	}
	y, err := strconv.Atoi(m)
	return y, err == nil
}

func ambiguous(phrase, reason string) error {
	return apperr.Wrap(ErrAmbiguousOrPast, apperr.CodeAmbiguousTime, reason).WithContext("phrase", phrase)
}

// FormatInstant renders t in loc using DisplayLayout.
func FormatInstant(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// FormatEventTime renders an externally supplied timestamp in loc. Raw
// strings that cannot be parsed are returned unchanged.
func FormatEventTime(raw string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return raw
	}
	return FormatInstant(t, loc)
}
