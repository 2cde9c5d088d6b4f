package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailortalk/internal/apperr"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

// fixedNow is Saturday 2026-10-17 09:00 in Asia/Kolkata.
func fixedResolver(t *testing.T) (*TimeResolver, time.Time, *time.Location) {
	t.Helper()
	loc := kolkata(t)
	now := time.Date(2026, time.October, 17, 9, 0, 0, 0, loc)
	return NewTimeResolver(WithClock(func() time.Time { return now })), now, loc
}

func TestResolveRejectsPastAndUnparseable(t *testing.T) {
	r, _, loc := fixedResolver(t)

	for _, phrase := range []string{
		"",
		"   ",
		"yesterday",
		"yesterday at 10am",
		"last Monday",
		"today at 8am",
		"2026-10-01 10:00",
		"whenever works for you",
	} {
		t.Run(phrase, func(t *testing.T) {
			_, err := r.Resolve(phrase, loc)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAmbiguousOrPast)
			assert.True(t, apperr.IsCode(err, apperr.CodeAmbiguousTime))
		})
	}
}

func TestResolveYesterdayAlwaysFails(t *testing.T) {
	loc := kolkata(t)
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, loc)
	for h := 0; h < 24*7; h += 5 {
		now := base.Add(time.Duration(h) * time.Hour)
		r := NewTimeResolver(WithClock(func() time.Time { return now }))
		_, err := r.Resolve("yesterday", loc)
		assert.ErrorIs(t, err, ErrAmbiguousOrPast, "now=%s", now)
	}
}

func TestResolveDisplayLayoutRoundTrip(t *testing.T) {
	r, now, loc := fixedResolver(t)

	got, err := r.Resolve("Monday, Oct 19 at 10:00 AM", loc)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2026, time.October, 19, 10, 0, 0, 0, loc).UTC(), got)
	assert.Equal(t, "Monday, Oct 19 at 10:00 AM", FormatInstant(got, loc))

	// Rendering any future instant and resolving it again lands on the same minute.
	for _, d := range []time.Duration{90 * time.Minute, 26 * time.Hour, 9*24*time.Hour + 17*time.Minute} {
		instant := now.Add(d).Truncate(time.Minute)
		again, err := r.Resolve(FormatInstant(instant, loc), loc)
		require.NoError(t, err)
		assert.True(t, instant.Equal(again), "want %s got %s", instant, again)
	}
}

func TestResolveDisplayLayoutEarlierThisYearMovesToNextYear(t *testing.T) {
	r, _, loc := fixedResolver(t)

	got, err := r.Resolve("Saturday, Oct 17 at 08:00 AM", loc)
	require.NoError(t, err)
	assert.Equal(t, 2027, got.In(loc).Year())
}

func TestResolveAbsoluteTimestamps(t *testing.T) {
	r, _, loc := fixedResolver(t)

	got, err := r.Resolve("2026-10-20T15:30:00+05:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 20, 10, 0, 0, 0, time.UTC), got)

	got, err = r.Resolve("2026-10-20 15:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 20, 15, 30, 0, 0, loc).UTC(), got)
}

func TestResolveNaturalLanguage(t *testing.T) {
	r, now, loc := fixedResolver(t)

	got, err := r.Resolve("tomorrow at 3pm", loc)
	require.NoError(t, err)
	local := got.In(loc)
	assert.Equal(t, 18, local.Day())
	assert.Equal(t, 15, local.Hour())

	got, err = r.Resolve("next Monday at 10am", loc)
	require.NoError(t, err)
	local = got.In(loc)
	assert.Equal(t, time.Monday, local.Weekday())
	assert.Equal(t, 10, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.True(t, got.After(now))
}

func TestResolveBareWeekdayPrefersFuture(t *testing.T) {
	r, now, loc := fixedResolver(t)

	for _, phrase := range []string{"Monday at 9am", "friday 4pm", "Saturday at 8am"} {
		t.Run(phrase, func(t *testing.T) {
			got, err := r.Resolve(phrase, loc)
			require.NoError(t, err)
			assert.True(t, got.After(now))
			assert.LessOrEqual(t, got.Sub(now), 7*24*time.Hour)
		})
	}
}

func TestFormatEventTime(t *testing.T) {
	loc := kolkata(t)

	assert.Equal(t, "Tuesday, Oct 20 at 03:30 PM", FormatEventTime("2026-10-20T15:30:00+05:30", loc))
	assert.Equal(t, "Tuesday, Oct 20 at 03:30 PM", FormatEventTime("2026-10-20T10:00:00Z", loc))
	assert.Equal(t, "not a date", FormatEventTime("not a date", loc))
	assert.Equal(t, "", FormatEventTime("", loc))
}

func TestResolveMonthNameDatesKeepClockTime(t *testing.T) {
	r, _, loc := fixedResolver(t)

	for phrase, want := range map[string]time.Time{
		"October 20, 2026 at 3pm":    time.Date(2026, time.October, 20, 15, 0, 0, 0, loc),
		"October 20, 2026 3pm":       time.Date(2026, time.October, 20, 15, 0, 0, 0, loc),
		"October 20, 2026 at 3:30pm": time.Date(2026, time.October, 20, 15, 30, 0, 0, loc),
		"January 5, 2027 at 11am":    time.Date(2027, time.January, 5, 11, 0, 0, 0, loc),
	} {
		t.Run(phrase, func(t *testing.T) {
			got, err := r.Resolve(phrase, loc)
			require.NoError(t, err)
			assert.Equal(t, want.UTC(), got)
		})
	}
}

func TestResolveSlashDateWithoutYear(t *testing.T) {
	r, _, loc := fixedResolver(t)

	got, err := r.Resolve("10/20 3pm", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 20, 15, 0, 0, 0, loc).UTC(), got)

	// Already past this year, so next year's date is meant.
	got, err = r.Resolve("10/15 3pm", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, time.October, 15, 15, 0, 0, 0, loc).UTC(), got)
}

func TestExplicitClock(t *testing.T) {
	for _, tc := range []struct {
		phrase string
		with24 bool
		hour   int
		minute int
		found  bool
	}{
		{"tomorrow at 3pm", false, 15, 0, true},
		{"at 10:30 am", false, 10, 30, true},
		{"12am sharp", false, 0, 0, true},
		{"12 PM", false, 12, 0, true},
		{"October 20, 2026", true, 0, 0, false},
		{"tomorrow 15:45", true, 15, 45, true},
		{"tomorrow 15:45", false, 0, 0, false},
	} {
		h, m, ok := explicitClock(tc.phrase, tc.with24)
		assert.Equal(t, tc.found, ok, tc.phrase)
		if tc.found {
			assert.Equal(t, tc.hour, h, tc.phrase)
			assert.Equal(t, tc.minute, m, tc.phrase)
		}
	}
}
