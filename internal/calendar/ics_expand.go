package calendar

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "tailortalk/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// expandConfig bounds recurrence expansion.
type expandConfig struct {
	// Occurrences starting inside [RangeStart, RangeEnd] are kept.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE; zero means the default.
	MaxOccurrencesPerEvent int
}

// occurrence is a single concrete instance of a (possibly recurring) event.
type occurrence struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Recurring   bool
}

// instanceID follows the "<uid>_<utc start>" shape backends use for
// expanded instances.
func (o occurrence) instanceID() string {
	if !o.Recurring {
		return o.UID
	}
	return o.UID + "_" + o.Start.UTC().Format("20060102T150405Z")
}

// expandOccurrences turns parsed events into concrete occurrences inside the
// configured window, applying EXDATE and RECURRENCE-ID overrides. The result
// is ordered by start time.
func expandOccurrences(events []icsEvent, cfg expandConfig) ([]occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: range end is before range start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]icsEvent)
	overridesByUID := make(map[string][]icsEvent)
	for _, ev := range events {
		if ev.isOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	all := make([]occurrence, 0)
	for uid, bases := range baseByUID {
		for _, ev := range bases {
			var occ []occurrence
			if ev.RawRRule == "" {
				occ = expandSingle(ev, cfg)
			} else {
				var hitCap bool
				occ, hitCap = expandRecurring(ev, overridesByUID[uid], cfg)
				if hitCap {
					appLog.Warn("recurrence expansion truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
				}
			}
			all = append(all, occ...)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start.Equal(all[j].Start) {
			return all[i].UID < all[j].UID
		}
		return all[i].Start.Before(all[j].Start)
	})
	return all, nil
}

func expandSingle(ev icsEvent, cfg expandConfig) []occurrence {
	if !startsWithin(ev.Start, cfg) {
		return nil
	}
	return []occurrence{makeOccurrence(ev, ev.Start, ev.End, false)}
}

func expandRecurring(ev icsEvent, overrides []icsEvent, cfg expandConfig) ([]occurrence, bool) {
	out := make([]occurrence, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	used := make(map[int]bool)
	for _, start := range times {
		if i, ok := findOverride(overrides, start); ok {
			used[i] = true
			o := overrides[i]
			if startsWithin(o.Start, cfg) {
				occ := makeOccurrence(o, o.Start, o.End, true)
				occ.UID = ev.UID
				out = append(out, occ)
			}
			continue
		}
		out = append(out, makeOccurrence(ev, start, start.Add(dur), true))
	}

	// Overrides that moved an instance into the window from outside it.
	for i, o := range overrides {
		if used[i] || !startsWithin(o.Start, cfg) {
			continue
		}
		if o.Recurrence != nil && startsWithin(*o.Recurrence, cfg) {
			continue
		}
		occ := makeOccurrence(o, o.Start, o.End, true)
		occ.UID = ev.UID
		out = append(out, occ)
	}

	return out, hitCap
}

// findOverride matches an override whose RECURRENCE-ID equals start.
func findOverride(overrides []icsEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return 0, false
}

func makeOccurrence(ev icsEvent, start, end time.Time, recurring bool) occurrence {
	return occurrence{
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       start,
		End:         end,
		AllDay:      ev.AllDay,
		Recurring:   recurring,
	}
}

func startsWithin(t time.Time, cfg expandConfig) bool {
	return !t.Before(cfg.RangeStart) && !t.After(cfg.RangeEnd)
}
