package sessions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals share any instant.
// Back-to-back intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// parseClock converts "HH:MM" (or "HH:MM:SS") to minutes after midnight.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: bad clock value %q", ErrInvalidInput, value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidInput, value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidInput, value)
	}
	total := h*60 + m
	if total > 24*60 {
		return 0, fmt.Errorf("%w: clock value %q past midnight", ErrInvalidInput, value)
	}
	return total, nil
}

// dayStart returns local midnight of the calendar day t falls on in loc.
func dayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// dayInterval spans the whole calendar day of t in loc.
func dayInterval(t time.Time, loc *time.Location) Interval {
	start := dayStart(t, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// windowOn resolves a weekly slot to a concrete interval on the given day.
func (a AvailabilitySlot) windowOn(day time.Time, loc *time.Location) (Interval, error) {
	startMin, err := parseClock(a.StartTime)
	if err != nil {
		return Interval{}, err
	}
	endMin, err := parseClock(a.EndTime)
	if err != nil {
		return Interval{}, err
	}
	if endMin <= startMin {
		return Interval{}, fmt.Errorf("%w: window %s-%s ends before it starts", ErrInvalidInput, a.StartTime, a.EndTime)
	}
	local := day.In(loc)
	y, m, d := local.Date()
	return Interval{
		Start: time.Date(y, m, d, startMin/60, startMin%60, 0, 0, loc),
		End:   time.Date(y, m, d, endMin/60, endMin%60, 0, 0, loc),
	}, nil
}

// windowsOn returns the enabled windows that apply to the calendar day of t, sorted by start.
func windowsOn(slots []AvailabilitySlot, t time.Time, loc *time.Location) []Interval {
	weekday := t.In(loc).Weekday()
	var out []Interval
	for _, s := range slots {
		if !s.IsAvailable || s.DayOfWeek != weekday {
			continue
		}
		w, err := s.windowOn(t, loc)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// withinAvailability reports whether iv fits entirely inside a single enabled window.
func withinAvailability(slots []AvailabilitySlot, iv Interval, loc *time.Location) bool {
	for _, w := range windowsOn(slots, iv.Start, loc) {
		if w.Contains(iv) {
			return true
		}
	}
	return false
}

// enumerateSlots lists back-to-back slots of the given length inside each window,
// skipping slots that start before notBefore or overlap a booked interval.
// A slot is only emitted when its end is within its window.
func enumerateSlots(windows []Interval, length time.Duration, booked []Interval, notBefore time.Time) []TimeSlot {
	if length <= 0 {
		return nil
	}
	var out []TimeSlot
	for _, w := range windows {
		for start := w.Start; !start.Add(length).After(w.End); start = start.Add(length) {
			candidate := Interval{Start: start, End: start.Add(length)}
			if candidate.Start.Before(notBefore) {
				continue
			}
			if overlapsAny(candidate, booked) {
				continue
			}
			out = append(out, TimeSlot{Start: candidate.Start, End: candidate.End})
		}
	}
	return out
}

func overlapsAny(iv Interval, others []Interval) bool {
	for _, o := range others {
		if iv.Overlaps(o) {
			return true
		}
	}
	return false
}

// validateWeekly checks a full weekly availability set before it is stored.
func validateWeekly(slots []AvailabilitySlot) error {
	perDay := map[time.Weekday][]Interval{}
	ref := time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC) // a Sunday
	for _, s := range slots {
		if s.DayOfWeek < time.Sunday || s.DayOfWeek > time.Saturday {
			return fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidInput, s.DayOfWeek)
		}
		w, err := s.windowOn(ref.AddDate(0, 0, int(s.DayOfWeek)), time.UTC)
		if err != nil {
			return err
		}
		for _, existing := range perDay[s.DayOfWeek] {
			if existing.Overlaps(w) {
				return fmt.Errorf("%w: overlapping windows on %s", ErrInvalidInput, s.DayOfWeek)
			}
		}
		perDay[s.DayOfWeek] = append(perDay[s.DayOfWeek], w)
	}
	return nil
}
