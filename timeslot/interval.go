package timeslot

import (
	"sort"
	"strings"
	"time"
)

// TimeInterval is a start/end pair of "HH:MM" clock values.
type TimeInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NewInterval normalizes both bounds.
func NewInterval(start, end string) TimeInterval {
	return TimeInterval{Start: NormalizeTime(start), End: NormalizeTime(end)}
}

// Valid reports start <= end.
func (i TimeInterval) Valid() bool {
	return Compare(i.Start, i.End) <= 0
}

// Contains reports whether [start, end] lies fully inside the interval.
func (i TimeInterval) Contains(start, end string) bool {
	return WithinRange(start, i.Start, i.End) &&
		WithinRange(end, i.Start, i.End) &&
		Compare(start, end) <= 0
}

func (i TimeInterval) String() string {
	return i.Start + "-" + i.End
}

// SortIntervals orders intervals by start, then end.
func SortIntervals(in []TimeInterval) {
	sort.SliceStable(in, func(a, b int) bool {
		if c := Compare(in[a].Start, in[b].Start); c != 0 {
			return c < 0
		}
		return Compare(in[a].End, in[b].End) < 0
	})
}

// Weekday is the lower-case English day name used in provider rules.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// Weekdays lists the days in display order.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var byStdlib = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// ParseWeekday accepts full names and three letter abbreviations in any case.
func ParseWeekday(s string) (Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range Weekdays {
		if s == string(d) || (len(s) == 3 && strings.HasPrefix(string(d), s)) {
			return d, true
		}
	}
	return "", false
}

// WeekdayOf returns the weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	return byStdlib[t.Weekday()]
}
