package timeslot

import "time"

// WeeklySchedule is the canonical per-account projection of bookable hours.
// Every weekday key is present; each list is sorted and free of overlapping
// or touching intervals.
type WeeklySchedule struct {
	AccountID        string                     `json:"account_id"`
	SourceID         string                     `json:"source_id"`
	Name             string                     `json:"name"`
	Timezone         string                     `json:"timezone,omitempty"`
	Days             map[Weekday][]TimeInterval `json:"days"`
	LastSynchronized time.Time                  `json:"last_synchronized"`
}

// EmptyDays returns a day map with all seven weekdays set to empty lists.
func EmptyDays() map[Weekday][]TimeInterval {
	days := make(map[Weekday][]TimeInterval, len(Weekdays))
	for _, d := range Weekdays {
		days[d] = []TimeInterval{}
	}
	return days
}

// Intervals returns the intervals for a day, never nil.
func (w *WeeklySchedule) Intervals(d Weekday) []TimeInterval {
	if w == nil || w.Days[d] == nil {
		return []TimeInterval{}
	}
	return w.Days[d]
}

// Contains reports whether [start, end] on day d fits inside one interval.
func (w *WeeklySchedule) Contains(d Weekday, start, end string) bool {
	for _, in := range w.Intervals(d) {
		if in.Contains(start, end) {
			return true
		}
	}
	return false
}

// Location resolves the schedule timezone, falling back to fallback and then UTC.
func (w *WeeklySchedule) Location(fallback string) *time.Location {
	if w != nil && w.Timezone != "" {
		if loc, err := time.LoadLocation(w.Timezone); err == nil {
			return loc
		}
	}
	return LoadLocation(fallback)
}

// LoadLocation returns the named location or UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clone returns a deep copy.
func (w *WeeklySchedule) Clone() *WeeklySchedule {
	if w == nil {
		return nil
	}
	out := *w
	out.Days = make(map[Weekday][]TimeInterval, len(w.Days))
	for d, list := range w.Days {
		out.Days[d] = append([]TimeInterval{}, list...)
	}
	return &out
}
