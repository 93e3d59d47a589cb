// Package schedule turns provider availability rules into the canonical
// weekly projection and keeps that projection in sync.
package schedule

import (
	"sort"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/timeslot"
)

// DefaultSlotMinutes is the slot length assumed for discrete start times.
const DefaultSlotMinutes = 30

// Normalize folds rules into a seven day map. Rules carrying intervals are
// normalized, sorted and merged; rules carrying only discrete slot start
// times are consolidated with slotMinutes as the slot length. Date-specific
// rules, unknown weekdays and malformed intervals are skipped and counted.
func Normalize(rules []remote.Rule, slotMinutes int) (days map[timeslot.Weekday][]timeslot.TimeInterval, skipped int) {
	days = timeslot.EmptyDays()
	slots := map[timeslot.Weekday][]string{}

	for _, rule := range rules {
		if rule.Type != "" && rule.Type != "wday" {
			skipped++
			continue
		}
		day, ok := timeslot.ParseWeekday(rule.Wday)
		if !ok {
			skipped++
			continue
		}
		for _, raw := range rule.Intervals {
			in := timeslot.NewInterval(raw.From, raw.To)
			if timeslot.Compare(in.Start, in.End) >= 0 {
				skipped++
				continue
			}
			days[day] = append(days[day], in)
		}
		slots[day] = append(slots[day], rule.Slots...)
	}

	for _, d := range timeslot.Weekdays {
		list := days[d]
		if len(slots[d]) > 0 {
			list = append(list, Consolidate(slots[d], slotMinutes)...)
		}
		days[d] = MergeIntervals(list)
	}
	return days, skipped
}

// Consolidate turns discrete slot start times into continuous ranges. A slot
// extends the open range when it starts exactly where the range ends (the
// previous start plus slotMinutes). The last slot of the day is clamped to
// EndOfDay when it starts at 23:00 or later or would run past midnight.
func Consolidate(starts []string, slotMinutes int) []timeslot.TimeInterval {
	if slotMinutes <= 0 {
		slotMinutes = DefaultSlotMinutes
	}
	sorted := make([]string, 0, len(starts))
	seen := map[string]bool{}
	for _, s := range starts {
		n := timeslot.NormalizeTime(s)
		if seen[n] {
			continue
		}
		seen[n] = true
		sorted = append(sorted, n)
	}
	if len(sorted) == 0 {
		return []timeslot.TimeInterval{}
	}
	sort.Strings(sorted)

	var out []timeslot.TimeInterval
	cur := timeslot.TimeInterval{Start: sorted[0], End: slotEnd(sorted[0], slotMinutes, len(sorted) == 1)}
	for i := 1; i < len(sorted); i++ {
		start := sorted[i]
		end := slotEnd(start, slotMinutes, i == len(sorted)-1)
		if start == cur.End {
			cur.End = end
			continue
		}
		out = append(out, cur)
		cur = timeslot.TimeInterval{Start: start, End: end}
	}
	return append(out, cur)
}

func slotEnd(start string, slotMinutes int, last bool) string {
	m := timeslot.ToMinutes(start)
	if last && (m >= 23*60 || m+slotMinutes >= 24*60) {
		return timeslot.EndOfDay
	}
	return timeslot.AddMinutes(start, slotMinutes)
}

// MergeIntervals sorts and joins intervals that overlap or touch.
func MergeIntervals(in []timeslot.TimeInterval) []timeslot.TimeInterval {
	if len(in) == 0 {
		return []timeslot.TimeInterval{}
	}
	list := append([]timeslot.TimeInterval(nil), in...)
	timeslot.SortIntervals(list)

	out := []timeslot.TimeInterval{list[0]}
	for _, next := range list[1:] {
		last := &out[len(out)-1]
		if timeslot.Compare(next.Start, last.End) <= 0 {
			if timeslot.Compare(next.End, last.End) > 0 {
				last.End = next.End
			}
			continue
		}
		out = append(out, next)
	}
	return out
}
