package store

import "github.com/Seann-Moser/availsync/timeslot"

// dayRecord is the persisted shape of one weekday: an ordered list of
// [start, end] clock pairs.
type dayRecord struct {
	Day       string     `bson:"day" json:"day"`
	Intervals [][]string `bson:"intervals" json:"intervals"`
}

func encodeDays(days map[timeslot.Weekday][]timeslot.TimeInterval) []dayRecord {
	out := make([]dayRecord, 0, len(timeslot.Weekdays))
	for _, d := range timeslot.Weekdays {
		rec := dayRecord{Day: string(d), Intervals: [][]string{}}
		for _, in := range days[d] {
			rec.Intervals = append(rec.Intervals, []string{in.Start, in.End})
		}
		out = append(out, rec)
	}
	return out
}

// decodeDays skips unknown day names and pairs that are not two elements long.
func decodeDays(recs []dayRecord) map[timeslot.Weekday][]timeslot.TimeInterval {
	days := timeslot.EmptyDays()
	for _, rec := range recs {
		d, ok := timeslot.ParseWeekday(rec.Day)
		if !ok {
			continue
		}
		for _, pair := range rec.Intervals {
			if len(pair) != 2 {
				continue
			}
			days[d] = append(days[d], timeslot.NewInterval(pair[0], pair[1]))
		}
	}
	return days
}
