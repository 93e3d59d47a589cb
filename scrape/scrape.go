package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/schedule"
	"github.com/Seann-Moser/availsync/timeslot"
)

// DefaultDuration is used when neither the provider nor the slug names one.
const DefaultDuration = 30

// Day lists the bookable start times on one calendar date.
type Day struct {
	Date      string   `json:"date"`
	Available bool     `json:"available"`
	TimeSlots []string `json:"timeSlots"`
}

// Result is one month of a booking page.
type Result struct {
	Reference   Reference `json:"reference"`
	EventTypeID string    `json:"event_type_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Duration    int       `json:"duration"`
	Timezone    string    `json:"timezone"`
	Days        []Day     `json:"days"`
}

// Scraper resolves booking pages through the provider's public endpoints.
// It never writes to the store.
type Scraper struct {
	client remote.Client
	logger *slog.Logger
}

func NewScraper(client remote.Client, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{client: client, logger: logger}
}

// Scrape fetches the month containing month. tz overrides the page's own
// timezone; with neither, UTC is used.
func (s *Scraper) Scrape(ctx context.Context, rawRef string, month time.Time, tz string) (*Result, error) {
	ref, err := ParseReference(rawRef)
	if err != nil {
		return nil, err
	}

	res := &Result{Reference: ref}
	var booking remote.BookingRef
	if ref.IsDirectLink() {
		booking.LinkID = ref.LinkID
		res.Name = TitleFromSlug(ref.Label)
		res.Duration = DurationFromSlug(ref.Label, DefaultDuration)
	} else {
		lookup, err := s.client.LookupEventTypeBySlug(ctx, ref.ProfileSlug, ref.EventSlug)
		if err != nil {
			return nil, fmt.Errorf("scrape: resolving %s/%s: %w", ref.ProfileSlug, ref.EventSlug, err)
		}
		booking.EventTypeID = lookup.ID
		res.EventTypeID = lookup.ID
		res.Name = lookup.Name
		res.Description = lookup.Description
		res.Duration = lookup.Duration
		if tz == "" {
			tz = lookup.Timezone
		}
		if res.Name == "" {
			res.Name = TitleFromSlug(ref.EventSlug)
		}
		if res.Duration <= 0 {
			res.Duration = DurationFromSlug(ref.EventSlug, DefaultDuration)
		}
	}
	if res.Description == "" {
		res.Description = res.Name
	}
	if tz == "" {
		tz = "UTC"
	}
	res.Timezone = tz

	first, last := MonthBounds(month, timeslot.LoadLocation(tz))
	rng, err := s.client.GetBookingCalendarRange(ctx, booking, first, last, tz)
	if err != nil {
		return nil, fmt.Errorf("scrape: fetching calendar range: %w", err)
	}
	res.Days = ExtractDays(rng)
	s.logger.Debug("booking page scraped", "reference", rawRef, "days", len(res.Days))
	return res, nil
}

// MonthBounds returns the first and last calendar day of t's month in loc.
func MonthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return first, first.AddDate(0, 1, -1)
}

var spotClock = regexp.MustCompile(`T(\d{2}):(\d{2})`)

// ExtractDays keeps available days with at least one available spot. Start
// times are read straight from the timestamp text, so the offset the
// provider already applied is kept as is.
func ExtractDays(rng *remote.CalendarRange) []Day {
	out := []Day{}
	if rng == nil {
		return out
	}
	for _, d := range rng.Days {
		if d.Status != "available" {
			continue
		}
		var slots []string
		for _, spot := range d.Spots {
			if spot.Status != "" && spot.Status != "available" {
				continue
			}
			m := spotClock.FindStringSubmatch(spot.StartTime)
			if m == nil {
				continue
			}
			slots = append(slots, m[1]+":"+m[2])
		}
		if len(slots) == 0 {
			continue
		}
		sort.Strings(slots)
		out = append(out, Day{Date: d.Date, Available: true, TimeSlots: slots})
	}
	return out
}

// WeeklyView folds dated slots into a weekly projection by consolidating
// every start time seen on each weekday. The result is not persisted.
func WeeklyView(days []Day, slotMinutes int, tz string) *timeslot.WeeklySchedule {
	byDay := map[timeslot.Weekday][]string{}
	for _, d := range days {
		date, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		wd := timeslot.WeekdayOf(date)
		byDay[wd] = append(byDay[wd], d.TimeSlots...)
	}
	out := &timeslot.WeeklySchedule{Name: "scraped", Timezone: tz, Days: timeslot.EmptyDays()}
	for wd, slots := range byDay {
		out.Days[wd] = schedule.MergeIntervals(schedule.Consolidate(slots, slotMinutes))
	}
	return out
}

// IsSlotOffered reports whether clock is one of the listed start times on
// date. Only exact start times match; the event duration is not checked.
func IsSlotOffered(days []Day, date, clock string) bool {
	want := timeslot.NormalizeTime(clock)
	for _, d := range days {
		if d.Date != date {
			continue
		}
		for _, s := range d.TimeSlots {
			if s == want {
				return true
			}
		}
	}
	return false
}
