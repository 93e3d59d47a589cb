// Package timeslot holds the time-of-day value types every other package
// compares with. All clock strings are zero-padded 24h "HH:MM", which makes
// plain string comparison equivalent to chronological comparison.
package timeslot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// Midnight is what malformed input normalizes to.
	Midnight = "00:00"
	// EndOfDay is the latest representable clock value.
	EndOfDay = "23:59"

	minutesPerDay = 24 * 60
)

// NormalizeTime converts a provider clock value to "HH:MM".
//
// Accepted shapes: "9:00", "09:00:00", "9.30" (dotted, two minute digits),
// "9.5" (decimal hours), "9", "9am", "5:30 pm". "24:00" becomes EndOfDay.
// Anything else normalizes to Midnight.
func NormalizeTime(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Midnight
	}

	var meridiem string
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		meridiem = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}

	h, m, ok := parseClock(s)
	if !ok {
		return Midnight
	}

	switch meridiem {
	case "am", "pm":
		if h < 1 || h > 12 {
			return Midnight
		}
		if meridiem == "pm" && h != 12 {
			h += 12
		}
		if meridiem == "am" && h == 12 {
			h = 0
		}
	}

	if h == 24 && m == 0 {
		return EndOfDay
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Midnight
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func parseClock(s string) (h, m int, ok bool) {
	switch {
	case strings.Contains(s, ":"):
		hs, rest, _ := strings.Cut(s, ":")
		ms, _, _ := strings.Cut(rest, ":") // drop seconds
		if !isDigits(hs) || !isDigits(ms) {
			return 0, 0, false
		}
		h, _ = strconv.Atoi(hs)
		m, _ = strconv.Atoi(ms)
		return h, m, true

	case strings.Contains(s, "."):
		hs, fs, _ := strings.Cut(s, ".")
		if !isDigits(hs) || !isDigits(fs) {
			return 0, 0, false
		}
		if len(fs) == 2 {
			// "9.30" is a dotted clock, not 9.3 hours; "9.75" has no such
			// clock reading and falls through to decimal hours.
			if mm, _ := strconv.Atoi(fs); mm <= 59 {
				h, _ = strconv.Atoi(hs)
				return h, mm, true
			}
		}
		f, err := strconv.ParseFloat(hs+"."+fs, 64)
		if err != nil {
			return 0, 0, false
		}
		total := int(math.Round(f * 60))
		return total / 60, total % 60, true

	default:
		if !isDigits(s) {
			return 0, 0, false
		}
		h, _ = strconv.Atoi(s)
		return h, 0, true
	}
}

func isDigits(s string) bool {
	if s == "" || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Compare orders two clock values after normalizing them.
func Compare(a, b string) int {
	return strings.Compare(NormalizeTime(a), NormalizeTime(b))
}

// WithinRange reports start <= point <= end.
func WithinRange(point, start, end string) bool {
	p := NormalizeTime(point)
	return NormalizeTime(start) <= p && p <= NormalizeTime(end)
}

// FromTime returns the wall clock of t in its own location.
func FromTime(t time.Time) string {
	return t.Format("15:04")
}

// ToMinutes returns minutes since midnight.
func ToMinutes(clock string) int {
	n := NormalizeTime(clock)
	h, _ := strconv.Atoi(n[:2])
	m, _ := strconv.Atoi(n[3:])
	return h*60 + m
}

// FromMinutes is the inverse of ToMinutes. Values past the end of the day
// clamp to EndOfDay, negative values to Midnight.
func FromMinutes(minutes int) string {
	if minutes < 0 {
		return Midnight
	}
	if minutes >= minutesPerDay {
		return EndOfDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// AddMinutes shifts a clock value, clamping at the end of the day.
func AddMinutes(clock string, minutes int) string {
	return FromMinutes(ToMinutes(clock) + minutes)
}
