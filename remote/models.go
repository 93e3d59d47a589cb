package remote

import "time"

// User is the authenticated remote calendar identity.
type User struct {
	URI                 string `json:"uri"`
	Name                string `json:"name"`
	Slug                string `json:"slug"`
	Email               string `json:"email"`
	SchedulingURL       string `json:"scheduling_url"`
	Timezone            string `json:"timezone"`
	CurrentOrganization string `json:"current_organization"`
}

// Interval is a raw from/to pair in the provider's native clock format.
type Interval struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Rule pairs a weekday (or a specific date) with raw intervals. Slots carries
// discrete start times when the source has no explicit end times.
type Rule struct {
	Type      string     `json:"type"`
	Wday      string     `json:"wday"`
	Date      string     `json:"date,omitempty"`
	Intervals []Interval `json:"intervals"`
	Slots     []string   `json:"slots,omitempty"`
}

// AvailabilitySchedule is one named rule set on the remote side.
type AvailabilitySchedule struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	Default  bool   `json:"default"`
	User     string `json:"user"`
	Timezone string `json:"timezone"`
	Rules    []Rule `json:"rules"`
}

// EventType is a bookable scheduling link owned by a user.
type EventType struct {
	URI           string `json:"uri"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	Active        bool   `json:"active"`
	Duration      int    `json:"duration"`
	SchedulingURL string `json:"scheduling_url"`
	Profile       struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	} `json:"profile"`
}

// AvailableTime is a free start time reported for an event type.
type AvailableTime struct {
	Status            string    `json:"status"`
	InviteesRemaining int       `json:"invitees_remaining"`
	StartTime         time.Time `json:"start_time"`
	SchedulingURL     string    `json:"scheduling_url"`
}

// Token is the result of a code exchange or refresh. RefreshToken is empty
// when the provider did not rotate it.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// WebhookSubscription is a registered callback on the remote side.
type WebhookSubscription struct {
	URI          string   `json:"uri"`
	CallbackURL  string   `json:"callback_url"`
	Events       []string `json:"events"`
	State        string   `json:"state"`
	Scope        string   `json:"scope"`
	User         string   `json:"user"`
	Organization string   `json:"organization"`
}

// CreateWebhookRequest registers a callback URL for a set of events.
type CreateWebhookRequest struct {
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Organization string   `json:"organization"`
	User         string   `json:"user,omitempty"`
	Scope        string   `json:"scope"`
	SigningKey   string   `json:"signing_key,omitempty"`
}

// EventTypeLookup is the public booking-page view of an event type.
type EventTypeLookup struct {
	ID          string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Timezone    string `json:"timezone"`
}

// BookingRef addresses a public booking calendar by event type or by a
// direct scheduling link.
type BookingRef struct {
	EventTypeID string
	LinkID      string
}

// ID returns whichever identifier is set.
func (r BookingRef) ID() string {
	if r.LinkID != "" {
		return r.LinkID
	}
	return r.EventTypeID
}

// Spot is one bookable start time on a public booking calendar. StartTime is
// a timezone-qualified timestamp already expressed in the requested zone.
type Spot struct {
	Status    string `json:"status"`
	StartTime string `json:"start_time"`
}

// CalendarDay is one date of a public booking calendar.
type CalendarDay struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Spots  []Spot `json:"spots"`
}

// CalendarRange is the day-by-day response for a date range.
type CalendarRange struct {
	Timezone string        `json:"availability_timezone"`
	Days     []CalendarDay `json:"days"`
}
