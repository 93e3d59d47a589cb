// Package query answers point-in-time availability questions.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Seann-Moser/availsync/oauth/oclient"
	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
)

const (
	ReasonPast         = "past"
	ReasonOutsideHours = "outside provider's available hours"
	ReasonAuthExpired  = "calendar authentication expired"
	ReasonNoSlot       = "no overlapping slot"
	ReasonError        = "error checking availability"
)

var ErrInvalidRange = errors.New("query: start must be before end")

// Result is the answer to one availability question. Reason is empty when
// Available is true.
type Result struct {
	Available bool
	Reason    string
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Available bool    `json:"available"`
		Reason    *string `json:"reason"`
	}{Available: r.Available}
	if r.Reason != "" {
		out.Reason = &r.Reason
	}
	return json.Marshal(out)
}

func available() Result { return Result{Available: true} }
func unavailable(why string) Result { return Result{Reason: why} }

// TokenSource hands out a usable access token for an account.
type TokenSource interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
}

// Engine resolves availability from the stored weekly schedule, then the
// remote provider, then the default business-hours schedule.
type Engine struct {
	accounts  store.AccountStore
	schedules store.ScheduleStore
	tokens    TokenSource
	client    remote.Client
	defaultTZ string
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(accounts store.AccountStore, schedules store.ScheduleStore, tokens TokenSource, client remote.Client, defaultTZ string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		accounts:  accounts,
		schedules: schedules,
		tokens:    tokens,
		client:    client,
		defaultTZ: defaultTZ,
		logger:    logger,
		now:       time.Now,
	}
}

// DefaultSchedule is Monday to Friday 09:00-17:00, closed on weekends.
func DefaultSchedule() *timeslot.WeeklySchedule {
	days := timeslot.EmptyDays()
	for _, d := range []timeslot.Weekday{timeslot.Monday, timeslot.Tuesday, timeslot.Wednesday, timeslot.Thursday, timeslot.Friday} {
		days[d] = []timeslot.TimeInterval{{Start: "09:00", End: "17:00"}}
	}
	return &timeslot.WeeklySchedule{Name: "default", Days: days}
}

// IsAvailable only returns an error for an invalid range. Every other
// failure degrades to an unavailable Result.
func (e *Engine) IsAvailable(ctx context.Context, accountID string, start, end time.Time) (Result, error) {
	if !start.Before(end) {
		return Result{}, ErrInvalidRange
	}
	if start.Before(e.now()) {
		return unavailable(ReasonPast), nil
	}

	acc, err := e.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		acc = &store.ProviderAccount{ID: accountID}
	} else if err != nil {
		e.logger.Error("loading account for availability", "account_id", accountID, "err", err)
		return unavailable(ReasonError), nil
	}
	fallbackTZ := acc.Timezone
	if fallbackTZ == "" {
		fallbackTZ = e.defaultTZ
	}

	ws, err := e.schedules.GetSchedule(ctx, accountID)
	switch {
	case err == nil:
		return fromSchedule(ws, start, end, fallbackTZ), nil
	case !errors.Is(err, store.ErrNotFound):
		e.logger.Error("loading weekly schedule", "account_id", accountID, "err", err)
		return unavailable(ReasonError), nil
	}

	if acc.HasTokens() {
		return e.fromRemote(ctx, acc, start, end), nil
	}
	return fromSchedule(DefaultSchedule(), start, end, fallbackTZ), nil
}

// fromSchedule requires [start, end] to fit inside one interval of the
// weekday start falls on, in the schedule's local time.
func fromSchedule(ws *timeslot.WeeklySchedule, start, end time.Time, fallbackTZ string) Result {
	loc := ws.Location(fallbackTZ)
	ls, le := start.In(loc), end.In(loc)

	endClock := timeslot.FromTime(le)
	if le.Second() != 0 || le.Nanosecond() != 0 {
		// partial minutes round up
		endClock = timeslot.AddMinutes(endClock, 1)
	}
	if !sameDay(ls, le) {
		next := time.Date(ls.Year(), ls.Month(), ls.Day()+1, 0, 0, 0, 0, loc)
		if !le.Equal(next) {
			return unavailable(ReasonOutsideHours)
		}
		endClock = timeslot.EndOfDay
	}

	if ws.Contains(timeslot.WeekdayOf(ls), timeslot.FromTime(ls), endClock) {
		return available()
	}
	return unavailable(ReasonOutsideHours)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (e *Engine) fromRemote(ctx context.Context, acc *store.ProviderAccount, start, end time.Time) Result {
	token, err := e.tokens.AccessToken(ctx, acc.ID)
	if errors.Is(err, oclient.ErrReconnectRequired) {
		return unavailable(ReasonAuthExpired)
	} else if err != nil {
		e.logger.Error("obtaining access token", "account_id", acc.ID, "err", err)
		return unavailable(ReasonError)
	}

	eventTypes := acc.EventTypes
	if len(eventTypes) == 0 {
		list, err := e.client.ListEventTypes(ctx, token, acc.RemoteURI)
		if err != nil {
			e.logger.Error("listing event types", "account_id", acc.ID, "err", err)
			return unavailable(ReasonError)
		}
		eventTypes = ActiveEventTypeURIs(list)
	}
	if len(eventTypes) == 0 {
		return unavailable(ReasonNoSlot)
	}

	// A failing event type must not cancel its peers; only a found slot stops
	// the remaining lookups.
	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var found atomic.Bool
	var g errgroup.Group
	for _, uri := range eventTypes {
		g.Go(func() error {
			times, err := e.client.ListAvailableTimes(lookupCtx, token, uri, start, end)
			if err != nil {
				return fmt.Errorf("event type %s: %w", uri, err)
			}
			for _, at := range times {
				if slotInRange(at, start, end) {
					found.Store(true)
					cancel()
					return nil
				}
			}
			return nil
		})
	}
	err = g.Wait()
	if found.Load() {
		return available()
	}
	if err != nil {
		e.logger.Error("checking remote availability", "account_id", acc.ID, "err", err)
		return unavailable(ReasonError)
	}
	return unavailable(ReasonNoSlot)
}

func slotInRange(at remote.AvailableTime, start, end time.Time) bool {
	if at.Status != "" && at.Status != "available" {
		return false
	}
	return !at.StartTime.Before(start) && at.StartTime.Before(end)
}

// ActiveEventTypeURIs keeps the URIs of active event types.
func ActiveEventTypeURIs(list []remote.EventType) []string {
	out := make([]string, 0, len(list))
	for _, et := range list {
		if et.Active {
			out = append(out, et.URI)
		}
	}
	return out
}
