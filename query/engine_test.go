package query

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Seann-Moser/availsync/oauth/oclient"
	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/schedule"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
)

// Sunday; the following Monday is 2026-10-19.
var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, client remote.Client) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	tokens := oclient.NewManager(mem, mem, client, nil, discard())
	e := NewEngine(mem, mem, tokens, client, "UTC", discard())
	e.now = func() time.Time { return testNow }
	return e, mem
}

func monday(h, m int, loc *time.Location) time.Time {
	return time.Date(2026, 10, 19, h, m, 0, 0, loc)
}

func TestEngine_Validation(t *testing.T) {
	e, _ := newTestEngine(t, &remote.MockClient{})
	ctx := context.Background()

	if _, err := e.IsAvailable(ctx, "acc-1", monday(10, 0, time.UTC), monday(10, 0, time.UTC)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range err = %v", err)
	}
	if _, err := e.IsAvailable(ctx, "acc-1", monday(11, 0, time.UTC), monday(10, 0, time.UTC)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed range err = %v", err)
	}
}

func TestEngine_PastShortCircuits(t *testing.T) {
	client := &remote.MockClient{
		ListEventTypesFunc: func(context.Context, string, string) ([]remote.EventType, error) {
			t.Error("remote consulted for a past request")
			return nil, nil
		},
	}
	e, mem := newTestEngine(t, client)
	ctx := context.Background()
	_ = mem.SaveSchedule(ctx, &timeslot.WeeklySchedule{AccountID: "acc-1", Days: allDay()})

	res, err := e.IsAvailable(ctx, "acc-1", testNow.Add(-time.Second), testNow.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if res.Available || res.Reason != ReasonPast {
		t.Errorf("got %+v; want past", res)
	}
}

func allDay() map[timeslot.Weekday][]timeslot.TimeInterval {
	days := timeslot.EmptyDays()
	for _, d := range timeslot.Weekdays {
		days[d] = []timeslot.TimeInterval{{Start: "00:00", End: "23:59"}}
	}
	return days
}

func TestEngine_SyncedScheduleEndToEnd(t *testing.T) {
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(context.Context, string, string) ([]remote.AvailabilitySchedule, error) {
			return []remote.AvailabilitySchedule{{URI: "S1", Default: true, Rules: []remote.Rule{{
				Type: "wday", Wday: "monday",
				Intervals: []remote.Interval{{From: "09:00", To: "12:00"}, {From: "13:00", To: "17:00"}},
			}}}}, nil
		},
	}
	e, mem := newTestEngine(t, client)
	ctx := context.Background()
	_ = mem.SaveAccount(ctx, &store.ProviderAccount{
		ID: "acc-1", RemoteURI: "U1", Timezone: "America/New_York",
		AccessToken: "at", RefreshToken: "rt", TokenExpiry: testNow.Add(time.Hour),
	})

	syncer := schedule.NewSyncer(e.tokens, client, mem, mem, discard())
	if _, err := syncer.Sync(ctx, "acc-1"); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	ny, _ := time.LoadLocation("America/New_York")
	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside morning", monday(10, 0, ny), monday(11, 0, ny), true},
		{"spans lunch", monday(12, 0, ny), monday(13, 30, ny), false},
		{"exact interval", monday(9, 0, ny), monday(12, 0, ny), true},
		{"same instant in UTC", monday(14, 0, time.UTC), monday(15, 0, time.UTC), true},
		{"tuesday closed", monday(10, 0, ny).AddDate(0, 0, 1), monday(11, 0, ny).AddDate(0, 0, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.IsAvailable(ctx, "acc-1", tt.start, tt.end)
			if err != nil {
				t.Fatal(err)
			}
			if res.Available != tt.want {
				t.Errorf("Available = %v (%q); want %v", res.Available, res.Reason, tt.want)
			}
			if !res.Available && res.Reason != ReasonOutsideHours {
				t.Errorf("Reason = %q", res.Reason)
			}
		})
	}
}

func TestEngine_RequiresFullContainment(t *testing.T) {
	e, mem := newTestEngine(t, &remote.MockClient{})
	ctx := context.Background()
	days := timeslot.EmptyDays()
	days[timeslot.Monday] = []timeslot.TimeInterval{{Start: "09:30", End: "17:00"}}
	_ = mem.SaveSchedule(ctx, &timeslot.WeeklySchedule{AccountID: "acc-1", Timezone: "UTC", Days: days})

	res, _ := e.IsAvailable(ctx, "acc-1", monday(9, 0, time.UTC), monday(10, 0, time.UTC))
	if res.Available {
		t.Error("09:00-10:00 accepted against 09:30-17:00")
	}
	res, _ = e.IsAvailable(ctx, "acc-1", monday(16, 30, time.UTC), monday(17, 0, time.UTC).Add(30*time.Second))
	if res.Available {
		t.Error("16:30-17:00:30 accepted against 09:30-17:00")
	}
	res, _ = e.IsAvailable(ctx, "acc-1", monday(16, 30, time.UTC), monday(16, 59, time.UTC).Add(30*time.Second))
	if !res.Available {
		t.Errorf("16:30-16:59:30 rejected: %q", res.Reason)
	}
}

func TestEngine_EndAtMidnight(t *testing.T) {
	e, mem := newTestEngine(t, &remote.MockClient{})
	ctx := context.Background()
	days := timeslot.EmptyDays()
	days[timeslot.Monday] = []timeslot.TimeInterval{{Start: "22:00", End: "23:59"}}
	_ = mem.SaveSchedule(ctx, &timeslot.WeeklySchedule{AccountID: "acc-1", Timezone: "UTC", Days: days})

	res, _ := e.IsAvailable(ctx, "acc-1", monday(23, 0, time.UTC), monday(0, 0, time.UTC).AddDate(0, 0, 1))
	if !res.Available {
		t.Errorf("23:00-24:00 rejected: %q", res.Reason)
	}
	res, _ = e.IsAvailable(ctx, "acc-1", monday(23, 0, time.UTC), monday(1, 0, time.UTC).AddDate(0, 0, 1))
	if res.Available {
		t.Error("range spilling into Tuesday accepted")
	}
}

func TestEngine_DefaultSchedule(t *testing.T) {
	e, _ := newTestEngine(t, &remote.MockClient{})
	ctx := context.Background()

	res, _ := e.IsAvailable(ctx, "no-integration", monday(9, 0, time.UTC), monday(17, 0, time.UTC))
	if !res.Available {
		t.Errorf("weekday business hours rejected: %q", res.Reason)
	}
	res, _ = e.IsAvailable(ctx, "no-integration", monday(17, 0, time.UTC), monday(18, 0, time.UTC))
	if res.Available || res.Reason != ReasonOutsideHours {
		t.Errorf("evening = %+v", res)
	}
	sat := time.Date(2026, 10, 24, 10, 0, 0, 0, time.UTC)
	res, _ = e.IsAvailable(ctx, "no-integration", sat, sat.Add(time.Hour))
	if res.Available {
		t.Error("weekend accepted")
	}
}

func TestEngine_RemoteBranch(t *testing.T) {
	start, end := monday(10, 0, time.UTC), monday(10, 30, time.UTC)
	connected := func() *store.ProviderAccount {
		return &store.ProviderAccount{
			ID: "acc-1", RemoteURI: "U1",
			AccessToken: "at", RefreshToken: "rt", TokenExpiry: testNow.Add(time.Hour),
		}
	}
	eventTypes := func(context.Context, string, string) ([]remote.EventType, error) {
		return []remote.EventType{{URI: "ET-1", Active: true}, {URI: "ET-2", Active: true}, {URI: "ET-off"}}, nil
	}

	tests := []struct {
		name       string
		acc        *store.ProviderAccount
		times      func(ctx context.Context, token, uri string, s, e time.Time) ([]remote.AvailableTime, error)
		want       bool
		wantReason string
	}{
		{
			name: "one event type has a slot",
			acc:  connected(),
			times: func(_ context.Context, _ string, uri string, _, _ time.Time) ([]remote.AvailableTime, error) {
				if uri == "ET-off" {
					t.Error("inactive event type queried")
				}
				if uri == "ET-2" {
					return []remote.AvailableTime{{Status: "available", StartTime: start}}, nil
				}
				return nil, nil
			},
			want: true,
		},
		{
			name: "no slots",
			acc:  connected(),
			times: func(context.Context, string, string, time.Time, time.Time) ([]remote.AvailableTime, error) {
				return []remote.AvailableTime{{Status: "available", StartTime: end}}, nil
			},
			wantReason: ReasonNoSlot,
		},
		{
			name: "upstream error degrades",
			acc:  connected(),
			times: func(context.Context, string, string, time.Time, time.Time) ([]remote.AvailableTime, error) {
				return nil, &remote.Error{Op: "list available times", StatusCode: 500}
			},
			wantReason: ReasonError,
		},
		{
			name: "failing event type does not hide a peer's slot",
			acc:  connected(),
			times: func(ctx context.Context, _ string, uri string, _, _ time.Time) ([]remote.AvailableTime, error) {
				if uri == "ET-1" {
					return nil, &remote.Error{Op: "list available times", StatusCode: 503}
				}
				time.Sleep(20 * time.Millisecond)
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return []remote.AvailableTime{{Status: "available", StartTime: start}}, nil
			},
			want: true,
		},
		{
			name: "flagged account",
			acc: func() *store.ProviderAccount {
				a := connected()
				a.NeedsManualReconnect = true
				return a
			}(),
			times: func(context.Context, string, string, time.Time, time.Time) ([]remote.AvailableTime, error) {
				t.Error("remote consulted for a flagged account")
				return nil, nil
			},
			wantReason: ReasonAuthExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &remote.MockClient{ListEventTypesFunc: eventTypes, ListAvailableTimesFunc: tt.times}
			e, mem := newTestEngine(t, client)
			_ = mem.SaveAccount(context.Background(), tt.acc)

			res, err := e.IsAvailable(context.Background(), "acc-1", start, end)
			if err != nil {
				t.Fatal(err)
			}
			if res.Available != tt.want || res.Reason != tt.wantReason {
				t.Errorf("got %+v; want available=%v reason=%q", res, tt.want, tt.wantReason)
			}
		})
	}
}

func TestEngine_RemoteUsesStoredInventory(t *testing.T) {
	client := &remote.MockClient{
		ListAvailableTimesFunc: func(_ context.Context, _ string, uri string, s, _ time.Time) ([]remote.AvailableTime, error) {
			if uri != "ET-stored" {
				t.Errorf("queried %q", uri)
			}
			return []remote.AvailableTime{{StartTime: s}}, nil
		},
	}
	e, mem := newTestEngine(t, client)
	_ = mem.SaveAccount(context.Background(), &store.ProviderAccount{
		ID: "acc-1", AccessToken: "at", TokenExpiry: testNow.Add(time.Hour), EventTypes: []string{"ET-stored"},
	})

	res, _ := e.IsAvailable(context.Background(), "acc-1", monday(10, 0, time.UTC), monday(11, 0, time.UTC))
	if !res.Available {
		t.Errorf("got %+v", res)
	}
}

func TestResultJSON(t *testing.T) {
	b, _ := json.Marshal(Result{Available: true})
	if string(b) != `{"available":true,"reason":null}` {
		t.Errorf("available = %s", b)
	}
	b, _ = json.Marshal(Result{Reason: ReasonPast})
	if string(b) != `{"available":false,"reason":"past"}` {
		t.Errorf("unavailable = %s", b)
	}
}

func TestEngine_FindAvailableAccounts(t *testing.T) {
	e, mem := newTestEngine(t, &remote.MockClient{})
	ctx := context.Background()

	open := timeslot.EmptyDays()
	open[timeslot.Monday] = []timeslot.TimeInterval{{Start: "08:00", End: "12:00"}}
	closed := timeslot.EmptyDays()
	for _, id := range []string{"a", "b", "c"} {
		_ = mem.SaveAccount(ctx, &store.ProviderAccount{ID: id, Timezone: "UTC"})
	}
	_ = mem.SaveSchedule(ctx, &timeslot.WeeklySchedule{AccountID: "a", Days: open})
	_ = mem.SaveSchedule(ctx, &timeslot.WeeklySchedule{AccountID: "b", Days: closed})

	got, err := e.FindAvailableAccounts(ctx, monday(10, 0, time.UTC), monday(11, 0, time.UTC), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	// c has no schedule and falls back to business hours.
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("all accounts = %v", got)
	}

	got, _ = e.FindAvailableAccounts(ctx, monday(10, 0, time.UTC), monday(11, 0, time.UTC), Filter{AccountIDs: []string{"b", "a"}})
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("filtered = %v", got)
	}

	if _, err := e.FindAvailableAccounts(ctx, monday(11, 0, time.UTC), monday(10, 0, time.UTC), Filter{}); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("err = %v", err)
	}
}
