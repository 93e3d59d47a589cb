package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
)

type tokenFunc func(ctx context.Context, accountID string) (string, error)

func (f tokenFunc) AccessToken(ctx context.Context, accountID string) (string, error) {
	return f(ctx, accountID)
}

func staticToken(tok string) TokenSource {
	return tokenFunc(func(context.Context, string) (string, error) { return tok, nil })
}

func newTestSyncer(t *testing.T, tokens TokenSource, client remote.Client) (*Syncer, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if err := mem.SaveAccount(context.Background(), &store.ProviderAccount{
		ID:        "acc-1",
		RemoteURI: "U1",
		Timezone:  "America/Chicago",
	}); err != nil {
		t.Fatal(err)
	}
	s := NewSyncer(tokens, client, mem, mem, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC) }
	return s, mem
}

func TestSyncer_SyncMondayRules(t *testing.T) {
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(_ context.Context, token, userURI string) ([]remote.AvailabilitySchedule, error) {
			if token != "at-1" || userURI != "U1" {
				t.Errorf("unexpected call token=%q user=%q", token, userURI)
			}
			return []remote.AvailabilitySchedule{
				{URI: "S0", Name: "Weekends"},
				{URI: "S1", Name: "Working hours", Default: true, Rules: []remote.Rule{{
					Type: "wday", Wday: "monday",
					Intervals: []remote.Interval{{From: "09:00", To: "12:00"}, {From: "13:00", To: "17:00"}},
				}}},
			}, nil
		},
	}
	s, mem := newTestSyncer(t, staticToken("at-1"), client)

	ws, err := s.Sync(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ws.SourceID != "S1" || ws.Name != "Working hours" {
		t.Errorf("picked %q (%q); want the default schedule", ws.SourceID, ws.Name)
	}
	if ws.Timezone != "America/Chicago" {
		t.Errorf("Timezone = %q; want the account timezone", ws.Timezone)
	}

	stored, err := mem.GetSchedule(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	want := []timeslot.TimeInterval{iv("09:00", "12:00"), iv("13:00", "17:00")}
	if got := stored.Intervals(timeslot.Monday); !equalIntervals(got, want) {
		t.Errorf("Monday = %v; want %v", got, want)
	}
	if !stored.LastSynchronized.Equal(time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("LastSynchronized = %v", stored.LastSynchronized)
	}
}

func TestSyncer_FetchesRulesWhenListingOmitsThem(t *testing.T) {
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(context.Context, string, string) ([]remote.AvailabilitySchedule, error) {
			return []remote.AvailabilitySchedule{{URI: "S1"}}, nil
		},
		GetAvailabilityScheduleFunc: func(_ context.Context, _ string, uri string) (*remote.AvailabilitySchedule, error) {
			if uri != "S1" {
				t.Errorf("fetched %q", uri)
			}
			return &remote.AvailabilitySchedule{URI: "S1", Timezone: "Europe/Paris", Rules: []remote.Rule{
				{Wday: "sunday", Intervals: []remote.Interval{{From: "10:00", To: "11:00"}}},
			}}, nil
		},
	}
	s, _ := newTestSyncer(t, staticToken("at-1"), client)

	ws, err := s.Sync(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if ws.Timezone != "Europe/Paris" || len(ws.Intervals(timeslot.Sunday)) != 1 {
		t.Errorf("unexpected schedule: %+v", ws)
	}
}

func TestSyncer_FailureLeavesPriorSchedule(t *testing.T) {
	upstream := &remote.Error{Op: "list availability schedules", StatusCode: 503}
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(context.Context, string, string) ([]remote.AvailabilitySchedule, error) {
			return nil, upstream
		},
	}
	s, mem := newTestSyncer(t, staticToken("at-1"), client)
	prior := &timeslot.WeeklySchedule{AccountID: "acc-1", SourceID: "OLD", Days: timeslot.EmptyDays()}
	_ = mem.SaveSchedule(context.Background(), prior)

	_, err := s.Sync(context.Background(), "acc-1")
	var rErr *remote.Error
	if !errors.As(err, &rErr) {
		t.Fatalf("err = %v; want remote error", err)
	}
	got, _ := mem.GetSchedule(context.Background(), "acc-1")
	if got.SourceID != "OLD" {
		t.Errorf("prior schedule replaced: %+v", got)
	}
}

func TestSyncer_TokenErrorStopsBeforeRemote(t *testing.T) {
	tokenErr := errors.New("reconnect required")
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(context.Context, string, string) ([]remote.AvailabilitySchedule, error) {
			t.Error("remote called without a token")
			return nil, nil
		},
	}
	s, _ := newTestSyncer(t, tokenFunc(func(context.Context, string) (string, error) { return "", tokenErr }), client)

	if _, err := s.Sync(context.Background(), "acc-1"); !errors.Is(err, tokenErr) {
		t.Errorf("err = %v; want %v", err, tokenErr)
	}
}

func TestSyncer_NoRemoteSchedule(t *testing.T) {
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(context.Context, string, string) ([]remote.AvailabilitySchedule, error) {
			return nil, nil
		},
	}
	s, _ := newTestSyncer(t, staticToken("at-1"), client)
	if _, err := s.Sync(context.Background(), "acc-1"); !errors.Is(err, ErrNoRemoteSchedule) {
		t.Errorf("err = %v; want ErrNoRemoteSchedule", err)
	}
}

func TestSyncer_UnknownAccount(t *testing.T) {
	s, _ := newTestSyncer(t, staticToken("at-1"), &remote.MockClient{})
	if _, err := s.Sync(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
}
