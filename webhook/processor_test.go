package webhook

import (
	"context"
	"errors"
	"sync"
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

func tokenByAccount(context.Context, string) (string, error) { return "tok", nil }

// syncRecorder is a Syncer that records which accounts were synced.
type syncRecorder struct {
	mu       sync.Mutex
	accounts []string
	err      error
}

func (s *syncRecorder) Sync(_ context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accountID)
	return &timeslot.WeeklySchedule{AccountID: accountID}, s.err
}

func (s *syncRecorder) synced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

func seedAccounts(t *testing.T, accs ...*store.ProviderAccount) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	for _, acc := range accs {
		if err := mem.SaveAccount(context.Background(), acc); err != nil {
			t.Fatalf("SaveAccount: %v", err)
		}
	}
	return mem
}

func connected(id, remoteURI string) *store.ProviderAccount {
	return &store.ProviderAccount{
		ID:           id,
		RemoteURI:    remoteURI,
		Email:        id + "@example.test",
		AccessToken:  "at-" + id,
		RefreshToken: "rt-" + id,
		TokenExpiry:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProcessor_UserUpdated(t *testing.T) {
	mem := seedAccounts(t, connected("acc-1", "U1"))
	p := NewProcessor(mem, tokenFunc(tokenByAccount), &remote.MockClient{}, &syncRecorder{}, nil, nil)
	ctx := context.Background()

	err := p.UserUpdated(ctx, &UserUpdated{kind: KindUserUpdated, User: remote.User{
		URI:           "U1",
		Email:         "new@example.test",
		SchedulingURL: "https://book.example.test/new",
		Timezone:      "Asia/Tokyo",
	}})
	if err != nil {
		t.Fatalf("UserUpdated: %v", err)
	}
	acc, _ := mem.GetAccount(ctx, "acc-1")
	if acc.Email != "new@example.test" || acc.SchedulingURL != "https://book.example.test/new" || acc.Timezone != "Asia/Tokyo" {
		t.Errorf("account = %+v", acc)
	}
	if acc.AccessToken != "at-acc-1" {
		t.Errorf("tokens changed: %q", acc.AccessToken)
	}

	if err := p.UserUpdated(ctx, &UserUpdated{kind: KindUserUpdated, User: remote.User{URI: "U-unknown"}}); err != nil {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestProcessor_EventTypeChangedRefreshesInventory(t *testing.T) {
	mem := seedAccounts(t, connected("acc-1", "U1"))
	client := &remote.MockClient{
		ListEventTypesFunc: func(_ context.Context, token, userURI string) ([]remote.EventType, error) {
			if token != "tok" || userURI != "U1" {
				t.Errorf("ListEventTypes(%q, %q)", token, userURI)
			}
			return []remote.EventType{
				{URI: "ET1", Active: true},
				{URI: "ET2", Active: false},
				{URI: "ET3", Active: true},
			}, nil
		},
	}
	p := NewProcessor(mem, tokenFunc(tokenByAccount), client, &syncRecorder{}, nil, nil)

	ev := &EventTypeChanged{kind: KindEventTypeUpdated}
	ev.EventType.Profile.Owner = "U1"
	if err := p.EventTypeChanged(context.Background(), ev); err != nil {
		t.Fatalf("EventTypeChanged: %v", err)
	}
	acc, _ := mem.GetAccount(context.Background(), "acc-1")
	if len(acc.EventTypes) != 2 || acc.EventTypes[0] != "ET1" || acc.EventTypes[1] != "ET3" {
		t.Errorf("EventTypes = %v", acc.EventTypes)
	}
}

// rotatingStore rotates the account's tokens right after every read, as a
// concurrent refresh would.
type rotatingStore struct {
	*store.Memory
	t *testing.T
}

func (s *rotatingStore) rotate(ctx context.Context, acc *store.ProviderAccount) {
	err := s.Memory.UpdateTokens(ctx, acc.ID, acc.TokenExpiry, store.Tokens{
		AccessToken:  "at-rotated",
		RefreshToken: "rt-rotated",
		Expiry:       acc.TokenExpiry.Add(time.Hour),
	})
	if err != nil {
		s.t.Fatalf("UpdateTokens: %v", err)
	}
}

func (s *rotatingStore) GetAccount(ctx context.Context, id string) (*store.ProviderAccount, error) {
	acc, err := s.Memory.GetAccount(ctx, id)
	if err == nil {
		s.rotate(ctx, acc)
	}
	return acc, err
}

func (s *rotatingStore) GetAccountByRemoteURI(ctx context.Context, uri string) (*store.ProviderAccount, error) {
	acc, err := s.Memory.GetAccountByRemoteURI(ctx, uri)
	if err == nil {
		s.rotate(ctx, acc)
	}
	return acc, err
}

func TestProcessor_WritesKeepConcurrentRefresh(t *testing.T) {
	client := &remote.MockClient{
		ListEventTypesFunc: func(context.Context, string, string) ([]remote.EventType, error) {
			return []remote.EventType{{URI: "ET1", Active: true}}, nil
		},
	}
	tests := []struct {
		name string
		run  func(ctx context.Context, p *Processor) error
	}{
		{"user updated", func(ctx context.Context, p *Processor) error {
			return p.UserUpdated(ctx, &UserUpdated{kind: KindUserUpdated, User: remote.User{URI: "U1", Email: "new@example.test"}})
		}},
		{"inventory refresh", func(ctx context.Context, p *Processor) error {
			return p.RefreshInventory(ctx, "acc-1")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := seedAccounts(t, connected("acc-1", "U1"))
			p := NewProcessor(&rotatingStore{Memory: mem, t: t}, tokenFunc(tokenByAccount), client, &syncRecorder{}, nil, nil)
			ctx := context.Background()

			if err := tt.run(ctx, p); err != nil {
				t.Fatalf("run: %v", err)
			}
			acc, _ := mem.GetAccount(ctx, "acc-1")
			if acc.RefreshToken != "rt-rotated" || acc.AccessToken != "at-rotated" {
				t.Errorf("rotated tokens lost: access %q refresh %q", acc.AccessToken, acc.RefreshToken)
			}
		})
	}
}

func TestProcessor_ScheduleChangedSyncsInBackground(t *testing.T) {
	mem := seedAccounts(t, connected("acc-1", "U1"))
	syncer := &syncRecorder{}
	runner := NewRunner(time.Second, nil)
	p := NewProcessor(mem, tokenFunc(tokenByAccount), &remote.MockClient{}, syncer, runner, nil)

	ev := &ScheduleChanged{kind: KindScheduleUpdated, Schedule: remote.AvailabilitySchedule{URI: "S1", User: "U1"}}
	if err := p.ScheduleChanged(context.Background(), ev); err != nil {
		t.Fatalf("ScheduleChanged: %v", err)
	}
	runner.Wait()
	if got := syncer.synced(); len(got) != 1 || got[0] != "acc-1" {
		t.Errorf("synced = %v", got)
	}
}

func TestProcessor_RuleChangedScansAccounts(t *testing.T) {
	flagged := connected("acc-0", "U0")
	flagged.NeedsManualReconnect = true
	mem := seedAccounts(t,
		flagged,
		connected("acc-1", "U1"),
		connected("acc-2", "U2"),
		&store.ProviderAccount{ID: "acc-3"},
	)

	var mu sync.Mutex
	var listed []string
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(_ context.Context, _, userURI string) ([]remote.AvailabilitySchedule, error) {
			mu.Lock()
			listed = append(listed, userURI)
			mu.Unlock()
			switch userURI {
			case "U1":
				return nil, &remote.Error{Op: "list availability schedules", StatusCode: 500}
			case "U2":
				return []remote.AvailabilitySchedule{{URI: "S-other"}, {URI: "S2"}}, nil
			}
			return nil, nil
		},
	}
	syncer := &syncRecorder{}
	runner := NewRunner(time.Second, nil)
	p := NewProcessor(mem, tokenFunc(tokenByAccount), client, syncer, runner, nil)

	if err := p.RuleChanged(context.Background(), &RuleChanged{kind: KindRuleUpdated, ScheduleURI: "S2"}); err != nil {
		t.Fatalf("RuleChanged: %v", err)
	}
	runner.Wait()

	if got := syncer.synced(); len(got) != 1 || got[0] != "acc-2" {
		t.Errorf("synced = %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(listed) != 2 {
		t.Errorf("listed schedules for %v; want only connected accounts", listed)
	}
}

func TestProcessor_RuleChangedWithoutOwner(t *testing.T) {
	mem := seedAccounts(t, connected("acc-1", "U1"))
	client := &remote.MockClient{
		ListAvailabilitySchedulesFunc: func(context.Context, string, string) ([]remote.AvailabilitySchedule, error) {
			return []remote.AvailabilitySchedule{{URI: "S1"}}, nil
		},
	}
	syncer := &syncRecorder{}
	runner := NewRunner(time.Second, nil)
	p := NewProcessor(mem, tokenFunc(tokenByAccount), client, syncer, runner, nil)

	_ = p.RuleChanged(context.Background(), &RuleChanged{kind: KindRuleDeleted, ScheduleURI: "S-gone"})
	runner.Wait()
	if got := syncer.synced(); len(got) != 0 {
		t.Errorf("synced = %v", got)
	}
}

func TestProcessor_TokenFailureSurfaces(t *testing.T) {
	mem := seedAccounts(t, connected("acc-1", "U1"))
	errReconnect := errors.New("reconnect required")
	p := NewProcessor(mem, tokenFunc(func(context.Context, string) (string, error) { return "", errReconnect }), &remote.MockClient{}, &syncRecorder{}, nil, nil)

	if err := p.RefreshInventory(context.Background(), "acc-1"); !errors.Is(err, errReconnect) {
		t.Errorf("err = %v", err)
	}
}
