package api

import (
	"context"
	"time"

	"github.com/Seann-Moser/availsync/query"
	"github.com/Seann-Moser/availsync/scrape"
	"github.com/Seann-Moser/availsync/timeslot"
)

// MockService provides customizable hooks for testing handlers.
type MockService struct {
	CheckAvailabilityFunc     func(ctx context.Context, accountID string, start, end time.Time) (query.Result, error)
	FindAvailableAccountsFunc func(ctx context.Context, start, end time.Time, f query.Filter) ([]string, error)
	GetWeeklyScheduleFunc     func(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error)
	SyncNowFunc               func(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error)
	BeginConnectFunc          func(ctx context.Context, accountID string) (string, error)
	CompleteConnectFunc       func(ctx context.Context, state, code string) (string, error)
	DisconnectFunc            func(ctx context.Context, accountID string) error
	ScrapeFunc                func(ctx context.Context, reference string, month time.Time, tz string) (*scrape.Result, error)
}

var _ Service = (*MockService)(nil)

// CheckAvailability calls CheckAvailabilityFunc if set, otherwise reports unavailable.
func (m *MockService) CheckAvailability(ctx context.Context, accountID string, start, end time.Time) (query.Result, error) {
	if m.CheckAvailabilityFunc != nil {
		return m.CheckAvailabilityFunc(ctx, accountID, start, end)
	}
	return query.Result{}, nil
}

func (m *MockService) FindAvailableAccounts(ctx context.Context, start, end time.Time, f query.Filter) ([]string, error) {
	if m.FindAvailableAccountsFunc != nil {
		return m.FindAvailableAccountsFunc(ctx, start, end, f)
	}
	return nil, nil
}

func (m *MockService) GetWeeklySchedule(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	if m.GetWeeklyScheduleFunc != nil {
		return m.GetWeeklyScheduleFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockService) SyncNow(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	if m.SyncNowFunc != nil {
		return m.SyncNowFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockService) BeginConnect(ctx context.Context, accountID string) (string, error) {
	if m.BeginConnectFunc != nil {
		return m.BeginConnectFunc(ctx, accountID)
	}
	return "", nil
}

func (m *MockService) CompleteConnect(ctx context.Context, state, code string) (string, error) {
	if m.CompleteConnectFunc != nil {
		return m.CompleteConnectFunc(ctx, state, code)
	}
	return "", nil
}

func (m *MockService) Disconnect(ctx context.Context, accountID string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, accountID)
	}
	return nil
}

func (m *MockService) Scrape(ctx context.Context, reference string, month time.Time, tz string) (*scrape.Result, error) {
	if m.ScrapeFunc != nil {
		return m.ScrapeFunc(ctx, reference, month, tz)
	}
	return nil, nil
}
