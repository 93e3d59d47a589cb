package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotMocked is returned by MockClient for calls without a hook.
var ErrNotMocked = errors.New("remote: call not mocked")

// MockClient provides customizable hooks for testing Client consumers.
type MockClient struct {
	GetCurrentUserFunc            func(ctx context.Context, token string) (*User, error)
	ListAvailabilitySchedulesFunc func(ctx context.Context, token, userURI string) ([]AvailabilitySchedule, error)
	GetAvailabilityScheduleFunc   func(ctx context.Context, token, scheduleURI string) (*AvailabilitySchedule, error)
	ListEventTypesFunc            func(ctx context.Context, token, userURI string) ([]EventType, error)
	ListAvailableTimesFunc        func(ctx context.Context, token, eventTypeURI string, start, end time.Time) ([]AvailableTime, error)
	AuthCodeURLFunc               func(state, codeChallenge string) string
	ExchangeCodeFunc              func(ctx context.Context, code, codeVerifier string) (*Token, error)
	RefreshAccessTokenFunc        func(ctx context.Context, refreshToken string) (*Token, error)
	CreateWebhookSubscriptionFunc func(ctx context.Context, token string, req CreateWebhookRequest) (*WebhookSubscription, error)
	ListWebhookSubscriptionsFunc  func(ctx context.Context, token, organizationURI, userURI string) ([]WebhookSubscription, error)
	DeleteWebhookSubscriptionFunc func(ctx context.Context, token, uri string) error
	LookupEventTypeBySlugFunc     func(ctx context.Context, profileSlug, eventSlug string) (*EventTypeLookup, error)
	GetBookingCalendarRangeFunc   func(ctx context.Context, ref BookingRef, start, end time.Time, timezone string) (*CalendarRange, error)
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)

func (m *MockClient) GetCurrentUser(ctx context.Context, token string) (*User, error) {
	if m.GetCurrentUserFunc != nil {
		return m.GetCurrentUserFunc(ctx, token)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) ListAvailabilitySchedules(ctx context.Context, token, userURI string) ([]AvailabilitySchedule, error) {
	if m.ListAvailabilitySchedulesFunc != nil {
		return m.ListAvailabilitySchedulesFunc(ctx, token, userURI)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) GetAvailabilitySchedule(ctx context.Context, token, scheduleURI string) (*AvailabilitySchedule, error) {
	if m.GetAvailabilityScheduleFunc != nil {
		return m.GetAvailabilityScheduleFunc(ctx, token, scheduleURI)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) ListEventTypes(ctx context.Context, token, userURI string) ([]EventType, error) {
	if m.ListEventTypesFunc != nil {
		return m.ListEventTypesFunc(ctx, token, userURI)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) ListAvailableTimes(ctx context.Context, token, eventTypeURI string, start, end time.Time) ([]AvailableTime, error) {
	if m.ListAvailableTimesFunc != nil {
		return m.ListAvailableTimesFunc(ctx, token, eventTypeURI, start, end)
	}
	return nil, ErrNotMocked
}

// AuthCodeURL returns a fixed URL carrying the state when no hook is set.
func (m *MockClient) AuthCodeURL(state, codeChallenge string) string {
	if m.AuthCodeURLFunc != nil {
		return m.AuthCodeURLFunc(state, codeChallenge)
	}
	return "https://auth.example.test/authorize?state=" + state
}

func (m *MockClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code, codeVerifier)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	if m.RefreshAccessTokenFunc != nil {
		return m.RefreshAccessTokenFunc(ctx, refreshToken)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) CreateWebhookSubscription(ctx context.Context, token string, req CreateWebhookRequest) (*WebhookSubscription, error) {
	if m.CreateWebhookSubscriptionFunc != nil {
		return m.CreateWebhookSubscriptionFunc(ctx, token, req)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) ListWebhookSubscriptions(ctx context.Context, token, organizationURI, userURI string) ([]WebhookSubscription, error) {
	if m.ListWebhookSubscriptionsFunc != nil {
		return m.ListWebhookSubscriptionsFunc(ctx, token, organizationURI, userURI)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) DeleteWebhookSubscription(ctx context.Context, token, uri string) error {
	if m.DeleteWebhookSubscriptionFunc != nil {
		return m.DeleteWebhookSubscriptionFunc(ctx, token, uri)
	}
	return ErrNotMocked
}

func (m *MockClient) LookupEventTypeBySlug(ctx context.Context, profileSlug, eventSlug string) (*EventTypeLookup, error) {
	if m.LookupEventTypeBySlugFunc != nil {
		return m.LookupEventTypeBySlugFunc(ctx, profileSlug, eventSlug)
	}
	return nil, ErrNotMocked
}

func (m *MockClient) GetBookingCalendarRange(ctx context.Context, ref BookingRef, start, end time.Time, timezone string) (*CalendarRange, error) {
	if m.GetBookingCalendarRangeFunc != nil {
		return m.GetBookingCalendarRangeFunc(ctx, ref, start, end, timezone)
	}
	return nil, ErrNotMocked
}
