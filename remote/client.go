// Package remote is the port to the external calendar provider.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Client enumerates every call made against the remote calendar provider.
// Token-bearing calls take the caller's access token explicitly; the token
// lifecycle lives in oauth/oclient.
type Client interface {
	// ----- Identity & schedules -----

	GetCurrentUser(ctx context.Context, token string) (*User, error)
	ListAvailabilitySchedules(ctx context.Context, token, userURI string) ([]AvailabilitySchedule, error)
	GetAvailabilitySchedule(ctx context.Context, token, scheduleURI string) (*AvailabilitySchedule, error)
	ListEventTypes(ctx context.Context, token, userURI string) ([]EventType, error)
	ListAvailableTimes(ctx context.Context, token, eventTypeURI string, start, end time.Time) ([]AvailableTime, error)

	// ----- OAuth -----

	AuthCodeURL(state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error)

	// ----- Webhooks -----

	CreateWebhookSubscription(ctx context.Context, token string, req CreateWebhookRequest) (*WebhookSubscription, error)
	ListWebhookSubscriptions(ctx context.Context, token, organizationURI, userURI string) ([]WebhookSubscription, error)
	DeleteWebhookSubscription(ctx context.Context, token, uri string) error

	// ----- Public booking pages -----

	LookupEventTypeBySlug(ctx context.Context, profileSlug, eventSlug string) (*EventTypeLookup, error)
	GetBookingCalendarRange(ctx context.Context, ref BookingRef, start, end time.Time, timezone string) (*CalendarRange, error)
}

// Error is a non-2xx response from the provider.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsUnauthorized reports a 401 from the provider.
func IsUnauthorized(err error) bool {
	var rErr *Error
	return errors.As(err, &rErr) && rErr.StatusCode == http.StatusUnauthorized
}

// IsTransient reports failures a later retry may fix: timeouts, throttling
// and 5xx responses, including those surfaced by the token endpoint.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.StatusCode == http.StatusTooManyRequests || rErr.StatusCode >= 500
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
