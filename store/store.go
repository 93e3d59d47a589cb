// Package store is the persistence port for accounts, weekly schedules and
// webhook subscriptions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Seann-Moser/availsync/timeslot"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrStale is returned by UpdateTokens when the stored expiry no longer
	// matches the caller's snapshot.
	ErrStale = errors.New("store: stale token snapshot")
)

type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*ProviderAccount, error)
	GetAccountByRemoteURI(ctx context.Context, remoteURI string) (*ProviderAccount, error)
	ListAccounts(ctx context.Context) ([]*ProviderAccount, error)
	// SaveAccount inserts or replaces the account record.
	SaveAccount(ctx context.Context, acc *ProviderAccount) error
	// UpdateTokens writes t only if the stored expiry equals prevExpiry.
	UpdateTokens(ctx context.Context, id string, prevExpiry time.Time, t Tokens) error
	SetNeedsReconnect(ctx context.Context, id string, flag bool) error
	// UpdateProfile and SetEventTypes write only their own fields, so they
	// never race a token refresh.
	UpdateProfile(ctx context.Context, id string, p Profile) error
	SetEventTypes(ctx context.Context, id string, uris []string) error
}

type ScheduleStore interface {
	GetSchedule(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error)
	// SaveSchedule replaces any prior schedule for the account.
	SaveSchedule(ctx context.Context, s *timeslot.WeeklySchedule) error
	DeleteSchedule(ctx context.Context, accountID string) error
}

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, accountID string) (*WebhookSubscription, error)
	SaveSubscription(ctx context.Context, sub *WebhookSubscription) error
	DeleteSubscription(ctx context.Context, accountID string) error
}

// Store is everything the service persists.
type Store interface {
	AccountStore
	ScheduleStore
	SubscriptionStore
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
