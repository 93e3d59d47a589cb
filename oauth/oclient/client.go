// Package oclient manages the OAuth credentials each account holds with the
// remote calendar provider: connecting, refreshing and disconnecting.
package oclient

import "context"

// Lifecycle defines every transition an account's credentials go through.
type Lifecycle interface {
	// ----- Connect -----

	// BeginConnect returns the provider consent URL for an account.
	BeginConnect(ctx context.Context, accountID string) (string, error)

	// CompleteConnect redeems the callback state and authorization code.
	CompleteConnect(ctx context.Context, state, code string) (string, error)

	// ----- Tokens -----

	// AccessToken returns a usable access token, refreshing it when expired.
	AccessToken(ctx context.Context, accountID string) (string, error)

	// State reports the account's lifecycle state.
	State(ctx context.Context, accountID string) (State, error)

	// ----- Disconnect -----

	// Disconnect drops the credentials and the stored weekly schedule.
	Disconnect(ctx context.Context, accountID string) error
}
