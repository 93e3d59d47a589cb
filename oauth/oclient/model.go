package oclient

import (
	"errors"
	"time"

	"github.com/Seann-Moser/availsync/store"
)

var (
	// ErrReconnectRequired means the account's credentials can no longer be
	// refreshed and the owner must authorize again.
	ErrReconnectRequired = errors.New("oclient: reconnect required")
	ErrNotConnected      = errors.New("oclient: account not connected")
	// ErrAccountMismatch rejects a reconnect that resolves to a different
	// remote identity than the one on record.
	ErrAccountMismatch = errors.New("oclient: remote account does not match")
	ErrInvalidState    = errors.New("oclient: unknown or expired connect state")
)

// State is where an account sits in the token lifecycle.
type State int

const (
	Disconnected State = iota
	Valid
	Expiring
	NeedsManualReconnect
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expiring:
		return "expiring"
	case NeedsManualReconnect:
		return "needs_manual_reconnect"
	default:
		return "disconnected"
	}
}

// expirySkew treats tokens this close to expiry as already expired.
const expirySkew = time.Minute

// StateOf classifies an account at now. An expired token without a refresh
// token cannot recover on its own and reports NeedsManualReconnect.
func StateOf(acc *store.ProviderAccount, now time.Time) State {
	switch {
	case !acc.HasTokens():
		return Disconnected
	case acc.NeedsManualReconnect:
		return NeedsManualReconnect
	case acc.AccessToken != "" && (acc.TokenExpiry.IsZero() || now.Add(expirySkew).Before(acc.TokenExpiry)):
		return Valid
	case acc.RefreshToken != "":
		return Expiring
	default:
		return NeedsManualReconnect
	}
}

// PendingConnect is the server-side half of an authorization request.
type PendingConnect struct {
	AccountID    string    `json:"account_id"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}
