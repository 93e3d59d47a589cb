package store

import "time"

// ProviderAccount links one local account to a remote calendar identity.
// When NeedsManualReconnect is set the stored tokens must not be used until a
// fresh authorization completes.
type ProviderAccount struct {
	ID                   string    `json:"id"`
	RemoteURI            string    `json:"remote_uri"`
	Email                string    `json:"email"`
	SchedulingURL        string    `json:"scheduling_url"`
	Timezone             string    `json:"timezone"`
	Organization         string    `json:"organization"`
	AccessToken          string    `json:"-"`
	RefreshToken         string    `json:"-"`
	TokenExpiry          time.Time `json:"token_expiry"`
	NeedsManualReconnect bool      `json:"needs_manual_reconnect"`
	// EventTypes holds the URIs of the account's active event types.
	EventTypes []string  `json:"event_types"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasTokens reports whether any credential is on record.
func (a *ProviderAccount) HasTokens() bool {
	return a != nil && (a.AccessToken != "" || a.RefreshToken != "")
}

// Clone returns a deep copy.
func (a *ProviderAccount) Clone() *ProviderAccount {
	if a == nil {
		return nil
	}
	out := *a
	out.EventTypes = append([]string(nil), a.EventTypes...)
	return &out
}

// Profile is the remote user metadata mirrored on an account. Empty fields
// leave the stored value unchanged.
type Profile struct {
	Email         string
	SchedulingURL string
	Timezone      string
	Organization  string
}

// Tokens is the credential triple written by a refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// WebhookSubscription records the remote subscription registered for an account.
type WebhookSubscription struct {
	AccountID   string    `json:"account_id"`
	URI         string    `json:"uri"`
	CallbackURL string    `json:"callback_url"`
	Events      []string  `json:"events"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (s *WebhookSubscription) Clone() *WebhookSubscription {
	if s == nil {
		return nil
	}
	out := *s
	out.Events = append([]string(nil), s.Events...)
	return &out
}
