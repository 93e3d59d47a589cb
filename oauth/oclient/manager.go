package oclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
)

// defaultTokenLifetime applies when the provider omits expires_in.
const defaultTokenLifetime = time.Hour

var _ Lifecycle = &Manager{}

// Manager implements Lifecycle on top of the account store and the remote
// provider. Refreshes for one account are collapsed in-process and written
// with a compare-and-swap on the previous expiry.
type Manager struct {
	accounts  store.AccountStore
	schedules store.ScheduleStore
	client    remote.Client
	states    *ConnectStates
	logger    *slog.Logger
	now       func() time.Time

	refreshes singleflight.Group
}

func NewManager(accounts store.AccountStore, schedules store.ScheduleStore, client remote.Client, states *ConnectStates, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if states == nil {
		states = NewConnectStates(nil)
	}
	return &Manager{
		accounts:  accounts,
		schedules: schedules,
		client:    client,
		states:    states,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Manager) State(ctx context.Context, accountID string) (State, error) {
	acc, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Disconnected, err
	}
	return StateOf(acc, m.now()), nil
}

// AccessToken never hands out a token for a flagged account.
func (m *Manager) AccessToken(ctx context.Context, accountID string) (string, error) {
	acc, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	switch StateOf(acc, m.now()) {
	case Disconnected:
		return "", ErrNotConnected
	case Valid:
		return acc.AccessToken, nil
	case NeedsManualReconnect:
		if !acc.NeedsManualReconnect {
			m.flag(ctx, accountID, errors.New("access token expired without a refresh token"))
		}
		return "", ErrReconnectRequired
	}

	v, err, _ := m.refreshes.Do(accountID, func() (interface{}, error) {
		return m.refresh(ctx, acc)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context, acc *store.ProviderAccount) (string, error) {
	tok, err := m.client.RefreshAccessToken(ctx, acc.RefreshToken)
	if err != nil {
		if remote.IsTransient(err) {
			m.logger.Warn("token refresh failed transiently", "account_id", acc.ID, "err", err)
			return "", fmt.Errorf("oclient: refreshing token for %s: %w", acc.ID, err)
		}
		// Another process may have rotated the refresh token first.
		if latest, lerr := m.accounts.GetAccount(ctx, acc.ID); lerr == nil &&
			!latest.TokenExpiry.Equal(acc.TokenExpiry) && StateOf(latest, m.now()) == Valid {
			return latest.AccessToken, nil
		}
		m.flag(ctx, acc.ID, err)
		return "", fmt.Errorf("%w: %v", ErrReconnectRequired, err)
	}

	next := store.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       m.expiry(tok.ExpiresIn),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = acc.RefreshToken
	}

	err = m.accounts.UpdateTokens(ctx, acc.ID, acc.TokenExpiry, next)
	if errors.Is(err, store.ErrStale) {
		latest, lerr := m.accounts.GetAccount(ctx, acc.ID)
		if lerr != nil {
			return "", lerr
		}
		if StateOf(latest, m.now()) != Valid {
			return "", ErrReconnectRequired
		}
		m.logger.Debug("concurrent refresh won; using stored token", "account_id", acc.ID)
		return latest.AccessToken, nil
	} else if err != nil {
		return "", fmt.Errorf("oclient: persisting refreshed token for %s: %w", acc.ID, err)
	}

	m.logger.Info("access token refreshed", "account_id", acc.ID, "expires_at", next.Expiry)
	return next.AccessToken, nil
}

// flag persists NeedsManualReconnect. Tokens are left in place.
func (m *Manager) flag(ctx context.Context, accountID string, cause error) {
	m.logger.Warn("account needs manual reconnect", "account_id", accountID, "err", cause)
	if err := m.accounts.SetNeedsReconnect(ctx, accountID, true); err != nil {
		m.logger.Error("failed to persist reconnect flag", "account_id", accountID, "err", err)
	}
}

func (m *Manager) expiry(expiresIn int64) time.Time {
	d := time.Duration(expiresIn) * time.Second
	if d <= 0 {
		d = defaultTokenLifetime
	}
	return m.now().Add(d).UTC().Truncate(time.Millisecond)
}

// BeginConnect stores a PKCE verifier under a fresh state and returns the
// consent URL carrying its challenge.
func (m *Manager) BeginConnect(ctx context.Context, accountID string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	if err := m.states.Put(ctx, state, PendingConnect{AccountID: accountID, CodeVerifier: verifier}); err != nil {
		return "", err
	}
	return m.client.AuthCodeURL(state, oauth2.S256ChallengeFromVerifier(verifier)), nil
}

// CompleteConnect exchanges the code and links the account. It returns the
// local account id the state was issued for.
func (m *Manager) CompleteConnect(ctx context.Context, state, code string) (string, error) {
	pending, err := m.states.Take(ctx, state)
	if err != nil {
		return "", err
	}
	tok, err := m.client.ExchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		return pending.AccountID, err
	}
	if _, err := m.Connect(ctx, pending.AccountID, tok); err != nil {
		return pending.AccountID, err
	}
	return pending.AccountID, nil
}

// Connect stores freshly issued tokens for an account. A reconnect must
// resolve to the remote identity already on record, and a remote identity
// can back only one local account.
func (m *Manager) Connect(ctx context.Context, accountID string, tok *remote.Token) (*store.ProviderAccount, error) {
	user, err := m.client.GetCurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("oclient: resolving remote identity: %w", err)
	}

	acc, err := m.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		acc = &store.ProviderAccount{ID: accountID}
	} else if err != nil {
		return nil, err
	}

	if acc.RemoteURI != "" && acc.RemoteURI != user.URI {
		m.logger.Warn("reconnect rejected: different remote account", "account_id", accountID, "stored", acc.RemoteURI, "got", user.URI)
		return nil, ErrAccountMismatch
	}
	if other, err := m.accounts.GetAccountByRemoteURI(ctx, user.URI); err == nil && other.ID != accountID {
		m.logger.Warn("connect rejected: remote account linked elsewhere", "account_id", accountID, "linked_to", other.ID)
		return nil, ErrAccountMismatch
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	acc.RemoteURI = user.URI
	acc.Email = user.Email
	acc.SchedulingURL = user.SchedulingURL
	acc.Organization = user.CurrentOrganization
	if user.Timezone != "" {
		acc.Timezone = user.Timezone
	}
	acc.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acc.RefreshToken = tok.RefreshToken
	}
	acc.TokenExpiry = m.expiry(tok.ExpiresIn)
	acc.NeedsManualReconnect = false

	if err := m.accounts.SaveAccount(ctx, acc); err != nil {
		return nil, err
	}
	m.logger.Info("account connected", "account_id", accountID, "remote_uri", user.URI)
	return acc, nil
}

// Disconnect clears credentials, the reconnect flag and the remote identity,
// then deletes the weekly schedule.
func (m *Manager) Disconnect(ctx context.Context, accountID string) error {
	acc, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	acc.AccessToken = ""
	acc.RefreshToken = ""
	acc.TokenExpiry = time.Time{}
	acc.NeedsManualReconnect = false
	acc.RemoteURI = ""
	acc.Organization = ""
	acc.SchedulingURL = ""
	acc.EventTypes = nil
	if err := m.accounts.SaveAccount(ctx, acc); err != nil {
		return err
	}
	if err := m.schedules.DeleteSchedule(ctx, accountID); err != nil {
		return err
	}
	m.logger.Info("account disconnected", "account_id", accountID)
	return nil
}
