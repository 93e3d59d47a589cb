package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Seann-Moser/availsync/timeslot"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. Values are copied on the way in and out.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[string]*ProviderAccount
	schedules map[string]*timeslot.WeeklySchedule
	subs      map[string]*WebhookSubscription
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  map[string]*ProviderAccount{},
		schedules: map[string]*timeslot.WeeklySchedule{},
		subs:      map[string]*WebhookSubscription{},
		now:       time.Now,
	}
}

func (m *Memory) GetAccount(_ context.Context, id string) (*ProviderAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acc.Clone(), nil
}

func (m *Memory) GetAccountByRemoteURI(_ context.Context, remoteURI string) (*ProviderAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acc := range m.accounts {
		if remoteURI != "" && acc.RemoteURI == remoteURI {
			return acc.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAccounts(_ context.Context) ([]*ProviderAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProviderAccount, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveAccount(_ context.Context, acc *ProviderAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := acc.Clone()
	now := m.now().UTC()
	if prev, ok := m.accounts[acc.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.accounts[acc.ID] = cp
	return nil
}

func (m *Memory) UpdateTokens(_ context.Context, id string, prevExpiry time.Time, t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if !acc.TokenExpiry.Equal(prevExpiry) {
		return ErrStale
	}
	acc.AccessToken = t.AccessToken
	acc.RefreshToken = t.RefreshToken
	acc.TokenExpiry = t.Expiry
	acc.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetNeedsReconnect(_ context.Context, id string, flag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	acc.NeedsManualReconnect = flag
	acc.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) UpdateProfile(_ context.Context, id string, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if p.Email != "" {
		acc.Email = p.Email
	}
	if p.SchedulingURL != "" {
		acc.SchedulingURL = p.SchedulingURL
	}
	if p.Timezone != "" {
		acc.Timezone = p.Timezone
	}
	if p.Organization != "" {
		acc.Organization = p.Organization
	}
	acc.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetEventTypes(_ context.Context, id string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	acc.EventTypes = append([]string(nil), uris...)
	acc.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSchedule(_ context.Context, s *timeslot.WeeklySchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.AccountID] = s.Clone()
	return nil
}

func (m *Memory) DeleteSchedule(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, accountID)
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, accountID string) (*WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSubscription(_ context.Context, sub *WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sub.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now().UTC()
	}
	m.subs[sub.AccountID] = cp
	return nil
}

func (m *Memory) DeleteSubscription(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, accountID)
	return nil
}
