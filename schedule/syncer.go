package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
)

// ErrNoRemoteSchedule means the remote account has no availability schedule.
var ErrNoRemoteSchedule = errors.New("schedule: remote account has no availability schedule")

// TokenSource hands out a usable access token for an account, refreshing it
// when needed.
type TokenSource interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
}

// Syncer pulls an account's remote availability and replaces the stored
// projection. Nothing is written unless every remote call succeeded.
type Syncer struct {
	tokens    TokenSource
	client    remote.Client
	accounts  store.AccountStore
	schedules store.ScheduleStore
	logger    *slog.Logger
	now       func() time.Time

	slotMinutes int
}

func NewSyncer(tokens TokenSource, client remote.Client, accounts store.AccountStore, schedules store.ScheduleStore, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		tokens:      tokens,
		client:      client,
		accounts:    accounts,
		schedules:   schedules,
		logger:      logger,
		now:         time.Now,
		slotMinutes: DefaultSlotMinutes,
	}
}

// Sync refreshes the account's weekly schedule from its default remote
// availability schedule, or the first one listed when none is marked default.
func (s *Syncer) Sync(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	acc, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	list, err := s.client.ListAvailabilitySchedules(ctx, token, acc.RemoteURI)
	if err != nil {
		return nil, fmt.Errorf("schedule: listing remote schedules: %w", err)
	}
	picked, ok := pickSchedule(list)
	if !ok {
		return nil, ErrNoRemoteSchedule
	}
	if len(picked.Rules) == 0 && picked.URI != "" {
		full, err := s.client.GetAvailabilitySchedule(ctx, token, picked.URI)
		if err != nil {
			return nil, fmt.Errorf("schedule: fetching remote schedule: %w", err)
		}
		picked = *full
	}

	days, skipped := Normalize(picked.Rules, s.slotMinutes)
	if skipped > 0 {
		s.logger.Warn("skipped malformed availability rules", "account_id", accountID, "schedule", picked.URI, "skipped", skipped)
	}

	tz := picked.Timezone
	if tz == "" {
		tz = acc.Timezone
	}
	ws := &timeslot.WeeklySchedule{
		AccountID:        accountID,
		SourceID:         picked.URI,
		Name:             picked.Name,
		Timezone:         tz,
		Days:             days,
		LastSynchronized: s.now().UTC(),
	}
	if err := s.schedules.SaveSchedule(ctx, ws); err != nil {
		return nil, err
	}
	s.logger.Info("weekly schedule synchronized", "account_id", accountID, "schedule", picked.URI)
	return ws, nil
}

func pickSchedule(list []remote.AvailabilitySchedule) (remote.AvailabilitySchedule, bool) {
	if len(list) == 0 {
		return remote.AvailabilitySchedule{}, false
	}
	for _, s := range list {
		if s.Default {
			return s, true
		}
	}
	return list[0], true
}
