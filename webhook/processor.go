package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Seann-Moser/availsync/query"
	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
)

// TokenSource hands out a usable access token for an account.
type TokenSource interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
}

// Syncer re-runs schedule normalization for an account.
type Syncer interface {
	Sync(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error)
}

var _ Handlers = &Processor{}

// Processor applies decoded events to local state. Schedule changes are
// handed to the Runner.
type Processor struct {
	accounts store.AccountStore
	tokens   TokenSource
	client   remote.Client
	syncer   Syncer
	runner   *Runner
	logger   *slog.Logger
}

func NewProcessor(accounts store.AccountStore, tokens TokenSource, client remote.Client, syncer Syncer, runner *Runner, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewRunner(0, logger)
	}
	return &Processor{
		accounts: accounts,
		tokens:   tokens,
		client:   client,
		syncer:   syncer,
		runner:   runner,
		logger:   logger,
	}
}

// accountFor resolves a remote user URI; unknown users are not an error.
func (p *Processor) accountFor(ctx context.Context, userURI string) (*store.ProviderAccount, error) {
	acc, err := p.accounts.GetAccountByRemoteURI(ctx, userURI)
	if store.IsNotFound(err) {
		p.logger.Info("webhook for unknown remote user", "user", userURI)
		return nil, nil
	}
	return acc, err
}

func (p *Processor) UserUpdated(ctx context.Context, e *UserUpdated) error {
	acc, err := p.accountFor(ctx, e.User.URI)
	if err != nil || acc == nil {
		return err
	}
	profile := store.Profile{
		Email:         e.User.Email,
		SchedulingURL: e.User.SchedulingURL,
		Timezone:      e.User.Timezone,
		Organization:  e.User.CurrentOrganization,
	}
	if err := p.accounts.UpdateProfile(ctx, acc.ID, profile); err != nil {
		return fmt.Errorf("webhook: saving account metadata: %w", err)
	}
	p.logger.Info("account metadata updated", "account_id", acc.ID)
	return nil
}

// InviteeChanged is only logged; bookings are not reconciled yet.
func (p *Processor) InviteeChanged(_ context.Context, e *InviteeChanged) error {
	p.logger.Info("invitee event received",
		"kind", e.Kind(),
		"invitee", e.URI,
		"scheduled_event", e.Event,
		"status", e.Status,
	)
	return nil
}

// EventTypeChanged re-reads the owner's active event types.
func (p *Processor) EventTypeChanged(ctx context.Context, e *EventTypeChanged) error {
	acc, err := p.accountFor(ctx, e.Owner())
	if err != nil || acc == nil {
		return err
	}
	return p.RefreshInventory(ctx, acc.ID)
}

// RefreshInventory replaces the stored list of active event-type URIs.
func (p *Processor) RefreshInventory(ctx context.Context, accountID string) error {
	token, err := p.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return err
	}
	acc, err := p.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	list, err := p.client.ListEventTypes(ctx, token, acc.RemoteURI)
	if err != nil {
		return fmt.Errorf("webhook: listing event types: %w", err)
	}
	active := query.ActiveEventTypeURIs(list)
	if err := p.accounts.SetEventTypes(ctx, accountID, active); err != nil {
		return fmt.Errorf("webhook: saving event types: %w", err)
	}
	p.logger.Info("event type inventory refreshed", "account_id", accountID, "active", len(active))
	return nil
}

func (p *Processor) ScheduleChanged(ctx context.Context, e *ScheduleChanged) error {
	acc, err := p.accountFor(ctx, e.Schedule.User)
	if err != nil || acc == nil {
		return err
	}
	p.startSync(acc.ID, e.Kind())
	return nil
}

// RuleChanged has no account reference, so the background task scans every
// connected account's remote schedules for the referenced one.
func (p *Processor) RuleChanged(_ context.Context, e *RuleChanged) error {
	p.runner.Go("rule-scan", func(ctx context.Context) error {
		accountID, err := p.findScheduleOwner(ctx, e.ScheduleURI)
		if err != nil {
			return err
		}
		if accountID == "" {
			p.logger.Info("no connected account owns schedule", "schedule", e.ScheduleURI)
			return nil
		}
		_, err = p.syncer.Sync(ctx, accountID)
		return err
	})
	return nil
}

func (p *Processor) startSync(accountID string, kind Kind) {
	runID := p.runner.Go("sync", func(ctx context.Context) error {
		_, err := p.syncer.Sync(ctx, accountID)
		return err
	})
	p.logger.Info("schedule sync queued", "account_id", accountID, "kind", kind, "run_id", runID)
}

// findScheduleOwner costs one remote call per connected account.
func (p *Processor) findScheduleOwner(ctx context.Context, scheduleURI string) (string, error) {
	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	for _, acc := range accounts {
		if !acc.HasTokens() || acc.NeedsManualReconnect {
			continue
		}
		token, err := p.tokens.AccessToken(ctx, acc.ID)
		if err != nil {
			p.logger.Warn("skipping account during schedule scan", "account_id", acc.ID, "err", err)
			continue
		}
		list, err := p.client.ListAvailabilitySchedules(ctx, token, acc.RemoteURI)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return "", err
			}
			p.logger.Warn("listing schedules during scan", "account_id", acc.ID, "err", err)
			continue
		}
		for _, s := range list {
			if s.URI == scheduleURI {
				return acc.ID, nil
			}
		}
	}
	return "", nil
}
