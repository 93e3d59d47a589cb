// Package availsync keeps a local projection of each account's remote
// calendar availability and answers booking-time availability questions
// against it.
package availsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Seann-Moser/availsync/oauth/oclient"
	"github.com/Seann-Moser/availsync/query"
	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/schedule"
	"github.com/Seann-Moser/availsync/scrape"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
	"github.com/Seann-Moser/availsync/webhook"
)

// Options wires a Service. Store and Client are required.
type Options struct {
	Store  store.Store
	Client remote.Client
	// Redis backs connect states and the webhook replay guard when set.
	Redis redis.Cmdable
	// Sealer encrypts tokens at rest when set.
	Sealer oclient.Sealer

	DefaultTimezone string
	SyncTimeout     time.Duration

	SigningKey      string
	SignatureHeader string
	Tolerance       time.Duration
	// CallbackURL enables webhook subscription registration on connect.
	CallbackURL string

	Logger *slog.Logger
}

// Service is the entry point used by the booking platform.
type Service struct {
	store     store.Store
	tokens    *oclient.Manager
	syncer    *schedule.Syncer
	engine    *query.Engine
	scraper   *scrape.Scraper
	processor *webhook.Processor
	registrar *webhook.Registrar
	ingress   *webhook.Ingress
	runner    *webhook.Runner
	logger    *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Client == nil {
		return nil, errors.New("availsync: store and client are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := opts.Store
	if opts.Sealer != nil {
		st = oclient.NewSealedStore(st, opts.Sealer)
	}

	tokens := oclient.NewManager(st, st, opts.Client, oclient.NewConnectStates(opts.Redis), logger.With("component", "tokens"))
	syncer := schedule.NewSyncer(tokens, opts.Client, st, st, logger.With("component", "sync"))
	runner := webhook.NewRunner(opts.SyncTimeout, logger.With("component", "runner"))
	processor := webhook.NewProcessor(st, tokens, opts.Client, syncer, runner, logger.With("component", "webhook"))

	var replay *webhook.ReplayGuard
	if opts.SigningKey != "" {
		replay = webhook.NewReplayGuard(opts.Redis, opts.Tolerance)
	}
	verifier := webhook.NewVerifier(opts.SigningKey, opts.Tolerance, logger.With("component", "webhook"))

	return &Service{
		store:     st,
		tokens:    tokens,
		syncer:    syncer,
		engine:    query.NewEngine(st, st, tokens, opts.Client, opts.DefaultTimezone, logger.With("component", "query")),
		scraper:   scrape.NewScraper(opts.Client, logger.With("component", "scrape")),
		processor: processor,
		registrar: webhook.NewRegistrar(opts.Client, tokens, st, st, opts.CallbackURL, opts.SigningKey, logger.With("component", "registrar")),
		ingress:   webhook.NewIngress(verifier, replay, processor, opts.SignatureHeader, logger.With("component", "webhook")),
		runner:    runner,
		logger:    logger,
	}, nil
}

// CheckAvailability reports whether the account can take a booking over
// [start, end]. The only error is query.ErrInvalidRange.
func (s *Service) CheckAvailability(ctx context.Context, accountID string, start, end time.Time) (query.Result, error) {
	return s.engine.IsAvailable(ctx, accountID, start, end)
}

func (s *Service) FindAvailableAccounts(ctx context.Context, start, end time.Time, f query.Filter) ([]string, error) {
	return s.engine.FindAvailableAccounts(ctx, start, end, f)
}

// GetWeeklySchedule returns the stored projection, store.ErrNotFound when
// the account was never synced.
func (s *Service) GetWeeklySchedule(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	return s.store.GetSchedule(ctx, accountID)
}

// SyncNow runs a schedule sync in the caller's goroutine.
func (s *Service) SyncNow(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	return s.syncer.Sync(ctx, accountID)
}

// HandleInboundWebhook processes one delivery. Callers respond 200 whatever
// the Ack says.
func (s *Service) HandleInboundWebhook(ctx context.Context, body []byte, signature string) webhook.Ack {
	return s.ingress.Handle(ctx, body, signature)
}

// WebhookHandler serves the webhook endpoint.
func (s *Service) WebhookHandler() *webhook.Ingress {
	return s.ingress
}

func (s *Service) Scrape(ctx context.Context, reference string, month time.Time, tz string) (*scrape.Result, error) {
	return s.scraper.Scrape(ctx, reference, month, tz)
}

func (s *Service) State(ctx context.Context, accountID string) (oclient.State, error) {
	return s.tokens.State(ctx, accountID)
}

// BeginConnect returns the provider consent URL for accountID.
func (s *Service) BeginConnect(ctx context.Context, accountID string) (string, error) {
	return s.tokens.BeginConnect(ctx, accountID)
}

// CompleteConnect links the account, then registers the webhook
// subscription and runs the first sync in the background.
func (s *Service) CompleteConnect(ctx context.Context, state, code string) (string, error) {
	accountID, err := s.tokens.CompleteConnect(ctx, state, code)
	if err != nil {
		return accountID, err
	}
	s.runner.Go("initial-sync", func(ctx context.Context) error {
		if _, err := s.registrar.Ensure(ctx, accountID); err != nil && !errors.Is(err, webhook.ErrNoCallbackURL) {
			s.logger.Warn("webhook registration failed", "account_id", accountID, "err", err)
		}
		if err := s.processor.RefreshInventory(ctx, accountID); err != nil {
			s.logger.Warn("event type inventory refresh failed", "account_id", accountID, "err", err)
		}
		if _, err := s.syncer.Sync(ctx, accountID); err != nil {
			return fmt.Errorf("initial sync for %s: %w", accountID, err)
		}
		return nil
	})
	return accountID, nil
}

// Disconnect removes the webhook subscription when possible, then drops
// the credentials and the stored schedule.
func (s *Service) Disconnect(ctx context.Context, accountID string) error {
	if err := s.registrar.Remove(ctx, accountID); err != nil {
		s.logger.Warn("removing webhook subscription", "account_id", accountID, "err", err)
		if err := s.store.DeleteSubscription(ctx, accountID); err != nil {
			s.logger.Warn("forgetting webhook subscription", "account_id", accountID, "err", err)
		}
	}
	return s.tokens.Disconnect(ctx, accountID)
}

// Wait blocks until background work started by webhooks and connects is done.
func (s *Service) Wait() {
	s.runner.Wait()
}
