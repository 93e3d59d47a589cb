package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
)

// ErrNoCallbackURL means the service has no public webhook endpoint configured.
var ErrNoCallbackURL = errors.New("webhook: no callback url configured")

// DefaultEvents is what Ensure subscribes to.
func DefaultEvents() []string {
	out := make([]string, 0, len(decoders))
	for _, k := range Kinds() {
		out = append(out, string(k))
	}
	return out
}

// Registrar keeps one remote webhook subscription per connected account.
type Registrar struct {
	client      remote.Client
	tokens      TokenSource
	accounts    store.AccountStore
	subs        store.SubscriptionStore
	callbackURL string
	signingKey  string
	events      []string
	logger      *slog.Logger
}

func NewRegistrar(client remote.Client, tokens TokenSource, accounts store.AccountStore, subs store.SubscriptionStore, callbackURL, signingKey string, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		client:      client,
		tokens:      tokens,
		accounts:    accounts,
		subs:        subs,
		callbackURL: callbackURL,
		signingKey:  signingKey,
		events:      DefaultEvents(),
		logger:      logger,
	}
}

// Ensure reuses a remote subscription pointing at our callback with the same
// events, replaces one with different events, or creates a new one.
func (r *Registrar) Ensure(ctx context.Context, accountID string) (*store.WebhookSubscription, error) {
	if r.callbackURL == "" {
		return nil, ErrNoCallbackURL
	}
	acc, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	token, err := r.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	existing, err := r.client.ListWebhookSubscriptions(ctx, token, acc.Organization, acc.RemoteURI)
	if err != nil {
		return nil, fmt.Errorf("webhook: listing subscriptions: %w", err)
	}
	for _, sub := range existing {
		if sub.CallbackURL != r.callbackURL {
			continue
		}
		if sameEvents(sub.Events, r.events) {
			return r.save(ctx, accountID, sub)
		}
		if err := r.client.DeleteWebhookSubscription(ctx, token, sub.URI); err != nil && !isGone(err) {
			return nil, fmt.Errorf("webhook: replacing subscription: %w", err)
		}
		r.logger.Info("replaced outdated webhook subscription", "account_id", accountID, "uri", sub.URI)
	}

	created, err := r.client.CreateWebhookSubscription(ctx, token, remote.CreateWebhookRequest{
		URL:          r.callbackURL,
		Events:       r.events,
		Organization: acc.Organization,
		User:         acc.RemoteURI,
		Scope:        "user",
		SigningKey:   r.signingKey,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook: creating subscription: %w", err)
	}
	r.logger.Info("webhook subscription created", "account_id", accountID, "uri", created.URI)
	return r.save(ctx, accountID, *created)
}

// Remove deletes the account's subscription remotely and locally. Missing
// subscriptions are not an error.
func (r *Registrar) Remove(ctx context.Context, accountID string) error {
	sub, err := r.subs.GetSubscription(ctx, accountID)
	if store.IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}
	token, err := r.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return err
	}
	if err := r.client.DeleteWebhookSubscription(ctx, token, sub.URI); err != nil && !isGone(err) {
		return fmt.Errorf("webhook: deleting subscription: %w", err)
	}
	return r.subs.DeleteSubscription(ctx, accountID)
}

func (r *Registrar) save(ctx context.Context, accountID string, sub remote.WebhookSubscription) (*store.WebhookSubscription, error) {
	rec := &store.WebhookSubscription{
		AccountID:   accountID,
		URI:         sub.URI,
		CallbackURL: sub.CallbackURL,
		Events:      append([]string(nil), sub.Events...),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.subs.SaveSubscription(ctx, rec); err != nil {
		return nil, fmt.Errorf("webhook: saving subscription: %w", err)
	}
	return rec, nil
}

func sameEvents(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func isGone(err error) bool {
	var rErr *remote.Error
	return errors.As(err, &rErr) && rErr.StatusCode == http.StatusNotFound
}
