package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/store"
)

const callback = "https://sync.example.test/webhooks/calendar"

func newAccountWithOrg(t *testing.T) *store.Memory {
	acc := connected("acc-1", "U1")
	acc.Organization = "ORG1"
	return seedAccounts(t, acc)
}

func TestRegistrar_EnsureCreates(t *testing.T) {
	mem := newAccountWithOrg(t)
	var created remote.CreateWebhookRequest
	client := &remote.MockClient{
		ListWebhookSubscriptionsFunc: func(_ context.Context, _, org, user string) ([]remote.WebhookSubscription, error) {
			if org != "ORG1" || user != "U1" {
				t.Errorf("List(%q, %q)", org, user)
			}
			return []remote.WebhookSubscription{{URI: "W-foreign", CallbackURL: "https://elsewhere.test/hook"}}, nil
		},
		CreateWebhookSubscriptionFunc: func(_ context.Context, _ string, req remote.CreateWebhookRequest) (*remote.WebhookSubscription, error) {
			created = req
			return &remote.WebhookSubscription{URI: "W1", CallbackURL: req.URL, Events: req.Events}, nil
		},
		DeleteWebhookSubscriptionFunc: func(_ context.Context, _, uri string) error {
			t.Errorf("unexpected delete of %s", uri)
			return nil
		},
	}
	r := NewRegistrar(client, tokenFunc(tokenByAccount), mem, mem, callback, "signing", nil)

	sub, err := r.Ensure(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sub.URI != "W1" || created.URL != callback || created.SigningKey != "signing" || created.Scope != "user" {
		t.Errorf("sub = %+v, req = %+v", sub, created)
	}
	if len(created.Events) != len(Kinds()) {
		t.Errorf("events = %v", created.Events)
	}
	stored, err := mem.GetSubscription(context.Background(), "acc-1")
	if err != nil || stored.URI != "W1" {
		t.Errorf("stored = %+v, %v", stored, err)
	}
}

func TestRegistrar_EnsureReusesMatching(t *testing.T) {
	mem := newAccountWithOrg(t)
	reversed := DefaultEvents()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	client := &remote.MockClient{
		ListWebhookSubscriptionsFunc: func(context.Context, string, string, string) ([]remote.WebhookSubscription, error) {
			return []remote.WebhookSubscription{{URI: "W-existing", CallbackURL: callback, Events: reversed}}, nil
		},
	}
	r := NewRegistrar(client, tokenFunc(tokenByAccount), mem, mem, callback, "", nil)

	sub, err := r.Ensure(context.Background(), "acc-1")
	if err != nil || sub.URI != "W-existing" {
		t.Errorf("Ensure = %+v, %v", sub, err)
	}
}

func TestRegistrar_EnsureReplacesMismatched(t *testing.T) {
	mem := newAccountWithOrg(t)
	var deleted []string
	client := &remote.MockClient{
		ListWebhookSubscriptionsFunc: func(context.Context, string, string, string) ([]remote.WebhookSubscription, error) {
			return []remote.WebhookSubscription{{URI: "W-old", CallbackURL: callback, Events: []string{"invitee.created"}}}, nil
		},
		DeleteWebhookSubscriptionFunc: func(_ context.Context, _, uri string) error {
			deleted = append(deleted, uri)
			return nil
		},
		CreateWebhookSubscriptionFunc: func(_ context.Context, _ string, req remote.CreateWebhookRequest) (*remote.WebhookSubscription, error) {
			return &remote.WebhookSubscription{URI: "W-new", CallbackURL: req.URL, Events: req.Events}, nil
		},
	}
	r := NewRegistrar(client, tokenFunc(tokenByAccount), mem, mem, callback, "", nil)

	sub, err := r.Ensure(context.Background(), "acc-1")
	if err != nil || sub.URI != "W-new" {
		t.Fatalf("Ensure = %+v, %v", sub, err)
	}
	if len(deleted) != 1 || deleted[0] != "W-old" {
		t.Errorf("deleted = %v", deleted)
	}
}

func TestRegistrar_EnsureWithoutCallback(t *testing.T) {
	mem := newAccountWithOrg(t)
	r := NewRegistrar(&remote.MockClient{}, tokenFunc(tokenByAccount), mem, mem, "", "", nil)
	if _, err := r.Ensure(context.Background(), "acc-1"); !errors.Is(err, ErrNoCallbackURL) {
		t.Errorf("err = %v", err)
	}
}

func TestRegistrar_Remove(t *testing.T) {
	mem := newAccountWithOrg(t)
	ctx := context.Background()
	_ = mem.SaveSubscription(ctx, &store.WebhookSubscription{AccountID: "acc-1", URI: "W1", CallbackURL: callback})

	client := &remote.MockClient{
		DeleteWebhookSubscriptionFunc: func(_ context.Context, _, uri string) error {
			if uri != "W1" {
				t.Errorf("deleted %s", uri)
			}
			return &remote.Error{Op: "delete webhook subscription", StatusCode: 404}
		},
	}
	r := NewRegistrar(client, tokenFunc(tokenByAccount), mem, mem, callback, "", nil)

	if err := r.Remove(ctx, "acc-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := mem.GetSubscription(ctx, "acc-1"); !store.IsNotFound(err) {
		t.Errorf("subscription still stored: %v", err)
	}
	if err := r.Remove(ctx, "acc-1"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}
