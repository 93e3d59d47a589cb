package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Seann-Moser/availsync/timeslot"
)

var _ Store = &Mongo{}

// Mongo is a MongoDB-backed Store. Every record is keyed by the local
// account id in _id.
type Mongo struct {
	accounts      *mongo.Collection
	schedules     *mongo.Collection
	subscriptions *mongo.Collection
	now           func() time.Time
}

// NewMongo expects a connected mongo.Database.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		accounts:      db.Collection("provider_accounts"),
		schedules:     db.Collection("weekly_schedules"),
		subscriptions: db.Collection("webhook_subscriptions"),
		now:           time.Now,
	}
}

type accountDoc struct {
	ID                   string    `bson:"_id"`
	RemoteURI            string    `bson:"remote_uri"`
	Email                string    `bson:"email"`
	SchedulingURL        string    `bson:"scheduling_url"`
	Timezone             string    `bson:"timezone"`
	Organization         string    `bson:"organization"`
	AccessToken          string    `bson:"access_token"`
	RefreshToken         string    `bson:"refresh_token"`
	TokenExpiry          time.Time `bson:"token_expiry"`
	NeedsManualReconnect bool      `bson:"needs_manual_reconnect"`
	EventTypes           []string  `bson:"event_types"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

func (d accountDoc) account() *ProviderAccount {
	return &ProviderAccount{
		ID:                   d.ID,
		RemoteURI:            d.RemoteURI,
		Email:                d.Email,
		SchedulingURL:        d.SchedulingURL,
		Timezone:             d.Timezone,
		Organization:         d.Organization,
		AccessToken:          d.AccessToken,
		RefreshToken:         d.RefreshToken,
		TokenExpiry:          d.TokenExpiry,
		NeedsManualReconnect: d.NeedsManualReconnect,
		EventTypes:           d.EventTypes,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

type scheduleDoc struct {
	AccountID        string      `bson:"_id"`
	SourceID         string      `bson:"source_id"`
	Name             string      `bson:"name"`
	Timezone         string      `bson:"timezone"`
	Days             []dayRecord `bson:"days"`
	LastSynchronized time.Time   `bson:"last_synchronized"`
}

type subscriptionDoc struct {
	AccountID   string    `bson:"_id"`
	URI         string    `bson:"uri"`
	CallbackURL string    `bson:"callback_url"`
	Events      []string  `bson:"events"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (s *Mongo) findAccount(ctx context.Context, filter bson.M) (*ProviderAccount, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return doc.account(), nil
}

// GetAccount loads one account by local id.
func (s *Mongo) GetAccount(ctx context.Context, id string) (*ProviderAccount, error) {
	acc, err := s.findAccount(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("store: get account %q: %w", id, err)
	}
	return acc, nil
}

// GetAccountByRemoteURI finds the account linked to a remote user.
func (s *Mongo) GetAccountByRemoteURI(ctx context.Context, remoteURI string) (*ProviderAccount, error) {
	if remoteURI == "" {
		return nil, ErrNotFound
	}
	acc, err := s.findAccount(ctx, bson.M{"remote_uri": remoteURI})
	if err != nil {
		return nil, fmt.Errorf("store: get account by remote uri: %w", err)
	}
	return acc, nil
}

func (s *Mongo) ListAccounts(ctx context.Context) ([]*ProviderAccount, error) {
	cur, err := s.accounts.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer func() {
		_ = cur.Close(ctx)
	}()

	var out []*ProviderAccount
	for cur.Next(ctx) {
		var doc accountDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decoding account: %w", err)
		}
		out = append(out, doc.account())
	}
	return out, cur.Err()
}

// SaveAccount upserts the record, keeping the original created_at.
func (s *Mongo) SaveAccount(ctx context.Context, acc *ProviderAccount) error {
	now := s.now().UTC()
	update := bson.M{
		"$set": bson.M{
			"remote_uri":             acc.RemoteURI,
			"email":                  acc.Email,
			"scheduling_url":         acc.SchedulingURL,
			"timezone":               acc.Timezone,
			"organization":           acc.Organization,
			"access_token":           acc.AccessToken,
			"refresh_token":          acc.RefreshToken,
			"token_expiry":           acc.TokenExpiry,
			"needs_manual_reconnect": acc.NeedsManualReconnect,
			"event_types":            acc.EventTypes,
			"updated_at":             now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := s.accounts.UpdateOne(ctx, bson.M{"_id": acc.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: save account %q: %w", acc.ID, err)
	}
	return nil
}

// UpdateTokens is a compare-and-swap keyed on the stored token_expiry.
func (s *Mongo) UpdateTokens(ctx context.Context, id string, prevExpiry time.Time, t Tokens) error {
	filter := bson.M{"_id": id, "token_expiry": prevExpiry}
	update := bson.M{"$set": bson.M{
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
		"token_expiry":  t.Expiry,
		"updated_at":    s.now().UTC(),
	}}
	res, err := s.accounts.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("store: update tokens %q: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.findAccount(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("store: update tokens %q: %w", id, err)
	}
	return ErrStale
}

func (s *Mongo) SetNeedsReconnect(ctx context.Context, id string, flag bool) error {
	update := bson.M{"$set": bson.M{
		"needs_manual_reconnect": flag,
		"updated_at":             s.now().UTC(),
	}}
	res, err := s.accounts.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("store: set reconnect flag %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: set reconnect flag %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Mongo) UpdateProfile(ctx context.Context, id string, p Profile) error {
	set := bson.M{"updated_at": s.now().UTC()}
	for field, v := range map[string]string{
		"email":          p.Email,
		"scheduling_url": p.SchedulingURL,
		"timezone":       p.Timezone,
		"organization":   p.Organization,
	} {
		if v != "" {
			set[field] = v
		}
	}
	return s.updateAccount(ctx, "update profile", id, bson.M{"$set": set})
}

func (s *Mongo) SetEventTypes(ctx context.Context, id string, uris []string) error {
	if uris == nil {
		uris = []string{}
	}
	update := bson.M{"$set": bson.M{
		"event_types": uris,
		"updated_at":  s.now().UTC(),
	}}
	return s.updateAccount(ctx, "set event types", id, update)
}

func (s *Mongo) updateAccount(ctx context.Context, op, id string, update bson.M) error {
	res, err := s.accounts.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("store: %s %q: %w", op, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: %s %q: %w", op, id, ErrNotFound)
	}
	return nil
}

func (s *Mongo) GetSchedule(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	var doc scheduleDoc
	err := s.schedules.FindOne(ctx, bson.M{"_id": accountID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: get schedule %q: %w", accountID, err)
	}
	return &timeslot.WeeklySchedule{
		AccountID:        doc.AccountID,
		SourceID:         doc.SourceID,
		Name:             doc.Name,
		Timezone:         doc.Timezone,
		Days:             decodeDays(doc.Days),
		LastSynchronized: doc.LastSynchronized,
	}, nil
}

// SaveSchedule replaces the whole document.
func (s *Mongo) SaveSchedule(ctx context.Context, ws *timeslot.WeeklySchedule) error {
	doc := scheduleDoc{
		AccountID:        ws.AccountID,
		SourceID:         ws.SourceID,
		Name:             ws.Name,
		Timezone:         ws.Timezone,
		Days:             encodeDays(ws.Days),
		LastSynchronized: ws.LastSynchronized,
	}
	_, err := s.schedules.ReplaceOne(ctx, bson.M{"_id": ws.AccountID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: save schedule %q: %w", ws.AccountID, err)
	}
	return nil
}

func (s *Mongo) DeleteSchedule(ctx context.Context, accountID string) error {
	if _, err := s.schedules.DeleteOne(ctx, bson.M{"_id": accountID}); err != nil {
		return fmt.Errorf("store: delete schedule %q: %w", accountID, err)
	}
	return nil
}

func (s *Mongo) GetSubscription(ctx context.Context, accountID string) (*WebhookSubscription, error) {
	var doc subscriptionDoc
	err := s.subscriptions.FindOne(ctx, bson.M{"_id": accountID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: get subscription %q: %w", accountID, err)
	}
	return &WebhookSubscription{
		AccountID:   doc.AccountID,
		URI:         doc.URI,
		CallbackURL: doc.CallbackURL,
		Events:      doc.Events,
		CreatedAt:   doc.CreatedAt,
	}, nil
}

func (s *Mongo) SaveSubscription(ctx context.Context, sub *WebhookSubscription) error {
	created := sub.CreatedAt
	if created.IsZero() {
		created = s.now().UTC()
	}
	doc := subscriptionDoc{
		AccountID:   sub.AccountID,
		URI:         sub.URI,
		CallbackURL: sub.CallbackURL,
		Events:      sub.Events,
		CreatedAt:   created,
	}
	_, err := s.subscriptions.ReplaceOne(ctx, bson.M{"_id": sub.AccountID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: save subscription %q: %w", sub.AccountID, err)
	}
	return nil
}

func (s *Mongo) DeleteSubscription(ctx context.Context, accountID string) error {
	if _, err := s.subscriptions.DeleteOne(ctx, bson.M{"_id": accountID}); err != nil {
		return fmt.Errorf("store: delete subscription %q: %w", accountID, err)
	}
	return nil
}
