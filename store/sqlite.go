package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Seann-Moser/availsync/timeslot"
)

const SQLiteDriver = "sqlite3"

var _ Store = SQLite{}

// SQLite is a Store on a single SQLite database. Times are stored as unix
// milliseconds, lists as JSON text.
type SQLite struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQLite opens dsn and runs migrations. ":memory:" is pinned to a single
// connection so every query sees the same database.
func OpenSQLite(dsn string) (SQLite, error) {
	db, err := sql.Open(SQLiteDriver, dsn)
	if err != nil {
		return SQLite{}, fmt.Errorf("store: opening sqlite: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return NewSQLite(db)
}

func NewSQLite(db *sql.DB) (SQLite, error) {
	s := SQLite{db: sqlx.NewDb(db, SQLiteDriver), now: time.Now}
	if err := s.RunMigrations(); err != nil {
		return SQLite{}, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

func (s SQLite) Close() error {
	return s.db.Close()
}

func (s SQLite) RunMigrations() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS provider_accounts (
		id VARCHAR NOT NULL PRIMARY KEY,
		remote_uri VARCHAR NOT NULL DEFAULT '',
		email VARCHAR NOT NULL DEFAULT '',
		scheduling_url VARCHAR NOT NULL DEFAULT '',
		timezone VARCHAR NOT NULL DEFAULT '',
		organization VARCHAR NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expiry INTEGER NOT NULL DEFAULT 0,
		needs_manual_reconnect INTEGER NOT NULL DEFAULT 0,
		event_types TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS provider_accounts_remote_uri ON provider_accounts (remote_uri)`,
	`CREATE TABLE IF NOT EXISTS weekly_schedules (
		account_id VARCHAR NOT NULL PRIMARY KEY,
		source_id VARCHAR NOT NULL DEFAULT '',
		name VARCHAR NOT NULL DEFAULT '',
		timezone VARCHAR NOT NULL DEFAULT '',
		days TEXT NOT NULL,
		last_synchronized INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		account_id VARCHAR NOT NULL PRIMARY KEY,
		uri VARCHAR NOT NULL,
		callback_url VARCHAR NOT NULL DEFAULT '',
		events TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT 0
	)`,
}

type accountRow struct {
	ID                   string `db:"id"`
	RemoteURI            string `db:"remote_uri"`
	Email                string `db:"email"`
	SchedulingURL        string `db:"scheduling_url"`
	Timezone             string `db:"timezone"`
	Organization         string `db:"organization"`
	AccessToken          string `db:"access_token"`
	RefreshToken         string `db:"refresh_token"`
	TokenExpiry          int64  `db:"token_expiry"`
	NeedsManualReconnect bool   `db:"needs_manual_reconnect"`
	EventTypes           string `db:"event_types"`
	CreatedAt            int64  `db:"created_at"`
	UpdatedAt            int64  `db:"updated_at"`
}

func (r accountRow) convert() (*ProviderAccount, error) {
	acc := &ProviderAccount{
		ID:                   r.ID,
		RemoteURI:            r.RemoteURI,
		Email:                r.Email,
		SchedulingURL:        r.SchedulingURL,
		Timezone:             r.Timezone,
		Organization:         r.Organization,
		AccessToken:          r.AccessToken,
		RefreshToken:         r.RefreshToken,
		TokenExpiry:          fromMillis(r.TokenExpiry),
		NeedsManualReconnect: r.NeedsManualReconnect,
		CreatedAt:            fromMillis(r.CreatedAt),
		UpdatedAt:            fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.EventTypes), &acc.EventTypes); err != nil {
		return nil, fmt.Errorf("decoding event types: %w", err)
	}
	return acc, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func marshalList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

const accountColumns = `id, remote_uri, email, scheduling_url, timezone, organization,
	access_token, refresh_token, token_expiry, needs_manual_reconnect, event_types,
	created_at, updated_at`

func (s SQLite) getAccount(ctx context.Context, where string, arg interface{}) (*ProviderAccount, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM provider_accounts WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return row.convert()
}

func (s SQLite) GetAccount(ctx context.Context, id string) (*ProviderAccount, error) {
	acc, err := s.getAccount(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("store: get account %q: %w", id, err)
	}
	return acc, nil
}

func (s SQLite) GetAccountByRemoteURI(ctx context.Context, remoteURI string) (*ProviderAccount, error) {
	if remoteURI == "" {
		return nil, ErrNotFound
	}
	acc, err := s.getAccount(ctx, "remote_uri = ? LIMIT 1", remoteURI)
	if err != nil {
		return nil, fmt.Errorf("store: get account by remote uri: %w", err)
	}
	return acc, nil
}

func (s SQLite) ListAccounts(ctx context.Context) ([]*ProviderAccount, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM provider_accounts ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	out := make([]*ProviderAccount, 0, len(rows))
	for _, r := range rows {
		acc, err := r.convert()
		if err != nil {
			return nil, fmt.Errorf("store: list accounts: %w", err)
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s SQLite) SaveAccount(ctx context.Context, acc *ProviderAccount) error {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_uri = excluded.remote_uri,
			email = excluded.email,
			scheduling_url = excluded.scheduling_url,
			timezone = excluded.timezone,
			organization = excluded.organization,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			needs_manual_reconnect = excluded.needs_manual_reconnect,
			event_types = excluded.event_types,
			updated_at = excluded.updated_at
	`, acc.ID, acc.RemoteURI, acc.Email, acc.SchedulingURL, acc.Timezone, acc.Organization,
		acc.AccessToken, acc.RefreshToken, toMillis(acc.TokenExpiry), acc.NeedsManualReconnect,
		marshalList(acc.EventTypes), now, now)
	if err != nil {
		return fmt.Errorf("store: save account %q: %w", acc.ID, err)
	}
	return nil
}

func (s SQLite) UpdateTokens(ctx context.Context, id string, prevExpiry time.Time, t Tokens) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_accounts
		SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE id = ? AND token_expiry = ?
	`, t.AccessToken, t.RefreshToken, toMillis(t.Expiry), toMillis(s.now()), id, toMillis(prevExpiry))
	if err != nil {
		return fmt.Errorf("store: update tokens %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.getAccount(ctx, "id = ?", id); err != nil {
		return fmt.Errorf("store: update tokens %q: %w", id, err)
	}
	return ErrStale
}

func (s SQLite) SetNeedsReconnect(ctx context.Context, id string, flag bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_accounts SET needs_manual_reconnect = ?, updated_at = ? WHERE id = ?
	`, flag, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: set reconnect flag %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set reconnect flag %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s SQLite) UpdateProfile(ctx context.Context, id string, p Profile) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_accounts SET
			email = COALESCE(NULLIF(?, ''), email),
			scheduling_url = COALESCE(NULLIF(?, ''), scheduling_url),
			timezone = COALESCE(NULLIF(?, ''), timezone),
			organization = COALESCE(NULLIF(?, ''), organization),
			updated_at = ?
		WHERE id = ?
	`, p.Email, p.SchedulingURL, p.Timezone, p.Organization, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: update profile %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update profile %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s SQLite) SetEventTypes(ctx context.Context, id string, uris []string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_accounts SET event_types = ?, updated_at = ? WHERE id = ?
	`, marshalList(uris), toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: set event types %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set event types %q: %w", id, ErrNotFound)
	}
	return nil
}

type scheduleRow struct {
	AccountID        string `db:"account_id"`
	SourceID         string `db:"source_id"`
	Name             string `db:"name"`
	Timezone         string `db:"timezone"`
	Days             string `db:"days"`
	LastSynchronized int64  `db:"last_synchronized"`
}

func (s SQLite) GetSchedule(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT account_id, source_id, name, timezone, days, last_synchronized
		FROM weekly_schedules WHERE account_id = ?
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: get schedule %q: %w", accountID, err)
	}
	var recs []dayRecord
	if err := json.Unmarshal([]byte(row.Days), &recs); err != nil {
		return nil, fmt.Errorf("store: decoding schedule %q: %w", accountID, err)
	}
	return &timeslot.WeeklySchedule{
		AccountID:        row.AccountID,
		SourceID:         row.SourceID,
		Name:             row.Name,
		Timezone:         row.Timezone,
		Days:             decodeDays(recs),
		LastSynchronized: fromMillis(row.LastSynchronized),
	}, nil
}

func (s SQLite) SaveSchedule(ctx context.Context, ws *timeslot.WeeklySchedule) error {
	days, err := json.Marshal(encodeDays(ws.Days))
	if err != nil {
		return fmt.Errorf("store: encoding schedule %q: %w", ws.AccountID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO weekly_schedules (account_id, source_id, name, timezone, days, last_synchronized)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			source_id = excluded.source_id,
			name = excluded.name,
			timezone = excluded.timezone,
			days = excluded.days,
			last_synchronized = excluded.last_synchronized
	`, ws.AccountID, ws.SourceID, ws.Name, ws.Timezone, string(days), toMillis(ws.LastSynchronized))
	if err != nil {
		return fmt.Errorf("store: save schedule %q: %w", ws.AccountID, err)
	}
	return nil
}

func (s SQLite) DeleteSchedule(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM weekly_schedules WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("store: delete schedule %q: %w", accountID, err)
	}
	return nil
}

type subscriptionRow struct {
	AccountID   string `db:"account_id"`
	URI         string `db:"uri"`
	CallbackURL string `db:"callback_url"`
	Events      string `db:"events"`
	CreatedAt   int64  `db:"created_at"`
}

func (s SQLite) GetSubscription(ctx context.Context, accountID string) (*WebhookSubscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT account_id, uri, callback_url, events, created_at
		FROM webhook_subscriptions WHERE account_id = ?
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: get subscription %q: %w", accountID, err)
	}
	sub := &WebhookSubscription{
		AccountID:   row.AccountID,
		URI:         row.URI,
		CallbackURL: row.CallbackURL,
		CreatedAt:   fromMillis(row.CreatedAt),
	}
	if err := json.Unmarshal([]byte(row.Events), &sub.Events); err != nil {
		return nil, fmt.Errorf("store: decoding subscription %q: %w", accountID, err)
	}
	return sub, nil
}

func (s SQLite) SaveSubscription(ctx context.Context, sub *WebhookSubscription) error {
	created := sub.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (account_id, uri, callback_url, events, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			uri = excluded.uri,
			callback_url = excluded.callback_url,
			events = excluded.events,
			created_at = excluded.created_at
	`, sub.AccountID, sub.URI, sub.CallbackURL, marshalList(sub.Events), toMillis(created))
	if err != nil {
		return fmt.Errorf("store: save subscription %q: %w", sub.AccountID, err)
	}
	return nil
}

func (s SQLite) DeleteSubscription(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("store: delete subscription %q: %w", accountID, err)
	}
	return nil
}
