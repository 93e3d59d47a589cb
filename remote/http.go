package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 4 << 10

var _ Client = &HTTPClient{}

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	// APIBaseURL is the authenticated REST API root, e.g. https://api.calendly.com.
	APIBaseURL string
	// BookingBaseURL is the public booking site root, e.g. https://calendly.com.
	BookingBaseURL string

	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string

	Timeout time.Duration
}

// HTTPClient talks to the provider's REST API and public booking endpoints.
type HTTPClient struct {
	apiBase     string
	bookingBase string
	httpClient  *http.Client
	oauthCfg    *oauth2.Config
	logger      *slog.Logger
}

// NewHTTPClient builds a client; a nil logger uses slog.Default.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		apiBase:     strings.TrimSuffix(cfg.APIBaseURL, "/"),
		bookingBase: strings.TrimSuffix(cfg.BookingBaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		logger: logger,
	}
}

type resource[T any] struct {
	Resource T `json:"resource"`
}

type collection[T any] struct {
	Collection []T `json:"collection"`
	Pagination struct {
		NextPage string `json:"next_page"`
	} `json:"pagination"`
}

func (c *HTTPClient) GetCurrentUser(ctx context.Context, token string) (*User, error) {
	var out resource[User]
	if err := c.do(ctx, "get current user", http.MethodGet, c.apiURL("/users/me", nil), token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Resource, nil
}

func (c *HTTPClient) ListAvailabilitySchedules(ctx context.Context, token, userURI string) ([]AvailabilitySchedule, error) {
	q := url.Values{"user": {userURI}}
	return listAll[AvailabilitySchedule](ctx, c, "list availability schedules", c.apiURL("/user_availability_schedules", q), token)
}

func (c *HTTPClient) GetAvailabilitySchedule(ctx context.Context, token, scheduleURI string) (*AvailabilitySchedule, error) {
	var out resource[AvailabilitySchedule]
	if err := c.do(ctx, "get availability schedule", http.MethodGet, c.apiURL(scheduleURI, nil), token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Resource, nil
}

func (c *HTTPClient) ListEventTypes(ctx context.Context, token, userURI string) ([]EventType, error) {
	q := url.Values{"user": {userURI}}
	return listAll[EventType](ctx, c, "list event types", c.apiURL("/event_types", q), token)
}

func (c *HTTPClient) ListAvailableTimes(ctx context.Context, token, eventTypeURI string, start, end time.Time) ([]AvailableTime, error) {
	q := url.Values{
		"event_type": {eventTypeURI},
		"start_time": {start.UTC().Format(time.RFC3339)},
		"end_time":   {end.UTC().Format(time.RFC3339)},
	}
	return listAll[AvailableTime](ctx, c, "list available times", c.apiURL("/event_type_available_times", q), token)
}

// AuthCodeURL builds the provider consent URL with an S256 PKCE challenge.
func (c *HTTPClient) AuthCodeURL(state, codeChallenge string) string {
	return c.oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (c *HTTPClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	tok, err := c.oauthCfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: exchanging authorization code: %w", err)
	}
	return fromOAuthToken(tok), nil
}

// RefreshAccessToken runs a refresh_token grant. The returned RefreshToken is
// whatever the provider sent back, possibly the one passed in.
func (c *HTTPClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("remote: refreshing access token: %w", err)
	}
	return fromOAuthToken(tok), nil
}

func fromOAuthToken(tok *oauth2.Token) *Token {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return out
}

func (c *HTTPClient) CreateWebhookSubscription(ctx context.Context, token string, req CreateWebhookRequest) (*WebhookSubscription, error) {
	var out resource[WebhookSubscription]
	if err := c.do(ctx, "create webhook subscription", http.MethodPost, c.apiURL("/webhook_subscriptions", nil), token, req, &out); err != nil {
		return nil, err
	}
	return &out.Resource, nil
}

func (c *HTTPClient) ListWebhookSubscriptions(ctx context.Context, token, organizationURI, userURI string) ([]WebhookSubscription, error) {
	q := url.Values{"organization": {organizationURI}, "scope": {"user"}}
	if userURI != "" {
		q.Set("user", userURI)
	}
	return listAll[WebhookSubscription](ctx, c, "list webhook subscriptions", c.apiURL("/webhook_subscriptions", q), token)
}

func (c *HTTPClient) DeleteWebhookSubscription(ctx context.Context, token, uri string) error {
	return c.do(ctx, "delete webhook subscription", http.MethodDelete, c.apiURL(uri, nil), token, nil, nil)
}

func (c *HTTPClient) LookupEventTypeBySlug(ctx context.Context, profileSlug, eventSlug string) (*EventTypeLookup, error) {
	q := url.Values{"event_type_slug": {eventSlug}, "profile_slug": {profileSlug}}
	var raw struct {
		EventTypeLookup
		Profile struct {
			Timezone string `json:"timezone"`
		} `json:"profile"`
	}
	if err := c.do(ctx, "lookup event type", http.MethodGet, c.bookingURL("/api/booking/event_types/lookup", q), "", nil, &raw); err != nil {
		return nil, err
	}
	out := raw.EventTypeLookup
	if out.Timezone == "" {
		out.Timezone = raw.Profile.Timezone
	}
	return &out, nil
}

func (c *HTTPClient) GetBookingCalendarRange(ctx context.Context, ref BookingRef, start, end time.Time, timezone string) (*CalendarRange, error) {
	path := "/api/booking/event_types/" + url.PathEscape(ref.EventTypeID) + "/calendar/range"
	if ref.LinkID != "" {
		path = "/api/booking/scheduling_links/" + url.PathEscape(ref.LinkID) + "/calendar/range"
	}
	q := url.Values{
		"timezone":    {timezone},
		"diagnostics": {"false"},
		"range_start": {start.Format("2006-01-02")},
		"range_end":   {end.Format("2006-01-02")},
	}
	var out CalendarRange
	if err := c.do(ctx, "get booking calendar range", http.MethodGet, c.bookingURL(path, q), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// apiURL accepts either a path or an absolute resource URI.
func (c *HTTPClient) apiURL(pathOrURI string, q url.Values) string {
	u := pathOrURI
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.apiBase + "/" + strings.TrimPrefix(u, "/")
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *HTTPClient) bookingURL(path string, q url.Values) string {
	u := c.bookingBase + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func listAll[T any](ctx context.Context, c *HTTPClient, op, firstURL, token string) ([]T, error) {
	var out []T
	next := firstURL
	for next != "" {
		var page collection[T]
		if err := c.do(ctx, op, http.MethodGet, next, token, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Collection...)
		next = page.Pagination.NextPage
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, u, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: %s: encoding body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("remote call failed", "op", op, "status", resp.StatusCode)
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: %s: decoding response: %w", op, err)
	}
	return nil
}
