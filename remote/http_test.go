package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, mux *http.ServeMux) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(HTTPConfig{
		APIBaseURL:     srv.URL,
		BookingBaseURL: srv.URL,
		ClientID:       "client",
		ClientSecret:   "secret",
		AuthURL:        srv.URL + "/oauth/authorize",
		TokenURL:       srv.URL + "/oauth/token",
		RedirectURL:    "https://app.example.test/oauth/callback",
	}, nil)
	return c, srv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_GetCurrentUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, map[string]interface{}{"resource": map[string]string{
			"uri":      "https://api.example.test/users/U1",
			"email":    "pro@example.test",
			"timezone": "America/New_York",
		}})
	})
	c, _ := newTestClient(t, mux)

	u, err := c.GetCurrentUser(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetCurrentUser error: %v", err)
	}
	if u.URI != "https://api.example.test/users/U1" || u.Email != "pro@example.test" || u.Timezone != "America/New_York" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestHTTPClient_ListEventTypesPaginates(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/event_types", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]interface{}{
				"collection": []map[string]interface{}{{"uri": "et-2", "active": false}},
			})
			return
		}
		if r.URL.Query().Get("user") != "U1" {
			t.Errorf("user query = %q", r.URL.Query().Get("user"))
		}
		writeJSON(w, map[string]interface{}{
			"collection": []map[string]interface{}{{"uri": "et-1", "active": true}},
			"pagination": map[string]string{"next_page": srvURL + "/event_types?page=2"},
		})
	})
	c, srv := newTestClient(t, mux)
	srvURL = srv.URL

	ets, err := c.ListEventTypes(context.Background(), "tok", "U1")
	if err != nil {
		t.Fatalf("ListEventTypes error: %v", err)
	}
	if len(ets) != 2 || ets[0].URI != "et-1" || !ets[0].Active || ets[1].URI != "et-2" {
		t.Errorf("unexpected event types: %+v", ets)
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Unauthenticated"}`, http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetCurrentUser(context.Background(), "expired")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsUnauthorized(err) {
		t.Errorf("IsUnauthorized(%v) = false", err)
	}
	if IsTransient(err) {
		t.Errorf("401 should not be transient")
	}
}

func TestHTTPClient_GetAvailabilityScheduleByURI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user_availability_schedules/S1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"resource": map[string]interface{}{
			"uri":     "S1",
			"default": true,
			"rules": []map[string]interface{}{{
				"type": "wday", "wday": "monday",
				"intervals": []map[string]string{{"from": "09:00", "to": "12:00"}},
			}},
		}})
	})
	c, srv := newTestClient(t, mux)

	s, err := c.GetAvailabilitySchedule(context.Background(), "tok", srv.URL+"/user_availability_schedules/S1")
	if err != nil {
		t.Fatalf("GetAvailabilitySchedule error: %v", err)
	}
	if !s.Default || len(s.Rules) != 1 || s.Rules[0].Intervals[0].To != "12:00" {
		t.Errorf("unexpected schedule: %+v", s)
	}
}

func TestHTTPClient_RefreshAccessTokenKeepsRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		writeJSON(w, map[string]interface{}{
			"access_token": "at-2",
			"token_type":   "Bearer",
			"expires_in":   7200,
		})
	})
	c, _ := newTestClient(t, mux)

	tok, err := c.RefreshAccessToken(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("RefreshAccessToken error: %v", err)
	}
	if tok.AccessToken != "at-2" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if tok.RefreshToken != "rt-1" {
		t.Errorf("RefreshToken = %q; want the original when not rotated", tok.RefreshToken)
	}
	if tok.ExpiresIn < 7000 || tok.ExpiresIn > 7200 {
		t.Errorf("ExpiresIn = %d", tok.ExpiresIn)
	}
}

func TestHTTPClient_ExchangeCodeSendsVerifier(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "code-1" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		if got := r.Form.Get("code_verifier"); got != "verifier-1" {
			t.Errorf("code_verifier = %q", got)
		}
		writeJSON(w, map[string]interface{}{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	c, _ := newTestClient(t, mux)

	tok, err := c.ExchangeCode(context.Background(), "code-1", "verifier-1")
	if err != nil {
		t.Fatalf("ExchangeCode error: %v", err)
	}
	if tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Errorf("unexpected token: %+v", tok)
	}
}

func TestHTTPClient_AuthCodeURLCarriesPKCE(t *testing.T) {
	c, _ := newTestClient(t, http.NewServeMux())
	u := c.AuthCodeURL("state-1", "challenge-1")
	for _, want := range []string{"state=state-1", "code_challenge=challenge-1", "code_challenge_method=S256", "client_id=client"} {
		if !strings.Contains(u, want) {
			t.Errorf("AuthCodeURL %q missing %q", u, want)
		}
	}
}

func TestHTTPClient_LookupAndCalendarRange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/booking/event_types/lookup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("profile_slug") != "jane" || r.URL.Query().Get("event_type_slug") != "intro" {
			t.Errorf("unexpected query: %v", r.URL.RawQuery)
		}
		writeJSON(w, map[string]interface{}{
			"uuid":     "ET-UUID",
			"name":     "Intro",
			"duration": 30,
			"profile":  map[string]string{"timezone": "Europe/Berlin"},
		})
	})
	mux.HandleFunc("/api/booking/event_types/ET-UUID/calendar/range", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("range_start") != "2026-11-01" || q.Get("range_end") != "2026-11-30" || q.Get("timezone") != "Europe/Berlin" {
			t.Errorf("unexpected query: %v", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"availability_timezone":"Europe/Berlin","days":[{"date":"2026-11-02","status":"available","spots":[{"status":"available","start_time":"2026-11-02T09:00:00+01:00"}]}]}`)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	lookup, err := c.LookupEventTypeBySlug(ctx, "jane", "intro")
	if err != nil {
		t.Fatalf("LookupEventTypeBySlug error: %v", err)
	}
	if lookup.ID != "ET-UUID" || lookup.Timezone != "Europe/Berlin" {
		t.Errorf("unexpected lookup: %+v", lookup)
	}

	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	rng, err := c.GetBookingCalendarRange(ctx, BookingRef{EventTypeID: lookup.ID}, start, end, lookup.Timezone)
	if err != nil {
		t.Fatalf("GetBookingCalendarRange error: %v", err)
	}
	if len(rng.Days) != 1 || rng.Days[0].Spots[0].StartTime != "2026-11-02T09:00:00+01:00" {
		t.Errorf("unexpected range: %+v", rng)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &Error{StatusCode: 502}, true},
		{"throttled", &Error{StatusCode: 429}, true},
		{"bad request", &Error{StatusCode: 400}, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"plain", errors.New("invalid_grant"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v; want %v", got, tt.want)
			}
		})
	}
}
