// Package api exposes the availability service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Seann-Moser/availsync/oauth/oclient"
	"github.com/Seann-Moser/availsync/query"
	"github.com/Seann-Moser/availsync/remote"
	"github.com/Seann-Moser/availsync/schedule"
	"github.com/Seann-Moser/availsync/scrape"
	"github.com/Seann-Moser/availsync/store"
	"github.com/Seann-Moser/availsync/timeslot"
)

// Service is what the HTTP layer needs from the availability service.
type Service interface {
	CheckAvailability(ctx context.Context, accountID string, start, end time.Time) (query.Result, error)
	FindAvailableAccounts(ctx context.Context, start, end time.Time, f query.Filter) ([]string, error)
	GetWeeklySchedule(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error)
	SyncNow(ctx context.Context, accountID string) (*timeslot.WeeklySchedule, error)
	BeginConnect(ctx context.Context, accountID string) (string, error)
	CompleteConnect(ctx context.Context, state, code string) (string, error)
	Disconnect(ctx context.Context, accountID string) error
	Scrape(ctx context.Context, reference string, month time.Time, tz string) (*scrape.Result, error)
}

type Handler struct {
	svc      Service
	webhooks http.Handler
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler builds the router. webhooks serves POST /webhooks/calendar.
func NewHandler(svc Service, webhooks http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: svc, webhooks: webhooks, logger: logger, now: time.Now}
	return h.routes()
}

func (h *Handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /availability", h.FindAvailable)
	mux.HandleFunc("GET /accounts/{id}/availability", h.Availability)
	mux.HandleFunc("GET /accounts/{id}/schedule", h.Schedule)
	mux.HandleFunc("POST /accounts/{id}/sync", h.Sync)
	mux.HandleFunc("GET /accounts/{id}/connect", h.Connect)
	mux.HandleFunc("DELETE /accounts/{id}/connection", h.Disconnect)
	mux.HandleFunc("GET /oauth/callback", h.Callback)
	mux.HandleFunc("GET /scrape", h.Scrape)
	if h.webhooks != nil {
		mux.Handle("POST /webhooks/calendar", h.webhooks)
	}
	return h.logRequests(mux)
}

// writeJSON helper sends a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing JSON response", "err", err)
	}
}

// writeError helper sends a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseRange reads the RFC 3339 start and end query parameters.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		return time.Time{}, time.Time{}, errors.New("start and end are required")
	}
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("start must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("end must be an RFC 3339 timestamp")
	}
	return start, end, nil
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.CheckAvailability(r.Context(), r.PathValue("id"), start, end)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) FindAvailable(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := h.svc.FindAvailableAccounts(r.Context(), start, end, query.Filter{AccountIDs: r.URL.Query()["account_id"]})
	if errors.Is(err, query.ErrInvalidRange) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if err != nil {
		h.logger.Error("finding available accounts", "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"accounts": ids})
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.GetWeeklySchedule(r.Context(), r.PathValue("id"))
	if store.IsNotFound(err) {
		h.writeError(w, http.StatusNotFound, "no schedule synced for account")
		return
	} else if err != nil {
		h.logger.Error("loading schedule", "account_id", r.PathValue("id"), "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	h.writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ws, err := h.svc.SyncNow(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, ws)
	case errors.Is(err, oclient.ErrReconnectRequired), errors.Is(err, oclient.ErrNotConnected):
		h.writeError(w, http.StatusConflict, "reconnect_required")
	case store.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, schedule.ErrNoRemoteSchedule):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("sync failed", "account_id", id, "err", err)
		h.writeError(w, http.StatusBadGateway, "upstream calendar request failed")
	}
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	consent, err := h.svc.BeginConnect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("starting connect", "account_id", r.PathValue("id"), "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to start connect")
		return
	}
	http.Redirect(w, r, consent, http.StatusFound)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	if q.Get("state") == "" || q.Get("code") == "" {
		h.writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}
	accountID, err := h.svc.CompleteConnect(r.Context(), q.Get("state"), q.Get("code"))
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]string{"account_id": accountID, "status": "connected"})
	case errors.Is(err, oclient.ErrInvalidState):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, oclient.ErrAccountMismatch):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("completing connect", "account_id", accountID, "err", err)
		h.writeError(w, http.StatusBadGateway, "failed to complete connect")
	}
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Disconnect(r.Context(), r.PathValue("id"))
	if store.IsNotFound(err) {
		h.writeError(w, http.StatusNotFound, "account not found")
		return
	} else if err != nil {
		h.logger.Error("disconnecting", "account_id", r.PathValue("id"), "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Scrape(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("url")
	if ref == "" {
		h.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	month := h.now()
	if m := q.Get("month"); m != "" {
		parsed, err := time.Parse("2006-01", m)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = parsed
	}
	tz := q.Get("tz")
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			h.writeError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
	}

	res, err := h.svc.Scrape(r.Context(), ref, month, tz)
	var rErr *remote.Error
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, scrape.ErrInvalidReference):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &rErr) && rErr.StatusCode == http.StatusNotFound:
		h.writeError(w, http.StatusNotFound, "scheduling page not found")
	default:
		h.logger.Error("scrape failed", "url", ref, "err", err)
		h.writeError(w, http.StatusBadGateway, "upstream booking page request failed")
	}
}
