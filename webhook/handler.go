package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

const maxBodyBytes = 1 << 20

// Delivery outcomes reported in the acknowledgement body.
const (
	StatusProcessed = "processed"
	StatusPing      = "ping"
	StatusRejected  = "rejected"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
	StatusFailed    = "failed"
)

// Ack is the response body for every delivery. The HTTP status is always 200.
type Ack struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
	Event    Kind   `json:"event,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ingress verifies, decodes and routes deliveries.
type Ingress struct {
	verifier *Verifier
	replay   *ReplayGuard
	handlers Handlers
	header   string
	logger   *slog.Logger
}

// NewIngress builds an Ingress. replay may be nil to disable duplicate
// detection; header defaults to DefaultSignatureHeader.
func NewIngress(verifier *Verifier, replay *ReplayGuard, handlers Handlers, header string, logger *slog.Logger) *Ingress {
	if header == "" {
		header = DefaultSignatureHeader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		verifier: verifier,
		replay:   replay,
		handlers: handlers,
		header:   header,
		logger:   logger,
	}
}

// Handle processes one delivery. It never fails; the outcome is in the Ack.
func (in *Ingress) Handle(ctx context.Context, body []byte, signature string) (ack Ack) {
	ack.Received = true
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("webhook handler panicked", "panic", r)
			ack.Status, ack.Error = StatusFailed, "internal error"
		}
	}()

	sig, err := in.verifier.Verify(signature, body)
	if err != nil {
		in.logger.Warn("webhook rejected", "err", err)
		return Ack{Received: true, Status: StatusRejected, Error: err.Error()}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		in.logger.Warn("webhook body is not an event envelope", "err", err)
		return Ack{Received: true, Status: StatusIgnored, Error: "malformed body"}
	}
	if env.IsPing() {
		return Ack{Received: true, Status: StatusPing}
	}
	ack.Event = env.Event

	if in.replay != nil && sig.Digest != "" {
		first, err := in.replay.FirstSeen(ctx, sig.Digest)
		if err != nil {
			in.logger.Error("replay guard unavailable", "err", err)
		} else if !first {
			in.logger.Info("duplicate webhook delivery dropped", "event", env.Event)
			ack.Status = StatusDuplicate
			return ack
		}
	}

	ev, err := Decode(env)
	if errors.Is(err, ErrUnknownEvent) {
		in.logger.Info("unhandled webhook event", "event", env.Event)
		ack.Status = StatusIgnored
		return ack
	} else if err != nil {
		in.logger.Warn("decoding webhook", "event", env.Event, "err", err)
		ack.Status, ack.Error = StatusFailed, err.Error()
		return ack
	}

	if err := Dispatch(ctx, ev, in.handlers); err != nil {
		in.logger.Error("processing webhook", "event", env.Event, "err", err)
		ack.Status, ack.Error = StatusFailed, err.Error()
		return ack
	}
	ack.Status = StatusProcessed
	return ack
}

func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	var ack Ack
	if err != nil {
		in.logger.Warn("reading webhook body", "err", err)
		ack = Ack{Received: true, Status: StatusFailed, Error: "unreadable body"}
	} else {
		ack = in.Handle(r.Context(), body, r.Header.Get(in.header))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
