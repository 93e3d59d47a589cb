package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Seann-Moser/availsync/remote"
)

// Kind is the provider's event type tag.
type Kind string

const (
	KindUserUpdated Kind = "user.updated"

	KindInviteeCreated  Kind = "invitee.created"
	KindInviteeCanceled Kind = "invitee.canceled"

	KindEventTypeCreated Kind = "event_type.created"
	KindEventTypeUpdated Kind = "event_type.updated"
	KindEventTypeDeleted Kind = "event_type.deleted"

	KindScheduleCreated Kind = "availability_schedule.created"
	KindScheduleUpdated Kind = "availability_schedule.updated"
	KindScheduleDeleted Kind = "availability_schedule.deleted"

	KindRuleCreated Kind = "availability_rule.created"
	KindRuleUpdated Kind = "availability_rule.updated"
	KindRuleDeleted Kind = "availability_rule.deleted"
)

// ErrUnknownEvent is returned by Decode for kinds with no handler.
var ErrUnknownEvent = errors.New("webhook: unknown event kind")

// Handlers receives one call per decoded event.
type Handlers interface {
	UserUpdated(ctx context.Context, e *UserUpdated) error
	InviteeChanged(ctx context.Context, e *InviteeChanged) error
	EventTypeChanged(ctx context.Context, e *EventTypeChanged) error
	ScheduleChanged(ctx context.Context, e *ScheduleChanged) error
	RuleChanged(ctx context.Context, e *RuleChanged) error
}

// Event is a decoded delivery. The concrete types below are the only
// implementations.
type Event interface {
	Kind() Kind
	dispatch(ctx context.Context, h Handlers) error
}

// Envelope is the outer shape of every delivery. A body without an event
// tag is a connectivity ping.
type Envelope struct {
	Event     Kind            `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
	CreatedBy string          `json:"created_by"`
	Payload   json.RawMessage `json:"payload"`
}

func (e Envelope) IsPing() bool {
	return e.Event == ""
}

type UserUpdated struct {
	kind Kind
	User remote.User
}

// InviteeChanged is a booking made or canceled on the provider side.
type InviteeChanged struct {
	kind      Kind
	URI       string
	Email     string
	Name      string
	Status    string
	Event     string
	CreatedAt time.Time
}

type EventTypeChanged struct {
	kind      Kind
	EventType remote.EventType
}

// Owner is the remote user URI that owns the event type.
func (e *EventTypeChanged) Owner() string {
	return e.EventType.Profile.Owner
}

type ScheduleChanged struct {
	kind     Kind
	Schedule remote.AvailabilitySchedule
}

// RuleChanged carries only the schedule reference; the owning account has
// to be discovered.
type RuleChanged struct {
	kind        Kind
	ScheduleURI string
	Wday        string
	Date        string
}

func (e *UserUpdated) Kind() Kind      { return e.kind }
func (e *InviteeChanged) Kind() Kind   { return e.kind }
func (e *EventTypeChanged) Kind() Kind { return e.kind }
func (e *ScheduleChanged) Kind() Kind  { return e.kind }
func (e *RuleChanged) Kind() Kind      { return e.kind }

func (e *UserUpdated) dispatch(ctx context.Context, h Handlers) error {
	return h.UserUpdated(ctx, e)
}

func (e *InviteeChanged) dispatch(ctx context.Context, h Handlers) error {
	return h.InviteeChanged(ctx, e)
}

func (e *EventTypeChanged) dispatch(ctx context.Context, h Handlers) error {
	return h.EventTypeChanged(ctx, e)
}

func (e *ScheduleChanged) dispatch(ctx context.Context, h Handlers) error {
	return h.ScheduleChanged(ctx, e)
}

func (e *RuleChanged) dispatch(ctx context.Context, h Handlers) error {
	return h.RuleChanged(ctx, e)
}

// decoders maps each kind to a payload decoder.
var decoders = map[Kind]func(k Kind, payload json.RawMessage) (Event, error){
	KindUserUpdated: decodeUser,

	KindInviteeCreated:  decodeInvitee,
	KindInviteeCanceled: decodeInvitee,

	KindEventTypeCreated: decodeEventType,
	KindEventTypeUpdated: decodeEventType,
	KindEventTypeDeleted: decodeEventType,

	KindScheduleCreated: decodeSchedule,
	KindScheduleUpdated: decodeSchedule,
	KindScheduleDeleted: decodeSchedule,

	KindRuleCreated: decodeRule,
	KindRuleUpdated: decodeRule,
	KindRuleDeleted: decodeRule,
}

// Kinds lists every kind Decode understands.
func Kinds() []Kind {
	return []Kind{
		KindUserUpdated,
		KindInviteeCreated, KindInviteeCanceled,
		KindEventTypeCreated, KindEventTypeUpdated, KindEventTypeDeleted,
		KindScheduleCreated, KindScheduleUpdated, KindScheduleDeleted,
		KindRuleCreated, KindRuleUpdated, KindRuleDeleted,
	}
}

// Decode turns an envelope into its typed event.
func Decode(env Envelope) (Event, error) {
	dec, ok := decoders[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	ev, err := dec(env.Event, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: decoding %s payload: %w", env.Event, err)
	}
	return ev, nil
}

// Dispatch routes ev to the matching method of h.
func Dispatch(ctx context.Context, ev Event, h Handlers) error {
	return ev.dispatch(ctx, h)
}

func unmarshalPayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(payload, v)
}

func decodeUser(k Kind, payload json.RawMessage) (Event, error) {
	e := &UserUpdated{kind: k}
	if err := unmarshalPayload(payload, &e.User); err != nil {
		return nil, err
	}
	if e.User.URI == "" {
		return nil, errors.New("missing user uri")
	}
	return e, nil
}

func decodeInvitee(k Kind, payload json.RawMessage) (Event, error) {
	var raw struct {
		URI       string    `json:"uri"`
		Email     string    `json:"email"`
		Name      string    `json:"name"`
		Status    string    `json:"status"`
		Event     string    `json:"event"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := unmarshalPayload(payload, &raw); err != nil {
		return nil, err
	}
	return &InviteeChanged{
		kind:      k,
		URI:       raw.URI,
		Email:     raw.Email,
		Name:      raw.Name,
		Status:    raw.Status,
		Event:     raw.Event,
		CreatedAt: raw.CreatedAt,
	}, nil
}

func decodeEventType(k Kind, payload json.RawMessage) (Event, error) {
	e := &EventTypeChanged{kind: k}
	if err := unmarshalPayload(payload, &e.EventType); err != nil {
		return nil, err
	}
	if e.Owner() == "" {
		return nil, errors.New("missing event type owner")
	}
	return e, nil
}

func decodeSchedule(k Kind, payload json.RawMessage) (Event, error) {
	e := &ScheduleChanged{kind: k}
	if err := unmarshalPayload(payload, &e.Schedule); err != nil {
		return nil, err
	}
	if e.Schedule.User == "" {
		return nil, errors.New("missing schedule user")
	}
	return e, nil
}

func decodeRule(k Kind, payload json.RawMessage) (Event, error) {
	var raw struct {
		Schedule string `json:"availability_schedule"`
		Wday     string `json:"wday"`
		Date     string `json:"date"`
	}
	if err := unmarshalPayload(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Schedule == "" {
		return nil, errors.New("missing availability schedule reference")
	}
	return &RuleChanged{kind: k, ScheduleURI: raw.Schedule, Wday: raw.Wday, Date: raw.Date}, nil
}
