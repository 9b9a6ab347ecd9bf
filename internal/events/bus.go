package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/obs"
)

// Event is something that happened in the storefront.
type Event struct {
	Topic       string
	AggregateID string
	Payload     any
}

// Record is an event as persisted and delivered to notifiers.
type Record struct {
	ID          uuid.UUID
	Topic       string
	AggregateID string
	Payload     json.RawMessage
	OccurredAt  time.Time
}

// Decode unmarshals the payload into dst.
func (r Record) Decode(dst any) error {
	return json.Unmarshal(r.Payload, dst)
}

// Emitter is handed to every component that reports activity.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	Insert(ctx context.Context, rec Record) error
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, rec Record) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, rec Record) error

func (f NotifierFunc) Notify(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Bus persists events and fans them out to downstream handlers.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit records the event and dispatches it to all configured notifiers. Notifier failures
// are joined into the returned error after every notifier has run.
func (b *Bus) Emit(ctx context.Context, ev Event) error {
	err := b.emit(ctx, ev)
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.IncVec(obs.EventsEmittedTotal, ev.Topic, result)
	return err
}

func (b *Bus) emit(ctx context.Context, ev Event) error {
	if b == nil || b.Store == nil {
		return errors.New("events: store not configured")
	}
	topic := strings.TrimSpace(ev.Topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	encoded, err := encodePayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	rec := Record{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: strings.TrimSpace(ev.AggregateID),
		Payload:     encoded,
		OccurredAt:  b.now(),
	}
	if err := b.Store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("events: persist event: %w", err)
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, rec); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return joined
}

func (b *Bus) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) error { return nil }

// EmitBestEffort emits ev and logs a failure instead of returning it.
func EmitBestEffort(ctx context.Context, e Emitter, ev Event) {
	if e == nil {
		return
	}
	if err := e.Emit(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", ev.Topic).Str("aggregate_id", ev.AggregateID).Msg("event emission failed")
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return validJSON(v)
	case []byte:
		return validJSON(v)
	default:
		return json.Marshal(v)
	}
}

func validJSON(v []byte) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(v) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), v...), nil
}
