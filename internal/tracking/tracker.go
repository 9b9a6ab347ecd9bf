// Package tracking follows carts reported by the storefront and schedules a reminder for
// carts that are left without an order.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// TaskCartAbandoned is the asynq task type processed by the worker.
const TaskCartAbandoned = "cart:abandoned"

// ErrSessionNotFound is returned when a session expired or was never tracked.
var ErrSessionNotFound = errors.New("tracking: session not found")

// Session is the last known state of a customer's cart.
type Session struct {
	SessionID string            `json:"sessionId"`
	Email     string            `json:"email"`
	Items     []events.CartLine `json:"items"`
	Subtotal  pricing.Money     `json:"subtotal,omitempty"`
	Total     pricing.Money     `json:"total,omitempty"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Converted bool              `json:"converted"`
	Reminded  bool              `json:"reminded"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type reminderPayload struct {
	SessionID string `json:"sessionId"`
	Version   int64  `json:"version"`
}

// Tracker is an events.Notifier that keeps cart snapshots in Redis.
type Tracker struct {
	Redis redis.Cmdable
	Tasks Enqueuer
	Delay time.Duration
	TTL   time.Duration
	Now   func() time.Time
}

// Notify implements events.Notifier.
func (t *Tracker) Notify(ctx context.Context, rec events.Record) error {
	switch rec.Topic {
	case events.TopicCartUpdated, events.TopicCheckoutStarted:
		var a events.CartActivity
		if err := rec.Decode(&a); err != nil {
			return fmt.Errorf("tracking: decode %s: %w", rec.Topic, err)
		}
		return t.touch(ctx, a)
	case events.TopicOrderCreated:
		var o events.OrderActivity
		if err := rec.Decode(&o); err != nil {
			return fmt.Errorf("tracking: decode %s: %w", rec.Topic, err)
		}
		return t.convert(ctx, o)
	default:
		return nil
	}
}

// touch stores the newest snapshot and schedules a reminder for this version. Older
// reminders see a newer version and skip, so only the last idle period triggers an email.
func (t *Tracker) touch(ctx context.Context, a events.CartActivity) error {
	email := common.NormalizeEmail(a.Email)
	if a.SessionID == "" || email == "" {
		return nil
	}
	prev, err := t.Load(ctx, a.SessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if prev.Converted {
		return nil
	}
	version, err := t.Redis.Incr(ctx, versionKey(a.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("tracking: bump version: %w", err)
	}
	_ = t.Redis.Expire(ctx, versionKey(a.SessionID), t.ttl()).Err()

	s := Session{
		SessionID: a.SessionID,
		Email:     email,
		Items:     a.Items,
		Subtotal:  a.Subtotal,
		Total:     a.Total,
		Version:   version,
		UpdatedAt: t.now(),
		Reminded:  prev.Reminded,
	}
	if err := t.save(ctx, s); err != nil {
		return err
	}
	if err := t.Redis.Set(ctx, emailKey(email), a.SessionID, t.ttl()).Err(); err != nil {
		return fmt.Errorf("tracking: index session: %w", err)
	}
	if len(s.Items) == 0 || s.Reminded || t.Tasks == nil {
		return nil
	}

	payload, err := json.Marshal(reminderPayload{SessionID: s.SessionID, Version: version})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskCartAbandoned, payload)
	_, err = t.Tasks.EnqueueContext(ctx, task,
		asynq.ProcessIn(t.Delay),
		asynq.TaskID(s.SessionID+":"+strconv.FormatInt(version, 10)),
		asynq.MaxRetry(3),
		asynq.Retention(time.Hour),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("tracking: schedule reminder: %w", err)
	}
	return nil
}

func (t *Tracker) convert(ctx context.Context, o events.OrderActivity) error {
	sessionID := o.SessionID
	if sessionID == "" && o.Email != "" {
		id, err := t.Redis.Get(ctx, emailKey(common.NormalizeEmail(o.Email))).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tracking: find session: %w", err)
		}
		sessionID = id
	}
	if sessionID == "" {
		return nil
	}
	s, err := t.Load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Converted = true
	return t.save(ctx, s)
}

// Load returns the stored snapshot for sessionID.
func (t *Tracker) Load(ctx context.Context, sessionID string) (Session, error) {
	raw, err := t.Redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("tracking: load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("tracking: decode session: %w", err)
	}
	return s, nil
}

// MarkReminded records that the reminder for sessionID went out.
func (t *Tracker) MarkReminded(ctx context.Context, s Session) error {
	s.Reminded = true
	return t.save(ctx, s)
}

func (t *Tracker) save(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := t.Redis.Set(ctx, sessionKey(s.SessionID), raw, t.ttl()).Err(); err != nil {
		return fmt.Errorf("tracking: save session: %w", err)
	}
	return nil
}

func (t *Tracker) ttl() time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	return 7 * 24 * time.Hour
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func sessionKey(id string) string  { return "cart:session:" + id }
func versionKey(id string) string  { return "cart:session:" + id + ":v" }
func emailKey(email string) string { return "cart:email:" + common.EmailHash(email) }
