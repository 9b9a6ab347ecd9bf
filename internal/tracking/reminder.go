package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/obs"
)

var reminderTemplate = template.Must(template.New("reminder").Parse(
	`<p>You left {{.Count}} item(s) in your cart{{if .Total}} worth Rp{{.Total}}{{end}}.</p>` +
		`{{if .URL}}<p><a href="{{.URL}}">Finish your order</a></p>{{end}}`))

// Reminder processes cart:abandoned tasks.
type Reminder struct {
	Sessions *Tracker
	Mail     common.EmailSender
	From     string
	CartURL  string
	Log      zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (r *Reminder) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var p reminderPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		obs.IncVec(obs.CartReminderTotal, "invalid")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	s, err := r.Sessions.Load(ctx, p.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		obs.IncVec(obs.CartReminderTotal, "expired")
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case s.Converted:
		obs.IncVec(obs.CartReminderTotal, "converted")
		return nil
	case s.Reminded:
		obs.IncVec(obs.CartReminderTotal, "already_sent")
		return nil
	case s.Version != p.Version:
		obs.IncVec(obs.CartReminderTotal, "superseded")
		return nil
	}

	count := 0
	for _, it := range s.Items {
		count += it.Quantity
	}
	var body bytes.Buffer
	if err := reminderTemplate.Execute(&body, map[string]any{"Count": count, "Total": s.Total, "URL": r.CartURL}); err != nil {
		return fmt.Errorf("%w: render reminder: %v", asynq.SkipRetry, err)
	}
	if err := r.Mail.Send(ctx, common.Email{From: r.From, To: s.Email, Subject: "Your cart is waiting", HTML: body.String()}); err != nil {
		obs.IncVec(obs.CartReminderTotal, "error")
		return fmt.Errorf("send reminder: %w", err)
	}
	if err := r.Sessions.MarkReminded(ctx, s); err != nil {
		r.Log.Warn().Err(err).Str("session_id", s.SessionID).Msg("reminder sent but not recorded")
	}
	obs.IncVec(obs.CartReminderTotal, "sent")
	r.Log.Info().Str("session_id", s.SessionID).Str("customer", common.EmailHash(s.Email)).Msg("cart reminder sent")
	return nil
}
