// Package notify sends transactional emails for order lifecycle events.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/events"
)

var orderTemplate = template.Must(template.New("order").Parse(
	`<p>{{.Headline}}</p><p>Order {{.OrderID}}, total Rp{{.Total}}.</p>` +
		`{{if .Discount}}<p>Discount applied: {{.Discount}}</p>{{end}}` +
		`{{if .URL}}<p><a href="{{.URL}}">View your order</a></p>{{end}}`))

// EmailNotifier mails the customer on selected order topics. Topics maps a topic to
// whether it is sent; topics missing from the map use the default set.
type EmailNotifier struct {
	Mail     common.EmailSender
	Enabled  bool
	From     string
	OrderURL string
	Topics   map[string]bool
}

var defaultTopics = map[string]bool{
	events.TopicOrderPaid:      true,
	events.TopicOrderExpired:   true,
	events.TopicOrderCancelled: false,
}

// Notify implements events.Notifier.
func (n EmailNotifier) Notify(ctx context.Context, rec events.Record) error {
	if !n.Enabled || n.Mail == nil || !n.wants(rec.Topic) {
		return nil
	}
	var a events.OrderActivity
	if err := rec.Decode(&a); err != nil {
		return fmt.Errorf("email notify: %w", err)
	}
	if a.Email == "" {
		return nil
	}

	var body bytes.Buffer
	err := orderTemplate.Execute(&body, map[string]any{
		"Headline": headlineFor(rec.Topic),
		"OrderID":  a.OrderID,
		"Total":    a.GrandTotal,
		"Discount": a.DiscountCode,
		"URL":      n.orderLink(a.OrderID),
	})
	if err != nil {
		return fmt.Errorf("email notify: render: %w", err)
	}
	return n.Mail.Send(ctx, common.Email{From: n.From, To: a.Email, Subject: subjectFor(rec.Topic), HTML: body.String()})
}

func (n EmailNotifier) wants(topic string) bool {
	if enabled, ok := n.Topics[topic]; ok {
		return enabled
	}
	return defaultTopics[topic]
}

func (n EmailNotifier) orderLink(id string) string {
	if n.OrderURL == "" || id == "" {
		return ""
	}
	return n.OrderURL + "/" + id
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicOrderPaid:
		return "Payment received"
	case events.TopicOrderExpired:
		return "Your payment link expired"
	case events.TopicOrderCancelled:
		return "Order cancelled"
	default:
		return "Order update"
	}
}

func headlineFor(topic string) string {
	switch topic {
	case events.TopicOrderPaid:
		return "Thanks, we received your payment and are preparing your order."
	case events.TopicOrderExpired:
		return "The invoice for your order expired before it was paid."
	case events.TopicOrderCancelled:
		return "Your order was cancelled."
	default:
		return "Your order was updated."
	}
}
