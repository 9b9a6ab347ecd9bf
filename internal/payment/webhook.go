package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/obs"
	"github.com/noah-isme/backend-vape/internal/order"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// OrderSettler is the part of the order store the webhook needs.
type OrderSettler interface {
	Get(ctx context.Context, id string) (order.Order, error)
	GetByInvoice(ctx context.Context, invoiceID string) (order.Order, error)
	MarkPaid(ctx context.Context, id string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
}

// SpendRecorder accumulates paid order value on the customer record.
type SpendRecorder interface {
	AddLifetimeSpend(ctx context.Context, email string, amount pricing.Money) error
}

// Webhook handles invoice callbacks.
type Webhook struct {
	Provider  Provider
	Orders    OrderSettler
	Spend     SpendRecorder
	Events    events.Emitter
	Replay    redis.Cmdable
	ReplayTTL time.Duration
	MaxBody   int64
	Now       func() time.Time
}

// Handle verifies and applies a callback. Duplicate deliveries are acknowledged without
// being applied again; a failed delivery releases its replay key so the provider's retry
// is processed.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	provider := h.Provider.Name()
	log := zerolog.Ctx(r.Context())
	maxBody := h.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		obs.IncVec(obs.PaymentWebhookTotal, provider, "bad_request")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	result, err := h.Provider.VerifyCallback(r, body)
	if err != nil {
		obs.IncVec(obs.PaymentWebhookTotal, provider, "unauthorized")
		log.Warn().Err(err).Str("provider", provider).Msg("payment callback rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_CALLBACK", "callback verification failed", nil)
		return
	}

	replayKey := fmt.Sprintf("wh:%s:%s", provider, common.Sha256Hex(string(body)))
	if h.Replay != nil && h.ReplayTTL > 0 {
		fresh, err := h.Replay.SetNX(r.Context(), replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			log.Warn().Err(err).Msg("webhook replay store unavailable")
		} else if !fresh {
			obs.IncVec(obs.PaymentWebhookTotal, provider, "duplicate")
			common.Data(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
	}

	status, err := h.apply(r.Context(), result)
	if err != nil {
		if h.Replay != nil {
			if delErr := h.Replay.Del(context.WithoutCancel(r.Context()), replayKey).Err(); delErr != nil {
				log.Warn().Err(delErr).Str("invoice_id", result.InvoiceID).Msg("release webhook replay key")
			}
		}
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			obs.IncVec(obs.PaymentWebhookTotal, provider, "rejected")
		} else {
			obs.IncVec(obs.PaymentWebhookTotal, provider, "error")
			log.Error().Err(err).Str("invoice_id", result.InvoiceID).Msg("apply payment callback")
		}
		common.WriteError(w, err)
		return
	}
	obs.IncVec(obs.PaymentWebhookTotal, provider, status)
	common.Data(w, http.StatusOK, map[string]any{"status": status})
}

func (h Webhook) apply(ctx context.Context, result CallbackResult) (string, error) {
	o, err := h.lookup(ctx, result)
	if err != nil {
		return "", err
	}
	switch result.Status {
	case StatusPaid:
		if result.Amount > 0 && result.Amount != o.GrandTotal {
			return "", common.NewAppError("AMOUNT_MISMATCH", "paid amount does not match order", http.StatusBadRequest,
				fmt.Errorf("order %s: paid %d, expected %d", o.ID, result.Amount, o.GrandTotal))
		}
		paidAt := result.PaidAt
		if paidAt.IsZero() {
			paidAt = h.now()
		}
		changed, err := h.Orders.MarkPaid(ctx, o.ID, paidAt)
		if err != nil {
			return "", err
		}
		if !changed {
			return "ignored", nil
		}
		if h.Spend != nil {
			if err := h.Spend.AddLifetimeSpend(ctx, o.CustomerEmail, o.TotalPrice); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Msg("lifetime spend not updated")
			}
		}
		events.EmitBestEffort(ctx, h.Events, events.Event{Topic: events.TopicOrderPaid, AggregateID: o.ID, Payload: o.Activity()})
		return "paid", nil
	case StatusExpired:
		changed, err := h.Orders.MarkExpired(ctx, o.ID)
		if err != nil {
			return "", err
		}
		if !changed {
			return "ignored", nil
		}
		events.EmitBestEffort(ctx, h.Events, events.Event{Topic: events.TopicOrderExpired, AggregateID: o.ID, Payload: o.Activity()})
		return "expired", nil
	default:
		return "pending", nil
	}
}

func (h Webhook) lookup(ctx context.Context, result CallbackResult) (order.Order, error) {
	var (
		o   order.Order
		err = order.ErrNotFound
	)
	if result.InvoiceID != "" {
		o, err = h.Orders.GetByInvoice(ctx, result.InvoiceID)
	}
	if errors.Is(err, order.ErrNotFound) && result.OrderID != "" {
		o, err = h.Orders.Get(ctx, result.OrderID)
	}
	if errors.Is(err, order.ErrNotFound) {
		return order.Order{}, common.NotFound("order not found", err)
	}
	return o, err
}

func (h Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

