package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteTotal counts pricing quote outcomes.
	QuoteTotal *prometheus.CounterVec
	// DiscountAppliedTotal counts discounts that ended up on a priced cart.
	DiscountAppliedTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout attempts by outcome.
	CheckoutTotal *prometheus.CounterVec
	// CheckoutPriceMismatchTotal counts checkouts whose client-sent totals disagreed with the server.
	CheckoutPriceMismatchTotal prometheus.Counter
	// DiscountConsumeFailures counts codes that could not be marked as used after an order was stored.
	DiscountConsumeFailures prometheus.Counter
	// PaymentIntentTotal counts invoice creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// EventsEmittedTotal counts storefront events by topic and outcome.
	EventsEmittedTotal *prometheus.CounterVec
	// CartReminderTotal counts abandoned cart reminder outcomes.
	CartReminderTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quote_total",
			Help:      "Count of cart pricing quotes by outcome.",
		}, []string{"result"})
		DiscountAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_applied_total",
			Help:      "Count of discounts applied to priced carts.",
		}, []string{"kind", "source"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by outcome.",
		}, []string{"result"})
		CheckoutPriceMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_price_mismatch_total",
			Help:      "Checkouts where the client-computed totals differed from the server calculation.",
		})
		DiscountConsumeFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_consume_failures_total",
			Help:      "Discount codes that could not be marked as used after order creation.",
		})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment invoice creation outcomes.",
		}, []string{"provider", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Count of storefront events by topic and outcome.",
		}, []string{"topic", "result"})
		CartReminderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_reminder_total",
			Help:      "Count of abandoned cart reminder outcomes.",
		}, []string{"result"})

		mustRegisterCollector(reg, QuoteTotal, reuseCounterVec(&QuoteTotal))
		mustRegisterCollector(reg, DiscountAppliedTotal, reuseCounterVec(&DiscountAppliedTotal))
		mustRegisterCollector(reg, CheckoutTotal, reuseCounterVec(&CheckoutTotal))
		mustRegisterCollector(reg, CheckoutPriceMismatchTotal, reuseCounter(&CheckoutPriceMismatchTotal))
		mustRegisterCollector(reg, DiscountConsumeFailures, reuseCounter(&DiscountConsumeFailures))
		mustRegisterCollector(reg, PaymentIntentTotal, reuseCounterVec(&PaymentIntentTotal))
		mustRegisterCollector(reg, PaymentWebhookTotal, reuseCounterVec(&PaymentWebhookTotal))
		mustRegisterCollector(reg, EventsEmittedTotal, reuseCounterVec(&EventsEmittedTotal))
		mustRegisterCollector(reg, CartReminderTotal, reuseCounterVec(&CartReminderTotal))
	})
}

// IncVec increments a labelled counter when metrics are registered.
func IncVec(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// Inc increments a counter when metrics are registered.
func Inc(c prometheus.Counter) {
	if c == nil {
		return
	}
	c.Inc()
}

func reuseCounterVec(dst **prometheus.CounterVec) func(prometheus.Collector) {
	return func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			*dst = v
		}
	}
}

func reuseCounter(dst *prometheus.Counter) func(prometheus.Collector) {
	return func(existing prometheus.Collector) {
		if v, ok := existing.(prometheus.Counter); ok {
			*dst = v
		}
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
