package discount

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Consumption describes a discount that ended up on a stored order.
type Consumption struct {
	OrderID       string
	Code          string
	Kind          pricing.DiscountKind
	CustomerEmail string
	OwnerEmail    string
	Amount        pricing.Money
}

// Consumer marks codes as used once an order exists.
type Consumer struct {
	DB db.TxBeginner
}

// Consume records the redemption, marks single-use codes availed and removes the code from
// the customer's available list. Repeated calls for the same order are no-ops.
func (c *Consumer) Consume(ctx context.Context, in Consumption) error {
	if in.OrderID == "" || in.Code == "" {
		return nil
	}
	return db.WithTx(ctx, c.DB, func(tx pgx.Tx) error {
		_, err := consume(ctx, tx, in)
		return err
	})
}
