package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// ErrNotFound is returned when no order matches.
var ErrNotFound = errors.New("order: not found")

const orderColumns = `id::text, customer_email, authenticated, status, currency, sub_total, discount_amount,
	COALESCE(discount_code, ''), COALESCE(discount_name, ''), COALESCE(discount_kind, ''),
	total_price, shipping_cost, grand_total, COALESCE(shipping_courier, ''), COALESCE(shipping_service, ''),
	shipping_address, COALESCE(notes, ''), COALESCE(invoice_id, ''), COALESCE(invoice_url, ''), paid_at, created_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_email, authenticated, status, currency, sub_total,
		discount_amount, discount_code, discount_name, discount_kind, total_price, shipping_cost, grand_total,
		shipping_courier, shipping_service, shipping_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13,
		NULLIF($14, ''), NULLIF($15, ''), $16, NULLIF($17, ''))
		RETURNING created_at`

	insertItemSQL = `INSERT INTO order_items (order_id, product_id, product_name, product_type, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	attachInvoiceSQL = `UPDATE orders SET invoice_id = $2, invoice_url = $3, updated_at = now() WHERE id = $1`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByInvoiceSQL = `SELECT ` + orderColumns + ` FROM orders WHERE invoice_id = $1`

	listItemsSQL = `SELECT product_id, product_name, product_type, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`

	countByEmailSQL = `SELECT count(*) FROM orders WHERE lower(customer_email) = lower($1)`

	listByEmailSQL = `SELECT ` + orderColumns + ` FROM orders WHERE lower(customer_email) = lower($1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	markPaidSQL = `UPDATE orders SET status = 'PAID', paid_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING_PAYMENT'`

	transitionSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING_PAYMENT'`
)

// Store persists orders in Postgres.
type Store struct {
	db db.DBTX
}

// NewStore returns a Store over the given connection.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Create inserts o and its items using q, which is normally a transaction. A missing ID is
// generated and written back to o.
func (s *Store) Create(ctx context.Context, q db.DBTX, o *Order) error {
	if q == nil {
		q = s.db
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = StatusPendingPayment
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	err = q.QueryRow(ctx, insertOrderSQL,
		o.ID, o.CustomerEmail, o.Authenticated, string(o.Status), o.Currency, o.SubTotal,
		o.DiscountAmount, o.DiscountCode, o.DiscountName, o.DiscountKind, o.TotalPrice, o.ShippingCost, o.GrandTotal,
		o.ShippingCourier, o.ShippingService, address, o.Notes,
	).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for _, it := range o.Items {
		if _, err := q.Exec(ctx, insertItemSQL, o.ID, it.ProductID, it.ProductName, string(it.ProductType),
			it.UnitPrice, it.Quantity, it.LineTotal); err != nil {
			return fmt.Errorf("insert order item %s: %w", it.ProductID, err)
		}
	}
	return nil
}

// AttachInvoice stores the payment provider's invoice reference.
func (s *Store) AttachInvoice(ctx context.Context, id, invoiceID, invoiceURL string) error {
	tag, err := s.db.Exec(ctx, attachInvoiceSQL, id, invoiceID, invoiceURL)
	if err != nil {
		return fmt.Errorf("attach invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads an order with its items.
func (s *Store) Get(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	return s.getOne(ctx, getOrderSQL, id)
}

// GetByInvoice loads the order paid by invoiceID.
func (s *Store) GetByInvoice(ctx context.Context, invoiceID string) (Order, error) {
	return s.getOne(ctx, getOrderByInvoiceSQL, invoiceID)
}

func (s *Store) getOne(ctx context.Context, query, arg string) (Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	if o.Items, err = s.items(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListByEmail returns a page of the customer's orders, newest first, without items.
func (s *Store) ListByEmail(ctx context.Context, email string, page common.Pagination) ([]Order, int, error) {
	var total int64
	if err := s.db.QueryRow(ctx, countByEmailSQL, email).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.db.Query(ctx, listByEmailSQL, email, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	orders := make([]Order, 0, page.PerPage)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, int(total), nil
}

// MarkPaid moves a pending order to PAID. It reports false when the order was not pending,
// which makes repeated payment callbacks harmless.
func (s *Store) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, markPaidSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpired moves a pending order to EXPIRED.
func (s *Store) MarkExpired(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, StatusExpired)
}

// MarkCancelled moves a pending order to CANCELLED.
func (s *Store) MarkCancelled(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Store) transition(ctx context.Context, id string, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, transitionSQL, id, string(to))
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := s.db.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			it    Item
			ptype string
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &ptype, &it.UnitPrice, &it.Quantity, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.ProductType = pricing.ParseProductType(ptype)
		items = append(items, it)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (Order, error) {
	var (
		o       Order
		status  string
		address []byte
	)
	err := row.Scan(&o.ID, &o.CustomerEmail, &o.Authenticated, &status, &o.Currency, &o.SubTotal, &o.DiscountAmount,
		&o.DiscountCode, &o.DiscountName, &o.DiscountKind,
		&o.TotalPrice, &o.ShippingCost, &o.GrandTotal, &o.ShippingCourier, &o.ShippingService,
		&address, &o.Notes, &o.InvoiceID, &o.InvoiceURL, &o.PaidAt, &o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
			return Order{}, fmt.Errorf("decode address: %w", err)
		}
	}
	return o, nil
}
