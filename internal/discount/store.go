package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

const (
	getByCodeSQL = `SELECT code, name, percentage, fixed_amount, kind, COALESCE(owner_email, ''),
		COALESCE(scope_email, ''), single_use, availed, active, valid_from, valid_to
		FROM discount_codes WHERE upper(code) = $1`

	hasReferralRedemptionSQL = `SELECT EXISTS (SELECT 1 FROM discount_redemptions
		WHERE lower(customer_email) = lower($1) AND kind = 'referral')`

	insertRedemptionSQL = `INSERT INTO discount_redemptions (order_id, code, kind, customer_email, owner_email, amount)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (order_id) DO NOTHING`

	markAvailedSQL = `UPDATE discount_codes SET availed = TRUE
		WHERE upper(code) = $1 AND single_use AND NOT availed`

	removeAvailableSQL = `UPDATE users SET available_discount_codes = array_remove(available_discount_codes, $2),
		updated_at = now()
		WHERE lower(email) = lower($1) AND $2 = ANY (available_discount_codes)`
)

// Store reads and updates discount codes in Postgres.
type Store struct {
	db db.DBTX
}

// NewStore returns a Store over the given connection.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// GetByCode returns the record for a normalised code, or ErrUnknown.
func (s *Store) GetByCode(ctx context.Context, code string) (Record, error) {
	var (
		r        Record
		pct      decimal.NullDecimal
		fixed    *int64
		kind     string
		from, to *time.Time
	)
	err := s.db.QueryRow(ctx, getByCodeSQL, code).Scan(
		&r.Code, &r.Name, &pct, &fixed, &kind, &r.OwnerEmail,
		&r.ScopeEmail, &r.SingleUse, &r.Availed, &r.Active, &from, &to,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return Record{}, ErrUnknown
		}
		return Record{}, fmt.Errorf("get discount %q: %w", code, err)
	}
	if pct.Valid {
		p := pct.Decimal
		r.Percentage = &p
	}
	if fixed != nil {
		f := pricing.Money(*fixed)
		r.FixedAmount = &f
	}
	r.Kind = pricing.ParseDiscountKind(kind)
	r.ValidFrom, r.ValidTo = from, to
	return r, nil
}

// HasReferralRedemption reports whether email already used any referral code.
func (s *Store) HasReferralRedemption(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, hasReferralRedemptionSQL, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check referral redemption: %w", err)
	}
	return exists, nil
}

// consume applies one redemption inside tx. It reports false when the order was already recorded.
func consume(ctx context.Context, tx pgx.Tx, c Consumption) (bool, error) {
	tag, err := tx.Exec(ctx, insertRedemptionSQL, c.OrderID, c.Code, string(c.Kind), c.CustomerEmail, c.OwnerEmail, c.Amount)
	if err != nil {
		return false, fmt.Errorf("record redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, markAvailedSQL, NormalizeCode(c.Code)); err != nil {
		return false, fmt.Errorf("mark availed: %w", err)
	}
	if c.CustomerEmail != "" {
		if _, err := tx.Exec(ctx, removeAvailableSQL, c.CustomerEmail, c.Code); err != nil {
			return false, fmt.Errorf("remove available code: %w", err)
		}
	}
	return true, nil
}
