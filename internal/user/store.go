package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// ErrNotFound is returned when no user matches.
var ErrNotFound = errors.New("user: not found")

// Referrer is the owner of a referral code.
type Referrer struct {
	Email string
	Name  string
	Code  string
}

const (
	// Expired and cancelled orders never completed, so they do not spend the first-order discount.
	getProfileSQL = `SELECT u.email, u.account_type, u.lifetime_spend,
		(SELECT count(*) FROM orders o
			WHERE lower(o.customer_email) = lower(u.email)
			AND o.status NOT IN ('CANCELLED', 'EXPIRED'))
		FROM users u WHERE lower(u.email) = lower($1)`

	addLifetimeSpendSQL = `UPDATE users SET lifetime_spend = lifetime_spend + $2, updated_at = now()
		WHERE lower(email) = lower($1)`

	findByReferralCodeSQL = `SELECT email, COALESCE(name, ''), referral_code
		FROM users WHERE upper(referral_code) = upper($1)`
)

// Store reads and updates the pricing-relevant columns of users.
type Store struct {
	db db.DBTX
}

// NewStore returns a Store over the given connection.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// GetProfile loads the pricing profile for email.
func (s *Store) GetProfile(ctx context.Context, email string) (pricing.UserProfile, error) {
	var (
		p       pricing.UserProfile
		account string
		orders  int64
	)
	err := s.db.QueryRow(ctx, getProfileSQL, email).Scan(&p.Email, &account, &p.LifetimeSpend, &orders)
	if err != nil {
		if db.IsNoRows(err) {
			return pricing.UserProfile{}, ErrNotFound
		}
		return pricing.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}
	p.AccountType = pricing.ParseAccountType(account)
	p.PriorOrderCount = int(orders)
	return p, nil
}

// AddLifetimeSpend adds amount to the user's lifetime spend. Guest emails without a user row
// are ignored.
func (s *Store) AddLifetimeSpend(ctx context.Context, email string, amount pricing.Money) error {
	if amount <= 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, addLifetimeSpendSQL, email, amount); err != nil {
		return fmt.Errorf("add lifetime spend: %w", err)
	}
	return nil
}

// FindByReferralCode returns the user owning code.
func (s *Store) FindByReferralCode(ctx context.Context, code string) (Referrer, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Referrer{}, ErrNotFound
	}
	var r Referrer
	if err := s.db.QueryRow(ctx, findByReferralCodeSQL, code).Scan(&r.Email, &r.Name, &r.Code); err != nil {
		if db.IsNoRows(err) {
			return Referrer{}, ErrNotFound
		}
		return Referrer{}, fmt.Errorf("find referral code: %w", err)
	}
	return r, nil
}
