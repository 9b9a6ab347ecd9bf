package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
	"github.com/noah-isme/backend-vape/internal/user"
)

// CodeStore is the read side of Store.
type CodeStore interface {
	GetByCode(ctx context.Context, code string) (Record, error)
	HasReferralRedemption(ctx context.Context, email string) (bool, error)
}

// ReferralFinder looks up referral code owners.
type ReferralFinder interface {
	FindByReferralCode(ctx context.Context, code string) (user.Referrer, error)
}

// Resolver turns a code typed by a customer into the single manual discount for a cart.
type Resolver struct {
	Codes           CodeStore
	Referrals       ReferralFinder
	ReferralPercent decimal.Decimal
	Now             func() time.Time
}

// Resolve looks code up for the customer identified by email (empty for guests).
// Stored codes win over referral codes with the same text. Every rejection is an
// INVALID_CODE AppError; storage failures are returned unwrapped.
func (r *Resolver) Resolve(ctx context.Context, code, email string) (*pricing.DiscountRecord, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, invalid(ErrUnknown)
	}
	email = common.NormalizeEmail(email)

	rec, err := r.Codes.GetByCode(ctx, normalized)
	switch {
	case err == nil:
		if reason := rec.Check(r.now(), email); reason != nil {
			return nil, invalid(reason)
		}
		return rec.Pricing(), nil
	case !errors.Is(err, ErrUnknown):
		return nil, err
	}

	return r.resolveReferral(ctx, normalized, email)
}

func (r *Resolver) resolveReferral(ctx context.Context, code, email string) (*pricing.DiscountRecord, error) {
	if r.Referrals == nil || !r.ReferralPercent.IsPositive() {
		return nil, invalid(ErrUnknown)
	}
	referrer, err := r.Referrals.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, invalid(ErrUnknown)
		}
		return nil, err
	}
	if email != "" {
		if strings.EqualFold(referrer.Email, email) {
			return nil, invalid(ErrSelfReferral)
		}
		used, err := r.Codes.HasReferralRedemption(ctx, email)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, invalid(ErrRepeatReferral)
		}
	}
	pct := r.ReferralPercent
	name := "Referral discount"
	if referrer.Name != "" {
		name = fmt.Sprintf("Referral from %s", referrer.Name)
	}
	return &pricing.DiscountRecord{
		Code:       code,
		Name:       name,
		Percentage: &pct,
		Kind:       pricing.KindReferral,
		OwnerEmail: referrer.Email,
	}, nil
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
