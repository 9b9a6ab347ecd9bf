package discount

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

var (
	// ErrInvalidCode is the only rejection customers see.
	ErrInvalidCode = errors.New("discount: invalid code")

	ErrUnknown        = errors.New("discount: unknown code")
	ErrInactive       = errors.New("discount: code inactive")
	ErrNotYetValid    = errors.New("discount: code not yet valid")
	ErrExpired        = errors.New("discount: code expired")
	ErrAvailed        = errors.New("discount: code already used")
	ErrWrongCustomer  = errors.New("discount: code belongs to another customer")
	ErrSelfReferral   = errors.New("discount: own referral code")
	ErrRepeatReferral = errors.New("discount: referral already redeemed")
	ErrNoMagnitude    = errors.New("discount: code has no amount")
)

// invalid hides the precise reason from callers while keeping it on the error chain for logs.
func invalid(reason error) error {
	return common.Unprocessable("INVALID_CODE", "invalid code", fmt.Errorf("%w: %w", ErrInvalidCode, reason))
}

// Record is a stored discount code row.
type Record struct {
	Code        string
	Name        string
	Percentage  *decimal.Decimal
	FixedAmount *pricing.Money
	Kind        pricing.DiscountKind
	OwnerEmail  string
	ScopeEmail  string
	SingleUse   bool
	Availed     bool
	Active      bool
	ValidFrom   *time.Time
	ValidTo     *time.Time
}

// Check reports why the record cannot be used by email at now, or nil.
func (r Record) Check(now time.Time, email string) error {
	switch {
	case !r.Active:
		return ErrInactive
	case r.ValidFrom != nil && now.Before(*r.ValidFrom):
		return ErrNotYetValid
	case r.ValidTo != nil && now.After(*r.ValidTo):
		return ErrExpired
	case r.Availed:
		return ErrAvailed
	case r.ScopeEmail != "" && !strings.EqualFold(r.ScopeEmail, email):
		return ErrWrongCustomer
	case !hasMagnitude(r.Percentage, r.FixedAmount):
		return ErrNoMagnitude
	}
	return nil
}

// Pricing converts the row into the engine's discount record.
func (r Record) Pricing() *pricing.DiscountRecord {
	return &pricing.DiscountRecord{
		Code:        r.Code,
		Name:        r.Name,
		Percentage:  r.Percentage,
		FixedAmount: r.FixedAmount,
		Kind:        r.Kind,
		OwnerEmail:  r.OwnerEmail,
	}
}

func hasMagnitude(pct *decimal.Decimal, fixed *pricing.Money) bool {
	return (pct != nil && pct.IsPositive()) || (fixed != nil && *fixed > 0)
}

// NormalizeCode trims and upper-cases a code as typed by a customer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Descriptor is the customer-facing description of a resolved code.
type Descriptor struct {
	Code        string               `json:"code"`
	Name        string               `json:"name"`
	Kind        pricing.DiscountKind `json:"kind"`
	Percentage  *decimal.Decimal     `json:"percentage,omitempty"`
	FixedAmount *pricing.Money       `json:"fixedAmount,omitempty"`
}

// Describe builds the descriptor for d.
func Describe(d *pricing.DiscountRecord) Descriptor {
	return Descriptor{Code: d.Code, Name: d.Name, Kind: d.Kind, Percentage: d.Percentage, FixedAmount: d.FixedAmount}
}

