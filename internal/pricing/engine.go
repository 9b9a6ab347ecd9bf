package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Engine resolves the single discount for a cart against a rule table.
type Engine struct {
	Rules Rules
}

// NewEngine returns an engine for the provided table.
func NewEngine(rules Rules) Engine {
	return Engine{Rules: rules}
}

// Calculate prices a cart with the default rule table.
func Calculate(items []CartItem, user *UserProfile, manual *DiscountRecord) CartCalculation {
	return Engine{Rules: DefaultRules()}.Calculate(items, user, manual)
}

// tally aggregates the quantities and amounts that the rules are evaluated against.
type tally struct {
	subtotal       Money
	bottleSubtotal Money
	bottles        int
	pods           int
}

func count(items []CartItem) tally {
	var t tally
	for _, it := range items {
		line, ok := it.line()
		if !ok || line > maxMoney-t.subtotal {
			continue
		}
		t.subtotal += line
		switch it.ProductType {
		case ProductBottle:
			t.bottleSubtotal += line
			t.bottles += it.Quantity
		case ProductPod:
			t.pods += it.Quantity
		}
	}
	return t
}

func (t tally) base(b Base) Money {
	if b == BaseBottles {
		return t.bottleSubtotal
	}
	return t.subtotal
}

// Calculate computes subtotal, discount and total. A manual discount always takes priority;
// otherwise the first matching automatic rule applies. Business accounts never receive
// automatic discounts. Malformed items are skipped rather than reported.
func (e Engine) Calculate(items []CartItem, user *UserProfile, manual *DiscountRecord) CartCalculation {
	t := count(items)
	if t.subtotal <= 0 {
		return CartCalculation{}
	}

	var (
		amount  Money
		applied *AppliedDiscount
	)
	switch {
	case manual != nil:
		amount, applied = applyManual(t, user, manual)
	case user.IsBusiness():
		// manual codes only
	default:
		amount, applied = e.applyAutomatic(t, user)
	}

	if amount < 0 {
		amount = 0
	}
	if amount > t.subtotal {
		amount = t.subtotal
	}
	if amount == 0 {
		applied = nil
	}
	return CartCalculation{
		Subtotal:        t.subtotal,
		DiscountAmount:  amount,
		Total:           t.subtotal - amount,
		AppliedDiscount: applied,
	}
}

func (e Engine) applyAutomatic(t tally, user *UserProfile) (Money, *AppliedDiscount) {
	for _, rule := range e.Rules.Automatic {
		if !rule.matches(t, user) {
			continue
		}
		base := t.base(rule.Base)
		pct := clampPercent(rule.Percent)
		return percentOf(base, pct), &AppliedDiscount{
			Name:       rule.Name,
			Kind:       rule.Kind,
			Percentage: &pct,
			Base:       rule.Base,
			Automatic:  true,
		}
	}
	return 0, nil
}

func applyManual(t tally, user *UserProfile, d *DiscountRecord) (Money, *AppliedDiscount) {
	baseKind := BaseSubtotal
	if d.Kind == KindReferral && !user.FirstOrder() {
		baseKind = BaseBottles
	}
	base := t.base(baseKind)
	applied := &AppliedDiscount{
		Code: d.Code,
		Name: d.Name,
		Kind: d.Kind,
		Base: baseKind,
	}
	switch {
	case d.Percentage != nil && d.Percentage.IsPositive():
		pct := clampPercent(*d.Percentage)
		applied.Percentage = &pct
		return percentOf(base, pct), applied
	case d.FixedAmount != nil && *d.FixedAmount > 0:
		fixed := *d.FixedAmount
		applied.FixedAmount = &fixed
		amount := fixed
		if amount > base {
			amount = base
		}
		return amount, applied
	default:
		return 0, nil
	}
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// percentOf returns pct% of base rounded half-up to whole rupiah, never above base.
func percentOf(base Money, pct decimal.Decimal) Money {
	if base <= 0 || !pct.IsPositive() {
		return 0
	}
	amount := decimal.NewFromInt(base).Mul(pct).Div(hundred).Round(0).IntPart()
	if amount > base {
		return base
	}
	return amount
}
