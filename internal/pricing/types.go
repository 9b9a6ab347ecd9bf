package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a rupiah amount. IDR has no minor unit in practice so values are whole rupiah.
type Money = int64

// ProductType decides which bundle and volume rules an item counts towards.
type ProductType string

const (
	ProductBottle    ProductType = "bottle"
	ProductPod       ProductType = "pod"
	ProductAccessory ProductType = "accessory"
)

// Valid reports whether t is one of the known product types.
func (t ProductType) Valid() bool {
	switch t {
	case ProductBottle, ProductPod, ProductAccessory:
		return true
	default:
		return false
	}
}

// ParseProductType normalises a stored or client supplied product type.
func ParseProductType(value string) ProductType {
	return ProductType(strings.ToLower(strings.TrimSpace(value)))
}

// CartItem is a single cart line. UnitPrice is already resolved for sale or business pricing.
type CartItem struct {
	ProductID   string      `json:"productId,omitempty"`
	ProductType ProductType `json:"productType"`
	UnitPrice   Money       `json:"unitPrice"`
	Quantity    int         `json:"quantity"`
	LineTotal   Money       `json:"lineTotal"`
}

// Normalized returns a copy of the item with LineTotal recomputed from price and quantity.
func (it CartItem) Normalized() CartItem {
	if line, ok := it.line(); ok {
		it.LineTotal = line
	}
	return it
}

// line returns UnitPrice*Quantity and whether the item is usable for pricing at all.
func (it CartItem) line() (Money, bool) {
	if it.Quantity <= 0 || it.UnitPrice < 0 || !it.ProductType.Valid() {
		return 0, false
	}
	qty := Money(it.Quantity)
	if it.UnitPrice > 0 && qty > maxMoney/it.UnitPrice {
		return 0, false
	}
	return it.UnitPrice * qty, true
}

const maxMoney = Money(^uint64(0) >> 1)

// AccountType distinguishes retail customers from business (reseller) accounts.
type AccountType string

const (
	AccountIndividual AccountType = "individual"
	AccountBusiness   AccountType = "business"
)

// ParseAccountType maps stored values onto AccountType, defaulting to individual.
func ParseAccountType(value string) AccountType {
	if strings.EqualFold(strings.TrimSpace(value), string(AccountBusiness)) {
		return AccountBusiness
	}
	return AccountIndividual
}

// UserProfile holds the subset of the customer record that affects pricing.
// A nil *UserProfile means a guest.
type UserProfile struct {
	Email           string      `json:"email,omitempty"`
	AccountType     AccountType `json:"accountType"`
	PriorOrderCount int         `json:"priorOrderCount"`
	LifetimeSpend   Money       `json:"lifetimeSpend"`
}

// IsBusiness reports whether the profile belongs to a business account. Safe on nil.
func (u *UserProfile) IsBusiness() bool {
	return u != nil && u.AccountType == AccountBusiness
}

// FirstOrder reports whether the profile is known to have no prior orders. Guests never qualify.
func (u *UserProfile) FirstOrder() bool {
	return u != nil && u.PriorOrderCount == 0
}

// DiscountKind classifies a discount for display and for consumption bookkeeping.
type DiscountKind string

const (
	KindFirstOrder DiscountKind = "first-order"
	KindReferral   DiscountKind = "referral"
	KindBundle     DiscountKind = "bundle"
	KindVolume     DiscountKind = "volume"
	KindTest       DiscountKind = "test"
	KindCustom     DiscountKind = "custom"
)

// ParseDiscountKind normalises a stored kind, falling back to custom.
func ParseDiscountKind(value string) DiscountKind {
	kind := DiscountKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case KindFirstOrder, KindReferral, KindBundle, KindVolume, KindTest, KindCustom:
		return kind
	default:
		return KindCustom
	}
}

// DiscountRecord is a resolved, manually applied discount code.
// Percentage and FixedAmount are mutually exclusive; when both are set the percentage is used.
type DiscountRecord struct {
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount *Money           `json:"fixedAmount,omitempty"`
	Kind        DiscountKind     `json:"kind"`
	OwnerEmail  string           `json:"ownerEmail,omitempty"`
}

// Base names the amount a discount was computed against.
type Base string

const (
	BaseSubtotal Base = "subtotal"
	BaseBottles  Base = "bottles"
)

// AppliedDiscount describes the single discount on a calculation for receipts and display.
type AppliedDiscount struct {
	Code        string           `json:"code,omitempty"`
	Name        string           `json:"name"`
	Kind        DiscountKind     `json:"kind"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount *Money           `json:"fixedAmount,omitempty"`
	Base        Base             `json:"base"`
	Automatic   bool             `json:"automatic"`
}

// CartCalculation is the engine output. At most one discount is applied per order.
type CartCalculation struct {
	Subtotal        Money            `json:"subtotal"`
	DiscountAmount  Money            `json:"discountAmount"`
	Total           Money            `json:"total"`
	AppliedDiscount *AppliedDiscount `json:"appliedDiscount"`
}

// Payable composes a calculation with shipping into the amount charged to the customer.
type Payable struct {
	CartCalculation
	ShippingCost Money `json:"shippingCost"`
	GrandTotal   Money `json:"grandTotal"`
}

// WithShipping adds a non-negative shipping cost to the calculation total.
func WithShipping(calc CartCalculation, shipping Money) Payable {
	if shipping < 0 {
		shipping = 0
	}
	grand := calc.Total
	if grand < 0 {
		grand = 0
	}
	if shipping > maxMoney-grand {
		grand = maxMoney
	} else {
		grand += shipping
	}
	return Payable{CartCalculation: calc, ShippingCost: shipping, GrandTotal: grand}
}
