package catalog

import (
	"net/http"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Product is the trusted catalog record prices are resolved from.
type Product struct {
	ID            string              `json:"id"`
	Slug          string              `json:"slug"`
	Name          string              `json:"name"`
	Type          pricing.ProductType `json:"type"`
	Price         pricing.Money       `json:"price"`
	SalePrice     pricing.Money       `json:"salePrice,omitempty"`
	BusinessPrice pricing.Money       `json:"businessPrice,omitempty"`
	Active        bool                `json:"active"`
}

// ResolveUnitPrice picks the price a customer pays for one unit: the business price for
// business accounts when set, otherwise a sale price below list, otherwise the list price.
func ResolveUnitPrice(p Product, account pricing.AccountType) pricing.Money {
	if account == pricing.AccountBusiness && p.BusinessPrice > 0 {
		return p.BusinessPrice
	}
	if p.SalePrice > 0 && p.SalePrice < p.Price {
		return p.SalePrice
	}
	return p.Price
}

// Line is one requested cart entry. Clients send product ids and quantities, never prices.
type Line struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
}

// ErrUnknownProduct rejects carts that reference missing or inactive products.
var ErrUnknownProduct = common.NewAppError("UNKNOWN_PRODUCT", "cart contains unknown products", http.StatusUnprocessableEntity, nil)
