package catalog

import (
	"context"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Service turns requested cart lines into priced engine items using trusted catalog data.
type Service struct {
	products Reader
}

// NewService constructs a Service.
func NewService(products Reader) *Service {
	return &Service{products: products}
}

// BuildCart resolves every line against the catalog. Repeated product ids are merged.
// Missing, inactive or untyped products fail the whole cart with ErrUnknownProduct.
func (s *Service) BuildCart(ctx context.Context, lines []Line, account pricing.AccountType) ([]pricing.CartItem, error) {
	order := make([]string, 0, len(lines))
	qty := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if _, seen := qty[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	if len(order) == 0 {
		return []pricing.CartItem{}, nil
	}

	products, err := s.products.GetByIDs(ctx, order)
	if err != nil {
		return nil, err
	}

	items := make([]pricing.CartItem, 0, len(order))
	var unknown []string
	for _, id := range order {
		p, ok := products[id]
		if !ok || !p.Active || !p.Type.Valid() {
			unknown = append(unknown, id)
			continue
		}
		unit := ResolveUnitPrice(p, account)
		items = append(items, pricing.CartItem{
			ProductID:   p.ID,
			ProductType: p.Type,
			UnitPrice:   unit,
			Quantity:    qty[id],
			LineTotal:   unit * pricing.Money(qty[id]),
		})
	}
	if len(unknown) > 0 {
		return nil, ErrUnknownProduct.WithDetails(map[string]any{"productIds": unknown})
	}
	return items, nil
}

// Names returns display names for the given product ids, used for order snapshots.
func (s *Service) Names(ctx context.Context, ids []string) (map[string]string, error) {
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(products))
	for id, p := range products {
		names[id] = p.Name
	}
	return names, nil
}

// ProductView is the storefront listing entry with the caller's unit price.
type ProductView struct {
	Product
	UnitPrice pricing.Money `json:"unitPrice"`
}

// List returns a page of active products priced for the given account type.
func (s *Service) List(ctx context.Context, page common.Pagination, account pricing.AccountType) ([]ProductView, int, error) {
	products, total, err := s.products.List(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		view := ProductView{Product: p, UnitPrice: ResolveUnitPrice(p, account)}
		if account != pricing.AccountBusiness {
			view.BusinessPrice = 0
		}
		views = append(views, view)
	}
	return views, total, nil
}
