package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Reader loads products.
type Reader interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]Product, error)
	List(ctx context.Context, page common.Pagination) ([]Product, int, error)
}

const (
	productColumns = `id, slug, name, product_type, price, COALESCE(sale_price, 0), COALESCE(business_price, 0), active`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	listActiveProductsSQL = `SELECT ` + productColumns + `, count(*) OVER ()
		FROM products WHERE active ORDER BY name, id LIMIT $1 OFFSET $2`
)

// Store reads products from Postgres.
type Store struct {
	db db.DBTX
}

// NewStore returns a Store over the given connection.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// GetByIDs returns the products found for ids, keyed by id. Missing ids are absent from the map.
func (s *Store) GetByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// List returns one page of active products and the total count.
func (s *Store) List(ctx context.Context, page common.Pagination) ([]Product, int, error) {
	rows, err := s.db.Query(ctx, listActiveProductsSQL, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var (
		products []Product
		total    int
	)
	for rows.Next() {
		var (
			p     Product
			kind  string
			count int64
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &kind, &p.Price, &p.SalePrice, &p.BusinessPrice, &p.Active, &count); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		p.Type = pricing.ParseProductType(kind)
		products = append(products, p)
		total = int(count)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p    Product
		kind string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &kind, &p.Price, &p.SalePrice, &p.BusinessPrice, &p.Active); err != nil {
		return Product{}, err
	}
	// unknown types are kept as-is and rejected when the cart is built
	p.Type = pricing.ParseProductType(kind)
	return p, nil
}
