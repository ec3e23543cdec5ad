package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a subscription credential offered in the catalog.
type Product struct {
	ID          string
	Name        string
	Description string
	Platform    string
	Price       decimal.Decimal
	Duration    string
	Image       string
	Features    []string
	Available   bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Index maps products by ID.
func Index(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}
