// Package pricing computes cart breakdowns from catalog prices and an
// optional coupon. All functions are pure.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/product"
)

// Line is a cart item resolved against the catalog.
type Line struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Amount returns UnitPrice * Quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Breakdown is the subtotal, discount and payable total of a cart.
// Invariant: 0 <= Total <= Subtotal.
type Breakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Resolve joins cart items with catalog entries. Items whose product is not
// in the catalog, or whose quantity is not positive, are dropped.
func Resolve(items []cart.Item, catalog map[string]product.Product) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		p, ok := catalog[it.ProductID]
		if !ok || it.Quantity <= 0 {
			continue
		}
		lines = append(lines, Line{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
		})
	}
	return lines
}

// ComputeBreakdown sums the lines and applies the coupon's fraction once.
// A nil coupon means no discount. The discount is rounded to cents and the
// fraction is clamped to [0, 1].
func ComputeBreakdown(lines []Line, c *coupon.Coupon) Breakdown {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	subtotal = subtotal.Round(2)

	discount := decimal.Zero
	if c != nil {
		f := clampFraction(c.DiscountFraction)
		discount = subtotal.Mul(f).Round(2)
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Total:    total,
	}
}

// Quote resolves items against the catalog and computes their breakdown.
func Quote(items []cart.Item, catalog map[string]product.Product, c *coupon.Coupon) ([]Line, Breakdown) {
	lines := Resolve(items, catalog)
	return lines, ComputeBreakdown(lines, c)
}

func clampFraction(f decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	switch {
	case f.IsNegative():
		return decimal.Zero
	case f.GreaterThan(one):
		return one
	default:
		return f
	}
}
