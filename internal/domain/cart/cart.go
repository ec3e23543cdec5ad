package cart

import (
	"context"
	"fmt"
	"time"
)

// MaxQuantity is the largest quantity a single cart line may hold.
const MaxQuantity = 1000

// ErrProductIDRequired is returned when a line item has an empty product ID.
var ErrProductIDRequired = fmt.Errorf("product id required")

// Item is one product line in a cart. ProductID is unique within a cart.
type Item struct {
	ProductID string `json:"productId" bson:"product_id"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

// Cart is the item list owned by a session. It is replaced wholesale on every
// mutation and never deleted.
type Cart struct {
	SessionID string
	UserID    string
	Items     []Item
	UpdatedAt time.Time
}

// Count returns the total number of units in the cart.
func (c *Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Repository stores carts keyed by session ID. Get returns an empty cart for
// unknown sessions; Replace overwrites the whole item list.
type Repository interface {
	Get(ctx context.Context, sessionID string) (*Cart, error)
	Replace(ctx context.Context, sessionID string, items []Item) (*Cart, error)
}

// InvalidQuantityError indicates a line item has a non-positive quantity or
// one above MaxQuantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %s (got %d)", MaxQuantity, e.ProductID, e.Quantity)
}

// Normalize merges lines sharing a product ID by summing their quantities and
// preserves first-seen order. It rejects empty product IDs and quantities
// outside [1, MaxQuantity], before and after merging.
func Normalize(items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	pos := make(map[string]int, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, ErrProductIDRequired
		}
		if it.Quantity <= 0 || it.Quantity > MaxQuantity {
			return nil, &InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		if i, ok := pos[it.ProductID]; ok {
			// Both terms are at most MaxQuantity, the sum cannot overflow.
			sum := out[i].Quantity + it.Quantity
			if sum > MaxQuantity {
				return nil, &InvalidQuantityError{ProductID: it.ProductID, Quantity: sum}
			}
			out[i].Quantity = sum
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}
