package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/pricing"
	"github.com/xenking/streamshop/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems = fmt.Errorf("items required")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// ProductUnavailableError indicates a product exists but is not for sale.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// Draft is the client-side view of an order about to be paid. Totals sent by
// the client are never trusted; only items and the coupon code are used.
type Draft struct {
	IdempotencyKey string
	SessionID      string
	UserID         string
	Items          []cart.Item
	CouponCode     string
	Customer       Customer
	PaymentMethod  string
}

// Service reprices drafts into orders and applies processor status updates.
type Service struct {
	products product.Repository
	coupons  coupon.Validator
	orders   Repository
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	coupons coupon.Validator,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		orders:   orders,
	}
}

// Prepare validates the draft items, fetches their products in one batch,
// applies the coupon and returns a pending order with a fresh ID. The order
// is not persisted.
func (s *Service) Prepare(ctx context.Context, d Draft) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, ErrEmptyItems
	}
	items, err := cart.Normalize(d.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	catalog := product.Index(fetched)
	for _, it := range items {
		p, ok := catalog[it.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: it.ProductID}
		}
		if !p.Available {
			return nil, &ProductUnavailableError{ProductID: it.ProductID}
		}
	}

	var applied *coupon.Coupon
	if code := coupon.NormalizeCode(d.CouponCode); code != "" {
		applied, err = s.coupons.Validate(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	lines, breakdown := pricing.Quote(items, catalog, applied)

	o := &Order{
		ID:             uuid.New().String(),
		IdempotencyKey: d.IdempotencyKey,
		SessionID:      d.SessionID,
		UserID:         d.UserID,
		Items:          make([]Item, len(lines)),
		Subtotal:       breakdown.Subtotal,
		Discount:       breakdown.Discount,
		Total:          breakdown.Total,
		Customer:       d.Customer,
		PaymentMethod:  d.PaymentMethod,
		Status:         StatusPending,
	}
	if applied != nil {
		o.CouponCode = applied.Code
	}
	for i, l := range lines {
		o.Items[i] = Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			Price:     l.UnitPrice,
			Quantity:  l.Quantity,
		}
	}
	return o, nil
}

// Create persists a prepared order.
func (s *Service) Create(ctx context.Context, o *Order) error {
	if err := s.orders.Create(ctx, o); err != nil {
		return errors.Wrap(err, "create order")
	}
	return nil
}

// Get returns the order with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// GetByIdempotencyKey returns the order created by the payment attempt with
// the given key.
func (s *Service) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return s.orders.GetByIdempotencyKey(ctx, key)
}

// ApplyProcessorStatus moves the order to the status matching the processor's
// report. Terminal orders are left untouched and yield a *TransitionError.
func (s *Service) ApplyProcessorStatus(ctx context.Context, id, processorPaymentID, processorStatus string) (*Order, error) {
	cur, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := StatusFromProcessor(processorStatus)
	if err := Transition(cur.ID, cur.Status, next); err != nil {
		return cur, err
	}

	upd := StatusUpdate{
		ProcessorPaymentID: processorPaymentID,
		ProcessorStatus:    processorStatus,
		Status:             next,
	}
	o, err := s.orders.UpdateStatus(ctx, id, upd)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	return o, nil
}
