package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCouponValidator struct {
	coupon   *coupon.Coupon
	err      error
	lastCode string
}

func (m *mockCouponValidator) Validate(_ context.Context, code string) (*coupon.Coupon, error) {
	m.lastCode = code
	return m.coupon, m.err
}

type mockOrderRepo struct {
	byID    map[string]*Order
	updates []StatusUpdate
	err     error
}

func newOrderRepo(orders ...*Order) *mockOrderRepo {
	m := &mockOrderRepo{byID: make(map[string]*Order)}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.err != nil {
		return m.err
	}
	m.byID[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) GetByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	for _, o := range m.byID {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, upd StatusUpdate) (*Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.updates = append(m.updates, upd)
	o.Status = upd.Status
	o.ProcessorStatus = upd.ProcessorStatus
	o.ProcessorPaymentID = upd.ProcessorPaymentID
	return o, nil
}

// --- Helpers ---

func newTestProduct(id, name, price string) product.Product {
	return product.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Platform:  "test",
		Available: true,
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	return &mockProductRepo{byID: product.Index(products)}
}

// --- Tests ---

func TestPrepare_EmptyItems(t *testing.T) {
	svc := NewService(newProductRepo(), &mockCouponValidator{}, newOrderRepo())

	_, err := svc.Prepare(context.Background(), Draft{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPrepare_InvalidQuantity(t *testing.T) {
	p1 := newTestProduct("p1", "Netflix Premium", "29.90")
	svc := NewService(newProductRepo(p1), &mockCouponValidator{}, newOrderRepo())

	_, err := svc.Prepare(context.Background(), Draft{
		Items: []cart.Item{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *cart.InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestPrepare_ProductNotFound(t *testing.T) {
	svc := NewService(newProductRepo(), &mockCouponValidator{}, newOrderRepo())

	_, err := svc.Prepare(context.Background(), Draft{
		Items: []cart.Item{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPrepare_ProductUnavailable(t *testing.T) {
	p1 := newTestProduct("p1", "Netflix Premium", "29.90")
	p1.Available = false
	svc := NewService(newProductRepo(p1), &mockCouponValidator{}, newOrderRepo())

	_, err := svc.Prepare(context.Background(), Draft{
		Items: []cart.Item{{ProductID: "p1", Quantity: 1}},
	})

	var puErr *ProductUnavailableError
	require.ErrorAs(t, err, &puErr)
}

func TestPrepare_NoCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Netflix Premium", "29.90")
	p2 := newTestProduct("p2", "Spotify Premium", "19.90")
	cv := &mockCouponValidator{}
	svc := NewService(newProductRepo(p1, p2), cv, newOrderRepo())

	o, err := svc.Prepare(context.Background(), Draft{
		IdempotencyKey: "key-1",
		SessionID:      "session_1",
		Items: []cart.Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		PaymentMethod: "card",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "key-1", o.IdempotencyKey)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("79.70").Equal(o.Total))
	assert.True(t, decimal.Zero.Equal(o.Discount))
	assert.Empty(t, cv.lastCode, "validator must not be called without a code")
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Netflix Premium", o.Items[0].Name)
}

func TestPrepare_WithCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Netflix Premium", "29.90")
	cv := &mockCouponValidator{
		coupon: &coupon.Coupon{Code: "BEMVINDO10", DiscountFraction: decimal.RequireFromString("0.10")},
	}
	svc := NewService(newProductRepo(p1), cv, newOrderRepo())

	o, err := svc.Prepare(context.Background(), Draft{
		Items:      []cart.Item{{ProductID: "p1", Quantity: 2}},
		CouponCode: " bemvindo10 ",
	})

	require.NoError(t, err)
	assert.Equal(t, "BEMVINDO10", cv.lastCode)
	assert.Equal(t, "BEMVINDO10", o.CouponCode)
	assert.True(t, decimal.RequireFromString("59.80").Equal(o.Subtotal))
	assert.True(t, decimal.RequireFromString("5.98").Equal(o.Discount))
	assert.True(t, decimal.RequireFromString("53.82").Equal(o.Total))
}

func TestPrepare_InvalidCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Netflix Premium", "29.90")
	cv := &mockCouponValidator{err: coupon.ErrInvalidCoupon}
	svc := NewService(newProductRepo(p1), cv, newOrderRepo())

	_, err := svc.Prepare(context.Background(), Draft{
		Items:      []cart.Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "BOGUS",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, coupon.ErrInvalidCoupon)
}

func TestPrepare_ProductLookupError(t *testing.T) {
	repo := newProductRepo()
	repo.getErr = errors.New("connection refused")
	svc := NewService(repo, &mockCouponValidator{}, newOrderRepo())

	_, err := svc.Prepare(context.Background(), Draft{
		Items: []cart.Item{{ProductID: "p1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestApplyProcessorStatus(t *testing.T) {
	tests := []struct {
		name            string
		current         Status
		processorStatus string
		wantStatus      Status
		wantTransition  bool
	}{
		{name: "pending to approved", current: StatusPending, processorStatus: "approved", wantStatus: StatusApproved},
		{name: "pending to in_process", current: StatusPending, processorStatus: "in_process", wantStatus: StatusInProcess},
		{name: "in_process to rejected", current: StatusInProcess, processorStatus: "rejected", wantStatus: StatusFailed},
		{name: "approved stays approved", current: StatusApproved, processorStatus: "refunded", wantStatus: StatusApproved, wantTransition: true},
		{name: "failed stays failed", current: StatusFailed, processorStatus: "approved", wantStatus: StatusFailed, wantTransition: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newOrderRepo(&Order{ID: "o1", Status: tt.current})
			svc := NewService(newProductRepo(), &mockCouponValidator{}, repo)

			o, err := svc.ApplyProcessorStatus(context.Background(), "o1", "123", tt.processorStatus)
			if tt.wantTransition {
				var trErr *TransitionError
				require.ErrorAs(t, err, &trErr)
				assert.Empty(t, repo.updates)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "123", o.ProcessorPaymentID)
			}
			assert.Equal(t, tt.wantStatus, repo.byID["o1"].Status)
		})
	}
}

func TestApplyProcessorStatus_UnknownOrder(t *testing.T) {
	svc := NewService(newProductRepo(), &mockCouponValidator{}, newOrderRepo())

	_, err := svc.ApplyProcessorStatus(context.Background(), "nope", "1", "approved")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatusFromProcessor(t *testing.T) {
	assert.Equal(t, StatusApproved, StatusFromProcessor("approved"))
	assert.Equal(t, StatusPending, StatusFromProcessor("pending"))
	assert.Equal(t, StatusInProcess, StatusFromProcessor("in_process"))
	for _, s := range []string{"rejected", "cancelled", "refunded", "charged_back", "", "something_new"} {
		assert.Equal(t, StatusFailed, StatusFromProcessor(s), s)
	}
}
