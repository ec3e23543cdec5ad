package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/streamshop/internal/api"
	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/product"
)

// --- Mock implementations ---

type mockProducts struct {
	list []product.Product
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) { return m.list, nil }

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for _, p := range m.list {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProducts) GetByIDs(context.Context, []string) ([]product.Product, error) {
	return m.list, nil
}

type mockCarts struct {
	items map[string][]cart.Item
}

func (m *mockCarts) Get(_ context.Context, sid string) (*cart.Cart, error) {
	return &cart.Cart{SessionID: sid, Items: slices.Clone(m.items[sid])}, nil
}

func (m *mockCarts) Replace(_ context.Context, sid string, items []cart.Item) (*cart.Cart, error) {
	m.items[sid] = slices.Clone(items)
	return &cart.Cart{SessionID: sid, Items: items}, nil
}

type mockCoupons struct{}

func (mockCoupons) Validate(_ context.Context, code string) (*coupon.Coupon, error) {
	if coupon.NormalizeCode(code) == "BEMVINDO10" {
		return &coupon.Coupon{Code: "BEMVINDO10", DiscountFraction: decimal.RequireFromString("0.10")}, nil
	}
	return nil, coupon.ErrInvalidCoupon
}

type mockPayments struct {
	processErr    error
	lastRequest   *payment.Request
	notifications []payment.Notification
	notifyErr     error
}

func (m *mockPayments) Config(context.Context) (*payment.Config, error) {
	return &payment.Config{PublicKey: "TEST-pk"}, nil
}

func (m *mockPayments) Process(_ context.Context, req *payment.Request) (*payment.Response, error) {
	m.lastRequest = req
	if m.processErr != nil {
		return nil, m.processErr
	}
	if err := payment.Validate(req.Method, req.Customer, req.Items); err != nil {
		return nil, err
	}
	return &payment.Response{Status: order.StatusApproved, OrderID: "o1", PaymentID: "mock", PaymentMethod: req.Method.Name(), Message: "Mock payment"}, nil
}

func (m *mockPayments) Status(_ context.Context, id string) (*payment.ProcessorPayment, error) {
	if id != "mock" {
		return nil, payment.ErrNotFound
	}
	return &payment.ProcessorPayment{ID: "mock", Status: "approved"}, nil
}

func (m *mockPayments) Order(_ context.Context, id string) (*order.Order, error) {
	if id != "o1" {
		return nil, order.ErrNotFound
	}
	return &order.Order{
		ID:            "o1",
		Total:         decimal.RequireFromString("53.82"),
		Status:        order.StatusPending,
		PaymentMethod: "pix",
		Pix:           &order.Pix{QRCode: "000201"},
	}, nil
}

func (m *mockPayments) Attempt(_ context.Context, key string) (*payment.Response, error) {
	if key != "k1" {
		return nil, payment.ErrNotFound
	}
	return &payment.Response{Status: order.StatusApproved, OrderID: "o1"}, nil
}

func (m *mockPayments) HandleNotification(_ context.Context, n payment.Notification) error {
	m.notifications = append(m.notifications, n)
	return m.notifyErr
}

// --- Helpers ---

type testAPI struct {
	srv      *httptest.Server
	carts    *mockCarts
	payments *mockPayments
}

func newTestAPI(t *testing.T, cfg HandlerConfig) *testAPI {
	t.Helper()
	products := &mockProducts{list: []product.Product{
		{ID: "p1", Name: "Netflix Premium", Price: decimal.RequireFromString("29.90"), Image: "/img/netflix.png", Available: true},
	}}
	carts := &mockCarts{items: map[string][]cart.Item{}}
	payments := &mockPayments{}

	h := NewHandler(cfg, products, carts, mockCoupons{}, payments)
	r := chi.NewRouter()
	r.Route("/api", h.Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, carts: carts, payments: payments}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decodeError(t *testing.T, body []byte) api.Error {
	t.Helper()
	var e api.Error
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func validPayment() api.PaymentRequest {
	return api.PaymentRequest{
		PaymentMethod: "card",
		PaymentData:   api.PaymentData{Token: "tok", Installments: 1},
		CustomerInfo:  api.CustomerInfo{Email: "ana@example.com", FirstName: "Ana", LastName: "Silva"},
		Items:         []api.OrderItem{{ProductID: "p1", Quantity: 2}},
		Total:         59.8,
		SessionID:     "session_1",
	}
}

// --- Tests ---

func TestProducts(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{ImageBaseURL: "https://cdn.example.com/"})

	resp, body := a.do(t, http.MethodGet, "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var products []api.Product
	require.NoError(t, json.Unmarshal(body, &products))
	require.Len(t, products, 1)
	assert.Equal(t, 29.9, products[0].Price)
	assert.Equal(t, "https://cdn.example.com/img/netflix.png", products[0].Image)
	assert.Equal(t, []string{}, products[0].Features)

	resp, body = a.do(t, http.MethodGet, "/api/products/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, body).Code)
}

func TestCart(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{})

	resp, body := a.do(t, http.MethodPost, "/api/cart/session_1", []api.CartItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []cart.Item{{ProductID: "p1", Quantity: 3}}, a.carts.items["session_1"])

	resp, body = a.do(t, http.MethodGet, "/api/cart/session_1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c api.Cart
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, []api.CartItem{{ProductID: "p1", Quantity: 3}}, c.Items)

	resp, _ = a.do(t, http.MethodDelete, "/api/cart/session_1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, a.carts.items["session_1"])

	resp, body = a.do(t, http.MethodPost, "/api/cart/session_1", []api.CartItem{{ProductID: "p1", Quantity: 0}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeError(t, body).Code)

	resp, body = a.do(t, http.MethodPost, "/api/cart/session_1", []api.CartItem{
		{ProductID: "p1", Quantity: cart.MaxQuantity},
		{ProductID: "p1", Quantity: 1},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeError(t, body).Code)

	resp, _ = a.do(t, http.MethodGet, "/api/cart/bad%20id", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/api/cart/session_1", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateCoupon(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{})

	resp, body := a.do(t, http.MethodGet, "/api/coupons/validate/bemvindo10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cv api.CouponValidation
	require.NoError(t, json.Unmarshal(body, &cv))
	assert.Equal(t, api.CouponValidation{Code: "BEMVINDO10", Discount: 0.1}, cv)

	resp, _ = a.do(t, http.MethodGet, "/api/coupons/validate/NOPE", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessPayment(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{})

	resp, body := a.do(t, http.MethodPost, "/api/payments/process", validPayment(), map[string]string{"Idempotency-Key": "hdr-key"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var pr api.PaymentResponse
	require.NoError(t, json.Unmarshal(body, &pr))
	assert.Equal(t, "approved", pr.Status)
	assert.Equal(t, "o1", pr.OrderID)
	assert.Equal(t, "hdr-key", a.payments.lastRequest.IdempotencyKey)
}

func TestProcessPayment_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*api.PaymentRequest)
		processErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "pix without document",
			mutate:     func(p *api.PaymentRequest) { p.PaymentMethod = "pix" },
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
		},
		{
			name:       "unknown method",
			mutate:     func(p *api.PaymentRequest) { p.PaymentMethod = "crypto" },
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
		},
		{
			name:       "invalid coupon",
			processErr: coupon.ErrInvalidCoupon,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_coupon",
		},
		{
			name:       "unknown product",
			processErr: &order.ProductNotFoundError{ProductID: "gone"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "product_not_found",
		},
		{
			name:       "processor rejection",
			processErr: &payment.RejectedError{StatusCode: 400, Message: "invalid card token"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "processor_rejected",
		},
		{
			name:       "processor unreachable",
			processErr: &payment.TransportError{Op: "mercadopago", Err: context.DeadlineExceeded},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "processor_unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, HandlerConfig{})
			a.payments.processErr = tt.processErr
			body := validPayment()
			if tt.mutate != nil {
				tt.mutate(&body)
			}

			resp, raw := a.do(t, http.MethodPost, "/api/payments/process", body, nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(raw))
			assert.Equal(t, tt.wantCode, decodeError(t, raw).Code)
		})
	}
}

func TestPaymentLookups(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{})

	resp, body := a.do(t, http.MethodGet, "/api/payments/config", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"publicKey":"TEST-pk"}`, string(body))

	resp, body = a.do(t, http.MethodGet, "/api/payments/order/o1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lookup api.OrderLookup
	require.NoError(t, json.Unmarshal(body, &lookup))
	assert.True(t, lookup.Success)
	require.NotNil(t, lookup.Order.Pix)
	assert.Equal(t, "000201", lookup.Order.Pix.QRCode)
	assert.Equal(t, 53.82, lookup.Order.Total)

	resp, _ = a.do(t, http.MethodGet, "/api/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/api/payments/status/mock", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = a.do(t, http.MethodGet, "/api/payments/status/123", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/api/payments/attempt/k1", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = a.do(t, http.MethodGet, "/api/payments/attempt/k2", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func sign(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{})

	resp, body := a.do(t, http.MethodPost, "/api/webhooks/mercadopago",
		[]byte(`{"action":"payment.updated","type":"payment","data":{"id":123456},"live_mode":false}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"received"}`, string(body))
	require.Len(t, a.payments.notifications, 1)
	assert.Equal(t, payment.Notification{Type: "payment", Action: "payment.updated", DataID: "123456"}, a.payments.notifications[0])

	resp, _ = a.do(t, http.MethodPost, "/api/webhooks/mercadopago", []byte(`not json`), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, a.payments.notifications, 1)
}

func TestWebhook_Signature(t *testing.T) {
	a := newTestAPI(t, HandlerConfig{WebhookSecret: "s3cret"})
	body := []byte(`{"type":"payment","data":{"id":"123"}}`)

	resp, _ := a.do(t, http.MethodPost, "/api/webhooks/mercadopago?data.id=123&type=payment", body, map[string]string{
		"x-signature":  sign("s3cret", "123", "req-1", "1700000000"),
		"x-request-id": "req-1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, a.payments.notifications, 1)

	resp, _ = a.do(t, http.MethodPost, "/api/webhooks/mercadopago?data.id=123&type=payment", body, map[string]string{
		"x-signature":  sign("wrong", "123", "req-1", "1700000000"),
		"x-request-id": "req-1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, a.payments.notifications, 1)
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("k")
	h := sign("k", "abc", "r", "1")
	assert.True(t, VerifySignature(secret, h, "r", "ABC"))
	assert.False(t, VerifySignature(secret, h, "r", "abd"))
	assert.False(t, VerifySignature(secret, "garbage", "r", "abc"))
	assert.False(t, VerifySignature(secret, "ts=1,v1=zz", "r", "abc"))
}
