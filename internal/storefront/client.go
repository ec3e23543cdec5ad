// Package storefront is the HTTP client of the storefront API. It implements
// the cart, catalog, coupon and payment interfaces the checkout core consumes.
package storefront

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/api"
	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/product"
)

var (
	_ cart.Repository    = (*Client)(nil)
	_ coupon.Validator   = (*Client)(nil)
	_ payment.Processor  = (*Client)(nil)
	_ payment.Reconciler = (*Client)(nil)
)

// HTTPError is a non-2xx answer from the API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("storefront api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds every request. Default 30s.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the storefront API.
type Client struct {
	http *resty.Client
	lg   *zap.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "streamshop-client")

	return &Client{http: rc, lg: lg}
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body, out any) error {
	r := c.http.R().
		SetContext(ctx).
		SetPathParams(params).
		SetError(&api.Error{})
	if body != nil {
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}

	op := method + " " + path
	start := time.Now()
	resp, err := r.Execute(method, path)
	if err != nil {
		c.lg.Debug("Request failed", zap.String("op", op), zap.Error(err))
		return &payment.TransportError{Op: op, Err: err}
	}
	c.lg.Debug("Request done",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.IsError() {
		herr := &HTTPError{StatusCode: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
		if e, ok := resp.Error().(*api.Error); ok && e.Message != "" {
			herr.Code = e.Code
			herr.Message = e.Message
		}
		return herr
	}
	if !resp.IsSuccess() {
		return &payment.TransportError{Op: op, Err: errors.Errorf("unexpected status %d", resp.StatusCode())}
	}
	return nil
}

func statusOf(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// List returns the catalog.
func (c *Client) List(ctx context.Context) ([]product.Product, error) {
	var out []api.Product
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, nil, &out); err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products := make([]product.Product, len(out))
	for i, p := range out {
		products[i] = p.Domain()
	}
	return products, nil
}

// GetProduct returns one product.
func (c *Client) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	var out api.Product
	err := c.do(ctx, http.MethodGet, "/api/products/{id}", map[string]string{"id": id}, nil, &out)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrap(err, "get product")
	}
	p := out.Domain()
	return &p, nil
}

// Get returns the cart of a session.
func (c *Client) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	var out api.Cart
	err := c.do(ctx, http.MethodGet, "/api/cart/{sid}", map[string]string{"sid": sessionID}, nil, &out)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return out.Domain(), nil
}

// Replace overwrites the cart of a session.
func (c *Client) Replace(ctx context.Context, sessionID string, items []cart.Item) (*cart.Cart, error) {
	var out api.Cart
	err := c.do(ctx, http.MethodPost, "/api/cart/{sid}", map[string]string{"sid": sessionID}, api.FromItems(items), &out)
	if err != nil {
		return nil, errors.Wrap(err, "replace cart")
	}
	return out.Domain(), nil
}

// Validate checks a coupon code. A 404 is ErrInvalidCoupon.
func (c *Client) Validate(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, coupon.ErrInvalidCoupon
	}
	var out api.CouponValidation
	err := c.do(ctx, http.MethodGet, "/api/coupons/validate/{code}", map[string]string{"code": code}, nil, &out)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "validate coupon")
	}
	cp := out.Domain()
	if !coupon.ValidFraction(cp.DiscountFraction) {
		return nil, coupon.ErrInvalidCoupon
	}
	return cp, nil
}

// Config returns the public processor configuration.
func (c *Client) Config(ctx context.Context) (*payment.Config, error) {
	var out api.PaymentConfig
	if err := c.do(ctx, http.MethodGet, "/api/payments/config", nil, nil, &out); err != nil {
		return nil, errors.Wrap(err, "payment config")
	}
	return &payment.Config{PublicKey: out.PublicKey}, nil
}

// Process submits a payment request. Client errors and processor refusals
// (4xx, 502) are *payment.RejectedError; lost or unreadable answers and other
// server failures are *payment.TransportError since the payment may exist.
func (c *Client) Process(ctx context.Context, req *payment.Request) (*payment.Response, error) {
	var out api.PaymentResponse
	err := c.do(ctx, http.MethodPost, "/api/payments/process", nil, api.FromPaymentRequest(req), &out)
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) {
			if herr.StatusCode < 500 || herr.StatusCode == http.StatusBadGateway {
				return nil, &payment.RejectedError{StatusCode: herr.StatusCode, Code: herr.Code, Message: herr.Message}
			}
			return nil, &payment.TransportError{Op: "process payment", Err: herr}
		}
		return nil, err
	}
	if out.OrderID == "" && out.Status == "" {
		return nil, &payment.TransportError{Op: "process payment", Err: errors.New("empty response body")}
	}
	return out.Domain(), nil
}

// Attempt looks up the outcome of a submitted attempt by idempotency key.
func (c *Client) Attempt(ctx context.Context, key string) (*payment.Response, error) {
	var out api.PaymentResponse
	err := c.do(ctx, http.MethodGet, "/api/payments/attempt/{key}", map[string]string{"key": key}, nil, &out)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup attempt")
	}
	return out.Domain(), nil
}

// PaymentStatus returns the processor status of a payment.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*api.PaymentStatus, error) {
	var out api.PaymentStatus
	err := c.do(ctx, http.MethodGet, "/api/payments/status/{id}", map[string]string{"id": paymentID}, nil, &out)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrap(err, "payment status")
	}
	return &out, nil
}

// Order returns a recorded order.
func (c *Client) Order(ctx context.Context, id string) (*api.Order, error) {
	var out api.Order
	err := c.do(ctx, http.MethodGet, "/api/orders/{id}", map[string]string{"id": id}, nil, &out)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return &out, nil
}
