// Package checkout drives a customer's cart through coupon application,
// repricing, payment submission and outcome resolution.
package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/pricing"
	"github.com/xenking/streamshop/internal/domain/product"
)

// ErrSubmitInProgress is returned when Submit is called while another
// submission of the same session has not returned yet.
var ErrSubmitInProgress = errors.New("payment submission already in progress")

// Catalog lists the products for sale.
type Catalog interface {
	List(ctx context.Context) ([]product.Product, error)
}

// Options tunes a Service.
type Options struct {
	// Reconciler is asked once for the outcome of an attempt whose response
	// was lost. Nil disables reconciliation.
	Reconciler payment.Reconciler
	// ReconcileTimeout bounds the reconciliation read. Default 10s.
	ReconcileTimeout time.Duration
	Logger           *zap.Logger
}

// Service starts checkout sessions.
type Service struct {
	catalog    Catalog
	coupons    coupon.Validator
	processor  payment.Processor
	dispatcher *payment.Dispatcher
	reconciler payment.Reconciler
	reconcileT time.Duration
	lg         *zap.Logger
}

// NewService creates a checkout Service.
func NewService(catalog Catalog, coupons coupon.Validator, processor payment.Processor, opts Options) *Service {
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 10 * time.Second
	}
	return &Service{
		catalog:    catalog,
		coupons:    coupons,
		processor:  processor,
		dispatcher: payment.NewDispatcher(processor, lg.Named("dispatcher")),
		reconciler: opts.Reconciler,
		reconcileT: opts.ReconcileTimeout,
		lg:         lg,
	}
}

// Begin loads the catalog and the processor configuration concurrently and
// opens a checkout session over store. Both loads must succeed.
func (s *Service) Begin(ctx context.Context, store *cart.Store) (*Session, error) {
	var (
		products []product.Product
		cfg      *payment.Config
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.catalog.List(gctx)
		return errors.Wrap(err, "load catalog")
	})
	g.Go(func() error {
		var err error
		cfg, err = s.processor.Config(gctx)
		return errors.Wrap(err, "load payment config")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lg := s.lg.With(zap.String("session_id", store.SessionID()))
	return &Session{
		svc:      s,
		store:    store,
		config:   *cfg,
		catalog:  product.Index(products),
		resolver: NewResolver(store, lg),
		lg:       lg,
	}, nil
}

// Session is one customer's checkout over a cart store.
type Session struct {
	svc      *Service
	store    *cart.Store
	config   payment.Config
	resolver *Resolver
	lg       *zap.Logger

	mu      sync.Mutex
	catalog map[string]product.Product
	coupon  *coupon.Coupon

	inFlight atomic.Bool
}

// Config returns the processor configuration loaded by Begin.
func (s *Session) Config() payment.Config { return s.config }

// Coupon returns the applied coupon, or nil.
func (s *Session) Coupon() *coupon.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupon
}

// ApplyCoupon validates code and makes it the session's coupon. When
// validation fails the previously applied coupon stays in place.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, coupon.ErrInvalidCoupon
	}
	c, err := s.svc.coupons.Validate(ctx, code)
	if err != nil {
		s.lg.Debug("Coupon rejected", zap.String("code", code), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.coupon = c
	s.mu.Unlock()
	return c, nil
}

// ClearCoupon removes the applied coupon.
func (s *Session) ClearCoupon() {
	s.mu.Lock()
	s.coupon = nil
	s.mu.Unlock()
}

// Quote prices the current cart against the catalog loaded for the session.
func (s *Session) Quote() ([]pricing.Line, pricing.Breakdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.Quote(s.store.Items(), s.catalog, s.coupon)
}

// Submit refreshes the catalog, reprices the cart and submits one payment
// attempt. A returned error means nothing was sent; every submission result,
// including refusals and lost responses, is reported through the Outcome.
func (s *Session) Submit(ctx context.Context, method payment.Method, customer order.Customer) (Outcome, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, ErrSubmitInProgress
	}
	defer s.inFlight.Store(false)

	products, err := s.svc.catalog.List(ctx)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "refresh catalog")
	}

	s.mu.Lock()
	s.catalog = product.Index(products)
	applied := s.coupon
	lines, breakdown := pricing.Quote(s.store.Items(), s.catalog, applied)
	s.mu.Unlock()

	items := make([]cart.Item, len(lines))
	for i, l := range lines {
		items[i] = cart.Item{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	sub := payment.Submission{
		SessionID: s.store.SessionID(),
		Method:    method,
		Customer:  customer,
		Items:     items,
		Breakdown: breakdown,
	}
	if applied != nil {
		sub.CouponCode = applied.Code
	}

	req, err := s.svc.dispatcher.Build(sub)
	if err != nil {
		return s.resolver.Resolve(ctx, nil, err), nil
	}

	resp, err := s.svc.dispatcher.Submit(ctx, req)
	if err != nil && s.unconfirmed(err) {
		resp, err = s.reconcile(ctx, req.IdempotencyKey, resp, err)
	}
	return s.resolver.Resolve(ctx, resp, err), nil
}

func (s *Session) unconfirmed(err error) bool {
	var (
		vErr *payment.ValidationError
		rErr *payment.RejectedError
	)
	return !errors.As(err, &vErr) && !errors.As(err, &rErr)
}

// reconcile asks once whether the attempt produced an order. The submitted
// response and error are kept when the answer is not conclusive.
func (s *Session) reconcile(ctx context.Context, key string, resp *payment.Response, subErr error) (*payment.Response, error) {
	if s.svc.reconciler == nil {
		return resp, subErr
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.svc.reconcileT)
	defer cancel()

	found, err := s.svc.reconciler.Attempt(rctx, key)
	if err != nil {
		s.lg.Warn("Reconcile payment attempt failed",
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return resp, subErr
	}
	s.lg.Info("Reconciled payment attempt",
		zap.String("idempotency_key", key),
		zap.String("order_id", found.OrderID),
	)
	return found, nil
}
