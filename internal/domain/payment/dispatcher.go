package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/pricing"
)

// Submission is the checkout state handed to the Dispatcher.
type Submission struct {
	SessionID  string
	UserID     string
	Method     Method
	Customer   order.Customer
	Items      []cart.Item
	Breakdown  pricing.Breakdown
	CouponCode string
}

// Dispatcher validates checkout submissions and sends them to a Processor
// exactly once.
type Dispatcher struct {
	processor Processor
	newKey    func() string
	lg        *zap.Logger
}

// NewDispatcher creates a Dispatcher submitting to p.
func NewDispatcher(p Processor, lg *zap.Logger) *Dispatcher {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Dispatcher{
		processor: p,
		newKey:    func() string { return uuid.New().String() },
		lg:        lg,
	}
}

// Build validates s and turns it into a Request with a fresh idempotency
// key. Card installments default to 1; PIX and boleto documents are copied
// into the customer identification.
func (d *Dispatcher) Build(s Submission) (*Request, error) {
	if err := Validate(s.Method, s.Customer, s.Items); err != nil {
		return nil, err
	}

	method := s.Method
	customer := s.Customer
	switch v := method.(type) {
	case Card:
		if v.Installments == 0 {
			v.Installments = 1
		}
		method = v
	case Pix, Boleto:
		doc := Document(method, customer)
		if customer.Identification.Type == "" {
			customer.Identification.Type = "CPF"
		}
		customer.Identification.Number = doc
		if _, ok := method.(Pix); ok {
			method = Pix{Document: doc}
		} else {
			method = Boleto{Document: doc}
		}
	}
	customer.Email = strings.TrimSpace(customer.Email)

	return &Request{
		IdempotencyKey: d.newKey(),
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		Method:         method,
		Customer:       customer,
		Items:          s.Items,
		Breakdown:      s.Breakdown,
		CouponCode:     coupon.NormalizeCode(s.CouponCode),
	}, nil
}

// Submit sends req to the processor once. Errors are returned as they come:
// *RejectedError when the server answered, *TransportError when the outcome
// is unknown.
func (d *Dispatcher) Submit(ctx context.Context, req *Request) (*Response, error) {
	lg := d.lg.With(
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("method", req.Method.Name()),
	)
	lg.Info("Submitting payment", zap.String("total", req.Breakdown.Total.StringFixed(2)))

	resp, err := d.processor.Process(ctx, req)
	if err != nil {
		lg.Warn("Payment submission failed", zap.Error(err))
		return nil, errors.Wrap(err, "process payment")
	}

	lg.Info("Payment submitted",
		zap.String("order_id", resp.OrderID),
		zap.String("status", string(resp.Status)),
	)
	return resp, nil
}

// Dispatch builds and submits s.
func (d *Dispatcher) Dispatch(ctx context.Context, s Submission) (*Request, *Response, error) {
	req, err := d.Build(s)
	if err != nil {
		return nil, nil, err
	}
	resp, err := d.Submit(ctx, req)
	return req, resp, err
}
