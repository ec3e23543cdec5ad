package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/order"
)

// MockPaymentID is the processor payment ID recorded for orders approved
// without a processor.
const MockPaymentID = "mock"

// Charge is what the Gateway needs to create a processor payment.
type Charge struct {
	Order          *order.Order
	Method         Method
	IdempotencyKey string
}

// ProcessorPayment is the processor's view of a payment.
type ProcessorPayment struct {
	ID                string
	Status            string
	StatusDetail      string
	PaymentMethodID   string
	ExternalReference string
	Amount            decimal.Decimal
	Pix               *order.Pix
	Boleto            *order.Boleto
}

// Gateway is the payment processor API.
type Gateway interface {
	CreatePayment(ctx context.Context, c Charge) (*ProcessorPayment, error)
	GetPayment(ctx context.Context, id string) (*ProcessorPayment, error)
}

// Notification is a processor webhook event.
type Notification struct {
	Type   string
	Action string
	DataID string
}

// ServiceConfig configures the server-side payment Service.
type ServiceConfig struct {
	PublicKey      string
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service processes payment requests on the server: it reprices the cart,
// charges the processor and records the order. With a nil Gateway it runs in
// mock mode and approves every valid request.
type Service struct {
	orders    *order.Service
	gateway   Gateway
	publicKey string

	tracer   trace.Tracer
	payments metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(orders *order.Service, gw Gateway, cfg ServiceConfig) (*Service, error) {
	mp := cfg.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	counter, err := mp.Meter("streamshop/payment").Int64Counter("streamshop.payments",
		metric.WithDescription("Payment attempts by method and resulting status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payments counter")
	}

	return &Service{
		orders:    orders,
		gateway:   gw,
		publicKey: cfg.PublicKey,
		tracer:    tp.Tracer("streamshop/payment"),
		payments:  counter,
	}, nil
}

// MockMode reports whether the service approves payments without a processor.
func (s *Service) MockMode() bool { return s.gateway == nil }

// Config returns the public processor configuration.
func (s *Service) Config(context.Context) (*Config, error) {
	return &Config{PublicKey: s.publicKey}, nil
}

// Process handles one payment attempt. A replayed idempotency key returns the
// order recorded for it without charging again. When the processor refuses
// the payment no order is recorded.
func (s *Service) Process(ctx context.Context, req *Request) (*Response, error) {
	lg := zctx.From(ctx)

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			lg.Info("Replayed payment attempt", zap.String("order_id", existing.ID))
			return ResponseFromOrder(existing), nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, errors.Wrap(err, "lookup attempt")
		}
	} else {
		req.IdempotencyKey = uuid.New().String()
	}

	if err := Validate(req.Method, req.Customer, req.Items); err != nil {
		return nil, err
	}

	customer := req.Customer
	if doc := Document(req.Method, customer); doc != "" {
		customer.Identification.Number = doc
		if customer.Identification.Type == "" {
			customer.Identification.Type = "CPF"
		}
	}

	o, err := s.orders.Prepare(ctx, order.Draft{
		IdempotencyKey: req.IdempotencyKey,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		Items:          req.Items,
		CouponCode:     req.CouponCode,
		Customer:       customer,
		PaymentMethod:  req.Method.Name(),
	})
	if err != nil {
		return nil, err
	}
	if !o.Total.Equal(req.Breakdown.Total) {
		lg.Info("Client total differs from server price",
			zap.String("client_total", req.Breakdown.Total.StringFixed(2)),
			zap.String("server_total", o.Total.StringFixed(2)),
		)
	}

	message, err := s.charge(ctx, o, req)
	if err != nil {
		s.record(ctx, o.PaymentMethod, "error")
		return nil, err
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateKey) {
			existing, getErr := s.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr == nil {
				return ResponseFromOrder(existing), nil
			}
		}
		lg.Error("Order not recorded after processor call",
			zap.String("order_id", o.ID),
			zap.String("payment_id", o.ProcessorPaymentID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "record order")
	}
	s.record(ctx, o.PaymentMethod, string(o.Status))

	lg.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("method", o.PaymentMethod),
	)

	resp := ResponseFromOrder(o)
	resp.Message = message
	return resp, nil
}

func (s *Service) charge(ctx context.Context, o *order.Order, req *Request) (string, error) {
	if s.gateway == nil {
		o.ProcessorPaymentID = MockPaymentID
		o.ProcessorStatus = "approved"
		o.Status = order.StatusApproved
		return "Mock payment", nil
	}

	ctx, span := s.tracer.Start(ctx, "payment.CreatePayment",
		trace.WithAttributes(
			attribute.String("order.id", o.ID),
			attribute.String("payment.method", o.PaymentMethod),
		),
	)
	defer span.End()

	p, err := s.gateway.CreatePayment(ctx, Charge{
		Order:          o,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create payment")
		return "", errors.Wrap(err, "create payment")
	}
	span.SetAttributes(attribute.String("payment.status", p.Status))

	o.ProcessorPaymentID = p.ID
	o.ProcessorStatus = p.Status
	o.Status = order.StatusFromProcessor(p.Status)
	o.Pix = p.Pix
	o.Boleto = p.Boleto
	return "Payment " + p.Status, nil
}

func (s *Service) record(ctx context.Context, method, status string) {
	s.payments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

// Status returns the processor's current view of a payment.
func (s *Service) Status(ctx context.Context, paymentID string) (*ProcessorPayment, error) {
	if s.gateway == nil {
		if paymentID == MockPaymentID {
			return &ProcessorPayment{ID: MockPaymentID, Status: "approved"}, nil
		}
		return nil, ErrNotFound
	}
	return s.gateway.GetPayment(ctx, paymentID)
}

// Order returns the recorded order with the given ID.
func (s *Service) Order(ctx context.Context, orderID string) (*order.Order, error) {
	return s.orders.Get(ctx, orderID)
}

// Attempt returns the outcome recorded for an idempotency key.
func (s *Service) Attempt(ctx context.Context, key string) (*Response, error) {
	o, err := s.orders.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ResponseFromOrder(o), nil
}

// HandleNotification applies a processor webhook to the order it references.
// Events other than payment updates, unknown orders and terminal orders are
// acknowledged and ignored.
func (s *Service) HandleNotification(ctx context.Context, n Notification) error {
	lg := zctx.From(ctx).With(
		zap.String("type", n.Type),
		zap.String("payment_id", n.DataID),
	)
	if n.Type != "payment" || n.DataID == "" {
		lg.Debug("Ignoring notification")
		return nil
	}
	if s.gateway == nil {
		lg.Debug("Ignoring notification in mock mode")
		return nil
	}

	p, err := s.gateway.GetPayment(ctx, n.DataID)
	if err != nil {
		return errors.Wrap(err, "fetch payment")
	}
	if p.ExternalReference == "" {
		lg.Warn("Payment has no external reference")
		return nil
	}

	o, err := s.orders.ApplyProcessorStatus(ctx, p.ExternalReference, p.ID, p.Status)
	var trErr *order.TransitionError
	switch {
	case err == nil:
		lg.Info("Order status updated",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
		)
		return nil
	case errors.Is(err, order.ErrNotFound):
		lg.Warn("Notification for unknown order", zap.String("order_id", p.ExternalReference))
		return nil
	case errors.As(err, &trErr):
		lg.Info("Order already final", zap.String("order_id", trErr.OrderID), zap.String("status", string(trErr.From)))
		return nil
	default:
		return errors.Wrap(err, "apply status")
	}
}

// ResponseFromOrder describes a recorded order as a payment response.
func ResponseFromOrder(o *order.Order) *Response {
	msg := "Payment " + o.ProcessorStatus
	if o.ProcessorPaymentID == MockPaymentID {
		msg = "Mock payment"
	}
	return &Response{
		Status:        o.Status,
		OrderID:       o.ID,
		PaymentID:     o.ProcessorPaymentID,
		PaymentMethod: o.PaymentMethod,
		Message:       msg,
		Pix:           o.Pix,
		Boleto:        o.Boleto,
	}
}
