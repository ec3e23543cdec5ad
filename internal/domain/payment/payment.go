// Package payment builds, validates and processes payment requests for card,
// PIX and boleto checkouts.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/pricing"
)

// ErrNotFound is returned when the processor has no payment with the
// requested ID.
var ErrNotFound = errors.New("payment not found")

// Method names as they appear on the wire.
const (
	MethodCard   = "card"
	MethodPix    = "pix"
	MethodBoleto = "boleto"
)

// Method is the payment-method variant of a request. It is implemented only
// by Card, Pix and Boleto.
type Method interface {
	Name() string
	method()
}

// Card pays with a tokenized card. The token is produced by the processor's
// client-side SDK from the public key; raw card data never reaches us.
type Card struct {
	Token           string
	Installments    int
	PaymentMethodID string
	IssuerID        string
}

// Pix pays by instant transfer. The processor answers with a QR code.
type Pix struct {
	Document string
}

// Boleto pays by bank slip. The processor answers with a printable slip URL
// and barcode.
type Boleto struct {
	Document string
}

func (Card) Name() string   { return MethodCard }
func (Pix) Name() string    { return MethodPix }
func (Boleto) Name() string { return MethodBoleto }

func (Card) method()   {}
func (Pix) method()    {}
func (Boleto) method() {}

// Request is a validated payment request ready for submission.
type Request struct {
	IdempotencyKey string
	SessionID      string
	UserID         string
	Method         Method
	Customer       order.Customer
	Items          []cart.Item
	Breakdown      pricing.Breakdown
	CouponCode     string
}

// Response is the outcome of a processed payment request.
type Response struct {
	Status        order.Status
	OrderID       string
	PaymentID     string
	PaymentMethod string
	Message       string
	Pix           *order.Pix
	Boleto        *order.Boleto
}

// Config is the public processor configuration needed by clients to
// tokenize cards.
type Config struct {
	PublicKey string
}

// Processor submits payment requests. Implementations must not retry.
type Processor interface {
	Config(ctx context.Context) (*Config, error)
	Process(ctx context.Context, req *Request) (*Response, error)
}

// Reconciler looks up the outcome of a previously submitted attempt by its
// idempotency key. It returns ErrNotFound when the attempt left no order.
type Reconciler interface {
	Attempt(ctx context.Context, idempotencyKey string) (*Response, error)
}

// ValidationError is returned when a request is rejected before any network
// call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payment request: %s: %s", e.Field, e.Reason)
}

// RejectedError is returned when the server or the processor answered and
// refused the payment. No order was created.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment rejected (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payment rejected (%d): %s", e.StatusCode, e.Message)
}

// TransportError is returned when no usable answer was received. The payment
// may or may not have been created.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Document returns the taxpayer document for m, falling back to the
// customer's identification number.
func Document(m Method, c order.Customer) string {
	var doc string
	switch v := m.(type) {
	case Pix:
		doc = v.Document
	case Boleto:
		doc = v.Document
	}
	if doc = strings.TrimSpace(doc); doc != "" {
		return doc
	}
	return strings.TrimSpace(c.Identification.Number)
}

// Validate checks the fields every processor call needs. Card requires a
// token; PIX and boleto require a taxpayer document.
func Validate(m Method, c order.Customer, items []cart.Item) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Reason: "cart is empty"}
	}
	if m == nil {
		return &ValidationError{Field: "paymentMethod", Reason: "required"}
	}
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if !strings.Contains(email, "@") {
		return &ValidationError{Field: "email", Reason: "malformed"}
	}
	if strings.TrimSpace(c.FirstName) == "" {
		return &ValidationError{Field: "firstName", Reason: "required"}
	}
	if strings.TrimSpace(c.LastName) == "" {
		return &ValidationError{Field: "lastName", Reason: "required"}
	}

	switch v := m.(type) {
	case Card:
		if strings.TrimSpace(v.Token) == "" {
			return &ValidationError{Field: "token", Reason: "card token required"}
		}
		if v.Installments < 0 {
			return &ValidationError{Field: "installments", Reason: "must not be negative"}
		}
	case Pix, Boleto:
		if Document(m, c) == "" {
			return &ValidationError{Field: "documentNumber", Reason: "document required for " + m.Name()}
		}
	default:
		return &ValidationError{Field: "paymentMethod", Reason: "unsupported"}
	}
	return nil
}

// ParseMethod builds a Method from its wire name and the fields that apply
// to it.
func ParseMethod(name string, card Card, document string) (Method, error) {
	switch name {
	case MethodCard, "credit_card":
		return card, nil
	case MethodPix:
		return Pix{Document: document}, nil
	case MethodBoleto:
		return Boleto{Document: document}, nil
	default:
		return nil, &ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unsupported method %q", name)}
	}
}
