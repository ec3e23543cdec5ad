package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the lifecycle state of an order.
type Status string

// Order statuses. Approved and Failed are terminal.
const (
	StatusPending   Status = "pending"
	StatusInProcess Status = "in_process"
	StatusApproved  Status = "approved"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusFailed
}

// StatusFromProcessor maps a payment processor status to an order status.
// Anything the processor reports besides approved, pending and in_process
// (rejected, cancelled, refunded, charged_back, unknown values) fails the
// order.
func StatusFromProcessor(processorStatus string) Status {
	switch processorStatus {
	case "approved":
		return StatusApproved
	case "pending":
		return StatusPending
	case "in_process", "authorized":
		return StatusInProcess
	default:
		return StatusFailed
	}
}

// TransitionError is returned when an order in a terminal status would be
// moved to a different status.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

// Transition checks that an order may move from one status to another.
// Re-applying the current status is allowed.
func Transition(orderID string, from, to Status) error {
	if from == to {
		return nil
	}
	if from.Terminal() {
		return &TransitionError{OrderID: orderID, From: from, To: to}
	}
	return nil
}

// Item is a priced order line, frozen at the catalog price of the time the
// order was placed.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Identification is a taxpayer document.
type Identification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

// Customer is the contact and billing information given at checkout.
type Customer struct {
	Email          string         `json:"email"`
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Phone          string         `json:"phone,omitempty"`
	Address        string         `json:"address,omitempty"`
	City           string         `json:"city,omitempty"`
	PostalCode     string         `json:"postalCode,omitempty"`
	Country        string         `json:"country,omitempty"`
	Identification Identification `json:"identification"`
}

// Pix holds the instant-transfer QR code issued for a pending order.
type Pix struct {
	QRCode         string     `json:"qrCode"`
	QRCodeBase64   string     `json:"qrCodeBase64,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// Boleto holds the bank slip issued for a pending order.
type Boleto struct {
	URL            string     `json:"boletoUrl"`
	Barcode        string     `json:"barcode,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// Order is the record of a payment attempt for a priced cart.
type Order struct {
	ID                 string
	IdempotencyKey     string
	SessionID          string
	UserID             string
	Items              []Item
	Subtotal           decimal.Decimal
	Discount           decimal.Decimal
	Total              decimal.Decimal
	CouponCode         string
	Customer           Customer
	PaymentMethod      string
	ProcessorPaymentID string
	ProcessorStatus    string
	Status             Status
	Pix                *Pix
	Boleto             *Boleto
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StatusUpdate is a processor-driven change to an order.
type StatusUpdate struct {
	ProcessorPaymentID string
	ProcessorStatus    string
	Status             Status
}

// Repository defines persistence operations for orders.
//
// Create returns ErrDuplicateKey when an order with the same idempotency key
// already exists. UpdateStatus must refuse to modify terminal orders and
// return a *TransitionError in that case.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (*Order, error)
}

// ErrDuplicateKey is returned by Repository.Create for a replayed
// idempotency key.
var ErrDuplicateKey = errors.New("duplicate idempotency key")
