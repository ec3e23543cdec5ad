package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
)

// Kind classifies the result of a payment submission.
type Kind int

// Outcome kinds.
const (
	// Approved: payment confirmed, cart cleared.
	Approved Kind = iota + 1
	// Pending: awaiting asynchronous confirmation (PIX, boleto, review), cart
	// cleared.
	Pending
	// Recoverable: the payment was refused or never sent, cart kept, the
	// customer may retry.
	Recoverable
	// Unconfirmed: no usable answer, the payment may exist, cart kept.
	Unconfirmed
)

func (k Kind) String() string {
	switch k {
	case Approved:
		return "approved"
	case Pending:
		return "pending"
	case Recoverable:
		return "recoverable"
	case Unconfirmed:
		return "unconfirmed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome is what the presentation layer needs to route the customer.
type Outcome struct {
	Kind    Kind
	OrderID string
	Method  string
	Message string
	Pix     *order.Pix
	Boleto  *order.Boleto
}

// CartClearer empties the cart after a successful checkout.
type CartClearer interface {
	Clear(ctx context.Context) error
}

// Resolver maps payment responses and errors to outcomes and clears the cart
// on approved and pending results.
type Resolver struct {
	cart CartClearer
	lg   *zap.Logger
}

// NewResolver creates a Resolver clearing c.
func NewResolver(c CartClearer, lg *zap.Logger) *Resolver {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Resolver{cart: c, lg: lg}
}

// Resolve classifies the submission result. A failure to clear the cart is
// logged and does not change the outcome.
func (r *Resolver) Resolve(ctx context.Context, resp *payment.Response, err error) Outcome {
	out := classify(resp, err)
	if out.Kind == Approved || out.Kind == Pending {
		if cerr := r.cart.Clear(ctx); cerr != nil {
			r.lg.Warn("Clear cart after checkout failed",
				zap.String("order_id", out.OrderID),
				zap.Error(cerr),
			)
		}
	}
	return out
}

func classify(resp *payment.Response, err error) Outcome {
	if err != nil {
		var (
			vErr *payment.ValidationError
			rErr *payment.RejectedError
		)
		switch {
		case errors.As(err, &vErr):
			return Outcome{Kind: Recoverable, Message: vErr.Error()}
		case errors.As(err, &rErr):
			msg := rErr.Message
			if msg == "" {
				msg = "payment was declined"
			}
			return Outcome{Kind: Recoverable, Message: msg}
		default:
			return Outcome{
				Kind:    Unconfirmed,
				Message: "We could not confirm your payment. Check your orders before trying again.",
			}
		}
	}
	if resp == nil {
		return Outcome{Kind: Unconfirmed, Message: "empty payment response"}
	}

	out := Outcome{
		OrderID: resp.OrderID,
		Method:  resp.PaymentMethod,
		Message: resp.Message,
		Pix:     resp.Pix,
		Boleto:  resp.Boleto,
	}
	switch resp.Status {
	case order.StatusApproved:
		out.Kind = Approved
	case order.StatusPending, order.StatusInProcess:
		out.Kind = Pending
	default:
		out.Kind = Recoverable
		if out.Message == "" {
			out.Message = "payment was not approved"
		}
	}
	return out
}
