package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/pricing"
)

type mockProcessor struct {
	calls []*Request
	resp  *Response
	err   error
}

func (m *mockProcessor) Config(context.Context) (*Config, error) {
	return &Config{PublicKey: "TEST-public"}, nil
}

func (m *mockProcessor) Process(_ context.Context, req *Request) (*Response, error) {
	m.calls = append(m.calls, req)
	return m.resp, m.err
}

func validCustomer() order.Customer {
	return order.Customer{
		Email:     "ana@example.com",
		FirstName: "Ana",
		LastName:  "Silva",
		Phone:     "11999990000",
	}
}

func submission(m Method) Submission {
	return Submission{
		SessionID: "session_1",
		Method:    m,
		Customer:  validCustomer(),
		Items:     []cart.Item{{ProductID: "p1", Quantity: 2}},
		Breakdown: pricing.Breakdown{
			Subtotal: decimal.RequireFromString("59.80"),
			Discount: decimal.Zero,
			Total:    decimal.RequireFromString("59.80"),
		},
	}
}

func TestDispatcher_BuildValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Submission)
		wantField string
	}{
		{
			name:      "pix without document",
			mutate:    func(s *Submission) { s.Method = Pix{} },
			wantField: "documentNumber",
		},
		{
			name:      "boleto without document",
			mutate:    func(s *Submission) { s.Method = Boleto{Document: "  "} },
			wantField: "documentNumber",
		},
		{
			name:      "card without token",
			mutate:    func(s *Submission) { s.Method = Card{} },
			wantField: "token",
		},
		{
			name:      "missing email",
			mutate:    func(s *Submission) { s.Customer.Email = "" },
			wantField: "email",
		},
		{
			name:      "malformed email",
			mutate:    func(s *Submission) { s.Customer.Email = "ana.example.com" },
			wantField: "email",
		},
		{
			name:      "missing last name",
			mutate:    func(s *Submission) { s.Customer.LastName = " " },
			wantField: "lastName",
		},
		{
			name:      "empty cart",
			mutate:    func(s *Submission) { s.Items = nil },
			wantField: "items",
		},
		{
			name:      "no method",
			mutate:    func(s *Submission) { s.Method = nil },
			wantField: "paymentMethod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProcessor{}
			d := NewDispatcher(p, nil)

			s := submission(Card{Token: "tok"})
			tt.mutate(&s)

			_, _, err := d.Dispatch(context.Background(), s)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.Empty(t, p.calls, "no network call on validation failure")
		})
	}
}

func TestDispatcher_BuildDefaults(t *testing.T) {
	d := NewDispatcher(&mockProcessor{}, nil)

	req, err := d.Build(submission(Card{Token: "tok", PaymentMethodID: "visa"}))
	require.NoError(t, err)
	card, ok := req.Method.(Card)
	require.True(t, ok)
	assert.Equal(t, 1, card.Installments)
	assert.NotEmpty(t, req.IdempotencyKey)

	s := submission(Pix{})
	s.Customer.Identification = order.Identification{Number: "12345678909"}
	s.CouponCode = " stream20 "
	req, err = d.Build(s)
	require.NoError(t, err)
	assert.Equal(t, Pix{Document: "12345678909"}, req.Method)
	assert.Equal(t, "CPF", req.Customer.Identification.Type)
	assert.Equal(t, "STREAM20", req.CouponCode)
}

func TestDispatcher_FreshKeyPerAttempt(t *testing.T) {
	d := NewDispatcher(&mockProcessor{}, nil)

	a, err := d.Build(submission(Boleto{Document: "123"}))
	require.NoError(t, err)
	b, err := d.Build(submission(Boleto{Document: "123"}))
	require.NoError(t, err)
	assert.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
}

func TestDispatcher_SubmitOnce(t *testing.T) {
	p := &mockProcessor{err: &TransportError{Op: "post", Err: context.DeadlineExceeded}}
	d := NewDispatcher(p, nil)

	_, _, err := d.Dispatch(context.Background(), submission(Card{Token: "tok"}))

	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, p.calls, 1, "no retry")
}

func TestDispatcher_SubmitReturnsResponse(t *testing.T) {
	p := &mockProcessor{resp: &Response{Status: order.StatusApproved, OrderID: "o1"}}
	d := NewDispatcher(p, nil)

	req, resp, err := d.Dispatch(context.Background(), submission(Card{Token: "tok"}))
	require.NoError(t, err)
	assert.Equal(t, "o1", resp.OrderID)
	assert.Same(t, req, p.calls[0])
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("pix", Card{}, "123")
	require.NoError(t, err)
	assert.Equal(t, Pix{Document: "123"}, m)

	m, err = ParseMethod("card", Card{Token: "t"}, "")
	require.NoError(t, err)
	assert.Equal(t, MethodCard, m.Name())

	_, err = ParseMethod("crypto", Card{}, "")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}
