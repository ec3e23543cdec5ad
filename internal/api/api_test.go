package api

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/pricing"
)

func TestMoney(t *testing.T) {
	assert.Equal(t, 53.82, Money(decimal.RequireFromString("53.82")))
	assert.Equal(t, 5.98, Money(decimal.RequireFromString("5.980")))
	assert.True(t, decimal.RequireFromString("19.90").Equal(Decimal(19.9)))
	assert.True(t, decimal.RequireFromString("0.30").Equal(Decimal(0.1+0.2)))
}

func TestPaymentRequest_BoletoDocumentSurvivesWire(t *testing.T) {
	req := &payment.Request{
		IdempotencyKey: "k1",
		SessionID:      "session_1",
		Method:         payment.Boleto{Document: "12345678909"},
		Customer: order.Customer{
			Email:          "ana@example.com",
			FirstName:      "Ana",
			LastName:       "Silva",
			Identification: order.Identification{Type: "CPF", Number: "12345678909"},
		},
		Items: []cart.Item{{ProductID: "p1", Quantity: 2}},
		Breakdown: pricing.Breakdown{
			Subtotal: decimal.RequireFromString("59.80"),
			Discount: decimal.RequireFromString("5.98"),
			Total:    decimal.RequireFromString("53.82"),
		},
		CouponCode: "BEMVINDO10",
	}
	body, err := json.Marshal(FromPaymentRequest(req))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"items":[{"productId":"p1","quantity":2}]`, "items carry no client prices")

	var wire PaymentRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "boleto", wire.PaymentMethod)
	assert.Equal(t, "bolbradesco", wire.PaymentData.PaymentMethodID)
	assert.Equal(t, 53.82, wire.Total)
	assert.Equal(t, []OrderItem{{ProductID: "p1", Quantity: 2}}, wire.Items)

	got, err := wire.Domain()
	require.NoError(t, err)
	assert.Equal(t, payment.Boleto{Document: "12345678909"}, got.Method)
	assert.Equal(t, req.Items, got.Items)
	assert.True(t, req.Breakdown.Total.Equal(got.Breakdown.Total))
	assert.Equal(t, "k1", got.IdempotencyKey)
}

func TestPaymentRequest_CreditCardAlias(t *testing.T) {
	wire := PaymentRequest{
		PaymentMethod: "credit_card",
		PaymentData:   PaymentData{Token: "tok", Installments: 3, PaymentMethodID: "master"},
	}
	got, err := wire.Domain()
	require.NoError(t, err)
	assert.Equal(t, payment.Card{Token: "tok", Installments: 3, PaymentMethodID: "master"}, got.Method)
}

func TestCustomerInfo_FlatDocumentFallback(t *testing.T) {
	c := CustomerInfo{DocumentType: "CPF", DocumentNumber: "111"}
	assert.Equal(t, "111", c.Domain().Identification.Number)

	c.Identification = &Identification{Type: "CNPJ", Number: "222"}
	assert.Equal(t, order.Identification{Type: "CNPJ", Number: "222"}, c.Domain().Identification)
}
