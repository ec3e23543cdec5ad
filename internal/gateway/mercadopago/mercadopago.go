// Package mercadopago is a minimal client of the Mercado Pago payments API.
package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.mercadopago.com"

var _ payment.Gateway = (*Client)(nil)

// Config configures a Client.
type Config struct {
	AccessToken         string
	BaseURL             string
	Timeout             time.Duration
	StatementDescriptor string
	NotificationURL     string
}

// Client creates and reads payments.
type Client struct {
	http       *resty.Client
	descriptor string
	notifyURL  string
	lg         *zap.Logger
}

// New creates a Client. The access token is sent as a bearer token.
func New(cfg Config, lg *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.StatementDescriptor == "" {
		cfg.StatementDescriptor = "STREAMSHOP"
	}
	if lg == nil {
		lg = zap.NewNop()
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Accept", "application/json")

	return &Client{
		http:       rc,
		descriptor: cfg.StatementDescriptor,
		notifyURL:  cfg.NotificationURL,
		lg:         lg,
	}
}

// CreatePayment posts a payment for the charge. The charge's idempotency key
// is forwarded so that a replayed attempt does not charge twice.
func (c *Client) CreatePayment(ctx context.Context, ch payment.Charge) (*payment.ProcessorPayment, error) {
	body := c.paymentBody(ch)

	var out paymentResource
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Idempotency-Key", ch.IdempotencyKey).
		SetBody(body).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/v1/payments")
	if err != nil {
		return nil, &payment.TransportError{Op: "mercadopago: create payment", Err: err}
	}
	if err := checkResponse(resp); err != nil {
		c.lg.Warn("Payment creation refused",
			zap.String("order_id", ch.Order.ID),
			zap.Int("status", resp.StatusCode()),
			zap.Error(err),
		)
		return nil, err
	}

	p := out.processorPayment()
	c.lg.Info("Payment created",
		zap.String("order_id", ch.Order.ID),
		zap.String("payment_id", p.ID),
		zap.String("status", p.Status),
		zap.String("status_detail", p.StatusDetail),
	)
	return p, nil
}

// GetPayment reads a payment by ID.
func (c *Client) GetPayment(ctx context.Context, id string) (*payment.ProcessorPayment, error) {
	var out paymentResource
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/v1/payments/{id}")
	if err != nil {
		return nil, &payment.TransportError{Op: "mercadopago: get payment", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, payment.ErrNotFound
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return out.processorPayment(), nil
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	code := ""
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		if e.Message != "" {
			msg = e.Message
		}
		code = e.Error
		if len(e.Cause) > 0 && e.Cause[0].Description != "" {
			msg = e.Cause[0].Description
		}
	}
	if resp.StatusCode() >= 500 {
		return &payment.TransportError{
			Op:  "mercadopago",
			Err: errors.Errorf("status %d: %s", resp.StatusCode(), msg),
		}
	}
	return &payment.RejectedError{StatusCode: resp.StatusCode(), Code: code, Message: msg}
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Cause   []struct {
		Code        json.Number `json:"code"`
		Description string      `json:"description"`
	} `json:"cause"`
}

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type phone struct {
	AreaCode string `json:"area_code"`
	Number   string `json:"number"`
}

type address struct {
	StreetName   string `json:"street_name,omitempty"`
	StreetNumber string `json:"street_number,omitempty"`
	City         string `json:"city,omitempty"`
	FederalUnit  string `json:"federal_unit,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

type payer struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Identification *identification `json:"identification,omitempty"`
	Phone          *phone          `json:"phone,omitempty"`
	Address        *address        `json:"address,omitempty"`
}

type paymentRequest struct {
	TransactionAmount   float64 `json:"transaction_amount"`
	Token               string  `json:"token,omitempty"`
	Description         string  `json:"description"`
	PaymentMethodID     string  `json:"payment_method_id"`
	Installments        int     `json:"installments,omitempty"`
	IssuerID            string  `json:"issuer_id,omitempty"`
	Payer               payer   `json:"payer"`
	ExternalReference   string  `json:"external_reference"`
	StatementDescriptor string  `json:"statement_descriptor,omitempty"`
	NotificationURL     string  `json:"notification_url,omitempty"`
}

func (c *Client) paymentBody(ch payment.Charge) paymentRequest {
	o := ch.Order
	cust := o.Customer

	desc := o.ID
	if len(desc) > 8 {
		desc = desc[:8]
	}
	req := paymentRequest{
		TransactionAmount: o.Total.Round(2).InexactFloat64(),
		Description:       "Order " + desc,
		ExternalReference: o.ID,
		NotificationURL:   c.notifyURL,
		Payer: payer{
			Email:     cust.Email,
			FirstName: cust.FirstName,
			LastName:  cust.LastName,
		},
	}
	if cust.Identification.Number != "" {
		typ := cust.Identification.Type
		if typ == "" {
			typ = "CPF"
		}
		req.Payer.Identification = &identification{Type: typ, Number: cust.Identification.Number}
	}

	switch m := ch.Method.(type) {
	case payment.Card:
		req.Token = m.Token
		req.PaymentMethodID = m.PaymentMethodID
		req.Installments = max(m.Installments, 1)
		req.IssuerID = m.IssuerID
		req.StatementDescriptor = c.descriptor
		req.Payer.Phone = &phone{AreaCode: "00", Number: cust.Phone}
		req.Payer.Address = &address{
			StreetName:   cust.Address,
			StreetNumber: "1",
			ZipCode:      cust.PostalCode,
		}
	case payment.Pix:
		req.PaymentMethodID = "pix"
	case payment.Boleto:
		req.PaymentMethodID = "bolbradesco"
		req.Payer.Address = &address{
			StreetName:   cust.Address,
			StreetNumber: "1",
			City:         cust.City,
			FederalUnit:  "SP",
			ZipCode:      cust.PostalCode,
		}
	}
	return req
}

type paymentResource struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	PaymentMethodID    string      `json:"payment_method_id"`
	ExternalReference  string      `json:"external_reference"`
	TransactionAmount  float64     `json:"transaction_amount"`
	DateOfExpiration   *time.Time  `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
		DigitableLine       string `json:"digitable_line"`
	} `json:"transaction_details"`
	Barcode struct {
		Content string `json:"content"`
	} `json:"barcode"`
}

func (r *paymentResource) processorPayment() *payment.ProcessorPayment {
	p := &payment.ProcessorPayment{
		ID:                r.ID.String(),
		Status:            r.Status,
		StatusDetail:      r.StatusDetail,
		PaymentMethodID:   r.PaymentMethodID,
		ExternalReference: r.ExternalReference,
	}
	p.Amount = decimal.NewFromFloat(r.TransactionAmount).Round(2)

	if td := r.PointOfInteraction.TransactionData; td.QRCode != "" {
		p.Pix = &order.Pix{
			QRCode:         td.QRCode,
			QRCodeBase64:   td.QRCodeBase64,
			ExpirationDate: r.DateOfExpiration,
		}
	}
	if url := r.TransactionDetails.ExternalResourceURL; url != "" && r.PaymentMethodID != "pix" {
		barcode := r.TransactionDetails.DigitableLine
		if barcode == "" {
			barcode = r.Barcode.Content
		}
		p.Boleto = &order.Boleto{
			URL:            url,
			Barcode:        barcode,
			ExpirationDate: r.DateOfExpiration,
		}
	}
	return p
}
