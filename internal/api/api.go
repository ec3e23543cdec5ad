// Package api defines the JSON bodies exchanged between the storefront API
// server and its clients, and their conversions to domain types. Money is a
// JSON number with two decimal places.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/pricing"
	"github.com/xenking/streamshop/internal/domain/product"
)

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Product is a catalog entry.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Platform    string   `json:"platform"`
	Price       float64  `json:"price"`
	Duration    string   `json:"duration"`
	Image       string   `json:"image"`
	Features    []string `json:"features"`
	IsAvailable bool     `json:"isAvailable"`
}

// CartItem is one cart line.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart is the body of the cart endpoints.
type Cart struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId,omitempty"`
	Items     []CartItem `json:"items"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// CouponValidation is a valid coupon and its discount fraction.
type CouponValidation struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
}

// PaymentConfig is the public processor configuration.
type PaymentConfig struct {
	PublicKey string `json:"publicKey"`
}

// Identification is a customer tax document.
type Identification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number"`
}

// CustomerInfo is the payer. The document may come nested or flat.
type CustomerInfo struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	Phone          string          `json:"phone,omitempty"`
	Address        string          `json:"address,omitempty"`
	City           string          `json:"city,omitempty"`
	PostalCode     string          `json:"postalCode,omitempty"`
	Country        string          `json:"country,omitempty"`
	DocumentType   string          `json:"documentType,omitempty"`
	DocumentNumber string          `json:"documentNumber,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

// PaymentData holds the method-specific payment fields.
type PaymentData struct {
	Token             string  `json:"token,omitempty"`
	Installments      int     `json:"installments,omitempty"`
	PaymentMethodID   string  `json:"paymentMethodId,omitempty"`
	IssuerID          string  `json:"issuerId,omitempty"`
	TransactionAmount float64 `json:"transactionAmount,omitempty"`
}

// OrderItem is one line of an order or payment request.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Quantity  int     `json:"quantity"`
}

// PaymentRequest is the body of the payment processing endpoint.
type PaymentRequest struct {
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	PaymentMethod  string       `json:"paymentMethod"`
	PaymentData    PaymentData  `json:"paymentData"`
	CustomerInfo   CustomerInfo `json:"customerInfo"`
	Items          []OrderItem  `json:"items"`
	Subtotal       float64      `json:"subtotal"`
	Discount       float64      `json:"discount"`
	Total          float64      `json:"total"`
	CouponCode     string       `json:"couponCode,omitempty"`
	UserID         string       `json:"userId,omitempty"`
	SessionID      string       `json:"sessionId"`
}

// PixData is the PIX code of a pending payment.
type PixData struct {
	QRCode         string     `json:"qrCode"`
	QRCodeBase64   string     `json:"qrCodeBase64"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// BoletoData is the bank slip of a pending payment.
type BoletoData struct {
	BoletoURL      string     `json:"boletoUrl"`
	Barcode        string     `json:"barcode"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// PaymentResponse is the outcome of a payment request.
type PaymentResponse struct {
	Status        string      `json:"status"`
	OrderID       string      `json:"orderId"`
	PaymentID     string      `json:"paymentId,omitempty"`
	PaymentMethod string      `json:"paymentMethod"`
	Message       string      `json:"message"`
	Pix           *PixData    `json:"pix,omitempty"`
	Boleto        *BoletoData `json:"boleto,omitempty"`
}

// PaymentStatus is the processor-side state of a payment.
type PaymentStatus struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusDetail  string `json:"statusDetail,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// Order is a persisted order.
type Order struct {
	ID              string       `json:"id"`
	SessionID       string       `json:"sessionId"`
	UserID          string       `json:"userId,omitempty"`
	Items           []OrderItem  `json:"items"`
	Subtotal        float64      `json:"subtotal"`
	Discount        float64      `json:"discount"`
	Total           float64      `json:"total"`
	CouponCode      string       `json:"couponCode,omitempty"`
	Customer        CustomerInfo `json:"customer"`
	PaymentMethod   string       `json:"paymentMethod"`
	PaymentID       string       `json:"paymentId,omitempty"`
	ProcessorStatus string       `json:"processorStatus,omitempty"`
	Status          string       `json:"status"`
	Pix             *PixData     `json:"pix,omitempty"`
	Boleto          *BoletoData  `json:"boleto,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// OrderLookup is the body of the order reconciliation endpoint.
type OrderLookup struct {
	Success bool  `json:"success"`
	Order   Order `json:"order"`
}

// Money converts a decimal amount to its wire form.
func Money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Decimal converts a wire amount to a decimal rounded to cents.
func Decimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// FromProduct encodes a catalog product.
func FromProduct(p product.Product) Product {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Platform:    p.Platform,
		Price:       Money(p.Price),
		Duration:    p.Duration,
		Image:       p.Image,
		Features:    features,
		IsAvailable: p.Available,
	}
}

// Domain decodes a catalog product.
func (p Product) Domain() product.Product {
	return product.Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Platform:    p.Platform,
		Price:       Decimal(p.Price),
		Duration:    p.Duration,
		Image:       p.Image,
		Features:    p.Features,
		Available:   p.IsAvailable,
	}
}

// FromItems encodes cart lines.
func FromItems(items []cart.Item) []CartItem {
	out := make([]CartItem, len(items))
	for i, it := range items {
		out[i] = CartItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// DomainItems decodes cart lines without validating them.
func DomainItems(items []CartItem) []cart.Item {
	out := make([]cart.Item, len(items))
	for i, it := range items {
		out[i] = cart.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// FromCart encodes a cart, omitting a zero update time.
func FromCart(c *cart.Cart) Cart {
	out := Cart{
		SessionID: c.SessionID,
		UserID:    c.UserID,
		Items:     FromItems(c.Items),
	}
	if !c.UpdatedAt.IsZero() {
		t := c.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// Domain decodes a cart.
func (c Cart) Domain() *cart.Cart {
	out := &cart.Cart{
		SessionID: c.SessionID,
		UserID:    c.UserID,
		Items:     DomainItems(c.Items),
	}
	if c.UpdatedAt != nil {
		out.UpdatedAt = *c.UpdatedAt
	}
	return out
}

// FromCoupon encodes a validated coupon.
func FromCoupon(c *coupon.Coupon) CouponValidation {
	return CouponValidation{Code: c.Code, Discount: c.DiscountFraction.InexactFloat64()}
}

// Domain decodes a validated coupon.
func (c CouponValidation) Domain() *coupon.Coupon {
	return &coupon.Coupon{Code: c.Code, DiscountFraction: decimal.NewFromFloat(c.Discount)}
}

// FromCustomer encodes a customer, writing the document both nested and flat.
func FromCustomer(c order.Customer) CustomerInfo {
	out := CustomerInfo{
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Phone:      c.Phone,
		Address:    c.Address,
		City:       c.City,
		PostalCode: c.PostalCode,
		Country:    c.Country,
	}
	if c.Identification.Number != "" {
		out.DocumentType = c.Identification.Type
		out.DocumentNumber = c.Identification.Number
		out.Identification = &Identification{Type: c.Identification.Type, Number: c.Identification.Number}
	}
	return out
}

// Domain prefers the nested identification and falls back to the flat
// document fields.
func (c CustomerInfo) Domain() order.Customer {
	out := order.Customer{
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Phone:      c.Phone,
		Address:    c.Address,
		City:       c.City,
		PostalCode: c.PostalCode,
		Country:    c.Country,
		Identification: order.Identification{
			Type:   c.DocumentType,
			Number: c.DocumentNumber,
		},
	}
	if c.Identification != nil && c.Identification.Number != "" {
		out.Identification = order.Identification{Type: c.Identification.Type, Number: c.Identification.Number}
	}
	return out
}

// FromPaymentRequest encodes a dispatcher request. Items carry only product
// ids and quantities since the server reprices from its own catalog.
func FromPaymentRequest(req *payment.Request) PaymentRequest {
	out := PaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.Method.Name(),
		CustomerInfo:   FromCustomer(req.Customer),
		Subtotal:       Money(req.Breakdown.Subtotal),
		Discount:       Money(req.Breakdown.Discount),
		Total:          Money(req.Breakdown.Total),
		CouponCode:     req.CouponCode,
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		PaymentData: PaymentData{
			TransactionAmount: Money(req.Breakdown.Total),
		},
	}

	out.Items = make([]OrderItem, len(req.Items))
	for i, it := range req.Items {
		out.Items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	switch m := req.Method.(type) {
	case payment.Card:
		out.PaymentData.Token = m.Token
		out.PaymentData.Installments = m.Installments
		out.PaymentData.PaymentMethodID = m.PaymentMethodID
		out.PaymentData.IssuerID = m.IssuerID
	case payment.Pix:
		out.PaymentData.PaymentMethodID = payment.MethodPix
		out.CustomerInfo.DocumentNumber = m.Document
	case payment.Boleto:
		out.PaymentData.PaymentMethodID = "bolbradesco"
		out.CustomerInfo.DocumentNumber = m.Document
	}
	return out
}

// Domain decodes a payment request. Method-specific validation is left to
// payment.Validate.
func (r PaymentRequest) Domain() (*payment.Request, error) {
	customer := r.CustomerInfo.Domain()
	method, err := payment.ParseMethod(r.PaymentMethod, payment.Card{
		Token:           r.PaymentData.Token,
		Installments:    r.PaymentData.Installments,
		PaymentMethodID: r.PaymentData.PaymentMethodID,
		IssuerID:        r.PaymentData.IssuerID,
	}, customer.Identification.Number)
	if err != nil {
		return nil, err
	}

	items := make([]cart.Item, len(r.Items))
	for i, it := range r.Items {
		items[i] = cart.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	return &payment.Request{
		IdempotencyKey: r.IdempotencyKey,
		SessionID:      r.SessionID,
		UserID:         r.UserID,
		Method:         method,
		Customer:       customer,
		Items:          items,
		Breakdown: pricing.Breakdown{
			Subtotal: Decimal(r.Subtotal),
			Discount: Decimal(r.Discount),
			Total:    Decimal(r.Total),
		},
		CouponCode: r.CouponCode,
	}, nil
}

func fromPix(p *order.Pix) *PixData {
	if p == nil {
		return nil
	}
	return &PixData{QRCode: p.QRCode, QRCodeBase64: p.QRCodeBase64, ExpirationDate: p.ExpirationDate}
}

func fromBoleto(b *order.Boleto) *BoletoData {
	if b == nil {
		return nil
	}
	return &BoletoData{BoletoURL: b.URL, Barcode: b.Barcode, ExpirationDate: b.ExpirationDate}
}

// FromPaymentResponse encodes a payment outcome.
func FromPaymentResponse(r *payment.Response) PaymentResponse {
	return PaymentResponse{
		Status:        string(r.Status),
		OrderID:       r.OrderID,
		PaymentID:     r.PaymentID,
		PaymentMethod: r.PaymentMethod,
		Message:       r.Message,
		Pix:           fromPix(r.Pix),
		Boleto:        fromBoleto(r.Boleto),
	}
}

// Domain decodes a payment outcome.
func (r PaymentResponse) Domain() *payment.Response {
	out := &payment.Response{
		Status:        order.Status(r.Status),
		OrderID:       r.OrderID,
		PaymentID:     r.PaymentID,
		PaymentMethod: r.PaymentMethod,
		Message:       r.Message,
	}
	if r.Pix != nil {
		out.Pix = &order.Pix{QRCode: r.Pix.QRCode, QRCodeBase64: r.Pix.QRCodeBase64, ExpirationDate: r.Pix.ExpirationDate}
	}
	if r.Boleto != nil {
		out.Boleto = &order.Boleto{URL: r.Boleto.BoletoURL, Barcode: r.Boleto.Barcode, ExpirationDate: r.Boleto.ExpirationDate}
	}
	return out
}

// FromProcessorPayment encodes a processor payment lookup.
func FromProcessorPayment(p *payment.ProcessorPayment) PaymentStatus {
	return PaymentStatus{
		ID:            p.ID,
		Status:        p.Status,
		StatusDetail:  p.StatusDetail,
		PaymentMethod: p.PaymentMethodID,
	}
}

// FromOrder encodes an order.
func FromOrder(o *order.Order) Order {
	items := make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     Money(it.Price),
			Quantity:  it.Quantity,
		}
	}
	return Order{
		ID:              o.ID,
		SessionID:       o.SessionID,
		UserID:          o.UserID,
		Items:           items,
		Subtotal:        Money(o.Subtotal),
		Discount:        Money(o.Discount),
		Total:           Money(o.Total),
		CouponCode:      o.CouponCode,
		Customer:        FromCustomer(o.Customer),
		PaymentMethod:   o.PaymentMethod,
		PaymentID:       o.ProcessorPaymentID,
		ProcessorStatus: o.ProcessorStatus,
		Status:          string(o.Status),
		Pix:             fromPix(o.Pix),
		Boleto:          fromBoleto(o.Boleto),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
