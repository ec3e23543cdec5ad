package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/api"
	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/product"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Payments is the server-side payment service.
type Payments interface {
	Config(ctx context.Context) (*payment.Config, error)
	Process(ctx context.Context, req *payment.Request) (*payment.Response, error)
	Status(ctx context.Context, paymentID string) (*payment.ProcessorPayment, error)
	Order(ctx context.Context, orderID string) (*order.Order, error)
	Attempt(ctx context.Context, key string) (*payment.Response, error)
	HandleNotification(ctx context.Context, n payment.Notification) error
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
	// WebhookSecret enables x-signature verification of processor
	// notifications. Empty disables verification.
	WebhookSecret string
}

// Handler serves the storefront API.
type Handler struct {
	products product.Repository
	carts    cart.Repository
	coupons  coupon.Validator
	payments Payments

	imageBaseURL  string
	webhookSecret []byte
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	carts cart.Repository,
	coupons coupon.Validator,
	payments Payments,
) *Handler {
	h := &Handler{
		products:     products,
		carts:        carts,
		coupons:      coupons,
		payments:     payments,
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
	}
	if cfg.WebhookSecret != "" {
		h.webhookSecret = []byte(cfg.WebhookSecret)
	}
	return h
}

// Routes registers the API routes on r. The caller mounts them under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)

	r.Get("/cart/{sessionID}", h.GetCart)
	r.Post("/cart/{sessionID}", h.ReplaceCart)
	r.Delete("/cart/{sessionID}", h.ClearCart)

	r.Get("/coupons/validate/{code}", h.ValidateCoupon)

	r.Get("/orders/{id}", h.GetOrder)

	r.Route("/payments", func(r chi.Router) {
		r.Get("/config", h.PaymentConfig)
		r.Post("/process", h.ProcessPayment)
		r.Get("/status/{paymentID}", h.PaymentStatus)
		r.Get("/order/{orderID}", h.PaymentByOrder)
		r.Get("/attempt/{key}", h.PaymentAttempt)
	})

	r.Post("/webhooks/mercadopago", h.MercadoPagoWebhook)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, e apiError) {
	if e.status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.Int("status", e.status),
			zap.String("code", e.code),
			zap.Error(e.cause),
		)
	}
	writeJSON(w, e.status, api.Error{Code: e.code, Message: e.message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, apiError{
			status:  http.StatusBadRequest,
			code:    "bad_request",
			message: "malformed JSON body",
			cause:   err,
		})
		return false
	}
	return true
}
