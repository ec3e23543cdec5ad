package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/streamshop/internal/api"
)

// PaymentConfig returns the processor public key.
func (h *Handler) PaymentConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.payments.Config(r.Context())
	if err != nil {
		writeError(w, r, internal(err))
		return
	}
	writeJSON(w, http.StatusOK, api.PaymentConfig{PublicKey: cfg.PublicKey})
}

// ProcessPayment reprices the posted cart, charges the processor and records
// the order. An Idempotency-Key header overrides the body's key.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var body api.PaymentRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		body.IdempotencyKey = key
	}

	req, err := body.Domain()
	if err != nil {
		writeError(w, r, mapPaymentError(err))
		return
	}

	resp, err := h.payments.Process(r.Context(), req)
	if err != nil {
		writeError(w, r, mapPaymentError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromPaymentResponse(resp))
}

// PaymentStatus passes through the processor's view of a payment.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Status(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeError(w, r, mapLookupError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromProcessorPayment(p))
}

// GetOrder returns a recorded order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.payments.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, mapLookupError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromOrder(o))
}

// PaymentByOrder returns the order with its PIX or boleto data, for clients
// polling a pending payment.
func (h *Handler) PaymentByOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.payments.Order(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, mapLookupError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.OrderLookup{Success: true, Order: api.FromOrder(o)})
}

// PaymentAttempt returns the outcome recorded for an idempotency key.
func (h *Handler) PaymentAttempt(w http.ResponseWriter, r *http.Request) {
	resp, err := h.payments.Attempt(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, mapLookupError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromPaymentResponse(resp))
}
