package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/streamshop/internal/api"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/product"
)

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, internal(errors.Wrap(err, "list products")))
		return
	}

	out := make([]api.Product, len(products))
	for i, p := range products {
		out[i] = h.productResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, mapLookupError(err))
		return
	}
	writeJSON(w, http.StatusOK, h.productResponse(*p))
}

// ValidateCoupon answers {code, discount} for an applicable coupon and 404
// for every kind of rejection.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Validate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			writeError(w, r, notFound("Invalid coupon", err))
			return
		}
		writeError(w, r, internal(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromCoupon(c))
}

func (h *Handler) productResponse(p product.Product) api.Product {
	out := api.FromProduct(p)
	out.Image = h.resolveImageURL(out.Image)
	return out
}

func (h *Handler) resolveImageURL(path string) string {
	if h.imageBaseURL == "" || path == "" {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}
