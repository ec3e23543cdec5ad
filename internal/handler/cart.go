package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/streamshop/internal/api"
	"github.com/xenking/streamshop/internal/domain/cart"
)

func sessionParam(r *http.Request) (string, error) {
	sid := chi.URLParam(r, "sessionID")
	if !cart.ValidSessionID(sid) {
		return "", errInvalidSession
	}
	return sid, nil
}

// GetCart returns the session's cart, empty when none is stored.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionParam(r)
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}
	c, err := h.carts.Get(r.Context(), sid)
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromCart(c))
}

// ReplaceCart overwrites the session's cart with the posted items.
func (h *Handler) ReplaceCart(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionParam(r)
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}
	var body []api.CartItem
	if !decodeJSON(w, r, &body) {
		return
	}
	items, err := cart.Normalize(api.DomainItems(body))
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}

	c, err := h.carts.Replace(r.Context(), sid, items)
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromCart(c))
}

// ClearCart empties the session's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionParam(r)
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}
	c, err := h.carts.Replace(r.Context(), sid, []cart.Item{})
	if err != nil {
		writeError(w, r, mapCartError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromCart(c))
}
