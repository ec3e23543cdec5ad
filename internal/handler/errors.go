package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/domain/product"
)

var errInvalidSession = errors.New("invalid session id")

type apiError struct {
	status  int
	code    string
	message string
	cause   error
}

func validation(err error) apiError {
	return apiError{status: http.StatusBadRequest, code: "validation", message: err.Error(), cause: err}
}

func notFound(msg string, err error) apiError {
	return apiError{status: http.StatusNotFound, code: "not_found", message: msg, cause: err}
}

func internal(err error) apiError {
	return apiError{status: http.StatusInternalServerError, code: "internal", message: "internal error", cause: err}
}

// mapCartError converts cart errors to API errors.
func mapCartError(err error) apiError {
	var iqErr *cart.InvalidQuantityError
	switch {
	case errors.Is(err, errInvalidSession),
		errors.Is(err, cart.ErrProductIDRequired),
		errors.As(err, &iqErr):
		return validation(err)
	default:
		return internal(err)
	}
}

// mapPaymentError converts payment processing errors to API errors.
func mapPaymentError(err error) apiError {
	var (
		vErr   *payment.ValidationError
		iqErr  *cart.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
		puErr  *order.ProductUnavailableError
		rErr   *payment.RejectedError
		tErr   *payment.TransportError
	)
	switch {
	case errors.As(err, &vErr):
		return validation(vErr)
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, cart.ErrProductIDRequired),
		errors.As(err, &iqErr):
		return validation(err)
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_coupon", message: "invalid coupon code", cause: err}
	case errors.As(err, &pnfErr):
		return apiError{status: http.StatusUnprocessableEntity, code: "product_not_found", message: pnfErr.Error(), cause: err}
	case errors.As(err, &puErr):
		return apiError{status: http.StatusUnprocessableEntity, code: "product_unavailable", message: puErr.Error(), cause: err}
	case errors.As(err, &rErr):
		return apiError{status: http.StatusBadGateway, code: "processor_rejected", message: rErr.Message, cause: err}
	case errors.As(err, &tErr):
		return apiError{status: http.StatusInternalServerError, code: "processor_unavailable", message: "payment processor unavailable", cause: err}
	default:
		return internal(err)
	}
}

// mapLookupError converts read errors to API errors.
func mapLookupError(err error) apiError {
	switch {
	case errors.Is(err, product.ErrNotFound):
		return notFound("product not found", err)
	case errors.Is(err, order.ErrNotFound):
		return notFound("order not found", err)
	case errors.Is(err, payment.ErrNotFound):
		return notFound("payment not found", err)
	default:
		return internal(err)
	}
}
