package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidCoupon is returned for every kind of rejection: unknown code,
// inactive or expired coupon, or a discount fraction outside [0, 1].
var ErrInvalidCoupon = errors.New("invalid coupon code")

// Coupon is a validated code and the fraction of the subtotal it takes off.
type Coupon struct {
	Code             string
	DiscountFraction decimal.Decimal
}

// Rule is the stored form of a coupon.
type Rule struct {
	Code             string
	DiscountFraction decimal.Decimal
	Active           bool
	ValidUntil       *time.Time
}

// Repository provides lookup of coupon rules by their code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// NormalizeCode trims surrounding whitespace and uppercases the code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidFraction reports whether f lies in [0, 1].
func ValidFraction(f decimal.Decimal) bool {
	return !f.IsNegative() && f.LessThanOrEqual(decimal.NewFromInt(1))
}
