package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a coupon code into an applicable Coupon.
type Validator interface {
	Validate(ctx context.Context, code string) (*Coupon, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate normalizes the code, looks up its rule and checks that it is
// active, not expired and carries a usable fraction.
func (v *RepoValidator) Validate(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !rule.Active {
		return nil, ErrInvalidCoupon
	}
	if rule.ValidUntil != nil && v.now().After(*rule.ValidUntil) {
		return nil, ErrInvalidCoupon
	}
	if !ValidFraction(rule.DiscountFraction) {
		return nil, ErrInvalidCoupon
	}

	return &Coupon{
		Code:             rule.Code,
		DiscountFraction: rule.DiscountFraction,
	}, nil
}
