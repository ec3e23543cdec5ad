package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/streamshop/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount, is_active, valid_until
		FROM coupons WHERE code = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount, is_active, valid_until)
		VALUES (UPPER($1), $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET
			discount = EXCLUDED.discount,
			is_active = EXCLUDED.is_active,
			valid_until = EXCLUDED.valid_until`

	createCouponStagingSQL = `CREATE TEMP TABLE coupon_import
		(LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeCouponStagingSQL = `INSERT INTO coupons (code, discount, is_active, valid_until)
		SELECT DISTINCT ON (code) code, discount, is_active, valid_until FROM coupon_import
		ON CONFLICT (code) DO UPDATE SET
			discount = EXCLUDED.discount,
			is_active = EXCLUDED.is_active,
			valid_until = EXCLUDED.valid_until`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon rule by its code, inactive and expired rules
// included. The query applies UPPER() on the parameter.
// Returns coupon.ErrInvalidCoupon when no coupon has that code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	var rule coupon.Rule
	err := r.pool.QueryRow(ctx, getCouponByCodeSQL, code).Scan(
		&rule.Code, &rule.DiscountFraction, &rule.Active, &rule.ValidUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// Upsert inserts the rules or overwrites the stored ones sharing a code.
func (r *CouponRepository) Upsert(ctx context.Context, rules []coupon.Rule) error {
	batch := &pgx.Batch{}
	for _, c := range rules {
		batch.Queue(upsertCouponSQL, c.Code, c.DiscountFraction, c.Active, c.ValidUntil)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting coupons: %w", err)
	}
	return nil
}

// Import bulk-loads rules through COPY into a staging table and merges them
// into coupons in one transaction. When a code repeats within rules, one of
// its rows wins. It returns the number of rows merged.
func (r *CouponRepository) Import(ctx context.Context, rules []coupon.Rule) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning coupon import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, createCouponStagingSQL); err != nil {
		return 0, fmt.Errorf("creating staging table: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"coupon_import"},
		[]string{"code", "discount", "is_active", "valid_until"},
		pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
			c := rules[i]
			return []any{coupon.NormalizeCode(c.Code), c.DiscountFraction, c.Active, c.ValidUntil}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copying coupons: %w", err)
	}

	tag, err := tx.Exec(ctx, mergeCouponStagingSQL)
	if err != nil {
		return 0, fmt.Errorf("merging coupons: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing coupon import: %w", err)
	}
	return tag.RowsAffected(), nil
}
