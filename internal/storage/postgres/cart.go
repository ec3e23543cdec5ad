package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/streamshop/internal/domain/cart"
)

const (
	getCartSQL = `SELECT user_id, items, updated_at FROM carts WHERE session_id = $1`

	replaceCartSQL = `INSERT INTO carts (session_id, items, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			items = EXCLUDED.items,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, updated_at`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Items are
// stored as a JSONB array.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the session's cart, or an empty one when none is stored.
func (r *CartRepository) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	c := &cart.Cart{SessionID: sessionID, Items: []cart.Item{}}

	var raw []byte
	err := r.pool.QueryRow(ctx, getCartSQL, sessionID).Scan(&c.UserID, &raw, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, nil
		}
		return nil, fmt.Errorf("getting cart %q: %w", sessionID, err)
	}

	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling cart %q items: %w", sessionID, err)
	}
	return c, nil
}

// Replace overwrites the session's item list, creating the cart if needed.
func (r *CartRepository) Replace(ctx context.Context, sessionID string, items []cart.Item) (*cart.Cart, error) {
	if items == nil {
		items = []cart.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshaling cart items: %w", err)
	}

	c := &cart.Cart{SessionID: sessionID, Items: items}
	if err := r.pool.QueryRow(ctx, replaceCartSQL, sessionID, raw).Scan(&c.UserID, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("replacing cart %q: %w", sessionID, err)
	}
	return c, nil
}
