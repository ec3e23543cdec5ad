package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/streamshop/internal/domain/order"
)

const (
	orderColumns = `id, idempotency_key, session_id, user_id, items, subtotal, discount, total,
		coupon_code, customer, payment_method, processor_payment_id, processor_status, status,
		pix, boleto, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, idempotency_key, session_id, user_id, items,
			subtotal, discount, total, coupon_code, customer, payment_method,
			processor_payment_id, processor_status, status, pix, boleto)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	// Terminal orders only accept a re-application of their own status.
	updateOrderStatusSQL = `UPDATE orders SET
			status = $2,
			processor_status = $3,
			processor_payment_id = COALESCE(NULLIF($4, ''), processor_payment_id),
			updated_at = NOW()
		WHERE id = $1 AND (status = $2 OR status NOT IN ('approved', 'failed'))
		RETURNING ` + orderColumns

	getOrderStatusSQL = `SELECT status FROM orders WHERE id = $1`

	idempotencyKeyConstraint = "orders_idempotency_key_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items,
// customer and payment instructions are stored as JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and fills its timestamps. It returns
// order.ErrDuplicateKey when the idempotency key is already recorded.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling order customer: %w", err)
	}
	pix, err := marshalOptional(o.Pix)
	if err != nil {
		return fmt.Errorf("marshaling order pix: %w", err)
	}
	boleto, err := marshalOptional(o.Boleto)
	if err != nil {
		return fmt.Errorf("marshaling order boleto: %w", err)
	}

	err = r.pool.QueryRow(ctx, createOrderSQL,
		o.ID, o.IdempotencyKey, o.SessionID, o.UserID, items,
		o.Subtotal, o.Discount, o.Total, o.CouponCode, customer, o.PaymentMethod,
		o.ProcessorPaymentID, o.ProcessorStatus, string(o.Status), pix, boleto,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyKeyConstraint {
			return order.ErrDuplicateKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with the given ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByIdempotencyKey returns the order recorded for a submission attempt.
func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByKeySQL, key)
}

// UpdateStatus applies a processor-driven status change. A terminal order
// is left untouched and reported with *order.TransitionError.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, upd order.StatusUpdate) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, updateOrderStatusSQL,
		id, string(upd.Status), upd.ProcessorStatus, upd.ProcessorPaymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}

	var cur string
	if err := r.pool.QueryRow(ctx, getOrderStatusSQL, id).Scan(&cur); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("reading order %q status: %w", id, err)
	}
	return nil, &order.TransitionError{OrderID: id, From: order.Status(cur), To: upd.Status}
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return o, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o                          order.Order
		status                     string
		items, customer, pix, blto []byte
	)
	err := row.Scan(
		&o.ID, &o.IdempotencyKey, &o.SessionID, &o.UserID, &items,
		&o.Subtotal, &o.Discount, &o.Total, &o.CouponCode, &customer, &o.PaymentMethod,
		&o.ProcessorPaymentID, &o.ProcessorStatus, &status, &pix, &blto,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("unmarshaling order customer: %w", err)
	}
	if pix != nil {
		o.Pix = new(order.Pix)
		if err := json.Unmarshal(pix, o.Pix); err != nil {
			return nil, fmt.Errorf("unmarshaling order pix: %w", err)
		}
	}
	if blto != nil {
		o.Boleto = new(order.Boleto)
		if err := json.Unmarshal(blto, o.Boleto); err != nil {
			return nil, fmt.Errorf("unmarshaling order boleto: %w", err)
		}
	}
	return &o, nil
}

// marshalOptional encodes v, or returns nil (SQL NULL) for a nil pointer.
func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
