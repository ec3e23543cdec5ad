package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Store is a session-bound view of a remote cart. Every mutation computes the
// next full item list, persists it through Repository.Replace and only then
// swaps the in-memory view, so a failed persist leaves the previous state.
//
// Mutations through one Store run one at a time. Readers never wait on a
// pending Replace and see the last persisted state. Concurrent writers for the
// same session (other tabs, other devices) are not coordinated: the last
// successful Replace wins.
type Store struct {
	sessionID string
	repo      Repository
	lg        *zap.Logger

	// wmu serializes Load and mutations, including their remote calls.
	wmu sync.Mutex
	// mu guards items and is never held across a remote call.
	mu    sync.Mutex
	items []Item
}

// NewStore creates a Store for sessionID. Call Load to fetch the remote state.
func NewStore(sessionID string, repo Repository, lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Store{
		sessionID: sessionID,
		repo:      repo,
		lg:        lg.With(zap.String("session_id", sessionID)),
	}
}

// SessionID returns the session the store is bound to.
func (s *Store) SessionID() string { return s.sessionID }

// Load replaces the in-memory view with the remote cart.
func (s *Store) Load(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	c, err := s.repo.Get(ctx, s.sessionID)
	if err != nil {
		s.lg.Warn("Load cart failed", zap.Error(err))
		return errors.Wrap(err, "load cart")
	}

	s.mu.Lock()
	s.items = slices.Clone(c.Items)
	s.mu.Unlock()
	return nil
}

// Items returns a copy of the current item list.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Count returns the total number of units in the cart.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// Add increases the quantity of productID by qty, appending a new line when
// the product is not in the cart yet.
func (s *Store) Add(ctx context.Context, productID string, qty int) error {
	if qty <= 0 || qty > MaxQuantity {
		return &InvalidQuantityError{ProductID: productID, Quantity: qty}
	}
	return s.mutate(ctx, "add", func(cur []Item) []Item {
		for i := range cur {
			if cur[i].ProductID == productID {
				cur[i].Quantity += qty
				return cur
			}
		}
		return append(cur, Item{ProductID: productID, Quantity: qty})
	})
}

// Remove drops productID from the cart.
func (s *Store) Remove(ctx context.Context, productID string) error {
	return s.mutate(ctx, "remove", func(cur []Item) []Item {
		return slices.DeleteFunc(cur, func(it Item) bool { return it.ProductID == productID })
	})
}

// SetQuantity sets the quantity of productID. A quantity of zero or less
// removes the line.
func (s *Store) SetQuantity(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return s.Remove(ctx, productID)
	}
	return s.mutate(ctx, "set_quantity", func(cur []Item) []Item {
		for i := range cur {
			if cur[i].ProductID == productID {
				cur[i].Quantity = qty
			}
		}
		return cur
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, "clear", func([]Item) []Item { return nil })
}

func (s *Store) mutate(ctx context.Context, op string, next func([]Item) []Item) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	items, err := Normalize(next(s.Items()))
	if err != nil {
		return errors.Wrapf(err, "%s", op)
	}

	c, err := s.repo.Replace(ctx, s.sessionID, items)
	if err != nil {
		s.lg.Warn("Persist cart failed, keeping previous state",
			zap.String("op", op),
			zap.Error(err),
		)
		return errors.Wrapf(err, "%s: persist cart", op)
	}

	if c != nil {
		items = slices.Clone(c.Items)
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}
