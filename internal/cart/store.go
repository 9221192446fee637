// Package cart holds the client-side cart: the single source of truth the
// storefront renders, kept in sync with the remote gateway optimistically.
package cart

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/logger"
)

// Gateway is the remote cart API. Mutations return the authoritative cart
// when the gateway provides one and nil otherwise.
type Gateway interface {
	GetCart(ctx context.Context) ([]domain.CartItem, error)
	AddItem(ctx context.Context, productID int64, quantity int) ([]domain.CartItem, error)
	UpdateItem(ctx context.Context, productID int64, quantity int) ([]domain.CartItem, error)
	RemoveItem(ctx context.Context, productID int64) ([]domain.CartItem, error)
	ClearCart(ctx context.Context) error
}

type Store struct {
	mu       sync.Mutex
	items    []domain.CartItem
	promo    string
	inflight int

	gw  Gateway
	log *zap.Logger
}

// NewStore returns a gateway-synced store. A nil gateway keeps every
// mutation local.
func NewStore(gw Gateway, log *zap.Logger) *Store {
	return &Store{gw: gw, log: logger.OrNop(log)}
}

func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.items)
}

func (s *Store) Summary() domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Summarize(domain.CloneItems(s.items), promoRates[s.promo])
}

// IsUpdating reports whether a gateway call is in flight.
func (s *Store) IsUpdating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// SetItems replaces the cart, typically with the gateway's copy after login.
// Lines with a non-positive quantity are dropped and duplicates merged.
func (s *Store) SetItems(items []domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = normalize(items)
}

// Hydrate loads the cart from the gateway.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.gw == nil {
		return nil
	}
	items, err := s.gw.GetCart(ctx)
	if err != nil {
		return fmt.Errorf("hydrate cart: %w", err)
	}
	s.SetItems(items)
	return nil
}

func (s *Store) AddToCart(ctx context.Context, product domain.Product, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity %d", domain.ErrValidation, quantity)
	}

	snapshot := s.mutate(func(items []domain.CartItem) []domain.CartItem {
		if i := indexOf(items, product.ID); i >= 0 {
			items[i].Quantity += quantity
			return items
		}
		return append(items, domain.CartItem{ProductID: product.ID, Product: product, Quantity: quantity})
	})

	return s.sync(ctx, "add to cart", snapshot, func(ctx context.Context) ([]domain.CartItem, error) {
		return s.gw.AddItem(ctx, product.ID, quantity)
	})
}

// UpdateQuantity sets the quantity of an existing line. A quantity below 1
// removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return s.RemoveFromCart(ctx, productID)
	}

	s.mu.Lock()
	found := indexOf(s.items, productID) >= 0
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("update quantity of %d: %w", productID, domain.ErrItemNotInCart)
	}

	snapshot := s.mutate(func(items []domain.CartItem) []domain.CartItem {
		if i := indexOf(items, productID); i >= 0 {
			items[i].Quantity = quantity
		}
		return items
	})

	return s.sync(ctx, "update quantity", snapshot, func(ctx context.Context) ([]domain.CartItem, error) {
		return s.gw.UpdateItem(ctx, productID, quantity)
	})
}

// RemoveFromCart is idempotent: removing an absent product does nothing.
func (s *Store) RemoveFromCart(ctx context.Context, productID int64) error {
	s.mu.Lock()
	found := indexOf(s.items, productID) >= 0
	s.mu.Unlock()
	if !found {
		return nil
	}

	snapshot := s.mutate(func(items []domain.CartItem) []domain.CartItem {
		out := items[:0]
		for _, item := range items {
			if item.ProductID != productID {
				out = append(out, item)
			}
		}
		return out
	})

	return s.sync(ctx, "remove from cart", snapshot, func(ctx context.Context) ([]domain.CartItem, error) {
		return s.gw.RemoveItem(ctx, productID)
	})
}

// ClearCart empties the cart and drops any applied promo. It is idempotent.
func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	empty := len(s.items) == 0
	promo := s.promo
	s.promo = ""
	s.mu.Unlock()
	if empty {
		return nil
	}

	snapshot := s.mutate(func([]domain.CartItem) []domain.CartItem { return nil })

	err := s.sync(ctx, "clear cart", snapshot, func(ctx context.Context) ([]domain.CartItem, error) {
		return nil, s.gw.ClearCart(ctx)
	})
	if err != nil {
		s.mu.Lock()
		if s.promo == "" {
			s.promo = promo
		}
		s.mu.Unlock()
	}
	return err
}

// Reset drops local state without touching the gateway, used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.promo = ""
}

// mutate applies fn to a copy of the current items and returns the state
// before the change for rollback.
func (s *Store) mutate(fn func([]domain.CartItem) []domain.CartItem) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := domain.CloneItems(s.items)
	s.items = fn(domain.CloneItems(s.items))
	return snapshot
}

// sync runs the gateway half of an optimistic mutation. On failure the
// snapshot is restored, on success the gateway's cart wins when provided.
func (s *Store) sync(ctx context.Context, op string, snapshot []domain.CartItem, call func(context.Context) ([]domain.CartItem, error)) error {
	if s.gw == nil {
		return nil
	}

	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	items, err := call(ctx)
	if err != nil {
		s.mu.Lock()
		s.items = snapshot
		s.mu.Unlock()
		logger.WithContext(ctx, s.log).Warn("cart sync failed, rolled back",
			zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if items != nil {
		s.SetItems(items)
	}
	return nil
}

func indexOf(items []domain.CartItem, productID int64) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func normalize(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if item.ProductID == 0 {
			item.ProductID = item.Product.ID
		}
		if i := indexOf(out, item.ProductID); i >= 0 {
			out[i].Quantity += item.Quantity
			continue
		}
		out = append(out, item)
	}
	return out
}
